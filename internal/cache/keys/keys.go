// Package keys builds stable cache keys for catalog, geojson and legend
// payloads.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	PrefixCatalog = "toc:"
	PrefixGeoJSON = "geojson:"
	PrefixLegend  = "legend:"
)

// Catalog keys one TOC snapshot per category.
func Catalog(category string) string {
	return PrefixCatalog + sanitize(strings.ToUpper(strings.TrimSpace(category)))
}

// GeoJSON keys a vector payload by layer name and its source hint. The source
// can be an arbitrary URL or opaque id, so it is hashed rather than embedded.
func GeoJSON(layerName, layerSource string) string {
	sum := xxhash.Sum64String(strings.TrimSpace(layerSource))
	return fmt.Sprintf("%s%s:s=%016x", PrefixGeoJSON, sanitize(layerName), sum)
}

// Legend keys a legend image by layer name.
func Legend(layerName string) string {
	return PrefixLegend + sanitize(layerName)
}

// LayerPrefixes returns the key prefixes affected when one layer changes.
func LayerPrefixes(layerName string) []string {
	n := sanitize(layerName)
	return []string{
		PrefixGeoJSON + n + ":",
		PrefixLegend + n,
	}
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
