// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers []string
	GroupID string
}

type Config struct {
	Addr     string
	LogLevel string

	// APIEndpoint is the DMIS REST API base URL (layer TOC, geojson payloads).
	APIEndpoint string
	// WMSEndpoint is the proxied GeoServer WMS endpoint used for GetMap,
	// GetFeatureInfo and GetLegendGraphic.
	WMSEndpoint string

	RedisAddr       string
	CacheOpTimeout  time.Duration
	CatalogTTL      time.Duration
	GeoJSONTTL      time.Duration
	LegendTTL       time.Duration
	SessionLimit    int
	IdentifyTimeout time.Duration

	// ExcludedIdentifyLayers are WMS layer names never included in a
	// GetFeatureInfo query (e.g. the ArcGIS-backed hazards layer).
	ExcludedIdentifyLayers []string

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8085"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		APIEndpoint: getenv("API_ENDPOINT", "http://localhost:5000/api"),
		WMSEndpoint: getenv("WMS_ENDPOINT", "http://localhost:8080/geoserver/dmis/wms"),

		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout:  getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CatalogTTL:      getduration("CATALOG_TTL", 5*time.Minute),
		GeoJSONTTL:      getduration("GEOJSON_TTL", 5*time.Minute),
		LegendTTL:       getduration("LEGEND_TTL", time.Hour),
		SessionLimit:    getint("SESSION_LIMIT", 512),
		IdentifyTimeout: getduration("IDENTIFY_TIMEOUT", 15*time.Second),

		ExcludedIdentifyLayers: getlist("IDENTIFY_EXCLUDED_LAYERS", "pdc_integrated_active_hazards"),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "layer-catalog-events"),
			Brokers: getlist("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "map-session-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getlist(k, def string) []string {
	raw := getenv(k, def)
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
