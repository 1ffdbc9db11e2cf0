// Package ogc builds WMS query parameters for the proxied GeoServer endpoint.
package ogc

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	wmsVersion = "1.3.0"
	// WorkingCRS is the map's working projection.
	WorkingCRS = "EPSG:3857"
)

// Extent is a bounding box in working-projection coordinates.
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

func (e Extent) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// WMSSource describes one tiled WMS source bound to the proxied endpoint.
// The first source composed becomes the canonical one for GetFeatureInfo.
type WMSSource struct {
	Endpoint string
	Layers   string
}

func NewWMSSource(endpoint, layerName string) *WMSSource {
	return &WMSSource{Endpoint: strings.TrimRight(endpoint, "?"), Layers: layerName}
}

func (s *WMSSource) baseParams(request string) url.Values {
	params := url.Values{}
	params.Set("SERVICE", "WMS")
	params.Set("VERSION", wmsVersion)
	params.Set("REQUEST", request)
	return params
}

// GetMapURL builds a GetMap tile request for the given extent and pixel size.
func (s *WMSSource) GetMapURL(ext Extent, width, height int) string {
	params := s.baseParams("GetMap")
	params.Set("LAYERS", s.Layers)
	params.Set("STYLES", "")
	params.Set("FORMAT", "image/png")
	params.Set("TRANSPARENT", "true")
	params.Set("CRS", WorkingCRS)
	params.Set("BBOX", ext.String())
	params.Set("WIDTH", strconv.Itoa(width))
	params.Set("HEIGHT", strconv.Itoa(height))
	return s.Endpoint + "?" + params.Encode()
}

// FeatureInfoQuery carries everything a GetFeatureInfo request needs beyond
// the source itself.
type FeatureInfoQuery struct {
	Extent        Extent
	Width, Height int
	// I, J is the click pixel within the request image, origin top-left.
	I, J int
	// QueryLayers restricts the query to the currently visible identifiable
	// layer names.
	QueryLayers  []string
	FeatureCount int
	Buffer       int
}

// GetFeatureInfoURL builds a GetFeatureInfo request returning GeoJSON.
func (s *WMSSource) GetFeatureInfoURL(q FeatureInfoQuery) string {
	layers := strings.Join(q.QueryLayers, ",")
	params := s.baseParams("GetFeatureInfo")
	params.Set("LAYERS", layers)
	params.Set("QUERY_LAYERS", layers)
	params.Set("STYLES", "")
	params.Set("CRS", WorkingCRS)
	params.Set("BBOX", q.Extent.String())
	params.Set("WIDTH", strconv.Itoa(q.Width))
	params.Set("HEIGHT", strconv.Itoa(q.Height))
	params.Set("I", strconv.Itoa(q.I))
	params.Set("J", strconv.Itoa(q.J))
	params.Set("INFO_FORMAT", "application/json")
	if q.FeatureCount > 0 {
		params.Set("FEATURE_COUNT", strconv.Itoa(q.FeatureCount))
	}
	if q.Buffer > 0 {
		params.Set("BUFFER", strconv.Itoa(q.Buffer))
	}
	return s.Endpoint + "?" + params.Encode()
}

// GetLegendGraphicURL builds a legend-swatch request for one layer.
func GetLegendGraphicURL(endpoint, layerName string) string {
	params := url.Values{}
	params.Set("SERVICE", "WMS")
	params.Set("VERSION", wmsVersion)
	params.Set("REQUEST", "GetLegendGraphic")
	params.Set("LAYER", layerName)
	params.Set("FORMAT", "image/png")
	return strings.TrimRight(endpoint, "?") + "?" + params.Encode()
}
