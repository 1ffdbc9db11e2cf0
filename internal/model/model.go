// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
)

// LayerType discriminates how a catalog layer is rendered and queried.
type LayerType string

const (
	LayerTypeWMS        LayerType = "wms"
	LayerTypeArcGISRest LayerType = "arcgisrest"
	LayerTypeGeoJSON    LayerType = "geojson"
)

func ParseLayerType(s string) (LayerType, error) {
	switch LayerType(strings.ToLower(strings.TrimSpace(s))) {
	case LayerTypeWMS:
		return LayerTypeWMS, nil
	case LayerTypeArcGISRest:
		return LayerTypeArcGISRest, nil
	case LayerTypeGeoJSON:
		return LayerTypeGeoJSON, nil
	default:
		return "", fmt.Errorf("unknown layer type: %q", s)
	}
}

// LayerDescriptor is one entry from the layer table of contents.
type LayerDescriptor struct {
	LayerName      string        `json:"layerName"`
	LayerTitle     string        `json:"layerTitle"`
	LayerType      LayerType     `json:"layerType"`
	LayerSource    string        `json:"layerSource"`
	LayerCopyright string        `json:"layerCopyright,omitempty"`
	LayerGroup     string        `json:"layerGroup,omitempty"`
	LayerStyle     *StyleRuleSet `json:"layerStyle,omitempty"`

	// LayerLegend is attached after the async legend fetch resolves; it is
	// a data URL, never part of the catalog payload itself.
	LayerLegend string `json:"layerLegend,omitempty"`
}

// Catalog is the category-partitioned layer table of contents.
type Catalog struct {
	PreparednessLayers []LayerDescriptor `json:"preparednessLayers"`
	IncidentLayers     []LayerDescriptor `json:"incidentLayers"`
	AssessmentLayers   []LayerDescriptor `json:"assessmentLayers"`
}

// All returns the merged catalog in category order. LayerName is unique
// across the merged result.
func (c Catalog) All() []LayerDescriptor {
	out := make([]LayerDescriptor, 0, len(c.PreparednessLayers)+len(c.IncidentLayers)+len(c.AssessmentLayers))
	out = append(out, c.PreparednessLayers...)
	out = append(out, c.IncidentLayers...)
	out = append(out, c.AssessmentLayers...)
	return out
}

// MapCategory filters a TOC request. UNKNOWN returns all categories.
type MapCategory string

const (
	CategoryUnknown      MapCategory = "UNKNOWN"
	CategoryPreparedness MapCategory = "PREPAREDNESS"
	CategoryIncidents    MapCategory = "INCIDENTS_WARNINGS"
	CategoryAssessment   MapCategory = "ASSESSMENT_RESPONSE"
)

func ParseMapCategory(s string) (MapCategory, error) {
	switch MapCategory(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryUnknown, "":
		return CategoryUnknown, nil
	case CategoryPreparedness:
		return CategoryPreparedness, nil
	case CategoryIncidents:
		return CategoryIncidents, nil
	case CategoryAssessment:
		return CategoryAssessment, nil
	default:
		return "", fmt.Errorf("unknown map category: %q", s)
	}
}

// ComparisonType is the operator of a style rule filter.
type ComparisonType string

const (
	CompareBetween     ComparisonType = "BETWEEN"
	CompareGreaterThan ComparisonType = "GREATER_THAN"
	CompareEquals      ComparisonType = "EQUALS"
)

// StyleFilter selects features by a single property comparison.
// BETWEEN is half-open: [Min, Max).
type StyleFilter struct {
	PropertyName   string         `json:"propertyName"`
	ComparisonType ComparisonType `json:"comparisonType"`
	Min            float64        `json:"min,omitempty"`
	Max            float64        `json:"max,omitempty"`
	Value          any            `json:"value,omitempty"`
}

// StrokeDef and FillDef carry colours in the catalog's own spelling.
type StrokeDef struct {
	Colour string  `json:"colour"`
	Width  float64 `json:"width"`
}

type FillDef struct {
	Colour string `json:"colour"`
}

// TextDef produces a label style instead of a geometric one. A rule style
// carries either Text or Stroke/Fill, never both.
type TextDef struct {
	Text   string    `json:"text"`
	Font   string    `json:"font"`
	Fill   FillDef   `json:"fill"`
	Stroke StrokeDef `json:"stroke"`
}

type RuleStyle struct {
	Stroke *StrokeDef `json:"stroke,omitempty"`
	Fill   *FillDef   `json:"fill,omitempty"`
	Text   *TextDef   `json:"text,omitempty"`
}

// GeometryKind is the glyph drawn for a rule in the legend.
type GeometryKind string

const (
	GeometryPoint   GeometryKind = "point"
	GeometryLine    GeometryKind = "line"
	GeometryPolygon GeometryKind = "polygon"
)

// StyleRule pairs an optional filter with a style. Rules are evaluated in
// order; the first match (or first unconditional rule) wins.
type StyleRule struct {
	Label        string       `json:"label,omitempty"`
	GeometryType GeometryKind `json:"geometryType,omitempty"`
	Filter       *StyleFilter `json:"filter,omitempty"`
	Style        RuleStyle    `json:"style"`
}

// StyleRuleSet is the server-supplied rule-based style descriptor for a
// geojson layer.
type StyleRuleSet struct {
	Rules []StyleRule `json:"rules"`
}

// Coordinate is a position in the map's working projection (EPSG:3857),
// units are meters.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pixel is a position on the rendered viewport, origin top-left.
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
