// Package style resolves renderable styles for vector features, either from
// a server-supplied rule set or from a registry of named per-layer styles,
// and renders legend images from rule sets.
package style

import (
	"github.com/paulmach/orb/geojson"

	"github.com/opendmis/map-session/internal/model"
)

// Stroke, Fill, Circle, Text and Icon are the renderable style parts handed
// to whichever client draws the layer.
type Stroke struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

type Fill struct {
	Color string `json:"color"`
}

type Circle struct {
	Radius float64 `json:"radius"`
	Stroke Stroke  `json:"stroke"`
	Fill   Fill    `json:"fill"`
}

type Text struct {
	Text   string `json:"text"`
	Font   string `json:"font"`
	Fill   Fill   `json:"fill"`
	Stroke Stroke `json:"stroke"`
}

type Icon struct {
	Name string `json:"name"`
}

// Style is a resolved style. A label style carries Text only; a geometric
// style carries Stroke/Fill and optionally a point Circle or Icon.
type Style struct {
	Stroke *Stroke `json:"stroke,omitempty"`
	Fill   *Fill   `json:"fill,omitempty"`
	Circle *Circle `json:"circle,omitempty"`
	Text   *Text   `json:"text,omitempty"`
	Icon   *Icon   `json:"icon,omitempty"`
}

// Default returns the fallback style: red circle/stroke, translucent fill.
func Default() Style {
	return Style{
		Circle: &Circle{
			Radius: 4,
			Stroke: Stroke{Color: "red", Width: 2},
			Fill:   Fill{Color: "white"},
		},
		Stroke: &Stroke{Color: "red", Width: 1},
		Fill:   &Fill{Color: "rgba(255, 255, 255, 0.4)"},
	}
}

// Resolve evaluates the rule set against a feature. Rules run in order; the
// first matching rule (or first unconditional rule) wins. No rule set or no
// match falls back to the default style.
func Resolve(f *geojson.Feature, rs *model.StyleRuleSet) Style {
	if rs == nil || len(rs.Rules) == 0 {
		return Default()
	}
	for _, rule := range rs.Rules {
		if rule.Filter == nil {
			return fromRuleStyle(rule.Style)
		}
		if matches(f, rule.Filter) {
			return fromRuleStyle(rule.Style)
		}
	}
	return Default()
}

func matches(f *geojson.Feature, filter *model.StyleFilter) bool {
	if f == nil {
		return false
	}
	val, ok := f.Properties[filter.PropertyName]
	if !ok {
		return false
	}
	switch filter.ComparisonType {
	case model.CompareBetween:
		n, ok := toFloat(val)
		return ok && n >= filter.Min && n < filter.Max
	case model.CompareGreaterThan:
		n, ok := toFloat(val)
		return ok && n > filter.Min
	case model.CompareEquals:
		// Strict comparison: "1" never matches 1.
		return strictEquals(val, filter.Value)
	default:
		return false
	}
}

func fromRuleStyle(rs model.RuleStyle) Style {
	if rs.Text != nil {
		return Style{
			Text: &Text{
				Text:   rs.Text.Text,
				Font:   rs.Text.Font,
				Fill:   Fill{Color: rs.Text.Fill.Colour},
				Stroke: Stroke{Color: rs.Text.Stroke.Colour, Width: rs.Text.Stroke.Width},
			},
		}
	}
	out := Style{}
	if rs.Stroke != nil {
		out.Stroke = &Stroke{Color: rs.Stroke.Colour, Width: rs.Stroke.Width}
	}
	if rs.Fill != nil {
		out.Fill = &Fill{Color: rs.Fill.Colour}
	}
	if out.Stroke == nil && out.Fill == nil {
		// malformed rule style; never return an empty style
		return Default()
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func strictEquals(a, b any) bool {
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		return ok && na == nb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}
