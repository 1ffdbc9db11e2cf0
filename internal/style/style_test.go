package style

import (
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/opendmis/map-session/internal/model"
)

func feat(props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{0, 0})
	f.Properties = props
	return f
}

func strokeRule(filter *model.StyleFilter, color string) model.StyleRule {
	return model.StyleRule{
		Filter: filter,
		Style: model.RuleStyle{
			Stroke: &model.StrokeDef{Colour: color, Width: 2},
		},
	}
}

func TestResolve_FirstMatchWins(t *testing.T) {
	rs := &model.StyleRuleSet{Rules: []model.StyleRule{
		strokeRule(&model.StyleFilter{PropertyName: "v", ComparisonType: model.CompareBetween, Min: 0, Max: 10}, "green"),
		strokeRule(&model.StyleFilter{PropertyName: "v", ComparisonType: model.CompareBetween, Min: 0, Max: 100}, "yellow"),
	}}

	got := Resolve(feat(map[string]any{"v": 5.0}), rs)
	if got.Stroke == nil || got.Stroke.Color != "green" {
		t.Fatalf("first matching rule must win, got %+v", got)
	}
}

func TestResolve_BetweenIsHalfOpen(t *testing.T) {
	rs := &model.StyleRuleSet{Rules: []model.StyleRule{
		strokeRule(&model.StyleFilter{PropertyName: "v", ComparisonType: model.CompareBetween, Min: 0, Max: 10}, "green"),
	}}

	if got := Resolve(feat(map[string]any{"v": 0.0}), rs); got.Stroke == nil || got.Stroke.Color != "green" {
		t.Fatalf("min bound is inclusive, got %+v", got)
	}
	if got := Resolve(feat(map[string]any{"v": 10.0}), rs); got.Stroke != nil && got.Stroke.Color == "green" {
		t.Fatalf("max bound is exclusive, got %+v", got)
	}
}

func TestResolve_GreaterThan(t *testing.T) {
	rs := &model.StyleRuleSet{Rules: []model.StyleRule{
		strokeRule(&model.StyleFilter{PropertyName: "v", ComparisonType: model.CompareGreaterThan, Min: 3}, "blue"),
	}}

	if got := Resolve(feat(map[string]any{"v": 3.0}), rs); got.Stroke != nil && got.Stroke.Color == "blue" {
		t.Fatal("GREATER_THAN is strict")
	}
	if got := Resolve(feat(map[string]any{"v": 3.1}), rs); got.Stroke == nil || got.Stroke.Color != "blue" {
		t.Fatalf("3.1 > 3 must match, got %+v", got)
	}
}

func TestResolve_EqualsIsStrict(t *testing.T) {
	rule := func(value any) *model.StyleRuleSet {
		return &model.StyleRuleSet{Rules: []model.StyleRule{
			strokeRule(&model.StyleFilter{PropertyName: "v", ComparisonType: model.CompareEquals, Value: value}, "purple"),
		}}
	}

	if got := Resolve(feat(map[string]any{"v": "1"}), rule(1.0)); got.Stroke != nil && got.Stroke.Color == "purple" {
		t.Fatal(`string "1" must not match number 1`)
	}
	if got := Resolve(feat(map[string]any{"v": 1.0}), rule(1)); got.Stroke == nil || got.Stroke.Color != "purple" {
		t.Fatalf("int/float64 values normalize before comparing, got %+v", got)
	}
	if got := Resolve(feat(map[string]any{"v": "a"}), rule("a")); got.Stroke == nil || got.Stroke.Color != "purple" {
		t.Fatalf("equal strings must match, got %+v", got)
	}
}

func TestResolve_UnconditionalRuleActsAsFallback(t *testing.T) {
	rs := &model.StyleRuleSet{Rules: []model.StyleRule{
		strokeRule(&model.StyleFilter{PropertyName: "v", ComparisonType: model.CompareGreaterThan, Min: 100}, "red"),
		strokeRule(nil, "gray"),
	}}

	got := Resolve(feat(map[string]any{"v": 1.0}), rs)
	if got.Stroke == nil || got.Stroke.Color != "gray" {
		t.Fatalf("unconditional rule must catch, got %+v", got)
	}
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	def := Default()

	// no rule set at all
	if got := Resolve(feat(nil), nil); !reflect.DeepEqual(got, def) {
		t.Fatalf("nil rule set must yield the default, got %+v", got)
	}
	// empty rule set
	if got := Resolve(feat(nil), &model.StyleRuleSet{}); !reflect.DeepEqual(got, def) {
		t.Fatalf("empty rule set must yield the default, got %+v", got)
	}
	// no matching rule
	rs := &model.StyleRuleSet{Rules: []model.StyleRule{
		strokeRule(&model.StyleFilter{PropertyName: "missing", ComparisonType: model.CompareEquals, Value: "x"}, "red"),
	}}
	if got := Resolve(feat(map[string]any{"v": 1.0}), rs); !reflect.DeepEqual(got, def) {
		t.Fatalf("no match must yield the default, got %+v", got)
	}
	// malformed rule style: neither stroke, fill nor text
	rs = &model.StyleRuleSet{Rules: []model.StyleRule{{Style: model.RuleStyle{}}}}
	if got := Resolve(feat(nil), rs); !reflect.DeepEqual(got, def) {
		t.Fatalf("empty rule style must yield the default, got %+v", got)
	}
}

func TestResolve_TextRule(t *testing.T) {
	rs := &model.StyleRuleSet{Rules: []model.StyleRule{{
		Style: model.RuleStyle{Text: &model.TextDef{
			Text: "label", Font: "12px sans-serif",
			Fill:   model.FillDef{Colour: "black"},
			Stroke: model.StrokeDef{Colour: "white", Width: 3},
		}},
	}}}

	got := Resolve(feat(nil), rs)
	if got.Text == nil || got.Text.Text != "label" {
		t.Fatalf("text rule must produce a text style, got %+v", got)
	}
	if got.Stroke != nil || got.Fill != nil {
		t.Fatal("a label style carries no geometric parts")
	}
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()

	fn, ok := r.Lookup("earthnetworks_lightning_points")
	if !ok {
		t.Fatal("lightning layer must be registered")
	}
	if st := fn(feat(nil)); st.Icon == nil || st.Icon.Name != "lightning" {
		t.Fatalf("lightning style = %+v", st)
	}

	fn, _ = r.Lookup("at_risk_communes")
	if st := fn(feat(map[string]any{"SS_P_AL": 0.2})); st.Fill == nil || st.Fill.Color != "rgba(255, 0, 0, 0.5)" {
		t.Fatalf("high-risk commune style = %+v", st)
	}
	if st := fn(feat(map[string]any{"SS_P_AL": 0.05})); st.Fill == nil || st.Fill.Color != "rgba(255, 204, 0, 0.5)" {
		t.Fatalf("low-risk commune style = %+v", st)
	}
	if st := fn(feat(map[string]any{"SS_P_AL": 0.0})); !reflect.DeepEqual(st, Default()) {
		t.Fatalf("zero-risk commune falls back to default, got %+v", st)
	}

	fn, _ = r.Lookup("at_risk_villages")
	if st := fn(feat(map[string]any{"Flood": "Y"})); st.Circle == nil || st.Circle.Radius != 5 {
		t.Fatalf("flooded village style = %+v", st)
	}
	if st := fn(feat(map[string]any{"Flood": "N"})); !reflect.DeepEqual(st, Default()) {
		t.Fatalf("dry village falls back to default, got %+v", st)
	}

	if _, ok := r.Lookup("unknown_layer"); ok {
		t.Fatal("unknown layer must not resolve")
	}
}

func TestRegistryRegisterOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", func(*geojson.Feature) Style {
		return Style{Icon: &Icon{Name: "custom"}}
	})
	fn, ok := r.Lookup("custom")
	if !ok {
		t.Fatal("registered layer must resolve")
	}
	if st := fn(nil); st.Icon == nil || st.Icon.Name != "custom" {
		t.Fatalf("custom style = %+v", st)
	}
}
