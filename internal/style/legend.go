package style

import (
	"bytes"
	"encoding/base64"
	"fmt"

	svg "github.com/ajstarks/svgo"

	"github.com/opendmis/map-session/internal/model"
)

const (
	legendRowHeight = 24
	legendWidth     = 180
	glyphWidth      = 30
	labelOffset     = 38
)

// RenderLegend draws one row per rule: a geometry glyph in the rule's style
// plus the rule's label, returned as an SVG data URL. A nil rule set yields
// a single default-style point glyph.
func RenderLegend(rs *model.StyleRuleSet) string {
	rules := []model.StyleRule{{GeometryType: model.GeometryPoint}}
	if rs != nil && len(rs.Rules) > 0 {
		rules = rs.Rules
	}

	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(legendWidth, legendRowHeight*len(rules))

	for i, rule := range rules {
		top := i * legendRowHeight
		st := Default()
		if rs != nil {
			st = fromRuleStyle(rule.Style)
		}
		drawGlyph(canvas, top, rule.GeometryType, st)
		if rule.Label != "" {
			canvas.Text(labelOffset, top+legendRowHeight/2+4, rule.Label,
				"font-family:sans-serif;font-size:12px;fill:#333")
		}
	}

	canvas.End()
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func drawGlyph(canvas *svg.SVG, top int, kind model.GeometryKind, st Style) {
	midY := top + legendRowHeight/2

	// A label style has no geometry to draw; show its text sample instead.
	if st.Text != nil {
		canvas.Text(4, midY+4, st.Text.Text, fmt.Sprintf(
			"font-family:sans-serif;font-size:12px;fill:%s", colorOr(st.Text.Fill.Color, "#333")))
		return
	}

	stroke := "red"
	strokeWidth := 1.0
	if st.Stroke != nil {
		stroke = st.Stroke.Color
		strokeWidth = st.Stroke.Width
	}
	fill := "rgba(255, 255, 255, 0.4)"
	if st.Fill != nil {
		fill = st.Fill.Color
	}

	switch kind {
	case model.GeometryLine:
		canvas.Line(4, midY, glyphWidth-4, midY,
			fmt.Sprintf("stroke:%s;stroke-width:%g;fill:none", stroke, strokeWidth))
	case model.GeometryPolygon:
		xs := []int{4, glyphWidth - 4, glyphWidth - 4, 4}
		ys := []int{top + 4, top + 4, top + legendRowHeight - 4, top + legendRowHeight - 4}
		canvas.Polygon(xs, ys,
			fmt.Sprintf("stroke:%s;stroke-width:%g;fill:%s", stroke, strokeWidth, fill))
	default:
		r := 4
		circleStroke := stroke
		circleFill := fill
		if st.Circle != nil {
			r = int(st.Circle.Radius)
			circleStroke = st.Circle.Stroke.Color
			circleFill = st.Circle.Fill.Color
		}
		canvas.Circle(glyphWidth/2, midY, r,
			fmt.Sprintf("stroke:%s;stroke-width:%g;fill:%s", circleStroke, strokeWidth, circleFill))
	}
}

func colorOr(c, def string) string {
	if c == "" {
		return def
	}
	return c
}
