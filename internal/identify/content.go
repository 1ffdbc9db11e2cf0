package identify

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/opendmis/map-session/internal/arcgis"
)

// featureGroup holds local hit-test results under their layer's title.
type featureGroup struct {
	title    string
	features []*geojson.Feature
}

// renderWMSFeatures renders GetFeatureInfo features. The heading is the
// feature id when present (GeoServer encodes the owning layer in it).
func renderWMSFeatures(features []*geojson.Feature) string {
	var b strings.Builder
	for _, f := range features {
		if f == nil {
			continue
		}
		title := ""
		if f.ID != nil {
			title = fmt.Sprint(f.ID)
		}
		writeTable(&b, title, orderedProperties(f))
	}
	return b.String()
}

// renderLocalFeatures renders hit-test results grouped by layer title.
func renderLocalFeatures(groups []featureGroup) string {
	var b strings.Builder
	for _, g := range groups {
		for _, f := range g.features {
			writeTable(&b, g.title, orderedProperties(f))
		}
	}
	return b.String()
}

// renderArcGISResults renders identify attributes under the layer's TOC
// title.
func renderArcGISResults(results []arcgis.IdentifyResult, layerTitle string) string {
	var b strings.Builder
	for _, r := range results {
		rows := make([]propertyRow, 0, len(r.Attributes))
		for k, v := range r.Attributes {
			rows = append(rows, propertyRow{key: k, value: fmt.Sprint(v)})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
		writeTable(&b, layerTitle, rows)
	}
	return b.String()
}

type propertyRow struct {
	key   string
	value string
}

// orderedProperties lists a feature's properties, geometry excluded, in a
// stable order.
func orderedProperties(f *geojson.Feature) []propertyRow {
	rows := make([]propertyRow, 0, len(f.Properties))
	for k, v := range f.Properties {
		if k == "geometry" {
			continue
		}
		rows = append(rows, propertyRow{key: k, value: fmt.Sprint(v)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
	return rows
}

// writeTable emits one property/value table under an optional layer-title
// heading, matching the popup markup the shell styles.
func writeTable(b *strings.Builder, title string, rows []propertyRow) {
	if title != "" {
		b.WriteString("<h4>" + html.EscapeString(title) + "</h4>")
	}
	b.WriteString(`<table class="table table-condensed">`)
	b.WriteString("<thead><tr><th>Property</th><th>Value</th></tr></thead>")
	b.WriteString("<tbody>")
	for _, r := range rows {
		b.WriteString("<tr><th scope=\"row\">")
		b.WriteString(html.EscapeString(r.key))
		b.WriteString("</th><td>")
		b.WriteString(html.EscapeString(r.value))
		b.WriteString("</td></tr>")
	}
	b.WriteString("</tbody></table>")
}
