package ogc

import (
	"net/url"
	"strings"
	"testing"
)

func parseQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url %q: %v", raw, err)
	}
	return u.Query()
}

func TestGetMapURL(t *testing.T) {
	s := NewWMSSource("http://gs.local/geoserver/dmis/wms", "dmis:roads")
	got := s.GetMapURL(Extent{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4}, 256, 256)

	if !strings.HasPrefix(got, "http://gs.local/geoserver/dmis/wms?") {
		t.Fatalf("unexpected endpoint prefix: %q", got)
	}
	v := parseQuery(t, got)
	assertHas := func(k, want string) {
		t.Helper()
		if got := v.Get(k); got != want {
			t.Fatalf("param %q got %q want %q", k, got, want)
		}
	}
	assertHas("SERVICE", "WMS")
	assertHas("VERSION", "1.3.0")
	assertHas("REQUEST", "GetMap")
	assertHas("LAYERS", "dmis:roads")
	assertHas("FORMAT", "image/png")
	assertHas("TRANSPARENT", "true")
	assertHas("CRS", "EPSG:3857")
	assertHas("BBOX", "1.000000,2.000000,3.000000,4.000000")
	assertHas("WIDTH", "256")
	assertHas("HEIGHT", "256")
}

func TestGetFeatureInfoURL(t *testing.T) {
	s := NewWMSSource("http://gs.local/wms", "ignored")
	got := s.GetFeatureInfoURL(FeatureInfoQuery{
		Extent:       Extent{MinX: -10, MinY: -10, MaxX: 10, MaxY: 10},
		Width:        800,
		Height:       600,
		I:            400,
		J:            300,
		QueryLayers:  []string{"dmis:roads", "dmis:rivers"},
		FeatureCount: 10,
		Buffer:       10,
	})

	v := parseQuery(t, got)
	assertHas := func(k, want string) {
		t.Helper()
		if got := v.Get(k); got != want {
			t.Fatalf("param %q got %q want %q", k, got, want)
		}
	}
	assertHas("REQUEST", "GetFeatureInfo")
	assertHas("LAYERS", "dmis:roads,dmis:rivers")
	assertHas("QUERY_LAYERS", "dmis:roads,dmis:rivers")
	assertHas("INFO_FORMAT", "application/json")
	assertHas("FEATURE_COUNT", "10")
	assertHas("BUFFER", "10")
	assertHas("I", "400")
	assertHas("J", "300")
}

func TestGetFeatureInfoURL_OmitsZeroCountAndBuffer(t *testing.T) {
	s := NewWMSSource("http://gs.local/wms", "x")
	v := parseQuery(t, s.GetFeatureInfoURL(FeatureInfoQuery{QueryLayers: []string{"a"}}))
	if v.Has("FEATURE_COUNT") || v.Has("BUFFER") {
		t.Fatalf("zero FEATURE_COUNT/BUFFER must be omitted; got %v", v)
	}
}

func TestGetLegendGraphicURL(t *testing.T) {
	got := GetLegendGraphicURL("http://gs.local/wms?", "dmis:shelters")
	v := parseQuery(t, got)
	if v.Get("REQUEST") != "GetLegendGraphic" || v.Get("LAYER") != "dmis:shelters" {
		t.Fatalf("unexpected legend url %q", got)
	}
	if strings.Contains(got, "??") {
		t.Fatalf("trailing ? not trimmed: %q", got)
	}
}

func TestExtentString(t *testing.T) {
	e := Extent{MinX: 1.5, MinY: -2.25, MaxX: 3, MaxY: 4.125}
	want := "1.500000,-2.250000,3.000000,4.125000"
	if got := e.String(); got != want {
		t.Fatalf("Extent.String got %q want %q", got, want)
	}
}
