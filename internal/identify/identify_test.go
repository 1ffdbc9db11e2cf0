package identify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/opendmis/map-session/internal/arcgis"
	"github.com/opendmis/map-session/internal/auth"
	"github.com/opendmis/map-session/internal/catalog"
	"github.com/opendmis/map-session/internal/geoindex"
	"github.com/opendmis/map-session/internal/mapsurface"
	"github.com/opendmis/map-session/internal/model"
	"github.com/opendmis/map-session/internal/ogc"
)

func testClients(t *testing.T, handler http.Handler) (*catalog.Client, *arcgis.Client, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cat := catalog.New(slog.Default(), srv.Client(), srv.URL, auth.NewStatic("", ""), catalog.Options{})
	arc := arcgis.New(slog.Default(), srv.Client())
	return cat, arc, srv.URL
}

func centerClick(s *mapsurface.Surface) model.Coordinate {
	v := s.View()
	return model.Coordinate{X: v.Center[0], Y: v.Center[1]}
}

// geojsonSurface builds a surface with one visible vector layer holding a
// single point feature at the view center.
func geojsonSurface(t *testing.T) *mapsurface.Surface {
	t.Helper()
	s := mapsurface.New()
	v := s.View()

	ix := geoindex.New()
	f := geojson.NewFeature(orb.Point{v.Center[0], v.Center[1]})
	f.Properties = map[string]any{"name": "Shelter 12", "capacity": 250}
	if err := ix.Add(f); err != nil {
		t.Fatalf("index: %v", err)
	}

	s.AddLayer(&mapsurface.MapLayer{
		Name:  "shelters",
		Title: "Shelters",
		Type:  model.LayerTypeGeoJSON,
		Index: ix,
	})
	s.ToggleLayer("shelters")
	return s
}

func TestIdentify_Inactive(t *testing.T) {
	cat, arc, _ := testClients(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inactive identify must not reach upstream")
	}))
	c := New(slog.Default(), cat, arc, nil)
	s := geojsonSurface(t)

	_, err := c.Identify(context.Background(), s, nil, centerClick(s))
	if !errors.Is(err, ErrInactive) {
		t.Fatalf("want ErrInactive, got %v", err)
	}
	if got := c.Popup(); got.Content != "" || got.Position != nil {
		t.Fatalf("popup must stay untouched, got %+v", got)
	}
}

func TestIdentify_LocalHit(t *testing.T) {
	cat, arc, _ := testClients(t, http.NotFoundHandler())
	c := New(slog.Default(), cat, arc, nil)
	c.SetActive(true)
	s := geojsonSurface(t)
	click := centerClick(s)

	popup, err := c.Identify(context.Background(), s, nil, click)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !strings.Contains(popup.Content, "<h4>Shelters</h4>") {
		t.Fatalf("missing layer title heading: %q", popup.Content)
	}
	if !strings.Contains(popup.Content, `<table class="table table-condensed">`) {
		t.Fatalf("missing property table: %q", popup.Content)
	}
	if !strings.Contains(popup.Content, "Shelter 12") || !strings.Contains(popup.Content, "250") {
		t.Fatalf("missing property values: %q", popup.Content)
	}
	if popup.Position == nil || popup.Position.X != click.X || popup.Position.Y != click.Y {
		t.Fatalf("popup must anchor at the click, got %+v", popup.Position)
	}
	if got := c.Popup(); got.Content != popup.Content {
		t.Fatal("published popup must match the returned one")
	}
}

func TestIdentify_NoHitsShowsPlaceholder(t *testing.T) {
	cat, arc, _ := testClients(t, http.NotFoundHandler())
	c := New(slog.Default(), cat, arc, nil)
	c.SetActive(true)
	s := mapsurface.New() // no layers at all

	popup, err := c.Identify(context.Background(), s, nil, centerClick(s))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if popup.Content != "No information available." {
		t.Fatalf("content = %q", popup.Content)
	}
	if popup.Position == nil {
		t.Fatal("popup still anchors at the click")
	}
}

func TestIdentify_WMSFeatures(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"roads.42","geometry":null,"properties":{"road_class":"primary","surface":"paved"}}
	]}`
	var gotQuery string
	cat, arc, base := testClients(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(body))
	}))

	c := New(slog.Default(), cat, arc, nil)
	c.SetActive(true)

	s := mapsurface.New()
	s.AddLayer(&mapsurface.MapLayer{Name: "roads", Title: "Roads", Type: model.LayerTypeWMS})
	s.ToggleLayer("roads")

	popup, err := c.Identify(context.Background(), s, ogc.NewWMSSource(base, "roads"), centerClick(s))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !strings.Contains(popup.Content, "<h4>roads.42</h4>") {
		t.Fatalf("feature id heading missing: %q", popup.Content)
	}
	if !strings.Contains(popup.Content, "primary") {
		t.Fatalf("properties missing: %q", popup.Content)
	}
	for _, param := range []string{"REQUEST=GetFeatureInfo", "QUERY_LAYERS=roads", "FEATURE_COUNT=10", "BUFFER=10"} {
		if !strings.Contains(gotQuery, param) {
			t.Fatalf("query missing %s: %q", param, gotQuery)
		}
	}
}

func TestIdentify_ExcludedLayerNeverQueried(t *testing.T) {
	calls := 0
	cat, arc, base := testClients(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))

	c := New(slog.Default(), cat, arc, []string{"pdc_integrated_active_hazards"})
	c.SetActive(true)

	s := mapsurface.New()
	s.AddLayer(&mapsurface.MapLayer{Name: "pdc_integrated_active_hazards", Type: model.LayerTypeWMS})
	s.ToggleLayer("pdc_integrated_active_hazards")

	popup, err := c.Identify(context.Background(), s, ogc.NewWMSSource(base, "pdc_integrated_active_hazards"), centerClick(s))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if calls != 0 {
		t.Fatalf("excluded layer reached upstream %d times", calls)
	}
	if popup.Content != "No information available." {
		t.Fatalf("content = %q", popup.Content)
	}
}

func TestIdentify_ArcGISResults(t *testing.T) {
	cat, arc, base := testClients(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/identify") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"attributes":{"hazard_Name":"Typhoon","severity":"WARNING"}}]}`))
	}))

	c := New(slog.Default(), cat, arc, nil)
	c.SetActive(true)

	s := mapsurface.New()
	s.AddLayer(&mapsurface.MapLayer{
		Name:   "pdc_hazards",
		Title:  "Active Hazards",
		Type:   model.LayerTypeArcGISRest,
		Source: base + "/MapServer",
	})
	s.ToggleLayer("pdc_hazards")

	popup, err := c.Identify(context.Background(), s, nil, centerClick(s))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !strings.Contains(popup.Content, "<h4>Active Hazards</h4>") {
		t.Fatalf("layer title heading missing: %q", popup.Content)
	}
	if !strings.Contains(popup.Content, "Typhoon") || !strings.Contains(popup.Content, "WARNING") {
		t.Fatalf("attributes missing: %q", popup.Content)
	}
}

func TestIdentify_ErroringSourceStillJoins(t *testing.T) {
	// WMS upstream is broken; the local hit must still come through.
	cat, arc, base := testClients(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	c := New(slog.Default(), cat, arc, nil)
	c.SetActive(true)

	s := geojsonSurface(t)
	s.AddLayer(&mapsurface.MapLayer{Name: "roads", Type: model.LayerTypeWMS})
	s.ToggleLayer("roads")

	popup, err := c.Identify(context.Background(), s, ogc.NewWMSSource(base, "roads"), centerClick(s))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !strings.Contains(popup.Content, "Shelter 12") {
		t.Fatalf("local result lost when a sibling source errors: %q", popup.Content)
	}
}

func TestIdentify_StaleClickSuperseded(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})
	var once sync.Once
	cat, arc, base := testClients(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(arrived) })
		<-release
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))

	c := New(slog.Default(), cat, arc, nil)
	c.SetActive(true)

	s := mapsurface.New()
	s.AddLayer(&mapsurface.MapLayer{Name: "roads", Type: model.LayerTypeWMS})
	s.ToggleLayer("roads")
	source := ogc.NewWMSSource(base, "roads")

	click1 := centerClick(s)
	click2 := model.Coordinate{X: click1.X + 1000, Y: click1.Y + 1000}

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Identify(context.Background(), s, source, click1)
		firstErr <- err
	}()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("first identify never reached upstream")
	}

	// Hide the WMS layer so the second click resolves instantly, then fire
	// it while the first is still blocked upstream.
	s.ToggleLayer("roads")
	popup2, err := c.Identify(context.Background(), s, source, click2)
	if err != nil {
		t.Fatalf("second Identify: %v", err)
	}
	if popup2.Position == nil || popup2.Position.X != click2.X {
		t.Fatalf("second popup anchored wrong: %+v", popup2.Position)
	}

	close(release)
	if err := <-firstErr; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first identify must be superseded, got %v", err)
	}

	// The published popup belongs to the second click.
	if got := c.Popup(); got.Position == nil || got.Position.X != click2.X {
		t.Fatalf("stale result touched the popup: %+v", got)
	}
}

func TestClosePopupKeepsContent(t *testing.T) {
	cat, arc, _ := testClients(t, http.NotFoundHandler())
	c := New(slog.Default(), cat, arc, nil)
	c.SetActive(true)
	s := geojsonSurface(t)

	if _, err := c.Identify(context.Background(), s, nil, centerClick(s)); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	c.ClosePopup()
	got := c.Popup()
	if got.Position != nil {
		t.Fatal("ClosePopup must clear the anchor")
	}
	if got.Content == "" {
		t.Fatal("ClosePopup keeps the content for reuse")
	}
}

func TestIdentify_StaleClearLeavesNewerPopup(t *testing.T) {
	c := New(slog.Default(), nil, nil, nil)

	newer := Popup{Content: "<h4>Roads</h4>", Position: &model.Coordinate{X: 1, Y: 2}}
	c.gen.Store(2)
	if !c.setPopupIfCurrent(2, newer) {
		t.Fatal("current request must publish")
	}

	// A request that snapshotted an older generation wakes up late and
	// attempts its initial clear; the popup must survive.
	if c.setPopupIfCurrent(1, Popup{}) {
		t.Fatal("stale request must not clear the popup")
	}
	got := c.Popup()
	if got.Content != newer.Content || got.Position == nil {
		t.Fatalf("popup wiped by stale clear: %+v", got)
	}
}
