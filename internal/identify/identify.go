// Package identify answers "what is at this map point" by fanning out to the
// WMS GetFeatureInfo endpoint, an external ArcGIS REST identify service, and
// a local hit-test over loaded vector layers, then joining the results into
// one popup payload.
package identify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/opendmis/map-session/internal/arcgis"
	"github.com/opendmis/map-session/internal/catalog"
	"github.com/opendmis/map-session/internal/mapsurface"
	"github.com/opendmis/map-session/internal/model"
	"github.com/opendmis/map-session/internal/observability"
	"github.com/opendmis/map-session/internal/ogc"
)

const (
	maxFeatureCount   = 10
	featureInfoBuffer = 10
	// hitTolerancePx is the pixel radius for the local vector hit-test.
	hitTolerancePx = 10

	noInformation = "No information available."
)

// ErrInactive reports a click while the tool is switched off; the click is
// ignored and no popup state changes.
var ErrInactive = errors.New("identify: tool inactive")

// ErrSuperseded reports that a newer click started while this one was in
// flight; its results are discarded.
var ErrSuperseded = errors.New("identify: superseded by newer request")

// Popup is the join result anchored at the click coordinate. A nil Position
// means hidden.
type Popup struct {
	Content  string            `json:"content"`
	Position *model.Coordinate `json:"position,omitempty"`
}

type Coordinator struct {
	log      *slog.Logger
	catalog  *catalog.Client
	arcgis   *arcgis.Client
	excluded map[string]struct{}

	active atomic.Bool
	gen    atomic.Uint64

	mu    sync.Mutex
	popup Popup
}

func New(log *slog.Logger, cat *catalog.Client, arc *arcgis.Client, excludedLayers []string) *Coordinator {
	excluded := make(map[string]struct{}, len(excludedLayers))
	for _, n := range excludedLayers {
		excluded[n] = struct{}{}
	}
	return &Coordinator{
		log:      log,
		catalog:  cat,
		arcgis:   arc,
		excluded: excluded,
	}
}

// SetActive switches the click handling on or off. While off, clicks are
// ignored entirely.
func (c *Coordinator) SetActive(active bool) {
	c.active.Store(active)
}

func (c *Coordinator) Active() bool { return c.active.Load() }

// Popup returns the current popup state.
func (c *Coordinator) Popup() Popup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popup
}

// ClosePopup hides the popup by clearing its anchor; content and overlay are
// reused across clicks.
func (c *Coordinator) ClosePopup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.popup.Position = nil
}

// sourceResult pairs a fragment with its completion order.
type resultBuffer struct {
	mu        sync.Mutex
	fragments []string
}

func (b *resultBuffer) append(fragment string) {
	if fragment == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments = append(b.fragments, fragment)
}

// Identify runs one click. It arms the applicable sources, fans them out
// without mutual ordering, and publishes the popup only after every armed
// source has resolved. A source that errors resolves with zero contribution.
// A newer click supersedes this one; stale results never reach the popup.
func (c *Coordinator) Identify(ctx context.Context, surface *mapsurface.Surface, wmsSource *ogc.WMSSource, click model.Coordinate) (Popup, error) {
	if !c.active.Load() {
		return Popup{}, ErrInactive
	}

	gen := c.gen.Add(1)

	// Clear the previous popup before arming the sources. The clear is
	// generation-guarded like the publish: a request stalled here must not
	// wipe a newer request's already-published popup.
	if !c.setPopupIfCurrent(gen, Popup{}) {
		return Popup{}, ErrSuperseded
	}

	start := time.Now()
	buf := &resultBuffer{}
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		err := c.identifyWMS(ctx, surface, wmsSource, click, buf)
		observability.ObserveIdentifySource("wms", err)
		if err != nil {
			c.log.Debug("wms identify resolved with error", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		err := c.identifyArcGISRest(ctx, surface, click, buf)
		observability.ObserveIdentifySource("arcgisrest", err)
		if err != nil {
			c.log.Debug("arcgis identify resolved with error", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		// The local hit-test is synchronous; it runs alongside the network
		// sources so all three join at the same barrier.
		c.identifyGeoJSON(surface, click, buf)
		observability.ObserveIdentifySource("geojson", nil)
	}()

	wg.Wait()
	observability.ObserveIdentifyJoin(time.Since(start).Seconds())

	if c.gen.Load() != gen {
		return Popup{}, ErrSuperseded
	}

	buf.mu.Lock()
	content := joinFragments(buf.fragments)
	buf.mu.Unlock()
	if content == "" {
		content = noInformation
	}

	popup := Popup{Content: content, Position: &model.Coordinate{X: click.X, Y: click.Y}}
	if !c.setPopupIfCurrent(gen, popup) {
		return Popup{}, ErrSuperseded
	}
	return popup, nil
}

// setPopupIfCurrent installs p only while gen is still the newest request.
// Stale requests leave the popup alone.
func (c *Coordinator) setPopupIfCurrent(gen uint64, p Popup) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen.Load() != gen {
		return false
	}
	c.popup = p
	return true
}

// identifyWMS arms only when a WMS source exists and at least one visible
// identifiable WMS layer remains after exclusions.
func (c *Coordinator) identifyWMS(ctx context.Context, surface *mapsurface.Surface, source *ogc.WMSSource, click model.Coordinate, buf *resultBuffer) error {
	if source == nil {
		return nil
	}

	var names []string
	for _, l := range surface.VisibleLayers(model.LayerTypeWMS) {
		if _, skip := c.excluded[l.Name]; skip {
			continue
		}
		names = append(names, l.Name)
	}
	if len(names) == 0 {
		return nil
	}

	view := surface.View()
	px := view.CoordinateToPixel(click)
	u := source.GetFeatureInfoURL(ogc.FeatureInfoQuery{
		Extent:       view.Extent(),
		Width:        view.Size[0],
		Height:       view.Size[1],
		I:            int(px.X),
		J:            int(px.Y),
		QueryLayers:  names,
		FeatureCount: maxFeatureCount,
		Buffer:       featureInfoBuffer,
	})

	body, err := c.catalog.GetFeatureInfo(ctx, u)
	if err != nil {
		return err
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return err
	}

	buf.append(renderWMSFeatures(fc.Features))
	return nil
}

// identifyArcGISRest arms only when a visible ArcGIS REST layer exists. Only
// the first such layer is queried; multiple visible ArcGIS layers do not fan
// out.
func (c *Coordinator) identifyArcGISRest(ctx context.Context, surface *mapsurface.Surface, click model.Coordinate, buf *resultBuffer) error {
	layers := surface.VisibleLayers(model.LayerTypeArcGISRest)
	if len(layers) == 0 {
		return nil
	}
	first := layers[0]

	view := surface.View()
	u := arcgis.IdentifyURL(first.Source, click, view.Size[0], view.Size[1])
	resp, err := c.arcgis.Identify(ctx, u)
	if err != nil {
		return err
	}

	buf.append(renderArcGISResults(resp.Results, first.Title))
	return nil
}

// identifyGeoJSON hit-tests the click against in-memory vector features
// within a fixed pixel tolerance, grouping hits under their layer's title.
func (c *Coordinator) identifyGeoJSON(surface *mapsurface.Surface, click model.Coordinate, buf *resultBuffer) {
	tol := hitTolerancePx * surface.View().Resolution()
	pt := orb.Point{click.X, click.Y}

	var groups []featureGroup
	for _, l := range surface.VisibleLayers(model.LayerTypeGeoJSON) {
		if l.Index == nil {
			continue
		}
		hits := l.Index.HitTest(pt, tol)
		if len(hits) == 0 {
			continue
		}
		groups = append(groups, featureGroup{title: l.Title, features: hits})
	}

	buf.append(renderLocalFeatures(groups))
}

func joinFragments(fragments []string) string {
	out := ""
	for _, f := range fragments {
		out += f
	}
	return out
}
