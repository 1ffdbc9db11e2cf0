// Package mapsurface owns the mutable map/view state for one session and
// exposes it to the composer, identify and measure tools.
package mapsurface

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/opendmis/map-session/internal/geoindex"
	"github.com/opendmis/map-session/internal/model"
	"github.com/opendmis/map-session/internal/ogc"
	"github.com/opendmis/map-session/internal/style"
)

// maxResolution is meters per pixel at zoom 0 for 256px tiles in EPSG:3857.
const maxResolution = 156543.03392804097

// Default view over Cambodia, matching the shipped client.
var (
	defaultCenterLonLat = orb.Point{104.99, 12.56}
	defaultZoom         = 7.0
	defaultSize         = [2]int{1024, 768}
)

// BaseLayer is the always-on background tile layer.
type BaseLayer struct {
	URLTemplate string
	Attribution string
}

// View is the camera state: center in working-projection meters, zoom, and
// the viewport pixel size.
type View struct {
	Center orb.Point
	Zoom   float64
	Size   [2]int
}

// Resolution returns meters per pixel at the current zoom.
func (v View) Resolution() float64 {
	return maxResolution / math.Pow(2, v.Zoom)
}

// Extent returns the bounding box covered by the viewport.
func (v View) Extent() ogc.Extent {
	res := v.Resolution()
	halfW := float64(v.Size[0]) / 2 * res
	halfH := float64(v.Size[1]) / 2 * res
	return ogc.Extent{
		MinX: v.Center[0] - halfW,
		MinY: v.Center[1] - halfH,
		MaxX: v.Center[0] + halfW,
		MaxY: v.Center[1] + halfH,
	}
}

// PixelToCoordinate converts a viewport pixel (origin top-left) to a
// working-projection coordinate.
func (v View) PixelToCoordinate(p model.Pixel) model.Coordinate {
	res := v.Resolution()
	ext := v.Extent()
	return model.Coordinate{
		X: ext.MinX + p.X*res,
		Y: ext.MaxY - p.Y*res,
	}
}

// CoordinateToPixel is the inverse of PixelToCoordinate.
func (v View) CoordinateToPixel(c model.Coordinate) model.Pixel {
	res := v.Resolution()
	ext := v.Extent()
	return model.Pixel{
		X: (c.X - ext.MinX) / res,
		Y: (ext.MaxY - c.Y) / res,
	}
}

// TileLoadFunc fetches one rendered tile for a layer. WMS layers get an
// authenticated loader wired in by the composer, replacing the plain
// unauthenticated tile fetch.
type TileLoadFunc func(ctx context.Context, ext ogc.Extent, width, height int) ([]byte, error)

// Z-order by geometry kind: polygons under lines under points.
const (
	ZPolygon = 0
	ZLine    = 1
	ZPoint   = 2
)

// MapLayer is the runtime counterpart of a LayerDescriptor. At most one
// exists per descriptor; visibility is the only externally toggled state.
type MapLayer struct {
	Name      string
	Title     string
	Type      model.LayerType
	Source    string
	Copyright string
	ZIndex    int

	// WMS is set for wms-type layers; the composer keeps the first one as
	// the canonical GetFeatureInfo source.
	WMS      *ogc.WMSSource
	TileLoad TileLoadFunc

	// Heatmap marks a geojson layer rendered as a density surface with a
	// fixed blur/radius and uniform point weight.
	Heatmap       bool
	HeatmapBlur   int
	HeatmapRadius int

	// Features hold the decoded vector payload, reprojected to EPSG:3857.
	// Index buckets them for identify hit-tests; Style resolves per-feature
	// rendering.
	Features []*geojson.Feature
	Index    *geoindex.Index
	Style    style.Func

	visible bool
	legend  string
}

func (l *MapLayer) Visible() bool { return l.visible }

// Legend returns the attached legend data URL, empty until the async legend
// fetch resolves.
func (l *MapLayer) Legend() string { return l.legend }

// Surface is the single map instance for a session. All mutation goes
// through its lock; callers never hold layer references across calls.
type Surface struct {
	mu     sync.Mutex
	view   View
	base   BaseLayer
	layers []*MapLayer
}

// New constructs a surface with the base layer and the fixed initial
// center/zoom. Creating a new surface replaces the previous instance.
func New() *Surface {
	return &Surface{
		view: View{
			Center: project.Point(defaultCenterLonLat, project.WGS84.ToMercator),
			Zoom:   defaultZoom,
			Size:   defaultSize,
		},
		base: BaseLayer{
			URLTemplate: "http://{a-c}.tile.openstreetmap.fr/hot/{z}/{x}/{y}.png",
			Attribution: "© OpenStreetMap contributors",
		},
	}
}

func (s *Surface) Base() BaseLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

func (s *Surface) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Surface) SetCenterZoom(center orb.Point, zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Center = center
	s.view.Zoom = zoom
}

// UpdateSize records the viewport size. The viewport may have changed since
// creation, so callers refresh it before using the view.
func (s *Surface) UpdateSize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if width > 0 && height > 0 {
		s.view.Size = [2]int{width, height}
	}
}

// AddLayer appends a layer in z/insertion order. Layers start invisible.
func (s *Surface) AddLayer(l *MapLayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = append(s.layers, l)
}

// Layers returns the layer collection in insertion order.
func (s *Surface) Layers() []*MapLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MapLayer, len(s.layers))
	copy(out, s.layers)
	return out
}

// ToggleLayer flips visibility of the named layer. A linear scan is fine at
// catalog sizes of tens of layers. Returns the new visibility and whether
// the layer was found.
func (s *Surface) ToggleLayer(name string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.layers {
		if l.Name == name {
			l.visible = !l.visible
			return l.visible, true
		}
	}
	return false, false
}

// VisibleLayers returns visible layers of the given type in map z-order.
func (s *Surface) VisibleLayers(t model.LayerType) []*MapLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*MapLayer
	for _, l := range s.layers {
		if l.visible && l.Type == t {
			out = append(out, l)
		}
	}
	return out
}

// SetLegend attaches a rendered legend to the named layer.
func (s *Surface) SetLegend(name, dataURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.layers {
		if l.Name == name {
			l.legend = dataURL
			return true
		}
	}
	return false
}

// Legend reads the named layer's legend under the surface lock. The async
// legend fetch writes it concurrently, so readers racing that fetch go
// through here rather than MapLayer.Legend.
func (s *Surface) Legend(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.layers {
		if l.Name == name {
			return l.legend, true
		}
	}
	return "", false
}

// FormatCoordinate renders the coordinate-readout control's text: the pixel's
// geographic position as lon/lat.
func (s *Surface) FormatCoordinate(p model.Pixel) string {
	v := s.View()
	c := v.PixelToCoordinate(p)
	ll := project.Point(orb.Point{c.X, c.Y}, project.Mercator.ToWGS84)
	return fmt.Sprintf("%.4f, %.4f", ll[0], ll[1])
}

// ScaleLine renders the scale-line control: the ground distance covered by
// the given number of pixels at the current view.
func (s *Surface) ScaleLine(pixels int) string {
	v := s.View()
	meters := float64(pixels) * v.Resolution()
	if meters >= 1000 {
		return fmt.Sprintf("%.0f km", meters/1000)
	}
	return fmt.Sprintf("%.0f m", meters)
}
