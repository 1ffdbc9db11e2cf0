// Package measure runs the line/area measurement tool for one session: a
// sketch under construction, a live tooltip, and at most one finished
// measurement at a time.
package measure

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/opendmis/map-session/internal/model"
)

type Type string

const (
	TypeLine Type = "line"
	TypeArea Type = "area"
)

type State int

const (
	// Inactive: no draw interaction installed; every input is rejected.
	Inactive State = iota
	// ArmedIdle: tool active, no sketch in progress.
	ArmedIdle
	// Sketching: a sketch geometry is under construction.
	Sketching
	// Finished: a completed measurement is visible until the next sketch
	// starts or the tool deactivates.
	Finished
)

var (
	ErrInactive = errors.New("measure: tool inactive")
	// ErrSketchActive rejects a type change mid-sketch; callers cancel or
	// finish the sketch first.
	ErrSketchActive = errors.New("measure: sketch in progress")
	ErrNoSketch     = errors.New("measure: no sketch in progress")
	ErrShortSketch  = errors.New("measure: not enough vertices")
)

// Tooltip is the floating measurement readout. Static marks the frozen
// post-draw state with its fixed pixel offset.
type Tooltip struct {
	Text     string           `json:"text"`
	Position model.Coordinate `json:"position"`
	Static   bool             `json:"static"`
	Offset   [2]int           `json:"offset"`
}

const (
	msgContinueLine    = "Click to continue drawing the line"
	msgContinuePolygon = "Click to continue drawing the polygon"
	msgStart           = "Click to start drawing"
)

// Tool is the measure state machine. All coordinates are in the working
// projection (EPSG:3857, meters).
type Tool struct {
	mu       sync.Mutex
	state    State
	typ      Type
	sketch   []orb.Point
	finished []orb.Point
	tooltip  *Tooltip
}

func NewTool() *Tool {
	return &Tool{state: Inactive, typ: TypeArea}
}

func (t *Tool) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tool) Type() Type {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typ
}

// Tooltip returns the current tooltip, nil when none is shown.
func (t *Tool) Tooltip() *Tooltip {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tooltip == nil {
		return nil
	}
	cp := *t.tooltip
	return &cp
}

// SetActive installs or removes the draw interaction. Deactivation is
// destructive: it clears any in-progress or finished measurement.
func (t *Tool) SetActive(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if active {
		if t.state == Inactive {
			t.state = ArmedIdle
		}
		return
	}
	t.state = Inactive
	t.sketch = nil
	t.finished = nil
	t.tooltip = nil
}

// SetType selects the geometry kind for the next sketch. Changing type while
// a sketch is in progress is rejected.
func (t *Tool) SetType(typ Type) error {
	if typ != TypeLine && typ != TypeArea {
		return fmt.Errorf("measure: unknown type %q", typ)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Sketching {
		return ErrSketchActive
	}
	t.typ = typ
	return nil
}

// HelpMessage is the pointer-follow hint for the current sketch state.
func (t *Tool) HelpMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Sketching {
		return msgStart
	}
	if t.typ == TypeArea {
		return msgContinuePolygon
	}
	return msgContinueLine
}

// Begin starts a sketch at the given coordinate, clearing any previous
// finished measurement: only one measurement is visible at a time.
func (t *Tool) Begin(c model.Coordinate) (*Tooltip, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case Inactive:
		return nil, ErrInactive
	case Sketching:
		return nil, ErrSketchActive
	}
	t.finished = nil
	t.sketch = []orb.Point{{c.X, c.Y}}
	t.state = Sketching
	t.refreshTooltip()
	cp := *t.tooltip
	return &cp, nil
}

// AddVertex extends the sketch and recomputes the live tooltip.
func (t *Tool) AddVertex(c model.Coordinate) (*Tooltip, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Sketching {
		return nil, ErrNoSketch
	}
	t.sketch = append(t.sketch, orb.Point{c.X, c.Y})
	t.refreshTooltip()
	cp := *t.tooltip
	return &cp, nil
}

// Finish completes the sketch: the tooltip freezes in its static form and
// the geometry stays visible until the next sketch or deactivation.
func (t *Tool) Finish() (*Tooltip, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Sketching {
		return nil, ErrNoSketch
	}
	min := 2
	if t.typ == TypeArea {
		min = 3
	}
	if len(t.sketch) < min {
		return nil, ErrShortSketch
	}
	t.refreshTooltip()
	t.tooltip.Static = true
	t.tooltip.Offset = [2]int{0, -7}
	t.finished = t.sketch
	t.sketch = nil
	t.state = Finished
	cp := *t.tooltip
	return &cp, nil
}

// Cancel aborts the sketch without touching a previous finished measurement.
func (t *Tool) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Sketching {
		return
	}
	t.sketch = nil
	t.tooltip = nil
	t.state = ArmedIdle
}

// refreshTooltip recomputes text and anchor for the current sketch. Lines
// anchor at the last vertex, polygons at their centroid.
func (t *Tool) refreshTooltip() {
	var (
		text   string
		anchor orb.Point
	)
	if t.typ == TypeArea {
		text = FormatArea(Area(t.sketch))
		anchor = centroidOf(t.sketch)
	} else {
		text = FormatLength(Length(t.sketch))
		anchor = t.sketch[len(t.sketch)-1]
	}
	t.tooltip = &Tooltip{
		Text:     text,
		Position: model.Coordinate{X: anchor[0], Y: anchor[1]},
		Offset:   [2]int{0, -15},
	}
}

func centroidOf(pts []orb.Point) orb.Point {
	if len(pts) < 3 {
		return pts[len(pts)-1]
	}
	c, _ := planar.CentroidArea(ringOf(pts))
	return c
}

func ringOf(pts []orb.Point) orb.Polygon {
	ring := make(orb.Ring, 0, len(pts)+1)
	ring = append(ring, pts...)
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// Length sums great-circle (haversine) distances between consecutive
// vertices, each reprojected from the working projection to lon/lat. The
// sphere radius is the WGS84 semi-major axis.
func Length(pts []orb.Point) float64 {
	var total float64
	for i := 0; i+1 < len(pts); i++ {
		a := project.Point(pts[i], project.Mercator.ToWGS84)
		b := project.Point(pts[i+1], project.Mercator.ToWGS84)
		total += geo.DistanceHaversine(a, b)
	}
	return total
}

// Area is the planar polygon area in working-projection units, not geodesic.
func Area(pts []orb.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	return math.Abs(planar.Area(ringOf(pts)))
}

// FormatLength renders meters below 100 m, kilometers above.
func FormatLength(meters float64) string {
	if meters < 100 {
		return fmt.Sprintf("%.2f m", meters)
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}

// FormatArea renders m² up to 10000, km² above.
func FormatArea(sqMeters float64) string {
	if sqMeters > 10000 {
		return fmt.Sprintf("%.2f km²", sqMeters/1e6)
	}
	return fmt.Sprintf("%.2f m²", sqMeters)
}
