package style

import (
	"sync"

	"github.com/paulmach/orb/geojson"
)

// Func computes a style for one feature.
type Func func(*geojson.Feature) Style

// Registry maps layer names to style functions, keeping per-layer overrides
// out of the resolver's core logic. Unregistered layers fall back to the
// rule set, then the default style.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Func
}

func NewRegistry() *Registry {
	r := &Registry{m: map[string]Func{}}
	registerBuiltins(r)
	return r
}

func (r *Registry) Register(layerName string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[layerName] = fn
}

func (r *Registry) Lookup(layerName string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.m[layerName]
	return fn, ok
}

// Built-in overrides for known layers. These are data-driven entries, not
// conditionals inside the resolver.
func registerBuiltins(r *Registry) {
	r.Register("earthnetworks_lightning_points", lightningStyle)
	r.Register("at_risk_communes", communeRiskStyle)
	r.Register("at_risk_villages", villageRiskStyle)
}

func lightningStyle(_ *geojson.Feature) Style {
	return Style{Icon: &Icon{Name: "lightning"}}
}

// communeRiskStyle shades communes by the share of the population at risk.
func communeRiskStyle(f *geojson.Feature) Style {
	p, ok := toFloat(propertyOf(f, "SS_P_AL"))
	if !ok {
		return Default()
	}
	switch {
	case p >= 0.1:
		return Style{
			Stroke: &Stroke{Color: "rgba(128, 0, 0, 0.8)", Width: 1},
			Fill:   &Fill{Color: "rgba(255, 0, 0, 0.5)"},
		}
	case p > 0:
		return Style{
			Stroke: &Stroke{Color: "rgba(128, 102, 0, 0.8)", Width: 1},
			Fill:   &Fill{Color: "rgba(255, 204, 0, 0.5)"},
		}
	default:
		return Default()
	}
}

// villageRiskStyle marks villages flagged as flood-prone.
func villageRiskStyle(f *geojson.Feature) Style {
	flag := propertyOf(f, "Flood")
	flooded := false
	switch v := flag.(type) {
	case string:
		flooded = v == "Y" || v == "y" || v == "1"
	case bool:
		flooded = v
	case float64:
		flooded = v != 0
	}
	if !flooded {
		return Default()
	}
	return Style{
		Circle: &Circle{
			Radius: 5,
			Stroke: Stroke{Color: "darkred", Width: 1},
			Fill:   Fill{Color: "red"},
		},
	}
}

func propertyOf(f *geojson.Feature, name string) any {
	if f == nil {
		return nil
	}
	return f.Properties[name]
}
