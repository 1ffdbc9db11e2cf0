// Package geoindex maintains an H3 cell index over a layer's vector features
// to keep identify hit-tests from scanning every feature.
package geoindex

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	h3 "github.com/uber/h3-go/v4"
)

const (
	// indexRes 7 has an average hexagon edge of roughly 1.2 km, a workable
	// middle ground for country-scale disaster layers.
	indexRes        = 7
	avgEdgeMeters   = 1220.6
	maxGridDiskRing = 8
)

// Index buckets features by the H3 cells their geometry covers. Feature
// geometries are kept in the working projection (EPSG:3857).
type Index struct {
	cells map[h3.Cell][]int
	feats []*geojson.Feature
}

func New() *Index {
	return &Index{cells: map[h3.Cell][]int{}}
}

func (ix *Index) Len() int { return len(ix.feats) }

// Add indexes one feature whose geometry is in EPSG:3857.
func (ix *Index) Add(f *geojson.Feature) error {
	if f == nil || f.Geometry == nil {
		return nil
	}
	geog := project.Geometry(orb.Clone(f.Geometry), project.Mercator.ToWGS84)
	cells, err := coveringCells(geog)
	if err != nil {
		return fmt.Errorf("index feature: %w", err)
	}
	id := len(ix.feats)
	ix.feats = append(ix.feats, f)
	for c := range cells {
		ix.cells[c] = append(ix.cells[c], id)
	}
	return nil
}

// HitTest returns the features within tolMeters of the click coordinate
// (EPSG:3857). Polygons match on containment as well as boundary distance.
func (ix *Index) HitTest(click orb.Point, tolMeters float64) []*geojson.Feature {
	if len(ix.feats) == 0 {
		return nil
	}
	ll := project.Point(click, project.Mercator.ToWGS84)
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: ll[1], Lng: ll[0]}, indexRes)
	if err != nil {
		return nil
	}

	k := int(math.Ceil(tolMeters/avgEdgeMeters)) + 1
	if k > maxGridDiskRing {
		k = maxGridDiskRing
	}
	disk, err := cell.GridDisk(k)
	if err != nil {
		return nil
	}

	seen := map[int]struct{}{}
	var out []*geojson.Feature
	for _, c := range disk {
		for _, id := range ix.cells[c] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if hits(ix.feats[id].Geometry, click, tolMeters) {
				out = append(out, ix.feats[id])
			}
		}
	}
	return out
}

func hits(g orb.Geometry, p orb.Point, tol float64) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		if planar.PolygonContains(geom, p) {
			return true
		}
	case orb.MultiPolygon:
		if planar.MultiPolygonContains(geom, p) {
			return true
		}
	}
	return planar.DistanceFrom(g, p) <= tol
}

// coveringCells maps a geographic (lon/lat) geometry to the H3 cells it
// touches. Lines are covered by their vertices; the grid-disk expansion at
// query time absorbs the gap between sparse vertices.
func coveringCells(g orb.Geometry) (map[h3.Cell]struct{}, error) {
	cells := map[h3.Cell]struct{}{}

	addPoint := func(p orb.Point) error {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: p[1], Lng: p[0]}, indexRes)
		if err != nil {
			return err
		}
		cells[c] = struct{}{}
		return nil
	}

	addRing := func(r orb.Ring) error {
		for _, p := range r {
			if err := addPoint(p); err != nil {
				return err
			}
		}
		loop := make(h3.GeoLoop, 0, len(r))
		for _, p := range r {
			loop = append(loop, h3.LatLng{Lat: p[1], Lng: p[0]})
		}
		if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
			loop = loop[:len(loop)-1]
		}
		if len(loop) < 3 {
			return nil
		}
		filled, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, indexRes)
		if err != nil {
			// small rings legitimately produce no interior cells
			return nil
		}
		for _, c := range filled {
			cells[c] = struct{}{}
		}
		return nil
	}

	switch geom := g.(type) {
	case orb.Point:
		if err := addPoint(geom); err != nil {
			return nil, err
		}
	case orb.MultiPoint:
		for _, p := range geom {
			if err := addPoint(p); err != nil {
				return nil, err
			}
		}
	case orb.LineString:
		for _, p := range geom {
			if err := addPoint(p); err != nil {
				return nil, err
			}
		}
	case orb.MultiLineString:
		for _, ls := range geom {
			for _, p := range ls {
				if err := addPoint(p); err != nil {
					return nil, err
				}
			}
		}
	case orb.Polygon:
		for _, r := range geom {
			if err := addRing(r); err != nil {
				return nil, err
			}
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, r := range poly {
				if err := addRing(r); err != nil {
					return nil, err
				}
			}
		}
	default:
		return nil, fmt.Errorf("unsupported geometry type %T", g)
	}
	return cells, nil
}
