// Package composer turns a fetched layer catalog into live map layers on a
// session's surface.
package composer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/opendmis/map-session/internal/catalog"
	"github.com/opendmis/map-session/internal/geoindex"
	"github.com/opendmis/map-session/internal/mapsurface"
	"github.com/opendmis/map-session/internal/model"
	"github.com/opendmis/map-session/internal/ogc"
	"github.com/opendmis/map-session/internal/style"
)

const (
	heatmapNameMarker = "heatmap"
	heatmapBlur       = 15
	heatmapRadius     = 5

	legendFetchTimeout = 30 * time.Second
)

type Composer struct {
	log         *slog.Logger
	catalog     *catalog.Client
	styles      *style.Registry
	wmsEndpoint string
}

func New(log *slog.Logger, cat *catalog.Client, styles *style.Registry, wmsEndpoint string) *Composer {
	return &Composer{
		log:         log,
		catalog:     cat,
		styles:      styles,
		wmsEndpoint: wmsEndpoint,
	}
}

// Compose builds one map layer per catalog entry on the surface, all
// initially invisible, and returns the canonical WMS source (the first WMS
// layer composed) for identify queries. A geojson layer whose payload cannot
// be fetched or decoded is skipped with a warning; everything else renders.
func (c *Composer) Compose(ctx context.Context, surface *mapsurface.Surface, cat model.Catalog) (*ogc.WMSSource, error) {
	var wmsSource *ogc.WMSSource

	for _, desc := range cat.All() {
		switch desc.LayerType {
		case model.LayerTypeWMS:
			layer := c.composeWMS(desc)
			if wmsSource == nil {
				wmsSource = layer.WMS
			}
			surface.AddLayer(layer)
			c.fetchLegendAsync(ctx, surface, desc.LayerName)

		case model.LayerTypeArcGISRest:
			surface.AddLayer(&mapsurface.MapLayer{
				Name:      desc.LayerName,
				Title:     desc.LayerTitle,
				Type:      model.LayerTypeArcGISRest,
				Source:    desc.LayerSource,
				Copyright: desc.LayerCopyright,
			})

		case model.LayerTypeGeoJSON:
			layer, err := c.composeGeoJSON(ctx, desc)
			if err != nil {
				c.log.Warn("skipping geojson layer", "layer", desc.LayerName, "err", err)
				continue
			}
			surface.AddLayer(layer)
			if desc.LayerStyle != nil {
				surface.SetLegend(desc.LayerName, style.RenderLegend(desc.LayerStyle))
			}

		default:
			return nil, fmt.Errorf("descriptor %q has unknown layer type %q", desc.LayerName, desc.LayerType)
		}
	}

	return wmsSource, nil
}

func (c *Composer) composeWMS(desc model.LayerDescriptor) *mapsurface.MapLayer {
	source := ogc.NewWMSSource(c.wmsEndpoint, desc.LayerName)
	return &mapsurface.MapLayer{
		Name:      desc.LayerName,
		Title:     desc.LayerTitle,
		Type:      model.LayerTypeWMS,
		Source:    c.wmsEndpoint,
		Copyright: desc.LayerCopyright,
		WMS:       source,
		// Protected tiles only render through the authenticated image path.
		TileLoad: func(ctx context.Context, ext ogc.Extent, width, height int) ([]byte, error) {
			return c.catalog.GetImage(ctx, source.GetMapURL(ext, width, height))
		},
	}
}

func (c *Composer) composeGeoJSON(ctx context.Context, desc model.LayerDescriptor) (*mapsurface.MapLayer, error) {
	payload, err := c.catalog.GetGeoJSON(ctx, desc)
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(payload)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	geographic, err := payloadIsGeographic(payload)
	if err != nil {
		return nil, err
	}

	index := geoindex.New()
	features := make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if geographic {
			f.Geometry = project.Geometry(f.Geometry, project.WGS84.ToMercator)
		}
		if err := index.Add(f); err != nil {
			c.log.Warn("feature not indexed", "layer", desc.LayerName, "err", err)
		}
		features = append(features, f)
	}

	layer := &mapsurface.MapLayer{
		Name:      desc.LayerName,
		Title:     desc.LayerTitle,
		Type:      model.LayerTypeGeoJSON,
		Source:    desc.LayerSource,
		Copyright: desc.LayerCopyright,
		Features:  features,
		Index:     index,
		Style:     c.styleFor(desc),
		ZIndex:    zIndexFor(features),
	}

	if strings.Contains(strings.ToLower(desc.LayerName), heatmapNameMarker) {
		layer.Heatmap = true
		layer.HeatmapBlur = heatmapBlur
		layer.HeatmapRadius = heatmapRadius
	}
	return layer, nil
}

// styleFor picks the layer's style function: a registered per-layer override
// first, then the descriptor's rule set, then the default style.
func (c *Composer) styleFor(desc model.LayerDescriptor) style.Func {
	if fn, ok := c.styles.Lookup(desc.LayerName); ok {
		return fn
	}
	ruleSet := desc.LayerStyle
	return func(f *geojson.Feature) style.Style {
		return style.Resolve(f, ruleSet)
	}
}

// fetchLegendAsync attaches a WMS legend graphic to the layer once resolved.
// Fire-and-forget: a failed fetch just leaves the legend empty. The fetch
// outlives the composing request's context, so only its own timeout bounds it.
func (c *Composer) fetchLegendAsync(ctx context.Context, surface *mapsurface.Surface, layerName string) {
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, legendFetchTimeout)
		defer cancel()
		u := ogc.GetLegendGraphicURL(c.wmsEndpoint, layerName)
		b, err := c.catalog.GetLegendImage(ctx, layerName, u)
		if err != nil {
			c.log.Debug("legend fetch failed", "layer", layerName, "err", err)
			return
		}
		surface.SetLegend(layerName, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(b))
	}()
}

// payloadIsGeographic reports whether the payload's crs block (or its
// absence, meaning WGS84 lon/lat) calls for reprojection into the working
// projection.
func payloadIsGeographic(payload []byte) (bool, error) {
	var doc struct {
		CRS *struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return false, fmt.Errorf("decode crs block: %w", err)
	}
	if doc.CRS == nil {
		return true, nil
	}
	name := doc.CRS.Properties.Name
	switch {
	case strings.Contains(name, "4326"), strings.Contains(name, "CRS84"):
		return true, nil
	case strings.Contains(name, "3857"), strings.Contains(name, "900913"):
		return false, nil
	default:
		return false, fmt.Errorf("unsupported crs %q", name)
	}
}

// zIndexFor orders a vector layer by its dominant geometry kind so polygons
// draw under lines under points.
func zIndexFor(features []*geojson.Feature) int {
	for _, f := range features {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			return mapsurface.ZPolygon
		case orb.LineString, orb.MultiLineString:
			return mapsurface.ZLine
		case orb.Point, orb.MultiPoint:
			return mapsurface.ZPoint
		}
	}
	return mapsurface.ZPolygon
}
