// Package catalog fetches the layer table of contents and per-layer payloads
// from the DMIS API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opendmis/map-session/internal/auth"
	"github.com/opendmis/map-session/internal/cache/keys"
	"github.com/opendmis/map-session/internal/cache/redisstore"
	"github.com/opendmis/map-session/internal/model"
	"github.com/opendmis/map-session/internal/observability"
)

// ErrUnauthorized reports a 401 from the API. The gateway maps it to a login
// redirect; every other failure stays a plain upstream error.
var ErrUnauthorized = errors.New("catalog: unauthorized")

type Client struct {
	log      *slog.Logger
	http     *http.Client
	endpoint string
	creds    auth.Credentials

	cache      *redisstore.Client
	catalogTTL time.Duration
	geojsonTTL time.Duration
	legendTTL  time.Duration
}

type Options struct {
	// Cache is optional; with no cache every call goes upstream.
	Cache      *redisstore.Client
	CatalogTTL time.Duration
	GeoJSONTTL time.Duration
	LegendTTL  time.Duration
}

func New(log *slog.Logger, httpClient *http.Client, endpoint string, creds auth.Credentials, opts Options) *Client {
	return &Client{
		log:        log,
		http:       httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
		creds:      creds,
		cache:      opts.Cache,
		catalogTTL: opts.CatalogTTL,
		geojsonTTL: opts.GeoJSONTTL,
		legendTTL:  opts.LegendTTL,
	}
}

// GetLayers fetches the category-partitioned TOC. UNKNOWN returns all
// categories merged into the three partitions.
func (c *Client) GetLayers(ctx context.Context, category model.MapCategory) (model.Catalog, error) {
	key := keys.Catalog(string(category))
	if b, ok := c.cacheGet(ctx, key); ok {
		var cat model.Catalog
		if err := json.Unmarshal(b, &cat); err == nil {
			return cat, nil
		}
		// fall through to a fresh fetch on a corrupt entry
	}

	u := fmt.Sprintf("%s/layer/toc/%s", c.endpoint, url.PathEscape(string(category)))
	body, err := c.getJSON(ctx, u)
	if err != nil {
		return model.Catalog{}, err
	}

	var cat model.Catalog
	if err := json.Unmarshal(body, &cat); err != nil {
		return model.Catalog{}, fmt.Errorf("decode layer toc: %w", err)
	}

	c.cacheSet(ctx, key, body, c.catalogTTL)
	return cat, nil
}

// GetGeoJSON fetches the raw vector payload for one geojson-type layer. The
// payload may carry a crs block; decoding and reprojection are the composer's
// concern.
func (c *Client) GetGeoJSON(ctx context.Context, desc model.LayerDescriptor) ([]byte, error) {
	if desc.LayerType != model.LayerTypeGeoJSON {
		return nil, fmt.Errorf("layer %q is not geojson", desc.LayerName)
	}

	key := keys.GeoJSON(desc.LayerName, desc.LayerSource)
	if b, ok := c.cacheGet(ctx, key); ok {
		return b, nil
	}

	u := fmt.Sprintf("%s/map/geojson?layerSource=%s", c.endpoint, url.QueryEscape(desc.LayerSource))
	body, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}

	c.cacheSet(ctx, key, body, c.geojsonTTL)
	return body, nil
}

// GetImage issues an authenticated GET expecting a binary image response
// (map tiles, legend swatches). Failures propagate; there is no retry.
func (c *Client) GetImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	auth.Apply(req, c.creds)
	req.Header.Set("Accept", "image/png")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("api", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	return b, nil
}

// GetLegendImage fetches a legend swatch through the authenticated image path,
// cached under the layer name.
func (c *Client) GetLegendImage(ctx context.Context, layerName, legendURL string) ([]byte, error) {
	key := keys.Legend(layerName)
	if b, ok := c.cacheGet(ctx, key); ok {
		return b, nil
	}
	b, err := c.GetImage(ctx, legendURL)
	if err != nil {
		return nil, err
	}
	c.cacheSet(ctx, key, b, c.legendTTL)
	return b, nil
}

// GetFeatureInfo issues an authenticated GetFeatureInfo call and returns the
// raw JSON body.
func (c *Client) GetFeatureInfo(ctx context.Context, infoURL string) ([]byte, error) {
	return c.getJSON(ctx, infoURL)
}

func (c *Client) getJSON(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	auth.Apply(req, c.creds)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("api", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (c *Client) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	b, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache get failed", "key", key, "err", err)
		return nil, false
	}
	return b, ok
}

func (c *Client) cacheSet(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if c.cache == nil || ttl <= 0 {
		return
	}
	if err := c.cache.Set(ctx, key, val, ttl); err != nil {
		c.log.Warn("cache set failed", "key", key, "err", err)
	}
}
