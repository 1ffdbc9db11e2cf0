// Package arcgis implements the identify call against an external ArcGIS
// REST map service. The service is third-party; no auth headers are sent.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opendmis/map-session/internal/model"
	"github.com/opendmis/map-session/internal/observability"
)

// fixedMapExtent is the whole-world extent context sent with every identify;
// the click geometry carries the actual position.
const fixedMapExtent = "-20037700,20037700,-30241100,30241100"

const defaultTolerance = 10

type IdentifyResult struct {
	LayerName  string         `json:"layerName,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

type IdentifyResponse struct {
	Results []IdentifyResult `json:"results"`
}

type Client struct {
	log  *slog.Logger
	http *http.Client
}

func New(log *slog.Logger, httpClient *http.Client) *Client {
	return &Client{log: log, http: httpClient}
}

// IdentifyURL builds the identify query for one service URL, a click
// coordinate and the current viewport size.
func IdentifyURL(sourceURL string, click model.Coordinate, imageWidth, imageHeight int) string {
	params := url.Values{}
	params.Set("geometry", fmt.Sprintf("%f,%f", click.X, click.Y))
	params.Set("geometryType", "esriGeometryPoint")
	params.Set("layers", "all")
	params.Set("tolerance", strconv.Itoa(defaultTolerance))
	params.Set("mapExtent", fixedMapExtent)
	params.Set("imageDisplay", fmt.Sprintf("%d,%d,72", imageWidth, imageHeight))
	params.Set("returnGeometry", "false")
	params.Set("f", "json")
	return sourceURL + "/identify?" + params.Encode()
}

// Identify queries the service and decodes its result list.
func (c *Client) Identify(ctx context.Context, identifyURL string) (IdentifyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identifyURL, nil)
	if err != nil {
		return IdentifyResponse{}, fmt.Errorf("build identify request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("arcgis", time.Since(start).Seconds())
	if err != nil {
		return IdentifyResponse{}, fmt.Errorf("do identify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return IdentifyResponse{}, fmt.Errorf("arcgis status %d: %s", resp.StatusCode, string(b))
	}

	var out IdentifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return IdentifyResponse{}, fmt.Errorf("decode identify response: %w", err)
	}
	return out, nil
}
