// Package proxy streams WMS requests to GeoServer so browser clients never
// see the upstream endpoint or the bearer token attached on the way out.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/opendmis/map-session/internal/auth"
	"github.com/opendmis/map-session/internal/observability"
)

type WMS struct {
	log      *slog.Logger
	upstream *url.URL
	rt       http.RoundTripper
	creds    auth.Credentials
	startNow func() time.Time // for tests
}

func NewWMS(log *slog.Logger, client *http.Client, endpoint string, creds auth.Credentials) (*WMS, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse wms url: %w", err)
	}
	rt := http.RoundTripper(http.DefaultTransport)
	if client != nil && client.Transport != nil {
		rt = client.Transport
	}
	return &WMS{
		log:      log,
		upstream: u,
		rt:       rt,
		creds:    creds,
		startNow: time.Now,
	}, nil
}

// Forward proxies the incoming WMS query string to the upstream endpoint
// and streams the response back.
func (p *WMS) Forward(w http.ResponseWriter, r *http.Request) {
	start := p.startNow()

	proxy := &httputil.ReverseProxy{
		Transport: p.rt,

		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = p.upstream.Scheme
			pr.Out.URL.Host = p.upstream.Host
			pr.Out.URL.Path = p.upstream.Path
			pr.Out.URL.RawPath = p.upstream.EscapedPath()
			pr.Out.URL.RawQuery = r.URL.RawQuery
			pr.Out.Host = p.upstream.Host
			auth.Apply(pr.Out, p.creds)
			pr.SetXForwarded()
		},

		ModifyResponse: func(resp *http.Response) error {
			dur := time.Since(start)
			p.log.Debug("wms forward done",
				"status", resp.StatusCode,
				"duration", dur.String())
			observability.ObserveUpstreamLatency("geoserver", dur.Seconds())
			return nil
		},

		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			p.log.Error("wms proxy error", "err", err)
			http.Error(w, "upstream proxy error: "+err.Error(), http.StatusBadGateway)
		},
	}

	proxy.ServeHTTP(w, r)
}
