// Package httpclient builds the pooled client shared by the DMIS layer API,
// GeoServer, and ArcGIS callers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound returns the shared outbound client. The overall timeout is
// sized for large GeoJSON payloads; identify and legend calls bound
// themselves with request contexts instead.
func NewOutbound() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   45 * time.Second,
	}
}
