// Package server wires the HTTP surface: session lifecycle, identify and
// measure operations, the legend endpoint and the WMS pass-through.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opendmis/map-session/internal/catalog"
	"github.com/opendmis/map-session/internal/config"
	"github.com/opendmis/map-session/internal/health"
	imw "github.com/opendmis/map-session/internal/middleware"
	"github.com/opendmis/map-session/internal/proxy"
	"github.com/opendmis/map-session/internal/session"
)

type Deps struct {
	Sessions *session.Manager
	Catalog  *catalog.Client
	WMSProxy *proxy.WMS
}

// Routes builds the full router. Split out from Run so handler tests can
// serve it from httptest.
func Routes(cfg config.Config, logger *slog.Logger, deps Deps) http.Handler {
	h := &handlers{
		log:             logger,
		sessions:        deps.Sessions,
		catalog:         deps.Catalog,
		wmsEndpoint:     cfg.WMSEndpoint,
		identifyTimeout: cfg.IdentifyTimeout,
	}

	r := chi.NewRouter()
	r.Use(imw.Recover())
	r.Use(imw.Logging(logger))
	r.Use(imw.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/session", h.createSession)
	r.Route("/session/{id}", func(r chi.Router) {
		r.Delete("/", h.deleteSession)
		r.Get("/layers", h.listLayers)
		r.Post("/layers/{name}/toggle", h.toggleLayer)
		r.Get("/layers/{name}/legend", h.layerLegend)
		r.Get("/layers/{name}/tile", h.layerTile)
		r.Post("/view", h.updateView)
		r.Post("/identify", h.identifyClick)
		r.Post("/measure", h.measureOp)
	})

	if deps.WMSProxy != nil {
		r.Get("/map/wms", deps.WMSProxy.Forward)
	}

	return r
}

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Routes(cfg, logger, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
