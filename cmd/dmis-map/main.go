package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opendmis/map-session/internal/arcgis"
	"github.com/opendmis/map-session/internal/auth"
	"github.com/opendmis/map-session/internal/cache/redisstore"
	"github.com/opendmis/map-session/internal/catalog"
	"github.com/opendmis/map-session/internal/composer"
	"github.com/opendmis/map-session/internal/config"
	"github.com/opendmis/map-session/internal/httpclient"
	"github.com/opendmis/map-session/internal/invalidation"
	"github.com/opendmis/map-session/internal/invalidation/kafkaconsumer"
	"github.com/opendmis/map-session/internal/logger"
	"github.com/opendmis/map-session/internal/observability"
	"github.com/opendmis/map-session/internal/proxy"
	"github.com/opendmis/map-session/internal/server"
	"github.com/opendmis/map-session/internal/session"
	"github.com/opendmis/map-session/internal/style"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "map-session",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting map-session",
		"addr", cfg.Addr,
		"version", Version,
		"api", cfg.APIEndpoint,
		"wms", cfg.WMSEndpoint)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.NewOutbound()

	var store *redisstore.Client
	if cfg.RedisAddr != "" {
		var err error
		store, err = redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithDialTimeout(cfg.CacheOpTimeout),
			redisstore.WithReadTimeout(cfg.CacheOpTimeout))
		if err != nil {
			appLog.Warn("redis unavailable, serving uncached", "err", err)
			store = nil
		} else {
			defer func() { _ = store.Close() }()
		}
	}

	creds := auth.NewStatic(os.Getenv("API_TOKEN"), os.Getenv("API_LANGUAGE"))

	cat := catalog.New(appLog, httpClient, cfg.APIEndpoint, creds, catalog.Options{
		Cache:      store,
		CatalogTTL: cfg.CatalogTTL,
		GeoJSONTTL: cfg.GeoJSONTTL,
		LegendTTL:  cfg.LegendTTL,
	})
	arc := arcgis.New(appLog, httpClient)
	styles := style.NewRegistry()
	cmp := composer.New(appLog, cat, styles, cfg.WMSEndpoint)

	sessions, err := session.NewManager(appLog, cfg.SessionLimit, cat, cmp, arc, cfg.ExcludedIdentifyLayers)
	if err != nil {
		appLog.Error("session manager init failed", "err", err)
		return 1
	}

	wmsProxy, err := proxy.NewWMS(appLog, httpClient, cfg.WMSEndpoint, creds)
	if err != nil {
		appLog.Error("wms proxy init failed", "err", err)
		return 1
	}

	if cfg.Invalidation.Enabled && store != nil {
		consumer := kafkaconsumer.New(
			kafkaconsumer.DefaultConfig(cfg.Invalidation.Brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID),
			&zl,
			invalidation.NewPurger(store),
		)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	deps := server.Deps{
		Sessions: sessions,
		Catalog:  cat,
		WMSProxy: wmsProxy,
	}
	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
