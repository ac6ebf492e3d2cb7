package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"livewatch/internal/api"
	"livewatch/internal/config"
	"livewatch/internal/observability/logging"
	"livewatch/internal/observability/metrics"
	"livewatch/internal/observability/tracing"
	"livewatch/internal/serverutil"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			return serve(cmd.Context(), cfg, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overriding http.addr")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, ready chan<- net.Addr) error {
	logger := logging.Init(cfg.Log)
	recorder := metrics.New()
	metrics.SetDefault(recorder)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, "livewatch", version)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, recorder)
	if err != nil {
		return errors.Join(err, shutdownTracing(context.WithoutCancel(ctx)))
	}

	handler := api.NewHandler(a.engine, logger)
	if a.store != nil {
		handler.Checks["shared_cache"] = a.store.Ping
	}
	handler.Checks["inventory"] = func(context.Context) error {
		_, err := a.engine.InventoryStatus()
		return err
	}

	if cfg.Prewarm {
		go func() {
			if err := a.engine.Prewarm(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("prewarm failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewRouter(api.RouterConfig{
			Handler:        handler,
			Logger:         logger,
			Metrics:        recorder,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			RateLimit:      cfg.HTTP.RateLimit,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return serverutil.Run(ctx, serverutil.Config{
		Server:          server,
		TLS:             cfg.HTTP.TLS,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Logger:          logger,
		Ready:           ready,
		OnShutdown:      []serverutil.ShutdownHook{a.close, serverutil.ShutdownHook(shutdownTracing)},
	})
}
