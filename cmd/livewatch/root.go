package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"livewatch/internal/cloud"
	"livewatch/internal/collectors"
	"livewatch/internal/config"
	"livewatch/internal/engine"
	"livewatch/internal/observability/logging"
	"livewatch/internal/observability/metrics"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "livewatch",
		Short: "Resolve the active input of live channels",
		Long: `livewatch cross-checks a live channel's input state, ingest flows,
packaging channel and CDN streams to report which input is on air.

Examples:
  livewatch serve --config livewatch.yaml   # Run the HTTP service
  livewatch resolve ch-news                 # Resolve one channel and print JSON
  livewatch linkage ch-news                 # Print the channel's resource graph
  livewatch resources --service flow        # List flows grouped under channels`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newResolveCmd(opts))
	cmd.AddCommand(newLinkageCmd(opts))
	cmd.AddCommand(newResourcesCmd(opts))
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	v, err := config.New(o.configFile)
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}

// app is the assembled engine and the dependencies it owns.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	recorder *metrics.Recorder
	engine   *engine.Engine
	store    *engine.RedisStore
}

func newApp(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) (*app, error) {
	provider, err := cloud.New(cfg.Provider, logger)
	if err != nil {
		return nil, err
	}
	caps := provider.Capabilities()
	strategy := collectors.NewStrategy(provider, caps, cfg.Collectors, logger)

	a := &app{cfg: cfg, logger: logger, recorder: recorder}
	opts := engine.Options{Logger: logger, Metrics: recorder}
	if cfg.Redis.Enabled() {
		store, err := engine.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.store = store
		opts.Store = store
	}
	a.engine = engine.New(provider, caps, strategy, cfg.Engine, opts)

	logger.Info("engine ready",
		"driver", cfg.Provider.Driver,
		"sources", collectors.Sources(strategy),
		"shared_cache", a.store != nil,
	)
	return a, nil
}

func (a *app) close(context.Context) error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// cliLogger keeps one-shot commands quiet on stdout; logs go to stderr.
func cliLogger(cfg logging.Config, w io.Writer) *slog.Logger {
	if cfg.Level == "" || cfg.Level == "info" {
		cfg.Level = "warn"
	}
	cfg.Writer = w
	return logging.New(cfg)
}
