package collectors

import (
	"log/slog"
	"time"

	"livewatch/internal/cloud"
	"livewatch/internal/verification"
)

// Config tunes the collectors built by NewStrategy.
type Config struct {
	RetryInterval time.Duration
}

// NewStrategy returns the collectors the provider can serve, in precedence
// order followed by the CDN annotator. The list is fixed for the life of the
// process; disabled collectors are never attempted.
func NewStrategy(provider cloud.Provider, caps cloud.Capabilities, cfg Config, logger *slog.Logger) []Collector {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	retry := retrier{interval: interval}

	candidates := []struct {
		enabled   bool
		collector Collector
	}{
		{caps.InputState, &DirectInputQuery{reader: provider, retry: retry}},
		{caps.Flows, &FlowStatus{}},
		{caps.Statistics, &Statistics{reader: provider, retry: retry}},
		{caps.Packages, &PackageInputOrder{reader: provider, retry: retry}},
		{true, &FailoverSettings{}},
		{true, &NamePattern{}},
		{caps.CdnStreams, &CdnStreamState{reader: provider, retry: retry}},
	}

	strategy := make([]Collector, 0, len(candidates))
	for _, candidate := range candidates {
		if !candidate.enabled {
			logger.Info("collector disabled", "source", string(candidate.collector.Source()), "reason", cloud.ErrMissingCapability.Error())
			continue
		}
		strategy = append(strategy, candidate.collector)
	}
	return strategy
}

// Sources lists the sources of a strategy in order.
func Sources(strategy []Collector) []verification.Source {
	out := make([]verification.Source, 0, len(strategy))
	for _, c := range strategy {
		out = append(out, c.Source())
	}
	return out
}
