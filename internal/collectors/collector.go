package collectors

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"livewatch/internal/cloud"
	"livewatch/internal/linkage"
	"livewatch/internal/models"
	"livewatch/internal/verification"
)

// Collector produces opinions about one channel from a single upstream
// signal. Returning no opinions is the normal answer when the signal is
// unavailable.
type Collector interface {
	Source() verification.Source
	Collect(ctx context.Context, channel models.Channel, graph linkage.Graph) ([]verification.Opinion, error)
}

// DefaultRetryInterval separates the first attempt from the single retry of a
// transient failure.
const DefaultRetryInterval = 200 * time.Millisecond

// retrier retries a provider call once when it fails transiently.
type retrier struct {
	interval time.Duration
}

// budget starts the retry allowance for one Collect call. Every provider call
// the collector makes draws on the same single retry.
func (r retrier) budget() *retryBudget {
	return &retryBudget{interval: r.interval, left: 1}
}

type retryBudget struct {
	interval time.Duration
	left     uint64
}

func (b *retryBudget) policy(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(b.interval), b.left), ctx)
}

func callWithRetry[T any](ctx context.Context, b *retryBudget, fn func(context.Context) (T, error)) (T, error) {
	var result T
	var attempts uint64
	op := func() error {
		attempts++
		value, err := fn(ctx)
		if err != nil {
			if cloud.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = value
		return nil
	}
	err := backoff.Retry(op, b.policy(ctx))
	if attempts > 1 {
		b.left -= min(attempts-1, b.left)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Run invokes c and absorbs its failure. Errors are logged and turned into
// "no opinion"; opinions gathered before a partial failure are kept.
func Run(ctx context.Context, logger *slog.Logger, c Collector, channel models.Channel, graph linkage.Graph) []verification.Opinion {
	opinions, err := c.Collect(ctx, channel, graph)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, cloud.ErrMissingCapability) || errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "collector failed",
			"source", string(c.Source()),
			"channel_id", channel.ID,
			"transient", cloud.IsTransient(err),
			"opinions", len(opinions),
			"error", err,
		)
	}
	return opinions
}
