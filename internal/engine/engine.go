// Package engine answers "which input is this channel serving right now?".
//
// A resolution fans every collector out over a bounded pool, waits for them
// up to a deadline, and hands whatever opinions arrived to the verification
// resolver. Results are cached per channel until the TTL passes or the
// control plane calls Invalidate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"livewatch/internal/cloud"
	"livewatch/internal/collectors"
	"livewatch/internal/linkage"
	"livewatch/internal/models"
	"livewatch/internal/observability/logging"
	"livewatch/internal/observability/metrics"
	"livewatch/internal/observability/tracing"
	"livewatch/internal/verification"
)

// ErrChannelNotFound is returned for a channel id the provider does not list.
// It is distinct from an undetermined verdict.
var ErrChannelNotFound = fmt.Errorf("channel not found: %w", cloud.ErrResourceNotFound)

const (
	DefaultCacheTTL         = 2 * time.Minute
	DefaultNegativeTTL      = 15 * time.Second
	DefaultInventoryTTL     = 2 * time.Minute
	DefaultInventoryTimeout = 30 * time.Second
	DefaultWorkers          = 10
	DefaultCollectorTimeout = 5 * time.Second
	DefaultResolveDeadline  = 8 * time.Second
	DefaultJitter           = 50 * time.Millisecond
)

// Config tunes caching and fan-out.
type Config struct {
	CacheTTL time.Duration
	// NegativeTTL bounds how long an undetermined verdict is served.
	NegativeTTL      time.Duration
	InventoryTTL     time.Duration
	// InventoryTimeout bounds a detached inventory fetch. Callers stop
	// waiting at their own deadline; the fetch may finish for later callers.
	InventoryTimeout time.Duration
	Workers          int
	CollectorTimeout time.Duration
	ResolveDeadline  time.Duration
	// Jitter spreads collector starts by a random delay up to this value.
	Jitter             time.Duration
	CacheShards        int
	MinStreamKeyLength int
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.NegativeTTL <= 0 {
		c.NegativeTTL = DefaultNegativeTTL
	}
	if c.NegativeTTL > c.CacheTTL {
		c.NegativeTTL = c.CacheTTL
	}
	if c.InventoryTTL <= 0 {
		c.InventoryTTL = DefaultInventoryTTL
	}
	if c.InventoryTimeout <= 0 {
		c.InventoryTimeout = DefaultInventoryTimeout
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.CollectorTimeout <= 0 {
		c.CollectorTimeout = DefaultCollectorTimeout
	}
	if c.ResolveDeadline <= 0 {
		c.ResolveDeadline = DefaultResolveDeadline
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.CacheShards <= 0 {
		c.CacheShards = DefaultCacheShards
	}
	if c.MinStreamKeyLength <= 0 {
		c.MinStreamKeyLength = linkage.DefaultMinStreamKeyLength
	}
	return c
}

// Options carries the engine's optional collaborators.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Store    SharedStore
	Resolver *verification.Resolver
	Now      func() time.Time
}

// Engine is the cache and parallel-fetch orchestrator. It is safe for
// concurrent use.
type Engine struct {
	cfg       Config
	strategy  []collectors.Collector
	builder   *linkage.Builder
	resolver  *verification.Resolver
	inventory *inventoryCache
	cache     *resultCache
	store     SharedStore
	group     singleflight.Group
	logger    *slog.Logger
	metrics   *metrics.Recorder
	tracer    trace.Tracer
	now       func() time.Time
}

// New wires an engine over source and a fixed collector strategy.
func New(source cloud.Inventory, caps cloud.Capabilities, strategy []collectors.Collector, cfg Config, opts Options) *Engine {
	cfg = cfg.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "engine")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = verification.NewResolver(verification.ResolverConfig{Logger: logger, Now: now})
	}
	return &Engine{
		cfg:      cfg,
		strategy: strategy,
		builder:  linkage.NewBuilder(linkage.NewMatcher(cfg.MinStreamKeyLength)),
		resolver: resolver,
		inventory: &inventoryCache{
			source:  source,
			caps:    caps,
			ttl:     cfg.InventoryTTL,
			timeout: cfg.InventoryTimeout,
			logger:  logger,
			now:     now,
		},
		cache:   newResultCache(cfg.CacheShards),
		store:   opts.Store,
		logger:  logger,
		metrics: recorder,
		tracer:  tracing.Tracer(),
		now:     now,
	}
}

// ResolveActiveInput returns the verdict for channelID, from cache when
// fresh. Only an unknown channel or a cancelled context returns an error;
// missing signals produce an undetermined Result instead.
func (e *Engine) ResolveActiveInput(ctx context.Context, channelID string) (verification.Result, error) {
	ctx = logging.ContextWithChannelID(ctx, channelID)
	ctx, span := e.tracer.Start(ctx, "engine.ResolveActiveInput", trace.WithAttributes(attribute.String("channel_id", channelID)))
	defer span.End()

	if result, ok := e.cache.get(channelID, e.now()); ok {
		e.metrics.ObserveCacheLookup("local", true)
		e.metrics.ObserveResolution(string(result.ActiveInput), true, 0)
		span.SetAttributes(attribute.String("cache", "local"))
		return result, nil
	}
	e.metrics.ObserveCacheLookup("local", false)

	// Read before the shared lookup so an Invalidate racing this call wins.
	gen := e.cache.generation(channelID)

	if e.store != nil {
		result, ok, err := e.store.Get(ctx, channelID)
		if err != nil {
			logging.WithContext(ctx, e.logger).Warn("shared cache read failed", "error", err)
		}
		e.metrics.ObserveCacheLookup("shared", ok)
		if ok {
			if ttl := e.remaining(result); ttl > 0 {
				e.cache.setIfCurrent(channelID, gen, result, ttl, e.now())
				e.metrics.ObserveResolution(string(result.ActiveInput), true, 0)
				span.SetAttributes(attribute.String("cache", "shared"))
				return result, nil
			}
		}
	}

	ch := e.group.DoChan(channelID, func() (any, error) {
		// A flight that finished between the lookup above and here has
		// already cached its verdict.
		if result, ok := e.cache.get(channelID, e.now()); ok {
			return result, nil
		}
		return e.resolve(context.WithoutCancel(ctx), channelID, gen)
	})
	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, ctx.Err().Error())
		return verification.Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return verification.Result{}, res.Err
		}
		result := res.Val.(verification.Result)
		span.SetAttributes(
			attribute.String("active_input", string(result.ActiveInput)),
			attribute.Int("verification_level", result.VerificationLevel),
		)
		return result, nil
	}
}

// remaining is how long a shared-cache result may still be served locally.
func (e *Engine) remaining(result verification.Result) time.Duration {
	ttl := e.cfg.CacheTTL
	if !result.ActiveInput.Known() {
		ttl = e.cfg.NegativeTTL
	}
	return ttl - e.now().Sub(result.CheckedAt)
}

// resolve loads the inventory and runs the collectors under one deadline.
func (e *Engine) resolve(ctx context.Context, channelID string, gen uint64) (verification.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ResolveDeadline)
	defer cancel()
	start := e.now()
	e.metrics.ResolutionStarted()
	defer e.metrics.ResolutionFinished()

	inv, hit, err := e.inventory.get(ctx)
	e.metrics.ObserveCacheLookup("inventory", hit)
	if err != nil {
		if errors.Is(err, cloud.ErrResourceNotFound) {
			return verification.Result{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
		return verification.Result{}, fmt.Errorf("load inventory: %w", err)
	}
	channel, ok := inv.channel(channelID)
	if !ok {
		return verification.Result{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	graph := e.builder.Build(channel, inv.flows, inv.packages, inv.cdn)

	// A channel that is not running serves no input; structural hints such
	// as failover settings or input names must not turn into a verdict.
	var opinions []verification.Opinion
	if onAir(channel.Status) {
		opinions = e.collect(ctx, channel, graph)
	} else {
		logging.WithContext(ctx, e.logger).Debug("channel not running, collectors skipped", "status", string(channel.Status))
	}
	result := e.resolver.Resolve(channel, graph, opinions)

	ttl := e.cfg.CacheTTL
	if !result.ActiveInput.Known() {
		ttl = e.cfg.NegativeTTL
	}
	if e.cache.setIfCurrent(channelID, gen, result, ttl, e.now()) && e.store != nil {
		if err := e.store.Set(ctx, channelID, result, ttl); err != nil {
			logging.WithContext(ctx, e.logger).Warn("shared cache write failed", "error", err)
		}
	}

	e.metrics.ObserveResolution(string(result.ActiveInput), false, e.now().Sub(start))
	logging.WithContext(ctx, e.logger).Debug("channel resolved",
		"active_input", string(result.ActiveInput),
		"sources", result.VerificationSources,
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)
	return result, nil
}

type outcome struct {
	index    int
	opinions []verification.Opinion
}

func onAir(status models.Status) bool {
	return status != models.StatusStopped && status != models.StatusIdle
}

// collect runs the strategy concurrently until ctx's deadline. Collectors
// still running then are abandoned; the buffered channel lets them finish
// without blocking and their opinions are dropped.
func (e *Engine) collect(ctx context.Context, channel models.Channel, graph linkage.Graph) []verification.Opinion {
	sem := semaphore.NewWeighted(int64(e.cfg.Workers))
	results := make(chan outcome, len(e.strategy))
	for i, c := range e.strategy {
		go func() {
			results <- outcome{index: i, opinions: e.runCollector(ctx, sem, c, channel, graph)}
		}()
	}

	slots := make([][]verification.Opinion, len(e.strategy))
	for received := 0; received < len(e.strategy); received++ {
		select {
		case out := <-results:
			slots[out.index] = out.opinions
		case <-ctx.Done():
			logging.WithContext(ctx, e.logger).Warn("resolve deadline reached",
				"completed", received,
				"collectors", len(e.strategy),
			)
			return flatten(slots)
		}
	}
	return flatten(slots)
}

func (e *Engine) runCollector(ctx context.Context, sem *semaphore.Weighted, c collectors.Collector, channel models.Channel, graph linkage.Graph) []verification.Opinion {
	source := string(c.Source())
	start := e.now()
	if err := sem.Acquire(ctx, 1); err != nil {
		e.metrics.ObserveCollector(source, "timeout", e.now().Sub(start))
		return nil
	}
	defer sem.Release(1)

	if e.cfg.Jitter > 0 {
		select {
		case <-time.After(rand.N(e.cfg.Jitter)):
		case <-ctx.Done():
			e.metrics.ObserveCollector(source, "timeout", e.now().Sub(start))
			return nil
		}
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CollectorTimeout)
	defer cancel()
	cctx, span := e.tracer.Start(cctx, "collector."+source)
	defer span.End()

	opinions := collectors.Run(cctx, e.logger, c, channel, graph)
	switch {
	case cctx.Err() != nil:
		span.SetStatus(codes.Error, "timeout")
		e.metrics.ObserveCollector(source, "timeout", e.now().Sub(start))
		return nil
	case len(opinions) == 0:
		e.metrics.ObserveCollector(source, "no_opinion", e.now().Sub(start))
	default:
		e.metrics.ObserveCollector(source, "opinion", e.now().Sub(start))
	}
	span.SetAttributes(attribute.Int("opinions", len(opinions)))
	return opinions
}

func flatten(slots [][]verification.Opinion) []verification.Opinion {
	var out []verification.Opinion
	for _, ops := range slots {
		out = append(out, ops...)
	}
	return out
}

// Invalidate drops every cached view of channelID so the next resolution
// re-runs all collectors. Call it after any start, stop or restart of the
// channel or its linked flows.
func (e *Engine) Invalidate(ctx context.Context, channelID string) {
	e.cache.delete(channelID)
	e.group.Forget(channelID)
	e.inventory.invalidate()
	e.metrics.ObserveInvalidation("channel")
	if e.store != nil {
		if err := e.store.Delete(ctx, channelID); err != nil {
			logging.WithContext(logging.ContextWithChannelID(ctx, channelID), e.logger).Warn("shared cache delete failed", "error", err)
		}
	}
}

// InvalidateAll clears every cached result and the inventory snapshot.
func (e *Engine) InvalidateAll(ctx context.Context) {
	e.cache.clear()
	e.inventory.invalidate()
	e.metrics.ObserveInvalidation("all")
	if e.store != nil {
		if err := e.store.Clear(ctx); err != nil {
			logging.WithContext(ctx, e.logger).Warn("shared cache clear failed", "error", err)
		}
	}
}

// Linkage returns the linkage graph of channelID.
func (e *Engine) Linkage(ctx context.Context, channelID string) (linkage.Graph, error) {
	inv, _, err := e.inventory.get(ctx)
	if err != nil {
		return linkage.Graph{}, fmt.Errorf("load inventory: %w", err)
	}
	channel, ok := inv.channel(channelID)
	if !ok {
		return linkage.Graph{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	return e.builder.Build(channel, inv.flows, inv.packages, inv.cdn), nil
}

// Resources returns the channel/flow hierarchy narrowed by filter.
func (e *Engine) Resources(ctx context.Context, filter linkage.Filter) ([]linkage.Group, error) {
	inv, _, err := e.inventory.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	groups := e.builder.BuildHierarchy(inv.channels, inv.flows)
	return linkage.FilterHierarchy(groups, filter), nil
}

// Prewarm loads the inventory so the first resolution skips the listing
// calls. Callers usually run it in its own goroutine at startup.
func (e *Engine) Prewarm(ctx context.Context) error {
	start := e.now()
	inv, _, err := e.inventory.get(ctx)
	if err != nil {
		return fmt.Errorf("prewarm inventory: %w", err)
	}
	e.logger.Info("inventory prewarmed",
		"channels", len(inv.channels),
		"flows", len(inv.flows),
		"packages", len(inv.packages),
		"cdn_streams", len(inv.cdn),
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)
	return nil
}

// InventoryStatus reports when the inventory snapshot was last fetched and
// the error of the most recent failed fetch, if it has not since succeeded.
// It never calls the provider.
func (e *Engine) InventoryStatus() (time.Time, error) {
	return e.inventory.status()
}

// Sources lists the collectors this engine runs, in precedence order.
func (e *Engine) Sources() []verification.Source {
	return collectors.Sources(e.strategy)
}
