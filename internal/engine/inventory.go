package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"livewatch/internal/cloud"
	"livewatch/internal/models"
)

// inventory is one consistent listing of every resource the engine links.
// It is replaced wholesale and never modified in place.
type inventory struct {
	channels  []models.Channel
	flows     []models.FlowRecord
	packages  []models.PackageRecord
	cdn       []models.Resource
	fetchedAt time.Time
}

func (inv *inventory) channel(id string) (models.Channel, bool) {
	for _, channel := range inv.channels {
		if channel.ID == id {
			return channel, true
		}
	}
	return models.Channel{}, false
}

// inventoryCache memoises the listing calls for ttl. Concurrent misses share
// one fetch.
type inventoryCache struct {
	source  cloud.Inventory
	caps    cloud.Capabilities
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	group     singleflight.Group
	mu        sync.RWMutex
	snap      *inventory
	gen       uint64
	fetchedAt time.Time
	lastErr   error
}

// get returns the cached snapshot or fetches a fresh one. hit reports whether
// the snapshot came from cache.
func (c *inventoryCache) get(ctx context.Context) (*inventory, bool, error) {
	c.mu.RLock()
	snap, gen := c.snap, c.gen
	c.mu.RUnlock()
	if snap != nil && c.now().Sub(snap.fetchedAt) < c.ttl {
		return snap, true, nil
	}

	ch := c.group.DoChan("inventory", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		fresh, err := c.fetch(fetchCtx)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.lastErr = err
			return nil, err
		}
		c.lastErr = nil
		c.fetchedAt = fresh.fetchedAt
		if c.gen == gen {
			c.snap = fresh
		}
		return fresh, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*inventory), false, nil
	}
}

func (c *inventoryCache) status() (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt, c.lastErr
}

func (c *inventoryCache) invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.gen++
	c.mu.Unlock()
	c.group.Forget("inventory")
}

// fetch lists every resource type in parallel. Channels are mandatory; the
// other listings degrade to empty so linkage simply has fewer edges.
func (c *inventoryCache) fetch(ctx context.Context) (*inventory, error) {
	inv := &inventory{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		channels, err := c.source.ListChannels(gctx)
		if err != nil {
			return fmt.Errorf("list channels: %w", err)
		}
		inv.channels = channels
		return nil
	})
	g.Go(func() error {
		inv.flows = listOptional(gctx, c.logger, "flows", c.caps.Flows, c.source.ListFlows)
		return nil
	})
	g.Go(func() error {
		inv.packages = listOptional(gctx, c.logger, "packages", c.caps.Packages, c.source.ListPackages)
		return nil
	})
	g.Go(func() error {
		inv.cdn = listOptional(gctx, c.logger, "cdn_streams", c.caps.CdnStreams, c.source.ListCdnStreams)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	inv.fetchedAt = c.now()
	return inv, nil
}

func listOptional[T any](ctx context.Context, logger *slog.Logger, kind string, enabled bool, list func(context.Context) ([]T, error)) []T {
	if !enabled {
		return []T{}
	}
	items, err := list(ctx)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, cloud.ErrMissingCapability) {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "inventory listing failed", "kind", kind, "error", err)
		return []T{}
	}
	if items == nil {
		return []T{}
	}
	return items
}
