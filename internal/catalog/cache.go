package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

const (
	cachePrefix  = "catalog:unit:"
	fetchTimeout = 5 * time.Second
)

// Cached is a Redis read-through cache in front of another catalog.
// Concurrent misses for the same set of units share one upstream call.
// The shared call is detached from the caller that started it, so one
// caller giving up does not fail the others. Redis failures fall back to
// the upstream.
type Cached struct {
	next   Catalog
	client redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

func NewCached(next Catalog, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *Cached) Lookup(ctx context.Context, ids []domain.UnitID) (map[domain.UnitID]domain.SellableUnit, error) {
	out := make(map[domain.UnitID]domain.SellableUnit, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cachePrefix + string(id)
	}

	var misses []domain.UnitID
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.WarnContext(ctx, "catalog cache read failed", "error", err)
		misses = ids
	} else {
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				misses = append(misses, ids[i])
				continue
			}
			var u domain.SellableUnit
			if err := json.Unmarshal([]byte(s), &u); err != nil {
				misses = append(misses, ids[i])
				continue
			}
			out[ids[i]] = u
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.fetch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, u := range fetched {
		out[id] = u
	}
	return out, nil
}

func (c *Cached) fetch(ctx context.Context, ids []domain.UnitID) (map[domain.UnitID]domain.SellableUnit, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = string(id)
	}

	ch := c.group.DoChan(strings.Join(parts, ","), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		units, err := c.next.Lookup(fetchCtx, sorted)
		if err != nil {
			return nil, err
		}
		c.store(fetchCtx, units)
		return units, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[domain.UnitID]domain.SellableUnit), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cached) store(ctx context.Context, units map[domain.UnitID]domain.SellableUnit) {
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, u := range units {
			data, err := json.Marshal(u)
			if err != nil {
				return err
			}
			pipe.Set(ctx, cachePrefix+string(id), data, c.ttl)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.WarnContext(ctx, "catalog cache write failed", "error", err)
	}
}
