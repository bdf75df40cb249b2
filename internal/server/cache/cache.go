// Package cache is the Redis-backed result cache for resolve queries.
// Identical in-flight queries are collapsed through singleflight so a burst
// of the same lookup triggers one reference scan.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nyffc/contractor-linkage/internal/linkage/aggregate"
	"github.com/nyffc/contractor-linkage/internal/linkage/matcher"
	"github.com/nyffc/contractor-linkage/internal/linkage/normalize"
	"github.com/nyffc/contractor-linkage/pkg/config"
	pkgredis "github.com/nyffc/contractor-linkage/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "resolve:"

// Store is the key-value backend the cache runs on, implemented by
// pkg/redis.Client. A missing key is signalled with a redis nil error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ResolveCache caches Resolve results keyed by the normalised query and its
// thresholds.
type ResolveCache struct {
	client Store
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(client Store, cfg config.RedisConfig) *ResolveCache {
	return &ResolveCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "resolve-cache"),
	}
}

func (c *ResolveCache) Get(ctx context.Context, q matcher.Query, opts matcher.Options) (map[string][]aggregate.Match, bool) {
	key := c.buildKey(q, opts)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result map[string][]aggregate.Match
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return result, true
}

func (c *ResolveCache) Set(ctx context.Context, q matcher.Query, opts matcher.Options, result map[string][]aggregate.Match) {
	key := c.buildKey(q, opts)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result, or runs computeFn once per key
// across concurrent callers and caches what it returns. The second return
// value reports whether the result came from cache.
func (c *ResolveCache) GetOrCompute(
	ctx context.Context,
	q matcher.Query,
	opts matcher.Options,
	computeFn func() (map[string][]aggregate.Match, error),
) (map[string][]aggregate.Match, bool, error) {
	if result, ok := c.Get(ctx, q, opts); ok {
		return result, true, nil
	}
	key := c.buildKey(q, opts)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.Get(ctx, q, opts); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, q, opts, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(map[string][]aggregate.Match), false, nil
}

// Invalidate removes every cached resolve result.
func (c *ResolveCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating resolve cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the process-local hit and miss counters.
func (c *ResolveCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the normalised query fields and thresholds, so spelling
// variants that normalise identically share a cache entry.
func (c *ResolveCache) buildKey(q matcher.Query, opts matcher.Options) string {
	parts := make([]string, 0, len(q.Names)+2)
	for _, n := range q.Names {
		parts = append(parts, normalize.String(n))
	}
	parts = append(parts,
		normalize.String(q.Address),
		fmt.Sprintf("t=%d,at=%d,b=%s", opts.Threshold, opts.AvgThreshold, opts.Blocking),
	)
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
