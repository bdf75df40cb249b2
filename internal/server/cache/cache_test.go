package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nyffc/contractor-linkage/internal/linkage/aggregate"
	"github.com/nyffc/contractor-linkage/internal/linkage/matcher"
	"github.com/nyffc/contractor-linkage/pkg/config"
	"github.com/redis/go-redis/v9"
)

// fakeStore is an in-memory Store for exercising the cache without Redis.
type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = string(value.([]byte))
	return nil
}

func (f *fakeStore) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var deleted int64
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			deleted++
		}
	}
	return deleted, nil
}

func newTestCache() (*ResolveCache, *fakeStore) {
	store := newFakeStore()
	return New(store, config.RedisConfig{CacheTTL: time.Minute}), store
}

func TestBuildKeyNormalizationEquivalence(t *testing.T) {
	c, _ := newTestCache()
	opts := matcher.DefaultOptions()

	base := c.buildKey(matcher.Query{Names: []string{"abc construction"}, Address: "10001"}, opts)
	if !strings.HasPrefix(base, keyPrefix) {
		t.Fatalf("key %q missing prefix %q", base, keyPrefix)
	}

	// Spelling variants that normalise identically must share one entry.
	variants := []matcher.Query{
		{Names: []string{"ABC Construction!"}, Address: "10001"},
		{Names: []string{"  abc construction  "}, Address: " 10001 "},
		{Names: []string{"A.B.C. Construction"}, Address: "10001"},
	}
	for _, q := range variants {
		if got := c.buildKey(q, opts); got != base {
			t.Errorf("buildKey(%v) = %q, want %q", q.Names, got, base)
		}
	}

	// Different query content must not collide.
	other := c.buildKey(matcher.Query{Names: []string{"abc construction"}, Address: "11201"}, opts)
	if other == base {
		t.Errorf("different address produced the same key %q", base)
	}
}

func TestBuildKeyOptionSensitivity(t *testing.T) {
	c, _ := newTestCache()
	q := matcher.Query{Names: []string{"abc construction"}, Address: "10001"}
	base := c.buildKey(q, matcher.Options{Threshold: 95, AvgThreshold: 80, Blocking: matcher.BlockNone})

	diffs := []matcher.Options{
		{Threshold: 90, AvgThreshold: 80, Blocking: matcher.BlockNone},
		{Threshold: 95, AvgThreshold: 70, Blocking: matcher.BlockNone},
		{Threshold: 95, AvgThreshold: 80, Blocking: matcher.BlockAddress},
	}
	for _, opts := range diffs {
		if got := c.buildKey(q, opts); got == base {
			t.Errorf("options %+v produced the same key as the baseline", opts)
		}
	}
}

func TestGetOrComputeMissThenHit(t *testing.T) {
	c, _ := newTestCache()
	q := matcher.Query{Names: []string{"abc construction"}, Address: "10001"}
	opts := matcher.DefaultOptions()
	want := map[string][]aggregate.Match{
		"apprentice": {{Index: 0, Row: map[string]string{"signatory_name": "ABC Construction LLC"}}},
	}

	computes := 0
	compute := func() (map[string][]aggregate.Match, error) {
		computes++
		return want, nil
	}

	got, cacheHit, err := c.GetOrCompute(context.Background(), q, opts, compute)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if cacheHit {
		t.Error("first call reported a cache hit")
	}
	if computes != 1 {
		t.Fatalf("computes = %d, want 1", computes)
	}
	if got["apprentice"][0].Row["signatory_name"] != "ABC Construction LLC" {
		t.Errorf("result = %+v", got)
	}

	// A normalisation variant of the same query must be served from cache.
	variant := matcher.Query{Names: []string{"ABC Construction!"}, Address: "10001"}
	got, cacheHit, err = c.GetOrCompute(context.Background(), variant, opts, compute)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if !cacheHit {
		t.Error("variant query missed the cache")
	}
	if computes != 1 {
		t.Errorf("computes = %d, want 1 (cached)", computes)
	}
	if got["apprentice"][0].Index != 0 {
		t.Errorf("cached result = %+v", got)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses == 0 {
		t.Errorf("Stats = %d hits / %d misses, want 1 hit and at least 1 miss", hits, misses)
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c, store := newTestCache()
	q := matcher.Query{Names: []string{"abc construction"}, Address: "10001"}
	wantErr := errors.New("scan failed")

	_, _, err := c.GetOrCompute(context.Background(), q, matcher.DefaultOptions(), func() (map[string][]aggregate.Match, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if len(store.data) != 0 {
		t.Errorf("failed compute left %d cached entries", len(store.data))
	}
}

func TestInvalidate(t *testing.T) {
	c, store := newTestCache()
	q := matcher.Query{Names: []string{"abc construction"}, Address: "10001"}
	opts := matcher.DefaultOptions()

	_, _, err := c.GetOrCompute(context.Background(), q, opts, func() (map[string][]aggregate.Match, error) {
		return map[string][]aggregate.Match{}, nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if len(store.data) != 1 {
		t.Fatalf("cached entries = %d, want 1", len(store.data))
	}

	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if len(store.data) != 0 {
		t.Errorf("entries after invalidation = %d, want 0", len(store.data))
	}
	if _, ok := c.Get(context.Background(), q, opts); ok {
		t.Error("Get returned a hit after invalidation")
	}
}
