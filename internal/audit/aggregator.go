package audit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nyffc/contractor-linkage/pkg/kafka"
)

// Stats is the aggregated view of the audit stream.
type Stats struct {
	TotalQueries    int64            `json:"total_queries"`
	ByType          map[string]int64 `json:"by_type"`
	ZeroResultCount int64            `json:"zero_result_count"`
	CacheHits       int64            `json:"cache_hits"`
	CacheMisses     int64            `json:"cache_misses"`
	AvgLatencyMs    float64          `json:"avg_latency_ms"`
	P95LatencyMs    int64            `json:"p95_latency_ms"`
	SourceHits      map[string]int64 `json:"source_hits"`
	QueriesPerMin   float64          `json:"queries_per_minute"`
}

// Aggregator consumes the audit topic and keeps rolling statistics.
type Aggregator struct {
	mu          sync.RWMutex
	byType      map[string]int64
	sourceHits  map[string]int64
	latencies   []int64
	zeroResults int64
	cacheHits   int64
	cacheMisses int64
	total       int64
	startTime   time.Time

	logger *slog.Logger
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		byType:     make(map[string]int64),
		sourceHits: make(map[string]int64),
		latencies:  make([]int64, 0, 10000),
		startTime:  time.Now(),
		logger:     slog.Default().With("component", "audit-aggregator"),
	}
}

// Start enters the consume loop of the given consumer until ctx is
// cancelled. Wire the consumer with HandleEvent(a) so events reach this
// Aggregator.
func (a *Aggregator) Start(ctx context.Context, consumer *kafka.Consumer) error {
	a.logger.Info("audit aggregator starting")
	return consumer.Start(ctx)
}

// HandleEvent returns the kafka handler that feeds an Aggregator.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[MatchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode audit event", "error", err)
			return nil
		}
		agg.record(event)
		return nil
	}
}

func (a *Aggregator) record(event MatchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.byType[string(event.Type)]++
	if event.TotalMatches == 0 {
		a.zeroResults++
	}
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	for source, hits := range event.SourceHits {
		a.sourceHits[source] += int64(hits)
	}
	// Bounded latency window; old samples age out of the percentiles.
	if len(a.latencies) == cap(a.latencies) {
		a.latencies = a.latencies[1:]
	}
	a.latencies = append(a.latencies, event.LatencyMs)
}

// Stats snapshots the current aggregate view.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		TotalQueries:    a.total,
		ByType:          make(map[string]int64, len(a.byType)),
		ZeroResultCount: a.zeroResults,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		SourceHits:      make(map[string]int64, len(a.sourceHits)),
	}
	for k, v := range a.byType {
		stats.ByType[k] = v
	}
	for k, v := range a.sourceHits {
		stats.SourceHits[k] = v
	}

	if len(a.latencies) > 0 {
		var sum int64
		sorted := append([]int64(nil), a.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P95LatencyMs = sorted[(len(sorted)*95)/100]
	}

	minutes := time.Since(a.startTime).Minutes()
	if minutes > 0 {
		stats.QueriesPerMin = float64(a.total) / minutes
	}
	return stats
}
