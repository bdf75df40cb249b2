// Package handler exposes the linkage engine over HTTP. The handlers are a
// thin shell: they decode queries, call into the engine, re-derive score
// breakdowns for display, and track audit events.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nyffc/contractor-linkage/internal/audit"
	"github.com/nyffc/contractor-linkage/internal/linkage/aggregate"
	"github.com/nyffc/contractor-linkage/internal/linkage/matcher"
	"github.com/nyffc/contractor-linkage/internal/server/cache"
	apperrors "github.com/nyffc/contractor-linkage/pkg/errors"
	"github.com/nyffc/contractor-linkage/pkg/logger"
	"github.com/nyffc/contractor-linkage/pkg/metrics"
	"github.com/nyffc/contractor-linkage/pkg/middleware"
)

// Handler serves match and resolve requests.
type Handler struct {
	agg         *aggregate.Aggregator
	cache       *cache.ResolveCache
	collector   *audit.Collector
	metrics     *metrics.Metrics
	defaultOpts matcher.Options
	logger      *slog.Logger
}

// New creates a Handler. cache, collector, and m may be nil.
func New(agg *aggregate.Aggregator, resolveCache *cache.ResolveCache, collector *audit.Collector, m *metrics.Metrics, defaultOpts matcher.Options) *Handler {
	return &Handler{
		agg:         agg,
		cache:       resolveCache,
		collector:   collector,
		metrics:     m,
		defaultOpts: defaultOpts,
		logger:      slog.Default().With("component", "linkage-handler"),
	}
}

type matchRequest struct {
	Source       string   `json:"source"`
	Names        []string `json:"names"`
	Address      string   `json:"address"`
	Threshold    *int     `json:"threshold,omitempty"`
	AvgThreshold *int     `json:"avg_threshold,omitempty"`
}

type matchedRecord struct {
	Index  int               `json:"index"`
	Row    map[string]string `json:"row"`
	Scores matcher.Scores    `json:"scores"`
}

type matchResponse struct {
	Source  string          `json:"source"`
	Total   int             `json:"total"`
	Matches []matchedRecord `json:"matches"`
}

// Match links one query record against a single named source.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Names) == 0 && req.Address == "" {
		h.writeError(w, http.StatusBadRequest, "at least one name or an address is required")
		return
	}
	opts := h.options(req.Threshold, req.AvgThreshold)

	rs, err := h.agg.Source(req.Source)
	if err != nil {
		h.writeEngineError(w, log, err)
		return
	}

	q := matcher.Query{Names: req.Names, Address: req.Address}
	indices, err := rs.FindMatches(ctx, q, opts)
	if err != nil {
		h.writeEngineError(w, log, err)
		return
	}

	resp := matchResponse{Source: req.Source, Total: len(indices), Matches: make([]matchedRecord, 0, len(indices))}
	for _, i := range indices {
		resp.Matches = append(resp.Matches, matchedRecord{
			Index:  i,
			Row:    rs.Table().RowMap(i),
			Scores: rs.ScoreRecord(q, i),
		})
	}

	latency := time.Since(start)
	h.observe("match", rs.Name(), rs.Len(), len(indices), latency)
	h.track(audit.MatchEvent{
		Type:         audit.EventMatch,
		QueryNames:   req.Names,
		QueryAddress: req.Address,
		Threshold:    opts.Threshold,
		AvgThreshold: opts.AvgThreshold,
		SourceHits:   map[string]int{rs.Name(): len(indices)},
		TotalMatches: len(indices),
		LatencyMs:    latency.Milliseconds(),
		Timestamp:    time.Now().UTC(),
		RequestID:    middleware.GetRequestID(ctx),
	})
	log.Info("match completed", "source", req.Source, "matches", len(indices), "latency_ms", latency.Milliseconds())
	h.writeJSON(w, http.StatusOK, resp)
}

type resolveRequest struct {
	Names        []string `json:"names"`
	Address      string   `json:"address"`
	Threshold    *int     `json:"threshold,omitempty"`
	AvgThreshold *int     `json:"avg_threshold,omitempty"`
}

type resolveResponse struct {
	Sources map[string][]aggregate.Match `json:"sources"`
	Total   int                          `json:"total"`
}

// Resolve links one query record across every source through the merged
// reference space.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Names) == 0 && req.Address == "" {
		h.writeError(w, http.StatusBadRequest, "at least one name or an address is required")
		return
	}
	opts := h.options(req.Threshold, req.AvgThreshold)
	q := matcher.Query{Names: req.Names, Address: req.Address}

	var result map[string][]aggregate.Match
	var err error
	cacheHit := false
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, q, opts, func() (map[string][]aggregate.Match, error) {
			return h.agg.Resolve(ctx, q, opts)
		})
	} else {
		result, err = h.agg.Resolve(ctx, q, opts)
	}
	if err != nil {
		h.writeEngineError(w, log, err)
		return
	}
	if h.cache != nil && h.metrics != nil {
		if cacheHit {
			h.metrics.CacheHitsTotal.Inc()
		} else {
			h.metrics.CacheMissesTotal.Inc()
		}
	}

	total := 0
	sourceHits := make(map[string]int, len(result))
	for source, matches := range result {
		total += len(matches)
		sourceHits[source] = len(matches)
	}

	latency := time.Since(start)
	h.observe("resolve", "merged", h.agg.NumGroups(), total, latency)
	h.track(audit.MatchEvent{
		Type:         audit.EventResolve,
		QueryNames:   req.Names,
		QueryAddress: req.Address,
		Threshold:    opts.Threshold,
		AvgThreshold: opts.AvgThreshold,
		SourceHits:   sourceHits,
		TotalMatches: total,
		LatencyMs:    latency.Milliseconds(),
		CacheHit:     cacheHit,
		Timestamp:    time.Now().UTC(),
		RequestID:    middleware.GetRequestID(ctx),
	})
	log.Info("resolve completed",
		"sources", len(result),
		"total_matches", total,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, resolveResponse{Sources: result, Total: total})
}

// Sources lists the configured reference sources.
func (h *Handler) Sources(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{"sources": h.agg.Sources()})
}

// recordsPageSize caps the rows returned by SourceRecords.
const recordsPageSize = 500

// SourceRecords returns rows of one source for browsing. With ?q= the rows
// are pre-filtered by case-insensitive substring over every cell.
func (h *Handler) SourceRecords(w http.ResponseWriter, r *http.Request) {
	rs, err := h.agg.Source(r.PathValue("source"))
	if err != nil {
		h.writeEngineError(w, logger.FromContext(r.Context()), err)
		return
	}
	tbl := rs.Table()
	if q := r.URL.Query().Get("q"); q != "" {
		tbl = tbl.FilterContains(q)
	}
	n := tbl.NumRows()
	if n > recordsPageSize {
		n = recordsPageSize
	}
	rows := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, tbl.RowMap(i))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"source": rs.Name(),
		"total":  tbl.NumRows(),
		"rows":   rows,
	})
}

// CacheStats reports result-cache hit and miss counters.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	hits, misses := h.cache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]int64{"hits": hits, "misses": misses})
}

// CacheInvalidate flushes every cached resolve result.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// options merges per-request overrides onto the configured defaults.
func (h *Handler) options(threshold, avgThreshold *int) matcher.Options {
	opts := h.defaultOpts
	if threshold != nil {
		opts.Threshold = *threshold
	}
	if avgThreshold != nil {
		opts.AvgThreshold = *avgThreshold
	}
	return opts
}

func (h *Handler) observe(operation, source string, scanned, matched int, latency time.Duration) {
	if h.metrics == nil {
		return
	}
	resultType := "hit"
	if matched == 0 {
		resultType = "zero_result"
	}
	h.metrics.MatchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.MatchLatency.WithLabelValues(operation).Observe(latency.Seconds())
	h.metrics.MatchCandidates.WithLabelValues(source).Observe(float64(scanned))
}

func (h *Handler) track(event audit.MatchEvent) {
	if h.collector != nil {
		h.collector.Track(event)
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, apperrors.ErrInternal) || status == http.StatusInternalServerError {
		log.Error("linkage request failed", "error", err)
		h.writeError(w, status, "internal error")
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
