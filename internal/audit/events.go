// Package audit publishes match activity to Kafka and aggregates it into
// rolling statistics. Linkage results feed a human-reviewed workflow, so
// every query and its outcome is kept on an audit stream.
package audit

import "time"

type EventType string

const (
	EventMatch   EventType = "match"
	EventResolve EventType = "resolve"
	EventJoin    EventType = "join"
)

// NewJoinEvent summarises one completed bulk join for the audit stream. The
// reference name is recorded as the source hit with the output row count.
func NewJoinEvent(opts JoinEventOptions) MatchEvent {
	return MatchEvent{
		Type:         EventJoin,
		Threshold:    opts.Threshold,
		AvgThreshold: opts.AvgThreshold,
		SourceHits:   map[string]int{opts.Reference: opts.OutputRows},
		TotalMatches: opts.OutputRows,
		LatencyMs:    opts.Elapsed.Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
}

// JoinEventOptions carries the outcome of a bulk join.
type JoinEventOptions struct {
	Reference    string
	Threshold    int
	AvgThreshold int
	OutputRows   int
	Elapsed      time.Duration
}

// MatchEvent describes one linkage operation and its outcome.
type MatchEvent struct {
	Type         EventType      `json:"type"`
	QueryNames   []string       `json:"query_names,omitempty"`
	QueryAddress string         `json:"query_address,omitempty"`
	Threshold    int            `json:"threshold"`
	AvgThreshold int            `json:"avg_threshold"`
	SourceHits   map[string]int `json:"source_hits,omitempty"`
	TotalMatches int            `json:"total_matches"`
	LatencyMs    int64          `json:"latency_ms"`
	CacheHit     bool           `json:"cache_hit"`
	Timestamp    time.Time      `json:"timestamp"`
	RequestID    string         `json:"request_id,omitempty"`
}
