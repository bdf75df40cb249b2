// Package matcher implements approximate record linkage against a single
// reference dataset. A ReferenceSet is a read-only, pre-normalised snapshot
// of one source table; FindMatches scores a query record against every
// reference record and returns the indices that pass the acceptance policy.
package matcher

import (
	"context"
	"log/slog"

	"github.com/nyffc/contractor-linkage/internal/linkage/normalize"
	"github.com/nyffc/contractor-linkage/internal/linkage/similarity"
	"github.com/nyffc/contractor-linkage/internal/linkage/table"
	apperrors "github.com/nyffc/contractor-linkage/pkg/errors"
)

// Default acceptance thresholds, matched to the tuning the datasets were
// reviewed under.
const (
	DefaultThreshold    = 95
	DefaultAvgThreshold = 80
)

// Blocking selects an optional candidate pre-filter that skips reference
// records which cannot plausibly match. With BlockNone the result is the
// pure linear scan.
type Blocking string

const (
	BlockNone       Blocking = "none"
	BlockAddress    Blocking = "address"
	BlockNamePrefix Blocking = "name_prefix"
)

const namePrefixLen = 3

// Options are the per-call acceptance knobs. Threshold is the per-dimension
// floor, AvgThreshold the combined floor; they are independent and the
// policy is disjunctive, so a strong match on any single dimension is
// accepted regardless of the other.
type Options struct {
	Threshold    int      `json:"threshold"`
	AvgThreshold int      `json:"avg_threshold"`
	Blocking     Blocking `json:"blocking,omitempty"`
}

// DefaultOptions returns Options with the default thresholds and no blocking.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, AvgThreshold: DefaultAvgThreshold, Blocking: BlockNone}
}

// Query is one record to link: one value per configured name column plus an
// address value. Missing fields are tolerated and treated as empty.
type Query struct {
	Names   []string `json:"names"`
	Address string   `json:"address"`
}

// Scores is the per-record score breakdown, recomputed on demand for
// presentation.
type Scores struct {
	Name    int     `json:"name_score"`
	Address int     `json:"address_score"`
	Avg     float64 `json:"avg_score"`
}

// Accepted reports whether the scores pass the disjunctive policy under opts.
func (s Scores) Accepted(opts Options) bool {
	return s.Avg >= float64(opts.AvgThreshold) ||
		s.Name >= opts.Threshold ||
		s.Address >= opts.Threshold
}

// ReferenceSet is the learned snapshot of one reference dataset: the original
// rows plus their normalised name and address fields. It is built once and
// read-only afterwards, so concurrent queries need no locking.
type ReferenceSet struct {
	name     string
	tbl      *table.Table
	nameCols []string
	addrCol  string
	names    [][]string // normalised, one slice per name column
	addrs    []string   // normalised
	scorer   similarity.Scorer
	logger   *slog.Logger
}

// NewReferenceSet validates the configured columns against tbl and builds the
// normalised snapshot. A configured column missing from the table fails fast
// with ErrMissingColumn.
func NewReferenceSet(name string, tbl *table.Table, nameCols []string, addrCol string, scorer similarity.Scorer) (*ReferenceSet, error) {
	if len(nameCols) == 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "reference %q: at least one name column is required", name)
	}
	cols := append(append([]string(nil), nameCols...), addrCol)
	if err := tbl.RequireColumns(cols...); err != nil {
		return nil, err
	}
	if scorer == nil {
		scorer = similarity.PartialRatio{}
	}

	rs := &ReferenceSet{
		name:     name,
		tbl:      tbl,
		nameCols: append([]string(nil), nameCols...),
		addrCol:  addrCol,
		names:    make([][]string, len(nameCols)),
		addrs:    make([]string, tbl.NumRows()),
		scorer:   scorer,
		logger:   slog.Default().With("component", "matcher", "source", name),
	}
	// Column positions are resolved once; RequireColumns above guarantees
	// they exist.
	nameIdx := make([]int, len(nameCols))
	for c, col := range nameCols {
		nameIdx[c], _ = tbl.ColumnIndex(col)
	}
	addrIdx, _ := tbl.ColumnIndex(addrCol)

	for c := range nameCols {
		rs.names[c] = make([]string, tbl.NumRows())
	}
	for i := 0; i < tbl.NumRows(); i++ {
		row := tbl.Row(i)
		for c := range nameCols {
			rs.names[c][i] = normalize.String(row[nameIdx[c]])
		}
		rs.addrs[i] = normalize.String(row[addrIdx])
	}
	rs.logger.Debug("reference set learned", "records", tbl.NumRows(), "name_columns", len(nameCols))
	return rs, nil
}

// Name returns the stable source identifier.
func (rs *ReferenceSet) Name() string { return rs.name }

// Len returns the number of reference records.
func (rs *ReferenceSet) Len() int { return rs.tbl.NumRows() }

// Table returns the original (un-normalised) rows.
func (rs *ReferenceSet) Table() *table.Table { return rs.tbl }

// NameColumns returns the configured name columns.
func (rs *ReferenceSet) NameColumns() []string { return rs.nameCols }

// AddressColumn returns the configured address column.
func (rs *ReferenceSet) AddressColumn() string { return rs.addrCol }

// NormalizedRecord returns the normalised name fields and address of record i,
// shaped as a Query so it can be rescored against another set.
func (rs *ReferenceSet) NormalizedRecord(i int) Query {
	names := make([]string, len(rs.nameCols))
	for c := range rs.nameCols {
		names[c] = rs.names[c][i]
	}
	return Query{Names: names, Address: rs.addrs[i]}
}

// FindMatches scores the query against every reference record and returns the
// indices passing the acceptance policy, in scan order. An empty reference
// set yields an empty result, not an error. The scan honours ctx
// cancellation between records.
func (rs *ReferenceSet) FindMatches(ctx context.Context, q Query, opts Options) ([]int, error) {
	nq := rs.normalizeQuery(q)
	var matches []int
	for i := 0; i < rs.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.Blocking != BlockNone && opts.Blocking != "" && !rs.blocked(nq, i, opts.Blocking) {
			continue
		}
		if rs.scoreRecord(nq, i).Accepted(opts) {
			matches = append(matches, i)
		}
	}
	return matches, nil
}

// ScoreRecord recomputes the full score breakdown of the query against record
// i, for callers that surface per-match confidence.
func (rs *ReferenceSet) ScoreRecord(q Query, i int) Scores {
	return rs.scoreRecord(rs.normalizeQuery(q), i)
}

// normalizeQuery normalises the query once per call. Fewer query name values
// than configured columns are padded with empty strings; extras are ignored.
func (rs *ReferenceSet) normalizeQuery(q Query) Query {
	names := make([]string, len(rs.nameCols))
	for c := range rs.nameCols {
		if c < len(q.Names) {
			names[c] = normalize.String(q.Names[c])
		}
	}
	return Query{Names: names, Address: normalize.String(q.Address)}
}

func (rs *ReferenceSet) scoreRecord(nq Query, i int) Scores {
	maxName := 0
	for c := range rs.nameCols {
		if score := rs.scorer.Score(nq.Names[c], rs.names[c][i]); score > maxName {
			maxName = score
		}
	}
	addr := rs.scorer.Score(nq.Address, rs.addrs[i])
	return Scores{
		Name:    maxName,
		Address: addr,
		Avg:     float64(maxName+addr) / 2,
	}
}

// blocked reports whether record i survives the blocking pre-filter for the
// normalised query.
func (rs *ReferenceSet) blocked(nq Query, i int, kind Blocking) bool {
	switch kind {
	case BlockAddress:
		return nq.Address == rs.addrs[i]
	case BlockNamePrefix:
		for c := range rs.nameCols {
			if namePrefix(nq.Names[c]) == namePrefix(rs.names[c][i]) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func namePrefix(s string) string {
	if len(s) <= namePrefixLen {
		return s
	}
	return s[:namePrefixLen]
}
