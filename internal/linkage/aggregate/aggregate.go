// Package aggregate merges several reference sets into a single deduplicated
// reference space. Records from all sources that normalise to the same
// (name fields, address) tuple collapse into one group, each group keeping
// the (source, original index) pairs it absorbed. Fuzzy equivalence between
// groups that were not byte-identical is precomputed once at construction as
// an internal match set per group, so a query touching any member of an
// equivalence cluster can be expanded to the whole cluster at query time.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/nyffc/contractor-linkage/internal/linkage/matcher"
	"github.com/nyffc/contractor-linkage/internal/linkage/similarity"
	"github.com/nyffc/contractor-linkage/internal/linkage/table"
	apperrors "github.com/nyffc/contractor-linkage/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Origin identifies one original reference record absorbed into a group.
type Origin struct {
	Source string `json:"source"`
	Index  int    `json:"index"`
}

// Match is one resolved original record with its position in its source.
type Match struct {
	Index int               `json:"index"`
	Row   map[string]string `json:"row"`
}

// groupKeySep joins normalised fields into a group key. Normalised values
// cannot contain it.
const groupKeySep = "\x1f"

// Aggregator owns the merged, deduplicated reference space over a set of
// named sources. It is built once and read-only afterwards.
type Aggregator struct {
	sources map[string]*matcher.ReferenceSet
	merged  *matcher.ReferenceSet
	origins [][]Origin // per merged group, exclusively owned back-references
	closure [][]int    // per merged group, its precomputed internal match set
	opts    matcher.Options
	logger  *slog.Logger
}

// New merges the given reference sets and precomputes the equivalence
// closure at the supplied thresholds. All sets must configure the same
// number of name columns so their records are groupable on a common key.
func New(ctx context.Context, sets []*matcher.ReferenceSet, opts matcher.Options, scorer similarity.Scorer) (*Aggregator, error) {
	if len(sets) == 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "at least one reference set is required")
	}
	arity := len(sets[0].NameColumns())
	for _, rs := range sets[1:] {
		if len(rs.NameColumns()) != arity {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400,
				"reference %q has %d name columns, want %d", rs.Name(), len(rs.NameColumns()), arity)
		}
	}

	a := &Aggregator{
		sources: make(map[string]*matcher.ReferenceSet, len(sets)),
		opts:    opts,
		logger:  slog.Default().With("component", "aggregator"),
	}
	for _, rs := range sets {
		if _, dup := a.sources[rs.Name()]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "duplicate reference source %q", rs.Name())
		}
		a.sources[rs.Name()] = rs
	}

	merged, origins, err := mergeSets(sets, arity, scorer)
	if err != nil {
		return nil, err
	}
	a.merged = merged
	a.origins = origins

	if err := a.precomputeClosure(ctx); err != nil {
		return nil, err
	}
	a.logger.Info("merged reference space built",
		"sources", len(sets),
		"groups", merged.Len(),
	)
	return a, nil
}

// mergeSets groups every record of every set by its normalised field tuple.
// Group order follows first appearance, so the merged scan order is stable.
func mergeSets(sets []*matcher.ReferenceSet, arity int, scorer similarity.Scorer) (*matcher.ReferenceSet, [][]Origin, error) {
	nameCols := make([]string, arity)
	for c := range nameCols {
		nameCols[c] = fmt.Sprintf("name_%d", c)
	}
	const addrCol = "address"

	tbl := table.New(append(append([]string(nil), nameCols...), addrCol))
	groupIdx := make(map[string]int)
	var origins [][]Origin

	for _, rs := range sets {
		for i := 0; i < rs.Len(); i++ {
			rec := rs.NormalizedRecord(i)
			fields := append(append([]string(nil), rec.Names...), rec.Address)
			key := strings.Join(fields, groupKeySep)
			gi, ok := groupIdx[key]
			if !ok {
				gi = tbl.NumRows()
				groupIdx[key] = gi
				tbl.AppendRow(fields)
				origins = append(origins, nil)
			}
			origins[gi] = append(origins[gi], Origin{Source: rs.Name(), Index: i})
		}
	}

	merged, err := matcher.NewReferenceSet("merged", tbl, nameCols, addrCol, scorer)
	if err != nil {
		return nil, nil, err
	}
	return merged, origins, nil
}

// precomputeClosure runs every merged group as a query against the merged
// set itself (a self-join over unique groups). Groups are independent, so
// the O(groups squared) scan is spread over a worker per core with each
// worker writing its own output slot.
func (a *Aggregator) precomputeClosure(ctx context.Context) error {
	a.closure = make([][]int, a.merged.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < a.merged.Len(); i++ {
		g.Go(func() error {
			matches, err := a.merged.FindMatches(gctx, a.merged.NormalizedRecord(i), a.opts)
			if err != nil {
				return fmt.Errorf("internal match set for group %d: %w", i, err)
			}
			a.closure[i] = matches
			return nil
		})
	}
	return g.Wait()
}

// NumGroups returns the number of deduplicated groups in the merged space.
func (a *Aggregator) NumGroups() int { return a.merged.Len() }

// Sources returns the names of the merged reference sources.
func (a *Aggregator) Sources() []string {
	names := make([]string, 0, len(a.sources))
	for name := range a.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns one underlying reference set by name.
func (a *Aggregator) Source(name string) (*matcher.ReferenceSet, error) {
	rs, ok := a.sources[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrSourceNotFound, 404, "source %q", name)
	}
	return rs, nil
}

// Options returns the thresholds the equivalence closure was computed at.
func (a *Aggregator) Options() matcher.Options { return a.opts }

// Resolve matches the query against the merged space, expands every hit
// through its equivalence cluster, and returns all original records grouped
// by source, ordered by their position within each source. A query with no
// match yields an empty map, not an error.
func (a *Aggregator) Resolve(ctx context.Context, q matcher.Query, opts matcher.Options) (map[string][]Match, error) {
	direct, err := a.merged.FindMatches(ctx, q, opts)
	if err != nil {
		return nil, err
	}

	// Transitive expansion over the precomputed internal match sets: a query
	// that lands on any member of a cluster returns the whole cluster.
	seen := make(map[int]struct{}, len(direct))
	stack := append([]int(nil), direct...)
	for len(stack) > 0 {
		gi := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[gi]; ok {
			continue
		}
		seen[gi] = struct{}{}
		stack = append(stack, a.closure[gi]...)
	}

	indices := make(map[string][]int)
	for gi := range seen {
		for _, origin := range a.origins[gi] {
			indices[origin.Source] = append(indices[origin.Source], origin.Index)
		}
	}

	results := make(map[string][]Match, len(indices))
	for source, idxs := range indices {
		sort.Ints(idxs)
		rs := a.sources[source]
		matches := make([]Match, 0, len(idxs))
		for _, i := range idxs {
			matches = append(matches, Match{Index: i, Row: rs.Table().RowMap(i)})
		}
		results[source] = matches
	}
	return results, nil
}
