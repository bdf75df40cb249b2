// Package join bulk-applies the matcher across every row of a left table
// against one reference set, producing a flattened join table with one
// output row per accepted (left row, reference record) pair.
package join

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/nyffc/contractor-linkage/internal/linkage/matcher"
	"github.com/nyffc/contractor-linkage/internal/linkage/table"
	apperrors "github.com/nyffc/contractor-linkage/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Kind selects how unmatched left rows are handled.
type Kind string

const (
	// Inner drops left rows with no accepted match.
	Inner Kind = "inner"
	// Left keeps unmatched left rows with empty right-side columns.
	Left Kind = "left"
)

// Spec configures a bulk join.
type Spec struct {
	Kind         Kind
	Opts         matcher.Options
	LeftNameCols []string
	LeftAddrCol  string
	// Workers bounds the worker pool over left rows; 0 means one per core.
	Workers int
	// Column-name collisions between the two tables are disambiguated with
	// these suffixes (default "_l" and "_r").
	LeftSuffix  string
	RightSuffix string
}

// Join scores every left row against the reference set and expands accepted
// matches into a denormalised join table. Left-row order is preserved and a
// left row's matches appear in reference scan order. The scan over left rows
// runs on a fixed-size worker pool; workers only read the shared reference
// snapshot and write disjoint output slots, and ctx cancels the whole join.
func Join(ctx context.Context, left *table.Table, right *matcher.ReferenceSet, spec Spec) (*table.Table, error) {
	if err := left.RequireColumns(append(append([]string(nil), spec.LeftNameCols...), spec.LeftAddrCol)...); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case Inner, Left:
	case "":
		spec.Kind = Inner
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidJoin, 400, "join kind %q", spec.Kind)
	}

	workers := spec.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	matches := make([][]int, left.NumRows())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < left.NumRows(); i++ {
		g.Go(func() error {
			q := matcher.Query{
				Names:   make([]string, len(spec.LeftNameCols)),
				Address: left.Cell(i, spec.LeftAddrCol),
			}
			for c, col := range spec.LeftNameCols {
				q.Names[c] = left.Cell(i, col)
			}
			idx, err := right.FindMatches(gctx, q, spec.Opts)
			if err != nil {
				return err
			}
			matches[i] = idx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := assemble(left, right, matches, spec)
	slog.Default().With("component", "join").Debug("bulk join complete",
		"left_rows", left.NumRows(),
		"reference", right.Name(),
		"output_rows", out.NumRows(),
	)
	return out, nil
}

// assemble expands the per-row match lists into the output table. Output row
// count for an inner join is the sum of accepted-match counts.
func assemble(left *table.Table, right *matcher.ReferenceSet, matches [][]int, spec Spec) *table.Table {
	leftSuffix := spec.LeftSuffix
	if leftSuffix == "" {
		leftSuffix = "_l"
	}
	rightSuffix := spec.RightSuffix
	if rightSuffix == "" {
		rightSuffix = "_r"
	}

	rightTbl := right.Table()
	collisions := make(map[string]struct{})
	for _, c := range rightTbl.Columns() {
		if left.HasColumn(c) {
			collisions[c] = struct{}{}
		}
	}

	cols := make([]string, 0, len(left.Columns())+len(rightTbl.Columns()))
	for _, c := range left.Columns() {
		if _, clash := collisions[c]; clash {
			c += leftSuffix
		}
		cols = append(cols, c)
	}
	for _, c := range rightTbl.Columns() {
		if _, clash := collisions[c]; clash {
			c += rightSuffix
		}
		cols = append(cols, c)
	}

	out := table.New(cols)
	for i := 0; i < left.NumRows(); i++ {
		if len(matches[i]) == 0 {
			if spec.Kind == Left {
				out.AppendRow(left.Row(i))
			}
			continue
		}
		for _, ri := range matches[i] {
			row := make([]string, 0, len(cols))
			row = append(row, left.Row(i)...)
			row = append(row, rightTbl.Row(ri)...)
			out.AppendRow(row)
		}
	}
	return out
}
