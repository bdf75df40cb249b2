// Package benchmark contains Go benchmarks for the linkage engine scorer,
// matcher scan, and bulk join, measuring throughput and allocation behaviour.
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/nyffc/contractor-linkage/internal/linkage/aggregate"
	"github.com/nyffc/contractor-linkage/internal/linkage/join"
	"github.com/nyffc/contractor-linkage/internal/linkage/matcher"
	"github.com/nyffc/contractor-linkage/internal/linkage/similarity"
	"github.com/nyffc/contractor-linkage/internal/linkage/table"
)

var companies = []string{
	"Acme Builders", "Smith Drywall", "Jones Electric", "Metro Plumbing",
	"Hudson Concrete", "Empire Steelworks", "Liberty Roofing", "Atlantic Masonry",
}

func syntheticSet(b *testing.B, name string, rows int) *matcher.ReferenceSet {
	b.Helper()
	tbl := table.New([]string{"company_name", "zip_cd"})
	for i := 0; i < rows; i++ {
		tbl.AppendRow([]string{
			fmt.Sprintf("%s %d LLC", companies[i%len(companies)], i),
			fmt.Sprintf("1%04d", i%10000),
		})
	}
	rs, err := matcher.NewReferenceSet(name, tbl, []string{"company_name"}, "zip_cd", similarity.PartialRatio{})
	if err != nil {
		b.Fatal(err)
	}
	return rs
}

// BenchmarkPartialRatio measures single-pair scoring cost at typical field
// lengths.
func BenchmarkPartialRatio(b *testing.B) {
	scorer := similarity.PartialRatio{}
	pairs := [][2]string{
		{"acme builders", "acme builders 42 llc"},
		{"smith drywall", "jones electric supply"},
		{"empire steelworks of new york", "empire steelworks"},
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := pairs[i%len(pairs)]
		_ = scorer.Score(p[0], p[1])
	}
}

// BenchmarkFindMatches measures a full reference scan at various set sizes.
func BenchmarkFindMatches(b *testing.B) {
	sizes := []int{100, 1000, 10000}
	for _, size := range sizes {
		b.Run(fmt.Sprintf("rows_%d", size), func(b *testing.B) {
			rs := syntheticSet(b, "bench", size)
			q := matcher.Query{Names: []string{"acme builders 8 llc"}, Address: "10008"}
			opts := matcher.DefaultOptions()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := rs.FindMatches(context.Background(), q, opts); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkFindMatchesBlocked measures the same scan with the address
// blocking pre-filter.
func BenchmarkFindMatchesBlocked(b *testing.B) {
	rs := syntheticSet(b, "bench", 10000)
	q := matcher.Query{Names: []string{"acme builders 8 llc"}, Address: "10008"}
	opts := matcher.DefaultOptions()
	opts.Blocking = matcher.BlockAddress

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := rs.FindMatches(context.Background(), q, opts); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkResolve measures query resolution through the merged reference
// space, equivalence expansion included.
func BenchmarkResolve(b *testing.B) {
	sets := []*matcher.ReferenceSet{
		syntheticSet(b, "apprentice", 500),
		syntheticSet(b, "wagetheft", 500),
	}
	agg, err := aggregate.New(context.Background(), sets, matcher.DefaultOptions(), similarity.PartialRatio{})
	if err != nil {
		b.Fatal(err)
	}
	q := matcher.Query{Names: []string{"acme builders 8 llc"}, Address: "10008"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := agg.Resolve(context.Background(), q, agg.Options()); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkJoin measures bulk join throughput over the worker pool.
func BenchmarkJoin(b *testing.B) {
	right := syntheticSet(b, "wagetheft", 1000)
	left := table.New([]string{"signatory_name", "signatory_address"})
	for i := 0; i < 200; i++ {
		left.AppendRow([]string{
			fmt.Sprintf("%s %d", companies[i%len(companies)], i),
			fmt.Sprintf("1%04d", i),
		})
	}
	spec := join.Spec{
		Kind:         join.Inner,
		Opts:         matcher.DefaultOptions(),
		LeftNameCols: []string{"signatory_name"},
		LeftAddrCol:  "signatory_address",
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := join.Join(context.Background(), left, right, spec); err != nil {
			b.Fatal(err)
		}
	}
}
