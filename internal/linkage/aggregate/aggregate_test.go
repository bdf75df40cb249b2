package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/nyffc/contractor-linkage/internal/linkage/matcher"
	"github.com/nyffc/contractor-linkage/internal/linkage/similarity"
	"github.com/nyffc/contractor-linkage/internal/linkage/table"
	apperrors "github.com/nyffc/contractor-linkage/pkg/errors"
)

func newSet(t *testing.T, name string, nameCol, addrCol string, rows [][]string) *matcher.ReferenceSet {
	t.Helper()
	tbl := table.New([]string{nameCol, addrCol})
	for _, row := range rows {
		tbl.AppendRow(row)
	}
	rs, err := matcher.NewReferenceSet(name, tbl, []string{nameCol}, addrCol, similarity.PartialRatio{})
	if err != nil {
		t.Fatalf("NewReferenceSet(%s): %v", name, err)
	}
	return rs
}

func TestNewDeduplicatesIdenticalGroups(t *testing.T) {
	apprentice := newSet(t, "apprentice", "signatory_name", "signatory_address", [][]string{
		{"ABC Construction LLC", "10001"},
		{"Smith Drywall", "11201"},
	})
	wagetheft := newSet(t, "wagetheft", "company_name", "zip_cd", [][]string{
		{"abc construction llc", "10001"}, // same after normalisation
		{"Jones Electric", "11430"},
	})

	agg, err := New(context.Background(), []*matcher.ReferenceSet{apprentice, wagetheft}, matcher.DefaultOptions(), similarity.PartialRatio{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// 4 records, but the two ABC rows normalise identically: 3 groups.
	if got := agg.NumGroups(); got != 3 {
		t.Fatalf("NumGroups = %d, want 3", got)
	}
}

func TestNewRejectsMismatchedArity(t *testing.T) {
	one := newSet(t, "one", "name", "zip", [][]string{{"A Co", "10001"}})

	tbl := table.New([]string{"name", "owner", "zip"})
	tbl.AppendRow([]string{"B Co", "B Owner", "10002"})
	two, err := matcher.NewReferenceSet("two", tbl, []string{"name", "owner"}, "zip", similarity.PartialRatio{})
	if err != nil {
		t.Fatalf("NewReferenceSet: %v", err)
	}

	_, err = New(context.Background(), []*matcher.ReferenceSet{one, two}, matcher.DefaultOptions(), similarity.PartialRatio{})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResolveReturnsBothSources(t *testing.T) {
	apprentice := newSet(t, "apprentice", "signatory_name", "signatory_address", [][]string{
		{"ABC Construction LLC", "10001"},
		{"Smith Drywall", "11201"},
	})
	wagetheft := newSet(t, "wagetheft", "company_name", "zip_cd", [][]string{
		{"ABC Construction", "10001"},
		{"Jones Electric", "11430"},
	})

	agg, err := New(context.Background(), []*matcher.ReferenceSet{apprentice, wagetheft}, matcher.DefaultOptions(), similarity.PartialRatio{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := agg.Resolve(context.Background(),
		matcher.Query{Names: []string{"abc construction"}, Address: "10001"},
		matcher.DefaultOptions(),
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got["apprentice"]) != 1 || got["apprentice"][0].Index != 0 {
		t.Errorf("apprentice matches = %+v, want record 0", got["apprentice"])
	}
	if len(got["wagetheft"]) != 1 || got["wagetheft"][0].Index != 0 {
		t.Errorf("wagetheft matches = %+v, want record 0", got["wagetheft"])
	}
	if row := got["apprentice"][0].Row; row["signatory_name"] != "ABC Construction LLC" {
		t.Errorf("apprentice row = %v, want original un-normalised values", row)
	}
}

func TestResolveEquivalenceClosure(t *testing.T) {
	// The two Acme rows normalise differently ("123 main st" vs
	// "123 main street") so they stay separate groups, but the internal
	// self-join links them fuzzily. A query landing on one must surface the
	// records behind both.
	apprentice := newSet(t, "apprentice", "signatory_name", "signatory_address", [][]string{
		{"Acme Builders", "123 Main St"},
	})
	wagetheft := newSet(t, "wagetheft", "company_name", "zip_cd", [][]string{
		{"Acme Builders", "123 Main Street"},
	})

	agg, err := New(context.Background(), []*matcher.ReferenceSet{apprentice, wagetheft}, matcher.DefaultOptions(), similarity.PartialRatio{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if agg.NumGroups() != 2 {
		t.Fatalf("NumGroups = %d, want 2 distinct groups", agg.NumGroups())
	}

	got, err := agg.Resolve(context.Background(),
		matcher.Query{Names: []string{"acme builders"}, Address: "123 main st"},
		matcher.DefaultOptions(),
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got["apprentice"]) != 1 {
		t.Errorf("apprentice matches = %+v, want 1", got["apprentice"])
	}
	if len(got["wagetheft"]) != 1 {
		t.Errorf("wagetheft matches missing: closure must reach the other source, got %+v", got["wagetheft"])
	}
}

func TestResolveNoMatchIsEmptyNotError(t *testing.T) {
	apprentice := newSet(t, "apprentice", "signatory_name", "signatory_address", [][]string{
		{"Smith Drywall", "11201"},
	})
	agg, err := New(context.Background(), []*matcher.ReferenceSet{apprentice}, matcher.DefaultOptions(), similarity.PartialRatio{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := agg.Resolve(context.Background(),
		matcher.Query{Names: []string{"Jones Electric"}, Address: "99999"},
		matcher.DefaultOptions(),
	)
	if err != nil {
		t.Fatalf("Resolve must not error on no match: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty mapping, got %+v", got)
	}
}

func TestSourceLookup(t *testing.T) {
	apprentice := newSet(t, "apprentice", "signatory_name", "signatory_address", [][]string{
		{"Smith Drywall", "11201"},
	})
	agg, err := New(context.Background(), []*matcher.ReferenceSet{apprentice}, matcher.DefaultOptions(), similarity.PartialRatio{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := agg.Source("apprentice"); err != nil {
		t.Errorf("Source(apprentice): %v", err)
	}
	if _, err := agg.Source("unknown"); !errors.Is(err, apperrors.ErrSourceNotFound) {
		t.Errorf("Source(unknown) = %v, want ErrSourceNotFound", err)
	}
}
