package table

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/nyffc/contractor-linkage/pkg/errors"
)

func TestAppendRowPadsAndTruncates(t *testing.T) {
	tbl := New([]string{"name", "address", "city"})
	tbl.AppendRow([]string{"ABC Construction"})
	tbl.AppendRow([]string{"Smith Drywall", "11201", "Brooklyn", "extra"})

	if got := tbl.Cell(0, "address"); got != "" {
		t.Errorf("short row address = %q, want padded empty string", got)
	}
	if got := len(tbl.Row(1)); got != 3 {
		t.Errorf("long row len = %d, want truncated to 3", got)
	}
	if got := tbl.Cell(1, "city"); got != "Brooklyn" {
		t.Errorf("city = %q", got)
	}
}

func TestRequireColumns(t *testing.T) {
	tbl := New([]string{"company_name", "zip_cd"})
	if err := tbl.RequireColumns("company_name", "zip_cd"); err != nil {
		t.Fatalf("RequireColumns: %v", err)
	}
	err := tbl.RequireColumns("company_name", "borough")
	if !errors.Is(err, apperrors.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	if !strings.Contains(err.Error(), "borough") {
		t.Errorf("error should name the missing column: %v", err)
	}
}

func TestColumnIndex(t *testing.T) {
	tbl := New([]string{"company_name", "zip_cd"})
	if i, ok := tbl.ColumnIndex("zip_cd"); !ok || i != 1 {
		t.Errorf("ColumnIndex(zip_cd) = %d, %v, want 1, true", i, ok)
	}
	if _, ok := tbl.ColumnIndex("borough"); ok {
		t.Error("ColumnIndex(borough) reported a missing column as present")
	}
}

func TestRowMap(t *testing.T) {
	tbl := New([]string{"name", "zip"})
	tbl.AppendRow([]string{"ABC Construction", "10001"})
	m := tbl.RowMap(0)
	if m["name"] != "ABC Construction" || m["zip"] != "10001" {
		t.Errorf("RowMap = %v", m)
	}
}

func TestFilterContains(t *testing.T) {
	tbl := New([]string{"name", "zip"})
	tbl.AppendRow([]string{"ABC Construction LLC", "10001"})
	tbl.AppendRow([]string{"Smith Drywall", "11201"})
	tbl.AppendRow([]string{"Jones Electric", "11430"})

	got := tbl.FilterContains("drywall")
	if got.NumRows() != 1 || got.Cell(0, "name") != "Smith Drywall" {
		t.Errorf("FilterContains(drywall) rows = %d", got.NumRows())
	}

	// Matches against any cell, not just names.
	got = tbl.FilterContains("114")
	if got.NumRows() != 1 || got.Cell(0, "name") != "Jones Electric" {
		t.Errorf("FilterContains(114) rows = %d", got.NumRows())
	}

	if got := tbl.FilterContains("  "); got.NumRows() != 0 {
		t.Errorf("blank query must match nothing, got %d rows", got.NumRows())
	}
}

func TestReadCSV(t *testing.T) {
	in := "name,zip\nABC Construction,10001\n\"Smith, Drywall\",11201\nShortRow\n"
	tbl, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.NumRows() != 3 {
		t.Fatalf("NumRows = %d, want 3", tbl.NumRows())
	}
	if got := tbl.Cell(1, "name"); got != "Smith, Drywall" {
		t.Errorf("quoted cell = %q", got)
	}
	if got := tbl.Cell(2, "zip"); got != "" {
		t.Errorf("ragged row zip = %q, want empty", got)
	}
}

func TestReadCSVEmpty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestWriteCSV(t *testing.T) {
	tbl := New([]string{"name", "zip"})
	tbl.AppendRow([]string{"Smith, Drywall", "11201"})

	var sb strings.Builder
	if err := tbl.WriteCSV(&sb); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "name,zip\n\"Smith, Drywall\",11201\n"
	if sb.String() != want {
		t.Errorf("WriteCSV = %q, want %q", sb.String(), want)
	}
}
