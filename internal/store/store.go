// Package store loads reference datasets into linkage tables, either from
// PostgreSQL or from CSV files on disk. Loading happens once at startup; the
// engine only ever sees the resulting in-memory snapshot.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/nyffc/contractor-linkage/internal/linkage/table"
	"github.com/nyffc/contractor-linkage/pkg/config"
	"github.com/nyffc/contractor-linkage/pkg/postgres"
)

// Store reads reference tables out of Postgres.
type Store struct {
	client *postgres.Client
	logger *slog.Logger
}

// New wraps a Postgres client.
func New(client *postgres.Client) *Store {
	return &Store{
		client: client,
		logger: slog.Default().With("component", "store"),
	}
}

// LoadTable reads every row of the named Postgres table into a linkage
// Table. NULLs become empty strings; non-text columns are scanned as text.
func (s *Store) LoadTable(ctx context.Context, tableName string) (*table.Table, error) {
	query := fmt.Sprintf("SELECT * FROM %s", pq.QuoteIdentifier(tableName))
	rows, err := s.client.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying table %s: %w", tableName, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", tableName, err)
	}

	t := table.New(cols)
	values := make([]sql.NullString, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("scanning row %d of %s: %w", t.NumRows()+1, tableName, err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		t.AppendRow(row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table %s: %w", tableName, err)
	}

	s.logger.Info("reference table loaded", "table", tableName, "rows", t.NumRows())
	return t, nil
}

// LoadSource materialises one configured reference source: a CSV file when
// csvPath is set, otherwise a Postgres table (which requires a connected
// Store).
func LoadSource(ctx context.Context, s *Store, src config.SourceConfig) (*table.Table, error) {
	if src.CSVPath != "" {
		return table.ReadCSVFile(src.CSVPath)
	}
	if s == nil {
		return nil, fmt.Errorf("source %s: no csvPath configured and postgres is unavailable", src.Name)
	}
	if src.Table == "" {
		return nil, fmt.Errorf("source %s: neither csvPath nor table configured", src.Name)
	}
	return s.LoadTable(ctx, src.Table)
}
