package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// ReadCSV decodes a CSV stream into a Table. The first record is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	t := New(header)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row %d: %w", t.NumRows()+2, err)
		}
		t.AppendRow(record)
	}
	return t, nil
}

// ReadCSVFile opens path and decodes it with ReadCSV.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}
	defer f.Close()
	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return t, nil
}

// WriteCSV encodes the table as CSV, header first.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.cols); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i, row := range t.rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i+1, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
