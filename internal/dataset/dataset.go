// Package dataset holds the in-memory table a dashboard is built from and the
// loaders that produce it: CSV and HTML-table uploads and SQL tables.
//
// A Dataset is loaded once per request and never mutated afterwards. Every
// cell is kept as the text the loader produced; numeric interpretation is left
// to the chart renderer.
package dataset

import (
	"errors"
	"fmt"
)

var (
	ErrNoData         = errors.New("no data")
	ErrUnsupportedURL = errors.New("unsupported database url")
	ErrNoTable        = errors.New("table name is required")
)

type Dataset struct {
	Columns []string
	Rows    [][]string
	// Source describes where the data came from, e.g. "upload:sales.csv" or
	// "sqlite:orders". Used for logging and history only.
	Source string
}

func (d *Dataset) NumRows() int {
	return len(d.Rows)
}

func (d *Dataset) NumColumns() int {
	return len(d.Columns)
}

// Column returns the values of column i in row order.
func (d *Dataset) Column(i int) ([]string, error) {
	if i < 0 || i >= len(d.Columns) {
		return nil, fmt.Errorf("column index %d out of range for %d columns", i, len(d.Columns))
	}
	values := make([]string, len(d.Rows))
	for r, row := range d.Rows {
		if i < len(row) {
			values[r] = row[i]
		}
	}
	return values, nil
}

// Head returns a dataset sharing the first n rows.
func (d *Dataset) Head(n int) *Dataset {
	if n < 0 {
		n = 0
	}
	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	return &Dataset{
		Columns: d.Columns,
		Rows:    d.Rows[:n],
		Source:  d.Source,
	}
}

// normalizeColumns fills blank header cells and disambiguates duplicates the
// way spreadsheet tools usually do ("Unnamed: 2", "price.1").
func normalizeColumns(header []string) []string {
	cols := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, name := range header {
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			seen[name] = 0
		}
		cols[i] = name
	}
	return cols
}

// fitRow pads short rows with empty cells.
func fitRow(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
