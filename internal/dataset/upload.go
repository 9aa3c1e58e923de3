package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/pkg/logger"
)

const utf8BOM = "\ufeff"

// LoadUpload reads an uploaded file. HTML files are parsed for their first
// table, anything else is treated as CSV.
func LoadUpload(filename string, r io.Reader) (*Dataset, error) {
	var (
		d   *Dataset
		err error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		d, err = ReadHTMLTable(r)
	default:
		d, err = ReadCSV(r)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	d.Source = "upload:" + filename
	logger.Info("Upload loaded",
		zap.String("file", filename),
		zap.Int("rows", d.NumRows()),
		zap.Int("columns", d.NumColumns()),
	)
	return d, nil
}

// ReadCSV parses a CSV stream whose first record is the header.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	columns := normalizeColumns(header)
	var rows [][]string

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if len(record) > len(columns) {
			return nil, fmt.Errorf("line %d has %d fields, expected %d", line, len(record), len(columns))
		}
		rows = append(rows, fitRow(record, len(columns)))
	}

	return &Dataset{Columns: columns, Rows: rows}, nil
}

// ReadHTMLTable parses the first <table> of an HTML document. The header comes
// from <thead>, else from a first row made of <th> cells, else from the first
// row itself.
func ReadHTMLTable(r io.Reader) (*Dataset, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, ErrNoData
	}

	var grid [][]string
	var headerRows int

	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if tr.Closest("table").Get(0) != table.Get(0) {
			return
		}
		var cells []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
		})
		if len(cells) == 0 {
			return
		}
		if tr.ParentsFiltered("thead").Length() > 0 && len(grid) == headerRows {
			headerRows++
		}
		grid = append(grid, cells)
	})

	if len(grid) == 0 {
		return nil, ErrNoData
	}

	// Multi-row headers collapse onto the last header row.
	header := grid[0]
	body := grid[1:]
	if headerRows > 1 {
		header = grid[headerRows-1]
		body = grid[headerRows:]
	}

	columns := normalizeColumns(header)
	rows := make([][]string, 0, len(body))
	for _, cells := range body {
		if len(cells) > len(columns) {
			cells = cells[:len(columns)]
		}
		rows = append(rows, fitRow(cells, len(columns)))
	}

	return &Dataset{Columns: columns, Rows: rows}, nil
}
