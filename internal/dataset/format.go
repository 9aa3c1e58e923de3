package dataset

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const insightPreamble = "Analyze the following data and generate insights:\n\n"

// InsightPrompt builds the text sent to the model: a fixed instruction
// followed by the first sampleRows rows of d.
func InsightPrompt(d *Dataset, sampleRows int) string {
	return insightPreamble + FormatTable(d.Head(sampleRows))
}

// FormatTable renders d as an aligned text table with a row-number index.
// Index labels are left aligned, cells and headers right aligned, columns
// separated by two spaces.
func FormatTable(d *Dataset) string {
	if len(d.Rows) == 0 {
		return "Empty table\nColumns: [" + strings.Join(d.Columns, ", ") + "]"
	}

	indexWidth := len(strconv.Itoa(len(d.Rows) - 1))

	widths := make([]int, len(d.Columns))
	for i, c := range d.Columns {
		widths[i] = utf8.RuneCountInString(c)
	}
	for _, row := range d.Rows {
		for i := range d.Columns {
			if i < len(row) {
				if w := utf8.RuneCountInString(row[i]); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", indexWidth))
	for i, c := range d.Columns {
		b.WriteString("  ")
		b.WriteString(padLeft(c, widths[i]))
	}

	for r, row := range d.Rows {
		b.WriteByte('\n')
		b.WriteString(padRight(strconv.Itoa(r), indexWidth))
		for i := range d.Columns {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString("  ")
			b.WriteString(padLeft(cell, widths[i]))
		}
	}

	return b.String()
}

func padLeft(s string, width int) string {
	if n := width - utf8.RuneCountInString(s); n > 0 {
		return strings.Repeat(" ", n) + s
	}
	return s
}

func padRight(s string, width int) string {
	if n := width - utf8.RuneCountInString(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
