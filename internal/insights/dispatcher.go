// Package insights maps model-generated insight text to chart descriptors.
//
// Each line of the text is one insight. A slot's chart kind is chosen by a
// case-sensitive substring match on that line, checked in the order bar, line,
// scatter; the first keyword found wins. Every descriptor plots the dataset's
// first column against its second, whatever the insight says.
package insights

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinVisuals = 1
	MaxVisuals = 10
)

var (
	ErrTooFewColumns = errors.New("dataset needs at least two columns")
	ErrNoInsights    = errors.New("model returned no insight lines")
	ErrInvalidCount  = errors.New("visualization count out of range")
)

type Kind string

const (
	KindBar          Kind = "bar"
	KindLine         Kind = "line"
	KindScatter      Kind = "scatter"
	KindUnrecognized Kind = "unrecognized"
)

// keywordOrder is the classification priority.
var keywordOrder = []Kind{KindBar, KindLine, KindScatter}

// Classify returns the chart kind named by line.
func Classify(line string) Kind {
	for _, k := range keywordOrder {
		if strings.Contains(line, string(k)) {
			return k
		}
	}
	return KindUnrecognized
}

// Descriptor is everything needed to draw one figure.
type Descriptor struct {
	Index     int    `json:"index"`
	LineIndex int    `json:"line_index"`
	Kind      Kind   `json:"kind"`
	Title     string `json:"title"`
	X         string `json:"x"`
	Y         string `json:"y"`
}

// SplitLines splits text on "\n", keeping blank lines so positions match the
// model output. A trailing "\r" is dropped from each line.
func SplitLines(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Dispatch produces exactly n descriptors. Slot i uses line i mod len(lines),
// so lines are reused when n exceeds the number of insights.
func Dispatch(text string, n int, columns []string) ([]Descriptor, error) {
	if n < MinVisuals || n > MaxVisuals {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCount, n, MinVisuals, MaxVisuals)
	}
	if len(columns) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewColumns, len(columns))
	}

	lines := SplitLines(text)
	if len(lines) == 0 {
		return nil, ErrNoInsights
	}

	out := make([]Descriptor, n)
	for i := range out {
		li := i % len(lines)
		out[i] = Descriptor{
			Index:     i,
			LineIndex: li,
			Kind:      Classify(lines[li]),
			Title:     lines[li],
			X:         columns[0],
			Y:         columns[1],
		}
	}
	return out, nil
}
