// Package charts draws dispatcher descriptors as PNG or SVG images using
// go-chart.
package charts

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/internal/dataset"
	"github.com/insightsboard/backend/internal/insights"
	"github.com/insightsboard/backend/pkg/logger"
)

var (
	ErrNoNumericData = errors.New("no numeric values to plot")
	ErrUnknownColumn = errors.New("column not found in dataset")
)

const (
	FormatPNG = "png"
	FormatSVG = "svg"
)

// Chart is one rendered figure.
type Chart struct {
	Index       int           `json:"index"`
	Kind        insights.Kind `json:"kind"`
	Title       string        `json:"title"`
	X           string        `json:"x"`
	Y           string        `json:"y"`
	ContentType string        `json:"content_type"`
	Data        []byte        `json:"-"`
}

// DataURI returns the image inlined as a data: URI for <img src>.
func (c *Chart) DataURI() string {
	return "data:" + c.ContentType + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

type Renderer struct {
	Width  int
	Height int
	Format string
}

func NewRenderer(width, height int, format string) *Renderer {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	if format != FormatSVG {
		format = FormatPNG
	}
	return &Renderer{Width: width, Height: height, Format: format}
}

func (r *Renderer) ContentType() string {
	if r.Format == FormatSVG {
		return "image/svg+xml"
	}
	return "image/png"
}

func (r *Renderer) provider() chart.RendererProvider {
	if r.Format == FormatSVG {
		return chart.SVG
	}
	return chart.PNG
}

// Render draws desc against the columns of d.
func (r *Renderer) Render(d *dataset.Dataset, desc insights.Descriptor) (*Chart, error) {
	var (
		buf bytes.Buffer
		err error
	)

	switch desc.Kind {
	case insights.KindUnrecognized:
		err = r.renderEmpty(&buf, desc.Title)
	default:
		var xs, ys []string
		xs, ys, err = columnPair(d, desc.X, desc.Y)
		if err != nil {
			return nil, err
		}
		switch desc.Kind {
		case insights.KindBar:
			err = r.renderBar(&buf, desc, xs, ys)
		case insights.KindLine:
			err = r.renderLine(&buf, desc, xs, ys)
		case insights.KindScatter:
			err = r.renderScatter(&buf, desc, xs, ys)
		default:
			return nil, fmt.Errorf("unsupported chart kind %q", desc.Kind)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s chart %d: %w", desc.Kind, desc.Index, err)
	}

	logger.Debug("Chart rendered",
		zap.Int("index", desc.Index),
		zap.String("kind", string(desc.Kind)),
		zap.Int("bytes", buf.Len()),
	)

	return &Chart{
		Index:       desc.Index,
		Kind:        desc.Kind,
		Title:       desc.Title,
		X:           desc.X,
		Y:           desc.Y,
		ContentType: r.ContentType(),
		Data:        buf.Bytes(),
	}, nil
}

func (r *Renderer) renderEmpty(buf *bytes.Buffer, title string) error {
	ch := chart.Chart{
		Title:      r.text(title),
		Width:      r.Width,
		Height:     r.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		XAxis:      chart.XAxis{Range: &chart.ContinuousRange{Min: 0, Max: 1}},
		YAxis:      chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: 1}},
		Series: []chart.Series{
			chart.ContinuousSeries{
				XValues: []float64{0, 1},
				YValues: []float64{0, 1},
				Style:   chart.Style{StrokeWidth: chart.Disabled, StrokeColor: drawing.ColorTransparent},
			},
		},
	}
	return ch.Render(r.provider(), buf)
}

func (r *Renderer) renderBar(buf *bytes.Buffer, desc insights.Descriptor, xs, ys []string) error {
	labels, means := meanByX(xs, ys)
	if len(labels) == 0 {
		return ErrNoNumericData
	}

	bars := make([]chart.Value, len(labels))
	for i := range labels {
		bars[i] = chart.Value{Label: r.text(labels[i]), Value: means[i]}
	}

	lo, hi := math.Min(0, minOf(means)), math.Max(0, maxOf(means))
	if lo == hi {
		hi = lo + 1
	}

	barWidth := (r.Width - 120) / (len(bars) * 2)
	if barWidth < 2 {
		barWidth = 2
	}

	bc := chart.BarChart{
		Title:      r.text(desc.Title),
		Width:      r.Width,
		Height:     r.Height,
		BarWidth:   barWidth,
		BarSpacing: barWidth,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		YAxis: chart.YAxis{
			Name:  r.text(desc.Y),
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Bars: bars,
	}
	return bc.Render(r.provider(), buf)
}

func (r *Renderer) renderLine(buf *bytes.Buffer, desc insights.Descriptor, xs, ys []string) error {
	labels, means := meanByX(xs, ys)
	if len(labels) == 0 {
		return ErrNoNumericData
	}

	xAxis := chart.XAxis{Name: r.text(desc.X)}
	xValues, numeric := parseAll(labels)
	if numeric {
		idx := make([]int, len(xValues))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return xValues[idx[a]] < xValues[idx[b]] })
		sx := make([]float64, len(idx))
		sy := make([]float64, len(idx))
		for i, j := range idx {
			sx[i], sy[i] = xValues[j], means[j]
		}
		xValues, means = sx, sy
		xAxis.Range = paddedRange(xValues)
	} else {
		xValues = positions(len(labels))
		xAxis.Range = &chart.ContinuousRange{Min: -0.5, Max: float64(len(labels)) - 0.5}
		xAxis.Ticks = r.categoryTicks(labels)
	}

	ch := chart.Chart{
		Title:      r.text(desc.Title),
		Width:      r.Width,
		Height:     r.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		XAxis:      xAxis,
		YAxis:      chart.YAxis{Name: r.text(desc.Y), Range: paddedRange(means)},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    r.text(desc.Y),
				XValues: xValues,
				YValues: means,
				Style:   chart.Style{StrokeWidth: 2, StrokeColor: chart.ColorBlue, DotWidth: 3, DotColor: chart.ColorBlue},
			},
		},
	}
	return ch.Render(r.provider(), buf)
}

func (r *Renderer) renderScatter(buf *bytes.Buffer, desc insights.Descriptor, xs, ys []string) error {
	var rawX []string
	var yValues []float64
	for i := range ys {
		y, ok := parseNumber(ys[i])
		if !ok {
			continue
		}
		rawX = append(rawX, xs[i])
		yValues = append(yValues, y)
	}
	if len(yValues) == 0 {
		return ErrNoNumericData
	}

	xAxis := chart.XAxis{Name: r.text(desc.X)}
	xValues, numeric := parseAll(rawX)
	if numeric {
		xAxis.Range = paddedRange(xValues)
	} else {
		var labels []string
		pos := make(map[string]int)
		xValues = make([]float64, len(rawX))
		for i, x := range rawX {
			p, ok := pos[x]
			if !ok {
				p = len(labels)
				pos[x] = p
				labels = append(labels, x)
			}
			xValues[i] = float64(p)
		}
		xAxis.Range = &chart.ContinuousRange{Min: -0.5, Max: float64(len(labels)) - 0.5}
		xAxis.Ticks = r.categoryTicks(labels)
	}

	ch := chart.Chart{
		Title:      r.text(desc.Title),
		Width:      r.Width,
		Height:     r.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		XAxis:      xAxis,
		YAxis:      chart.YAxis{Name: r.text(desc.Y), Range: paddedRange(yValues)},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    r.text(desc.Y),
				XValues: xValues,
				YValues: yValues,
				Style:   pointStyle(chart.ColorBlue),
			},
		},
	}
	return ch.Render(r.provider(), buf)
}

// pointStyle renders points only, with no connecting line.
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    4,
		DotColor:    col,
	}
}

func columnPair(d *dataset.Dataset, x, y string) ([]string, []string, error) {
	xi, yi := -1, -1
	for i, c := range d.Columns {
		if c == x && xi < 0 {
			xi = i
		}
		if c == y && yi < 0 {
			yi = i
		}
	}
	if xi < 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownColumn, x)
	}
	if yi < 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownColumn, y)
	}
	xs, err := d.Column(xi)
	if err != nil {
		return nil, nil, err
	}
	ys, err := d.Column(yi)
	if err != nil {
		return nil, nil, err
	}
	return xs, ys, nil
}

// meanByX averages the numeric y values of each distinct x, in first-seen order.
func meanByX(xs, ys []string) ([]string, []float64) {
	var labels []string
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i := range ys {
		y, ok := parseNumber(ys[i])
		if !ok {
			continue
		}
		x := xs[i]
		if _, seen := counts[x]; !seen {
			labels = append(labels, x)
		}
		sums[x] += y
		counts[x]++
	}

	means := make([]float64, len(labels))
	for i, l := range labels {
		means[i] = sums[l] / float64(counts[l])
	}
	return labels, means
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parseAll reports whether every value is numeric.
func parseAll(values []string) ([]float64, bool) {
	out := make([]float64, len(values))
	for i, s := range values {
		v, ok := parseNumber(s)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// text escapes s for the SVG writer, which emits text nodes verbatim.
func (r *Renderer) text(s string) string {
	if r.Format == FormatSVG {
		return html.EscapeString(s)
	}
	return s
}

func positions(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

// categoryTicks labels positions 0..n-1. go-chart takes the axis range from
// the ticks, so unlabeled ticks at -0.5 and n-0.5 keep the range wide enough
// for a single category.
func (r *Renderer) categoryTicks(labels []string) []chart.Tick {
	ticks := make([]chart.Tick, 0, len(labels)+2)
	ticks = append(ticks, chart.Tick{Value: -0.5})
	for i, l := range labels {
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: r.text(l)})
	}
	return append(ticks, chart.Tick{Value: float64(len(labels)) - 0.5})
}

// paddedRange widens a degenerate range, which go-chart refuses to draw.
func paddedRange(values []float64) *chart.ContinuousRange {
	lo, hi := minOf(values), maxOf(values)
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}

func minOf(values []float64) float64 {
	m := math.Inf(1)
	for _, v := range values {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		m = math.Max(m, v)
	}
	return m
}
