package charts

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightsboard/backend/internal/dataset"
	"github.com/insightsboard/backend/internal/insights"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func sales() *dataset.Dataset {
	return &dataset.Dataset{
		Columns: []string{"month", "revenue", "region"},
		Rows: [][]string{
			{"Jan", "10", "north"},
			{"Feb", "25.5", "south"},
			{"Jan", "20", "south"},
			{"Mar", "n/a", "north"},
		},
	}
}

func descriptor(kind insights.Kind) insights.Descriptor {
	return insights.Descriptor{Index: 2, Kind: kind, Title: "Revenue " + string(kind), X: "month", Y: "revenue"}
}

func TestRenderEachKindAsPNG(t *testing.T) {
	r := NewRenderer(320, 240, FormatPNG)

	for _, kind := range []insights.Kind{insights.KindBar, insights.KindLine, insights.KindScatter, insights.KindUnrecognized} {
		t.Run(string(kind), func(t *testing.T) {
			c, err := r.Render(sales(), descriptor(kind))
			require.NoError(t, err)

			assert.Equal(t, 2, c.Index)
			assert.Equal(t, kind, c.Kind)
			assert.Equal(t, "image/png", c.ContentType)
			assert.True(t, bytes.HasPrefix(c.Data, pngMagic))
		})
	}
}

func TestRenderSVG(t *testing.T) {
	r := NewRenderer(320, 240, FormatSVG)

	c, err := r.Render(sales(), descriptor(insights.KindBar))
	require.NoError(t, err)

	assert.Equal(t, "image/svg+xml", c.ContentType)
	assert.Contains(t, string(c.Data), "<svg")
	assert.True(t, strings.HasPrefix(c.DataURI(), "data:image/svg+xml;base64,"))
}

func TestRenderNumericXLine(t *testing.T) {
	d := &dataset.Dataset{
		Columns: []string{"year", "users"},
		Rows:    [][]string{{"2022", "5"}, {"2020", "1"}, {"2021", "3"}},
	}
	r := NewRenderer(0, 0, "")

	c, err := r.Render(d, insights.Descriptor{Kind: insights.KindLine, X: "year", Y: "users"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(c.Data, pngMagic))
}

func TestRenderSingleCategory(t *testing.T) {
	cases := map[string][][]string{
		"numeric x":  {{"1", "1"}},
		"text x":     {{"jan", "3"}},
		"repeated x": {{"jan", "3"}, {"jan", "5"}},
	}
	r := NewRenderer(200, 200, FormatPNG)

	for name, rows := range cases {
		d := &dataset.Dataset{Columns: []string{"x", "y"}, Rows: rows}
		for _, kind := range []insights.Kind{insights.KindBar, insights.KindLine, insights.KindScatter} {
			c, err := r.Render(d, insights.Descriptor{Kind: kind, X: "x", Y: "y"})
			require.NoError(t, err, "%s %s", name, kind)
			assert.True(t, bytes.HasPrefix(c.Data, pngMagic), "%s %s", name, kind)
		}
	}
}

func TestRenderSVGEscapesText(t *testing.T) {
	d := &dataset.Dataset{
		Columns: []string{"a<b", "c&d"},
		Rows:    [][]string{{"x<y", "1"}, {"\"q\"", "2"}},
	}
	r := NewRenderer(320, 240, FormatSVG)

	for _, kind := range []insights.Kind{insights.KindBar, insights.KindLine, insights.KindScatter, insights.KindUnrecognized} {
		c, err := r.Render(d, insights.Descriptor{Kind: kind, Title: "bar a < b & c", X: "a<b", Y: "c&d"})
		require.NoError(t, err, string(kind))
		assert.Equal(t, "bar a < b & c", c.Title)

		dec := xml.NewDecoder(bytes.NewReader(c.Data))
		for {
			_, err := dec.Token()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err, string(kind))
		}
	}
}

func TestRenderWithoutNumericY(t *testing.T) {
	d := &dataset.Dataset{Columns: []string{"name", "city"}, Rows: [][]string{{"ann", "Oslo"}}}
	r := NewRenderer(200, 200, FormatPNG)

	_, err := r.Render(d, insights.Descriptor{Kind: insights.KindBar, X: "name", Y: "city"})
	assert.ErrorIs(t, err, ErrNoNumericData)

	_, err = r.Render(d, insights.Descriptor{Kind: insights.KindUnrecognized, Title: "no keyword", X: "name", Y: "city"})
	assert.NoError(t, err)
}

func TestRenderUnknownColumn(t *testing.T) {
	r := NewRenderer(200, 200, FormatPNG)

	_, err := r.Render(sales(), insights.Descriptor{Kind: insights.KindScatter, X: "month", Y: "profit"})
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestMeanByXKeepsFirstSeenOrder(t *testing.T) {
	labels, means := meanByX(
		[]string{"b", "a", "b", "c"},
		[]string{"1", "4", "3", "x"},
	)

	assert.Equal(t, []string{"b", "a"}, labels)
	assert.Equal(t, []float64{2, 4}, means)
}
