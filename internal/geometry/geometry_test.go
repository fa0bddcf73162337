package geometry

import (
	"encoding/json"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ellipse(cx, cy, a, b float64, n int) Polygon {
	p := make(Polygon, n)
	for i := 0; i < n; i++ {
		t := 2 * math.Pi * float64(i) / float64(n)
		p[i] = image.Pt(int(math.Round(cx+a*math.Cos(t))), int(math.Round(cy+b*math.Sin(t))))
	}
	return p
}

func TestPolygonArea(t *testing.T) {
	tests := []struct {
		name string
		poly Polygon
		want float64
	}{
		{"nil", nil, 0},
		{"two points", Polygon{{0, 0}, {5, 5}}, 0},
		{"square", Polygon{{0, 0}, {10, 0}, {10, 10}, {0, 10}}, 100},
		{"clockwise square", Polygon{{0, 0}, {0, 10}, {10, 10}, {10, 0}}, 100},
		{"triangle", Polygon{{0, 0}, {4, 0}, {0, 3}}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.poly.Area(), 1e-9)
		})
	}
}

func TestBBoxHelpers(t *testing.T) {
	b := NewBBox(10, 20, 110, 70)
	assert.Equal(t, 100.0, b.Width())
	assert.Equal(t, 50.0, b.Height())
	assert.Equal(t, 5000.0, b.Area())
	cx, cy := b.Center()
	assert.Equal(t, 60.0, cx)
	assert.Equal(t, 45.0, cy)

	assert.Equal(t, image.Rect(10, 20, 100, 50), b.Clamp(image.Rect(0, 0, 100, 50)))
	assert.True(t, NewBBox(200, 200, 300, 300).Clamp(image.Rect(0, 0, 100, 100)).Empty())
	assert.Equal(t, 0.0, NewBBox(5, 5, 1, 1).Area())

	assert.InDelta(t, 1.0, b.IoU(b), 1e-9)
	assert.Equal(t, 0.0, b.IoU(NewBBox(500, 500, 600, 600)))
	assert.InDelta(t, 1.0/3.0, NewBBox(0, 0, 10, 10).IoU(NewBBox(5, 0, 15, 10)), 1e-9)
}

func TestClassifier(t *testing.T) {
	c := NewClassifier(0.80)
	bbox := NewBBox(0, 0, 200, 100)

	tests := []struct {
		name string
		poly Polygon
		want ShapeTag
	}{
		{"no polygon", nil, ShapeRectangle},
		{"degenerate", Polygon{{0, 0}, {1, 1}}, ShapeRectangle},
		{"full box", Polygon{{0, 0}, {200, 0}, {200, 100}, {0, 100}}, ShapeRectangle},
		{"inset box", Polygon{{5, 5}, {195, 5}, {195, 95}, {5, 95}}, ShapeRectangle},
		{"ellipse", ellipse(100, 50, 100, 50, 64), ShapeOval},
		{"diamond", Polygon{{100, 0}, {200, 50}, {100, 100}, {0, 50}}, ShapeOval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.poly, bbox))
		})
	}
}

func TestFillRatioWithinUnitInterval(t *testing.T) {
	bbox := NewBBox(0, 0, 120, 80)
	for _, p := range []Polygon{
		ellipse(60, 40, 60, 40, 32),
		{{0, 0}, {120, 0}, {120, 80}, {0, 80}},
		{{10, 10}, {20, 10}, {15, 20}},
	} {
		r := FillRatio(p, bbox)
		assert.Greater(t, r, 0.0)
		assert.LessOrEqual(t, r, 1.0)
	}
}

func TestPolygonJSON(t *testing.T) {
	p := Polygon{{1, 2}, {3, 4}, {5, 6}}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `[[1,2],[3,4],[5,6]]`, string(data))

	var back Polygon
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p, back)

	var none Polygon
	require.NoError(t, json.Unmarshal([]byte("null"), &none))
	assert.Nil(t, none)
}

func TestRGB(t *testing.T) {
	c, err := ParseHex("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, RGB{255, 128, 0}, c)
	assert.Equal(t, "#ff8000", c.Hex())

	assert.InDelta(t, 0, Black.Distance(Black), 1e-9)
	assert.InDelta(t, math.Sqrt(3)*255, Black.Distance(White), 1e-6)
	assert.InDelta(t, 5, RGB{10, 10, 10}.Distance(RGB{13, 14, 10}), 1e-6)
	assert.Less(t, Black.Luma(), White.Luma())
}

func TestRegionClone(t *testing.T) {
	r := &Region{
		Polygon: Polygon{{0, 0}, {1, 0}, {1, 1}},
		Style:   &StyleProfile{EstimatedFontSize: 20},
		Layout:  &LayoutResult{Lines: []string{"a"}, LineWidths: []float64{3}},
	}
	c := r.Clone()
	c.Polygon[0] = image.Pt(9, 9)
	c.Style.EstimatedFontSize = 30
	c.Layout.Lines[0] = "b"

	assert.Equal(t, image.Pt(0, 0), r.Polygon[0])
	assert.Equal(t, 20, r.Style.EstimatedFontSize)
	assert.Equal(t, "a", r.Layout.Lines[0])
}
