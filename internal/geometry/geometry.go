// Package geometry holds the region data model shared by the rendering
// pipeline: bounding boxes, polygons, colors, style profiles, layout results,
// and the shape classifier.
package geometry

import (
	"encoding/json"
	"image"
	"math"
)

// BBox is an axis-aligned box [x1, y1, x2, y2] in page pixel coordinates.
type BBox [4]float64

// NewBBox builds a box from its corner coordinates.
func NewBBox(x1, y1, x2, y2 float64) BBox {
	return BBox{x1, y1, x2, y2}
}

func (b BBox) X1() float64 { return b[0] }
func (b BBox) Y1() float64 { return b[1] }
func (b BBox) X2() float64 { return b[2] }
func (b BBox) Y2() float64 { return b[3] }
func (b BBox) Width() float64 { return b[2] - b[0] }
func (b BBox) Height() float64 { return b[3] - b[1] }
func (b BBox) Area() float64 { return math.Max(0, b.Width()) * math.Max(0, b.Height()) }

func (b BBox) Center() (float64, float64) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// Rect converts the box to integer pixel bounds, truncating like a crop would.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3]))
}

// Clamp intersects the box with bounds. The result may be empty.
func (b BBox) Clamp(bounds image.Rectangle) image.Rectangle {
	return b.Rect().Canon().Intersect(bounds)
}

// Pad grows the box by p pixels on every side.
func (b BBox) Pad(p float64) BBox {
	return BBox{b[0] - p, b[1] - p, b[2] + p, b[3] + p}
}

// Scale multiplies every coordinate by f.
func (b BBox) Scale(f float64) BBox {
	return BBox{b[0] * f, b[1] * f, b[2] * f, b[3] * f}
}

// Translate shifts the box by d.
func (b BBox) Translate(d image.Point) BBox {
	dx, dy := float64(d.X), float64(d.Y)
	return BBox{b[0] + dx, b[1] + dy, b[2] + dx, b[3] + dy}
}

// IoU returns intersection over union of two boxes.
func (b BBox) IoU(o BBox) float64 {
	ix := math.Min(b[2], o[2]) - math.Max(b[0], o[0])
	iy := math.Min(b[3], o[3]) - math.Max(b[1], o[1])
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Rect is a float rectangle recorded for drawn patches.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Polygon is an ordered outline in absolute page coordinates. Nil means none.
type Polygon []image.Point

// Area returns the shoelace area, or 0 for fewer than 3 vertices.
func (p Polygon) Area() float64 {
	if len(p) < 3 {
		return 0
	}
	var sum float64
	for i := range p {
		j := (i + 1) % len(p)
		sum += float64(p[i].X*p[j].Y - p[j].X*p[i].Y)
	}
	return math.Abs(sum) / 2
}

// Bounds returns the bounding rectangle of the vertices.
func (p Polygon) Bounds() image.Rectangle {
	if len(p) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: p[0], Max: p[0]}
	for _, pt := range p[1:] {
		r.Min.X = min(r.Min.X, pt.X)
		r.Min.Y = min(r.Min.Y, pt.Y)
		r.Max.X = max(r.Max.X, pt.X)
		r.Max.Y = max(r.Max.Y, pt.Y)
	}
	return r
}

// Translate returns a copy shifted by d.
func (p Polygon) Translate(d image.Point) Polygon {
	if p == nil {
		return nil
	}
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[i] = pt.Add(d)
	}
	return out
}

// FillRatio returns polygon area divided by bbox area, 0 when either is degenerate.
func FillRatio(p Polygon, b BBox) float64 {
	ba := b.Area()
	if ba <= 0 {
		return 0
	}
	return p.Area() / ba
}

// MarshalJSON encodes the polygon as [[x,y],...].
func (p Polygon) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	pts := make([][2]int, len(p))
	for i, pt := range p {
		pts[i] = [2]int{pt.X, pt.Y}
	}
	return json.Marshal(pts)
}

// UnmarshalJSON decodes [[x,y],...].
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var pts [][2]int
	if err := json.Unmarshal(data, &pts); err != nil {
		return err
	}
	if pts == nil {
		*p = nil
		return nil
	}
	out := make(Polygon, len(pts))
	for i, pt := range pts {
		out[i] = image.Pt(pt[0], pt[1])
	}
	*p = out
	return nil
}
