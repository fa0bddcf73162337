package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"comic-translator/internal/geometry"
)

var (
	ovalFill = color.NRGBA{0, 200, 0, 70}
	rectFill = color.NRGBA{0, 90, 255, 70}
	bboxLine = color.NRGBA{230, 0, 0, 255}
	failLine = color.NRGBA{255, 140, 0, 255}
	labelInk = color.NRGBA{230, 0, 0, 255}
)

// DrawDebug returns a copy of page with each region's polygon shaded by
// shape, its bbox outlined and its index/confidence labelled.
func DrawDebug(page image.Image, regions []*geometry.Region) image.Image {
	dc := gg.NewContextForImage(page)
	origin := page.Bounds().Min

	for _, r := range regions {
		if len(r.Polygon) >= 3 {
			p0 := r.Polygon[0].Sub(origin)
			dc.MoveTo(float64(p0.X), float64(p0.Y))
			for _, pt := range r.Polygon[1:] {
				p := pt.Sub(origin)
				dc.LineTo(float64(p.X), float64(p.Y))
			}
			dc.ClosePath()
			if r.Shape == geometry.ShapeOval {
				dc.SetColor(ovalFill)
			} else {
				dc.SetColor(rectFill)
			}
			dc.Fill()
		}

		x1, y1 := r.BBox.X1()-float64(origin.X), r.BBox.Y1()-float64(origin.Y)
		dc.DrawRectangle(x1, y1, r.BBox.Width(), r.BBox.Height())
		dc.SetLineWidth(2)
		if r.Failed {
			dc.SetColor(failLine)
		} else {
			dc.SetColor(bboxLine)
		}
		dc.Stroke()

		dc.SetColor(labelInk)
		dc.DrawString(fmt.Sprintf("#%d %.2f", r.Index, r.Confidence), x1, y1-3)
	}
	return dc.Image()
}
