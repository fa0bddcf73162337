// Package render composites laid-out translations onto cleaned page rasters.
package render

import (
	"image"
	"image/draw"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"

	"comic-translator/internal/fonts"
	"comic-translator/internal/geometry"
	"comic-translator/internal/logger"
	"comic-translator/internal/types"
)

const rectCornerRadius = 5

// FaceProvider opens a font face for a logical font name at a pixel size.
type FaceProvider interface {
	Face(name string, size float64) (font.Face, string, error)
}

// Compositor draws background patches and translated lines.
type Compositor struct {
	h     types.Heuristics
	faces FaceProvider
}

// NewCompositor creates a compositor drawing with faces from fp.
func NewCompositor(h types.Heuristics, fp FaceProvider) *Compositor {
	return &Compositor{h: h, faces: fp}
}

// RenderPage draws every laid-out region onto a copy of clean. The clean
// raster is never modified, so rendering the same regions twice gives
// identical output. Each drawn region gets its PatchRect recorded; regions
// left undrawn have it cleared.
func (c *Compositor) RenderPage(clean image.Image, regions []*geometry.Region) *image.RGBA {
	b := clean.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Rect, clean, b.Min, draw.Src)

	dc := gg.NewContextForRGBA(canvas)
	for _, r := range regions {
		r.PatchRect = nil
		if r.Failed || r.Layout == nil || len(r.Layout.Lines) == 0 {
			continue
		}
		face, resolved, err := c.faces.Face(r.Font, float64(r.Layout.FontSize))
		if err != nil {
			logger.Error("font resolution failed, region skipped", err,
				logger.Int("region", r.Index),
				logger.String("font", r.Font))
			r.Fail(string(types.ErrAssetResolution))
			continue
		}
		if resolved != r.Font {
			logger.Debug("region font resolved via fallback",
				logger.Int("region", r.Index),
				logger.String("requested", r.Font),
				logger.String("resolved", resolved))
		}

		patch, ok := c.DrawRegion(dc, r, face)
		face.Close()
		if ok {
			r.PatchRect = &patch
		}
	}
	return canvas
}

// DrawRegion paints one region's patch and text with face. Regions whose
// bbox is narrower or shorter than MinRegionDim are left untouched.
func (c *Compositor) DrawRegion(dc *gg.Context, r *geometry.Region, face font.Face) (geometry.Rect, bool) {
	if r.BBox.Width() < c.h.MinRegionDim || r.BBox.Height() < c.h.MinRegionDim || r.Layout == nil {
		return geometry.Rect{}, false
	}
	lay := r.Layout

	style := geometry.DefaultStyle(0)
	if r.Style != nil {
		style = *r.Style
	}

	patch := c.PatchRect(r.BBox, lay)
	radius := float64(rectCornerRadius)
	if r.Shape == geometry.ShapeOval {
		radius = math.Min(10, patch.H*0.3)
	}

	dc.SetColor(style.BackgroundColor.WithAlpha(c.h.PatchAlpha))
	dc.DrawRoundedRectangle(patch.X, patch.Y, patch.W, patch.H, radius)
	dc.Fill()

	dc.SetFontFace(face)
	dc.SetColor(style.InkColor.RGBA())
	cx, _ := r.BBox.Center()
	top := patch.Y + c.h.PatchPadding
	for i, line := range lay.Lines {
		lineTop := top + float64(i)*(lay.LineHeight+lay.Leading)
		dc.DrawString(line, cx-lay.LineWidths[i]/2, lineTop+lay.Ascent)
	}
	return patch, true
}

// PatchRect is the background patch for a layout: the text block plus
// padding, centered on the bbox center.
func (c *Compositor) PatchRect(bbox geometry.BBox, lay *geometry.LayoutResult) geometry.Rect {
	w := lay.MaxLineWidth() + 2*c.h.PatchPadding
	h := lay.BlockHeight + 2*c.h.PatchPadding
	cx, cy := bbox.Center()
	return geometry.Rect{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

// Composite draws a single region onto a copy of clean.
func (c *Compositor) Composite(clean image.Image, r *geometry.Region) *image.RGBA {
	return c.RenderPage(clean, []*geometry.Region{r})
}

var _ FaceProvider = (*fonts.Resolver)(nil)
