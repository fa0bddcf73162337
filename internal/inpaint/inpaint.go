// Package inpaint produces the cleaned background of a page by removing the
// original lettering inside detected bubbles.
package inpaint

import (
	"context"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"comic-translator/internal/geometry"
	"comic-translator/internal/logger"
	"comic-translator/internal/types"
	"comic-translator/internal/vision"
)

// DefaultRadius is the Telea neighbourhood radius in pixels.
const DefaultRadius = 3

// Cleaner removes text with OpenCV's Telea inpainting over padded bbox masks.
type Cleaner struct {
	padding int
	radius  float32
}

// NewCleaner creates a cleaner that grows every mask box by padding pixels.
func NewCleaner(padding int) *Cleaner {
	return &Cleaner{padding: padding, radius: DefaultRadius}
}

// MaskRects returns the padded, page-clamped rectangles that will be painted
// into the inpaint mask. Empty rectangles are dropped.
func MaskRects(bounds image.Rectangle, boxes []geometry.BBox, padding int) []image.Rectangle {
	var rects []image.Rectangle
	for _, b := range boxes {
		r := b.Pad(float64(padding)).Clamp(bounds)
		if r.Empty() {
			continue
		}
		rects = append(rects, r)
	}
	return rects
}

// Clean 返回去除气泡文字后的页面。没有可用的掩码时返回原图副本。
func (c *Cleaner) Clean(ctx context.Context, img image.Image, boxes []geometry.BBox) (*image.RGBA, error) {
	b := img.Bounds()
	rects := MaskRects(image.Rect(0, 0, b.Dx(), b.Dy()), translate(boxes, b.Min), c.padding)

	type outcome struct {
		img *image.RGBA
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := c.inpaint(img, rects)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		return o.img, o.err
	case <-ctx.Done():
		return nil, types.NewAppError(types.ErrTimeout, "inpainting timed out", ctx.Err())
	}
}

func translate(boxes []geometry.BBox, origin image.Point) []geometry.BBox {
	if origin == (image.Point{}) {
		return boxes
	}
	out := make([]geometry.BBox, len(boxes))
	for i, b := range boxes {
		out[i] = b.Translate(origin.Mul(-1))
	}
	return out
}

func (c *Cleaner) inpaint(img image.Image, rects []image.Rectangle) (*image.RGBA, error) {
	src, err := vision.FromImage(img)
	if err != nil {
		return nil, types.NewAppError(types.ErrInpaint, "failed to convert page", err)
	}
	defer src.Close()

	if len(rects) == 0 {
		out, err := vision.ToImage(src)
		if err != nil {
			return nil, types.NewAppError(types.ErrInpaint, "failed to convert page", err)
		}
		return out, nil
	}

	mask := gocv.NewMatWithSize(src.Rows(), src.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))
	for _, r := range rects {
		gocv.Rectangle(&mask, r, color.RGBA{255, 255, 255, 255}, -1)
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Inpaint(src, mask, &dst, c.radius, gocv.Telea)

	out, err := vision.ToImage(dst)
	if err != nil {
		return nil, types.NewAppError(types.ErrInpaint, "inpainting produced no output", err)
	}

	logger.Debug("page inpainted", logger.Int("masks", len(rects)))
	return out, nil
}
