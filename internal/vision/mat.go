// Package vision derives region outlines and text styles from page pixels.
// Mats are 8-bit BGR unless noted otherwise.
package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"gocv.io/x/gocv"
)

// FromImage converts img into a BGR Mat. The caller owns the result.
func FromImage(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	if b.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}

	w, h := b.Dx(), b.Dy()
	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			src := row[x*4:]
			dst := data[(y*w+x)*3:]
			dst[0], dst[1], dst[2] = src[2], src[1], src[0]
		}
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
}

// ToImage converts a BGR or single-channel Mat into an RGBA image.
func ToImage(m gocv.Mat) (*image.RGBA, error) {
	if m.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	cont := m
	if !m.IsContinuous() {
		cont = m.Clone()
		defer cont.Close()
	}

	w, h, ch := cont.Cols(), cont.Rows(), cont.Channels()
	if ch != 1 && ch != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", ch)
	}
	data := cont.ToBytes()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		var c color.RGBA
		if ch == 1 {
			v := data[i]
			c = color.RGBA{v, v, v, 255}
		} else {
			c = color.RGBA{data[i*3+2], data[i*3+1], data[i*3], 255}
		}
		out.Pix[i*4], out.Pix[i*4+1], out.Pix[i*4+2], out.Pix[i*4+3] = c.R, c.G, c.B, c.A
	}
	return out, nil
}

// crop returns a continuous copy of the clamped region, or ok=false when the
// clamped region is smaller than minSide in either dimension.
func crop(img gocv.Mat, r image.Rectangle, minSide int) (gocv.Mat, image.Rectangle, bool) {
	r = r.Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if r.Dx() < minSide || r.Dy() < minSide {
		return gocv.Mat{}, r, false
	}
	roi := img.Region(r)
	defer roi.Close()
	return roi.Clone(), r, true
}

func toGray(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if src.Channels() == 1 {
		src.CopyTo(&gray)
		return gray
	}
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	return gray
}
