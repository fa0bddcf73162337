package pipeline

import (
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"comic-translator/internal/types"
)

// LoadImage decodes a PNG, JPEG or WebP page into an RGBA raster anchored at
// the origin.
func LoadImage(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppErrorWithDetails(types.ErrFileNotFound, "page not found", path, err)
		}
		return nil, types.NewAppError(types.ErrInvalidInput, "failed to open page", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrInvalidInput, "unsupported or corrupt image", path, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, types.NewAppErrorWithDetails(types.ErrInvalidInput, "image is empty", path, nil)
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

// Downscale shrinks img so its longer side is at most maxDim and returns the
// applied scale. Images already within bounds are returned as is with 1.
func Downscale(img *image.RGBA, maxDim int) (*image.RGBA, float64) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if maxDim <= 0 || max(w, h) <= maxDim {
		return img, 1
	}
	scale := float64(maxDim) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))

	out := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(out, out.Rect, img, img.Rect, xdraw.Src, nil)
	return out, scale
}
