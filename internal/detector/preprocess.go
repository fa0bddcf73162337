package detector

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"comic-translator/internal/geometry"
	"comic-translator/internal/logger"
)

// padGray is the letterbox fill used by YOLO training pipelines.
var padGray = color.RGBA{114, 114, 114, 255}

// Letterbox records how a page was scaled and padded into the square model input.
type Letterbox struct {
	Scale float64
	PadX  float64
	PadY  float64
	Size  int
}

// ImagePreprocessor turns page images into YOLO input tensors.
type ImagePreprocessor struct {
	targetSize int
}

// NewImagePreprocessor creates a preprocessor for a square input of targetSize.
func NewImagePreprocessor(targetSize int) *ImagePreprocessor {
	return &ImagePreprocessor{targetSize: targetSize}
}

// Preprocess letterboxes img into the model input and returns the tensor in
// CHW layout, RGB order, scaled to [0, 1].
func (p *ImagePreprocessor) Preprocess(img image.Image) ([]float32, Letterbox) {
	padded, lb := p.letterbox(img)
	logger.Debug("preprocessed page for detection",
		logger.Int("originalWidth", img.Bounds().Dx()),
		logger.Int("originalHeight", img.Bounds().Dy()),
		logger.Float64("scale", lb.Scale))
	return toTensor(padded), lb
}

func (p *ImagePreprocessor) letterbox(img image.Image) (*image.RGBA, Letterbox) {
	b := img.Bounds()
	s := p.targetSize
	scale := min(float64(s)/float64(b.Dx()), float64(s)/float64(b.Dy()))
	nw := max(1, int(float64(b.Dx())*scale+0.5))
	nh := max(1, int(float64(b.Dy())*scale+0.5))
	padX := (s - nw) / 2
	padY := (s - nh) / 2

	dst := image.NewRGBA(image.Rect(0, 0, s, s))
	xdraw.Draw(dst, dst.Rect, &image.Uniform{C: padGray}, image.Point{}, xdraw.Src)
	xdraw.BiLinear.Scale(dst, image.Rect(padX, padY, padX+nw, padY+nh), img, b, xdraw.Src, nil)

	return dst, Letterbox{Scale: scale, PadX: float64(padX), PadY: float64(padY), Size: s}
}

func toTensor(img *image.RGBA) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			idx := y*w + x
			data[idx] = float32(row[x*4]) / 255
			data[plane+idx] = float32(row[x*4+1]) / 255
			data[2*plane+idx] = float32(row[x*4+2]) / 255
		}
	}
	return data
}

// Unmap converts a box in model input coordinates back to page coordinates,
// clamped to the page.
func (lb Letterbox) Unmap(b geometry.BBox, pageW, pageH int) geometry.BBox {
	f := func(v, pad float64, limit int) float64 {
		return max(0, min(float64(limit), (v-pad)/lb.Scale))
	}
	return geometry.BBox{
		f(b[0], lb.PadX, pageW),
		f(b[1], lb.PadY, pageH),
		f(b[2], lb.PadX, pageW),
		f(b[3], lb.PadY, pageH),
	}
}
