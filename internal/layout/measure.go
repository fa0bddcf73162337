package layout

import (
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"comic-translator/internal/fonts"
)

// Measurer reports rendered text extents for one font at one size.
type Measurer interface {
	// Width returns the advance width of s in pixels.
	Width(s string) float64
	// Metrics returns the ascent and descent in pixels.
	Metrics() (ascent, descent float64)
	Close() error
}

// MeasurerFactory opens a Measurer for a pixel size.
type MeasurerFactory func(size int) Measurer

// FontMeasurer returns a factory backed by x/image font faces of f.
func FontMeasurer(f *truetype.Font) MeasurerFactory {
	return func(size int) Measurer {
		return &faceMeasurer{face: fonts.NewFace(f, float64(size))}
	}
}

type faceMeasurer struct {
	face font.Face
}

func (m *faceMeasurer) Width(s string) float64 {
	return toFloat(font.MeasureString(m.face, s))
}

func (m *faceMeasurer) Metrics() (float64, float64) {
	met := m.face.Metrics()
	return toFloat(met.Ascent), toFloat(met.Descent)
}

func (m *faceMeasurer) Close() error {
	return m.face.Close()
}

func toFloat(x fixed.Int26_6) float64 {
	return float64(x) / 64
}
