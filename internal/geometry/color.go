package geometry

import (
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// RGB is an 8-bit sRGB color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

var (
	Black = RGB{0, 0, 0}
	White = RGB{255, 255, 255}
)

// RGBA returns an opaque color.RGBA.
func (c RGB) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// WithAlpha returns c as a non-premultiplied color with alpha a.
func (c RGB) WithAlpha(a uint8) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: a}
}

// Hex formats the color as #rrggbb.
func (c RGB) Hex() string {
	return c.colorful().Hex()
}

// Distance is the Euclidean distance in 0..255 RGB space.
func (c RGB) Distance(o RGB) float64 {
	return c.colorful().DistanceRgb(o.colorful()) * 255
}

// Luma returns the Rec.601 luminance on a 0..255 scale.
func (c RGB) Luma() float64 {
	return 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
}

func (c RGB) colorful() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

// ParseHex parses #rrggbb or #rgb.
func ParseHex(s string) (RGB, error) {
	col, err := colorful.Hex(s)
	if err != nil {
		return RGB{}, err
	}
	r, g, b := col.RGB255()
	return RGB{r, g, b}, nil
}

// FromColor converts any color.Color, dropping alpha.
func FromColor(c color.Color) RGB {
	col, ok := colorful.MakeColor(c)
	if !ok {
		return Black
	}
	r, g, b := col.RGB255()
	return RGB{r, g, b}
}
