package pipeline

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"comic-translator/internal/detector"
	"comic-translator/internal/fonts"
	"comic-translator/internal/geometry"
	"comic-translator/internal/inpaint"
	"comic-translator/internal/ocr"
	"comic-translator/internal/translator"
	"comic-translator/internal/types"
)

// Detector finds bubble candidates on a page.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]geometry.Detection, error)
}

// Recognizer reads the text inside one region crop.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (ocr.Result, error)
}

// Translator translates the texts of a page in one call. Results line up
// with the input.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string) ([]translator.Translation, error)
}

// Cleaner removes the original lettering under the given boxes.
type Cleaner interface {
	Clean(ctx context.Context, img image.Image, boxes []geometry.BBox) (*image.RGBA, error)
}

// FontSource resolves logical font names for measuring and drawing.
type FontSource interface {
	Resolve(name string) (*truetype.Font, string, error)
	Face(name string, size float64) (font.Face, string, error)
}

var (
	_ Detector   = (*detector.BubbleDetector)(nil)
	_ Recognizer = (*ocr.Recognizer)(nil)
	_ Translator = (*translator.Translator)(nil)
	_ Cleaner    = (*inpaint.Cleaner)(nil)
	_ FontSource = (*fonts.Resolver)(nil)
)

// callWithTimeout runs fn under a deadline of d. d <= 0 means no deadline
// beyond ctx.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func isTimeout(err error) bool {
	return types.CodeOf(err) == types.ErrTimeout || errors.Is(err, context.DeadlineExceeded)
}
