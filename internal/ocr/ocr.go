// Package ocr wraps the Tesseract OCR engine via gosseract to read the text
// inside detected bubbles. Tesseract and the requested traineddata files must
// be installed on the system.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"unicode"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/text/unicode/norm"

	"comic-translator/internal/geometry"
	"comic-translator/internal/logger"
	"comic-translator/internal/types"
)

// Result is the text read from one region.
type Result struct {
	Text         string             `json:"text"`
	WordPolygons []geometry.Polygon `json:"word_polygons,omitempty"`
}

// Recognizer runs Tesseract over region crops. A fresh gosseract client is
// created per call since clients are not safe for concurrent use.
type Recognizer struct {
	languages []string
	mode      gosseract.PageSegMode
}

// NewRecognizer creates a recognizer for the given Tesseract languages
// (e.g. "jpn", "eng"). Empty means "eng".
func NewRecognizer(languages []string) *Recognizer {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	mode := gosseract.PSM_SINGLE_BLOCK
	for _, l := range languages {
		if strings.HasSuffix(l, "_vert") {
			mode = gosseract.PSM_SINGLE_BLOCK_VERT_TEXT
			break
		}
	}
	return &Recognizer{languages: languages, mode: mode}
}

// Recognize reads the text of img. The blocking Tesseract call runs in its
// own goroutine so ctx can abandon it.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) (Result, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, types.NewAppError(types.ErrOCR, "编码 OCR 图像失败", err)
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.run(buf.Bytes(), img.Bounds().Min)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, types.NewAppError(types.ErrTimeout, "OCR 超时", ctx.Err())
	}
}

func (r *Recognizer) run(data []byte, origin image.Point) (Result, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.languages...); err != nil {
		return Result{}, types.NewAppError(types.ErrOCR, "设置 OCR 语言失败", err)
	}
	if err := client.SetPageSegMode(r.mode); err != nil {
		return Result{}, types.NewAppError(types.ErrOCR, "设置 OCR 分割模式失败", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return Result{}, types.NewAppError(types.ErrOCR, "failed to set image", err)
	}

	text, err := client.Text()
	if err != nil {
		return Result{}, types.NewAppError(types.ErrOCR, "OCR failed", err)
	}

	var polys []geometry.Polygon
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		logger.Warn("word boxes unavailable", logger.Err(err))
	}
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		polys = append(polys, rectPolygon(b.Box.Add(origin)))
	}

	return Result{Text: CleanText(text), WordPolygons: polys}, nil
}

func rectPolygon(r image.Rectangle) geometry.Polygon {
	return geometry.Polygon{
		{X: r.Min.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Max.Y},
		{X: r.Min.X, Y: r.Max.Y},
	}
}

// CleanText joins the lines Tesseract breaks a bubble into. Lines of CJK
// text are concatenated directly, others with a single space. Hyphenated
// line ends are rejoined.
func CleanText(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			prev := b.String()
			last := lastRune(prev)
			switch {
			case last == '-' && len(prev) > 1:
				trimmed := strings.TrimSuffix(prev, "-")
				b.Reset()
				b.WriteString(trimmed)
			case isCJK(last) || isCJK(firstRune(line)):
			default:
				b.WriteByte(' ')
			}
		}
		b.WriteString(line)
	}
	return b.String()
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) ||
		(r >= 0x3000 && r <= 0x303f) || (r >= 0xff00 && r <= 0xffef)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	rs := []rune(s)
	if len(rs) == 0 {
		return 0
	}
	return rs[len(rs)-1]
}

// Version reports the linked Tesseract version.
func Version() string {
	return fmt.Sprintf("tesseract %s", gosseract.Version())
}
