// Package layout searches for the largest font size and line wrap that fit
// a string inside a region's bbox, honoring its shape.
package layout

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"comic-translator/internal/geometry"
	"comic-translator/internal/logger"
	"comic-translator/internal/types"
)

// Request describes one layout problem.
type Request struct {
	Text    string
	BBox    geometry.BBox
	Shape   geometry.ShapeTag
	Style   *geometry.StyleProfile
	Measure MeasurerFactory
}

// Engine runs the size search. It holds only configuration and is safe for
// concurrent use; each call opens its own measurers.
type Engine struct {
	h types.Heuristics
}

// NewEngine creates an engine with the given tunables.
func NewEngine(h types.Heuristics) *Engine {
	if h.SizeStep <= 0 {
		h.SizeStep = 2
	}
	return &Engine{h: h}
}

// Layout tries sizes from the start size down to the floor and returns the
// first configuration that fits. When none fits it wraps at the floor size
// against a fraction of the bbox width and marks the result Overflow.
func (e *Engine) Layout(req Request) geometry.LayoutResult {
	words := splitWords(req.Text)
	if len(words) == 0 {
		return geometry.LayoutResult{Strategy: strategyFor(req.Shape)}
	}

	for size := e.StartSize(req); size >= e.h.FloorFontSize; size -= e.h.SizeStep {
		if res, ok := e.Try(req, words, size); ok {
			return res
		}
	}

	logger.Debug("layout fell back to overflow wrap",
		logger.Int("words", len(words)),
		logger.Float64("bboxW", req.BBox.Width()),
		logger.Float64("bboxH", req.BBox.Height()))
	return e.fallback(req, words)
}

// StartSize is 0.9 of the estimated original size when a style is known,
// otherwise a third of the bbox height.
func (e *Engine) StartSize(req Request) int {
	if req.Style != nil && req.Style.EstimatedFontSize > 0 {
		return int(e.h.StartSizeFactor * float64(req.Style.EstimatedFontSize))
	}
	return int(req.BBox.Height() / 3)
}

// Try evaluates a single font size with the strategy selected by the shape tag.
func (e *Engine) Try(req Request, words []string, size int) (geometry.LayoutResult, bool) {
	m := req.Measure(size)
	defer m.Close()

	if req.Shape == geometry.ShapeOval {
		return e.tryOval(req.BBox, words, size, m)
	}
	return e.tryRect(req.BBox, words, size, m)
}

func (e *Engine) tryRect(bbox geometry.BBox, words []string, size int, m Measurer) (geometry.LayoutResult, bool) {
	usableW := bbox.Width() - 2*e.h.RectMargin
	usableH := bbox.Height() - 2*e.h.RectMargin
	if usableW <= 0 || usableH <= 0 {
		return geometry.LayoutResult{}, false
	}

	lines := greedyWrap(words, usableW, m)
	res := e.result(size, lines, m, geometry.StrategyRectangle)
	if res.BlockHeight > usableH || res.MaxLineWidth() > usableW {
		return geometry.LayoutResult{}, false
	}
	return res, true
}

func (e *Engine) tryOval(bbox geometry.BBox, words []string, size int, m Measurer) (geometry.LayoutResult, bool) {
	a := e.h.OvalInset * bbox.Width() / 2
	b := e.h.OvalInset * bbox.Height() / 2
	if a <= 0 || b <= 0 {
		return geometry.LayoutResult{}, false
	}

	ascent, descent := m.Metrics()
	lineHeight := ascent + descent
	leading := e.h.LeadingFactor * float64(size)
	pitch := lineHeight + leading

	for n := 1; n <= e.h.OvalMaxLines; n++ {
		block := float64(n)*pitch - leading
		if block > 2*b {
			break
		}
		budgets, ok := ovalBudgets(n, block, lineHeight, pitch, a, b, e.h.MinLineBudget)
		if !ok {
			continue
		}
		lines, ok := packBudgets(words, budgets, m)
		if !ok {
			continue
		}
		// 保留 n 行的块高，空行留作底部空白，各行位置与其弦宽预算一致
		res := e.result(size, lines, m, geometry.StrategyOval)
		res.BlockHeight = block
		return res, true
	}
	return geometry.LayoutResult{}, false
}

// ovalBudgets returns the chord width of the inset ellipse at each line's
// vertical midpoint for a block of n lines centered in the ellipse.
func ovalBudgets(n int, block, lineHeight, pitch, a, b, minBudget float64) ([]float64, bool) {
	budgets := make([]float64, n)
	for i := 0; i < n; i++ {
		y := -block/2 + float64(i)*pitch + lineHeight/2
		r := 1 - (y/b)*(y/b)
		if r <= 0 {
			return nil, false
		}
		budgets[i] = 2 * a * math.Sqrt(r)
		if budgets[i] < minBudget {
			return nil, false
		}
	}
	return budgets, true
}

// packBudgets fills lines in order, each up to its own width budget. It fails
// when a word does not fit an empty line or words remain after the last line.
// Lines left empty once the words run out are dropped from the result; the
// caller keeps their vertical space.
func packBudgets(words []string, budgets []float64, m Measurer) ([]string, bool) {
	lines := make([]string, 0, len(budgets))
	wi := 0
	for _, budget := range budgets {
		if wi == len(words) {
			break
		}
		line := words[wi]
		if m.Width(line) > budget {
			return nil, false
		}
		wi++
		for wi < len(words) {
			candidate := line + " " + words[wi]
			if m.Width(candidate) > budget {
				break
			}
			line = candidate
			wi++
		}
		lines = append(lines, line)
	}
	return lines, wi == len(words)
}

// greedyWrap packs words into lines no wider than maxWidth; a word wider
// than maxWidth sits alone on its own line.
func greedyWrap(words []string, maxWidth float64, m Measurer) []string {
	var lines []string
	line := ""
	for _, w := range words {
		if line == "" {
			line = w
			continue
		}
		candidate := line + " " + w
		if m.Width(candidate) <= maxWidth {
			line = candidate
			continue
		}
		lines = append(lines, line)
		line = w
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func (e *Engine) fallback(req Request, words []string) geometry.LayoutResult {
	size := e.h.FloorFontSize
	m := req.Measure(size)
	defer m.Close()

	lines := greedyWrap(words, e.h.FallbackWidth*req.BBox.Width(), m)
	res := e.result(size, lines, m, geometry.StrategyFallback)
	res.Overflow = true
	return res
}

func (e *Engine) result(size int, lines []string, m Measurer, strategy string) geometry.LayoutResult {
	ascent, descent := m.Metrics()
	lineHeight := ascent + descent
	leading := e.h.LeadingFactor * float64(size)

	widths := make([]float64, len(lines))
	for i, l := range lines {
		widths[i] = m.Width(l)
	}

	return geometry.LayoutResult{
		FontSize:    size,
		Lines:       lines,
		LineWidths:  widths,
		LineHeight:  lineHeight,
		Ascent:      ascent,
		Leading:     leading,
		BlockHeight: BlockHeight(len(lines), lineHeight, leading),
		Strategy:    strategy,
	}
}

// BlockHeight is n line heights plus leading between consecutive lines.
func BlockHeight(n int, lineHeight, leading float64) float64 {
	if n == 0 {
		return 0
	}
	return float64(n)*lineHeight + float64(n-1)*leading
}

func splitWords(text string) []string {
	return strings.FieldsFunc(norm.NFC.String(text), unicode.IsSpace)
}

func strategyFor(shape geometry.ShapeTag) string {
	if shape == geometry.ShapeOval {
		return geometry.StrategyOval
	}
	return geometry.StrategyRectangle
}
