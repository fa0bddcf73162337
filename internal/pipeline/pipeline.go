// Package pipeline runs a page through detection, region analysis, OCR,
// translation, cleaning, layout and compositing, and replays stored pages
// when a region is edited.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sort"
	"time"

	"comic-translator/internal/detector"
	errs "comic-translator/internal/errors"
	"comic-translator/internal/fonts"
	"comic-translator/internal/geometry"
	"comic-translator/internal/layout"
	"comic-translator/internal/logger"
	"comic-translator/internal/ocr"
	"comic-translator/internal/render"
	"comic-translator/internal/results"
	"comic-translator/internal/translator"
	"comic-translator/internal/types"
	"comic-translator/internal/vision"
)

// ProviderUntranslated tags regions whose translation failed and that show
// the recognized text instead.
const ProviderUntranslated = "untranslated"

// ProviderManual tags regions edited through UpdateRegion.
const ProviderManual = "manual"

// Options 流水线参数
type Options struct {
	Heuristics        types.Heuristics
	RegionTimeout     time.Duration // 单区域 OCR 超时
	PageTimeout       time.Duration // 检测、翻译、修复等整页调用超时
	MaxImageDimension int           // 检测前缩放的最长边
}

// OptionsFromConfig builds Options from the application config.
func OptionsFromConfig(cfg *types.Config) Options {
	return Options{
		Heuristics:        cfg.Heuristics,
		RegionTimeout:     time.Duration(cfg.RegionTimeoutSecond) * time.Second,
		PageTimeout:       time.Duration(cfg.PageTimeoutSecond) * time.Second,
		MaxImageDimension: cfg.MaxImageDimension,
	}
}

// Deps are the collaborators of a Pipeline. Recognizer and Translator may be
// nil when only clean_only pages are processed; Failures may be nil.
type Deps struct {
	Detector   Detector
	Recognizer Recognizer
	Translator Translator
	Cleaner    Cleaner
	Fonts      FontSource
	Store      *results.ResultManager
	Failures   *errs.ErrorManager
}

// Pipeline 页面处理流水线。组件无状态，可被多个 worker 并发使用。
type Pipeline struct {
	opts Options
	deps Deps

	extractor  *vision.Extractor
	profiler   *vision.Profiler
	classifier *geometry.Classifier
	engine     *layout.Engine
	compositor *render.Compositor
}

// PageRequest is one page to process.
type PageRequest struct {
	JobID string
	Path  string
	Mode  types.ProcessMode
}

// ProgressFunc receives phase changes of a page.
type ProgressFunc func(phase types.ProcessPhase, progress int, message string)

// New creates a pipeline.
func New(opts Options, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Detector == nil:
		return nil, types.NewAppError(types.ErrConfig, "detector is required", nil)
	case deps.Cleaner == nil:
		return nil, types.NewAppError(types.ErrConfig, "cleaner is required", nil)
	case deps.Fonts == nil:
		return nil, types.NewAppError(types.ErrConfig, "font source is required", nil)
	case deps.Store == nil:
		return nil, types.NewAppError(types.ErrConfig, "result store is required", nil)
	}

	h := opts.Heuristics
	return &Pipeline{
		opts:       opts,
		deps:       deps,
		extractor:  vision.NewExtractor(h),
		profiler:   vision.NewProfiler(h),
		classifier: geometry.NewClassifier(h.RectangleRatio),
		engine:     layout.NewEngine(h),
		compositor: render.NewCompositor(h, deps.Fonts),
	}, nil
}

// Store returns the result store.
func (p *Pipeline) Store() *results.ResultManager {
	return p.deps.Store
}

// ProcessPage 处理单个页面并保存结果
func (p *Pipeline) ProcessPage(ctx context.Context, req PageRequest, progress ProgressFunc) (*results.PageInfo, error) {
	report := func(phase types.ProcessPhase, pct int, msg string) {
		if progress != nil {
			progress(phase, pct, msg)
		}
	}
	mode := req.Mode
	if mode == "" {
		mode = types.ModeFull
	}
	if mode != types.ModeFull && mode != types.ModeCleanOnly {
		return nil, types.NewAppError(types.ErrInvalidInput, fmt.Sprintf("unknown mode %q", mode), nil)
	}
	if mode == types.ModeFull && (p.deps.Recognizer == nil || p.deps.Translator == nil) {
		return nil, types.NewAppError(types.ErrConfig, "full mode needs OCR and a translator", nil)
	}

	log := logger.With(logger.String("page", req.Path), logger.String("mode", string(mode)))
	info := &results.PageInfo{
		JobID:      req.JobID,
		SourcePath: req.Path,
		Mode:       mode,
		Scale:      1,
		Status:     results.StatusProcessing,
	}

	page, err := LoadImage(req.Path)
	if err != nil {
		return nil, p.fail(info, errs.StageLoad, err)
	}
	if sum, err := results.CalculateFileMD5(req.Path); err == nil {
		info.SourceMD5 = sum
	}
	info.PageID = results.NewPageID(req.Path, info.SourceMD5)

	page, info.Scale = Downscale(page, p.opts.MaxImageDimension)
	if info.Scale != 1 {
		log.Info("page downscaled", logger.Float64("scale", info.Scale))
	}
	info.Width, info.Height = page.Rect.Dx(), page.Rect.Dy()

	report(types.PhaseDetecting, 10, "detecting bubbles")
	info.LastPhase = string(types.PhaseDetecting)
	dets, err := callWithTimeout(ctx, p.opts.PageTimeout, func(ctx context.Context) ([]geometry.Detection, error) {
		return p.deps.Detector.Detect(ctx, page)
	})
	if err != nil {
		return nil, p.fail(info, errs.StageDetection, err)
	}
	regions := BuildRegions(dets, page.Rect)
	log.Info("bubbles detected", logger.Int("regions", len(regions)))

	report(types.PhaseAnalyzing, 25, "analyzing regions")
	info.LastPhase = string(types.PhaseAnalyzing)
	p.analyze(page, regions)
	debug := render.DrawDebug(page, regions)

	if mode == types.ModeFull {
		report(types.PhaseRecognizing, 40, "reading text")
		info.LastPhase = string(types.PhaseRecognizing)
		p.recognize(ctx, page, regions)

		report(types.PhaseTranslating, 60, "translating")
		info.LastPhase = string(types.PhaseTranslating)
		p.translate(ctx, regions)
	}

	report(types.PhaseCleaning, 75, "cleaning text")
	info.LastPhase = string(types.PhaseCleaning)
	clean, err := callWithTimeout(ctx, p.opts.PageTimeout, func(ctx context.Context) (*image.RGBA, error) {
		return p.deps.Cleaner.Clean(ctx, page, bboxes(regions))
	})
	if err != nil {
		return nil, p.fail(info, errs.StageInpaint, err)
	}

	rendered := clean
	if mode == types.ModeFull {
		report(types.PhaseRendering, 90, "rendering text")
		info.LastPhase = string(types.PhaseRendering)
		for _, r := range regions {
			p.layoutRegion(r)
		}
		rendered = p.compositor.RenderPage(clean, regions)
	} else {
		for _, r := range regions {
			r.OriginalText, r.Translation = "", ""
		}
	}
	info.Regions = regions

	for kind, img := range map[results.ImageKind]image.Image{
		results.ImageOriginal: page,
		results.ImageClean:    clean,
		results.ImageRendered: rendered,
		results.ImageDebug:    debug,
	} {
		if _, err := p.deps.Store.SaveImage(info.PageID, kind, img); err != nil {
			return nil, p.fail(info, errs.StageSave, err)
		}
	}

	info.Status = results.StatusComplete
	info.LastPhase = string(types.PhaseComplete)
	info.ProcessedAt = time.Now()
	if err := p.deps.Store.SavePageInfo(info); err != nil {
		return nil, p.fail(info, errs.StageSave, err)
	}
	if p.deps.Failures != nil {
		if err := p.deps.Failures.RemoveError(errs.RecordID(req.Path)); err != nil {
			log.Warn("failed to clear error record", logger.Err(err))
		}
	}

	failed := info.FailedRegions()
	log.Info("page processed",
		logger.String("pageID", info.PageID),
		logger.Int("regions", len(regions)),
		logger.Int("failedRegions", failed))
	report(types.PhaseComplete, 100, fmt.Sprintf("%d regions, %d failed", len(regions), failed))
	return info, nil
}

// fail records a page-level failure and returns err.
func (p *Pipeline) fail(info *results.PageInfo, stage errs.ErrorStage, err error) error {
	logger.Error("page failed", err,
		logger.String("page", info.SourcePath),
		logger.String("stage", string(stage)))

	if p.deps.Failures != nil {
		if rerr := p.deps.Failures.RecordError(info.JobID, info.SourcePath, stage, err); rerr != nil {
			logger.Warn("failed to record page error", logger.Err(rerr))
		}
	}
	if info.PageID != "" {
		info.Status = results.StatusError
		info.ErrorMessage = err.Error()
		info.ProcessedAt = time.Now()
		if serr := p.deps.Store.SavePageInfo(info); serr != nil {
			logger.Warn("failed to save failed page info", logger.Err(serr))
		}
	}
	return err
}

// BuildRegions turns detections into regions in reading order. Boxes are
// clamped to the page; boxes that end up degenerate are kept but marked as
// failed with a geometry error.
func BuildRegions(dets []geometry.Detection, bounds image.Rectangle) []*geometry.Region {
	ordered := detector.ReadingOrder(dets, rowTolerance(dets))
	regions := make([]*geometry.Region, 0, len(ordered))
	for i, d := range ordered {
		b := geometry.BBox{
			max(d.BBox.X1(), float64(bounds.Min.X)),
			max(d.BBox.Y1(), float64(bounds.Min.Y)),
			min(d.BBox.X2(), float64(bounds.Max.X)),
			min(d.BBox.Y2(), float64(bounds.Max.Y)),
		}
		r := &geometry.Region{
			Index:      i,
			BBox:       b,
			Confidence: d.Confidence,
			Shape:      geometry.ShapeRectangle,
		}
		if b.Width() < 3 || b.Height() < 3 {
			logger.Warn("degenerate region skipped",
				logger.Int("region", i),
				logger.Any("bbox", d.BBox))
			r.Fail(string(types.ErrGeometry))
		}
		regions = append(regions, r)
	}
	return regions
}

// rowTolerance is half the median detection height.
func rowTolerance(dets []geometry.Detection) float64 {
	if len(dets) == 0 {
		return 0
	}
	hs := make([]float64, len(dets))
	for i, d := range dets {
		hs[i] = d.BBox.Height()
	}
	sort.Float64s(hs)
	return hs[len(hs)/2] / 2
}

func bboxes(regions []*geometry.Region) []geometry.BBox {
	out := make([]geometry.BBox, 0, len(regions))
	for _, r := range regions {
		if r.Failed && r.FailReason == string(types.ErrGeometry) {
			continue
		}
		out = append(out, r.BBox)
	}
	return out
}

// analyze runs extractor, profiler and classifier on every live region.
func (p *Pipeline) analyze(page *image.RGBA, regions []*geometry.Region) {
	h := p.opts.Heuristics
	mat, err := vision.FromImage(page)
	if err != nil {
		logger.Error("page conversion failed, using default styles", err)
		for _, r := range regions {
			style := geometry.DefaultStyle(h.DefaultFontSize)
			r.Style = &style
			r.Font = fonts.CategoryDialogue
		}
		return
	}
	defer mat.Close()

	for _, r := range regions {
		if r.Failed {
			continue
		}
		r.Polygon = p.extractor.Extract(mat, r.BBox)
		if r.Polygon == nil {
			logger.Debug("no outline found, using bbox", logger.Int("region", r.Index))
		}

		style, err := p.profiler.Profile(mat, r.BBox)
		if err != nil {
			logger.Warn("style extraction failed, using defaults",
				logger.Int("region", r.Index), logger.Err(err))
		}
		r.Style = &style
		r.Shape = p.classifier.Classify(r.Polygon, r.BBox)
		r.Font = fonts.MatchCategory(r.Style, h)
	}
}

// recognize runs OCR on every live region, each under the region timeout.
func (p *Pipeline) recognize(ctx context.Context, page *image.RGBA, regions []*geometry.Region) {
	for _, r := range regions {
		if r.Failed {
			continue
		}
		crop := page.SubImage(r.BBox.Clamp(page.Rect))
		res, err := callWithTimeout(ctx, p.opts.RegionTimeout, func(ctx context.Context) (ocr.Result, error) {
			return p.deps.Recognizer.Recognize(ctx, crop)
		})
		if err != nil {
			if isTimeout(err) {
				logger.Warn("OCR timed out, region skipped", logger.Int("region", r.Index))
				r.Fail(string(types.ErrTimeout))
				continue
			}
			logger.Warn("OCR failed, region left without text",
				logger.Int("region", r.Index), logger.Err(err))
			continue
		}
		r.OriginalText = res.Text
	}
}

// translate sends every region with text to the translator in one batch.
// When translation fails the recognized text is kept so the page still
// renders; a timeout fails the affected regions instead.
func (p *Pipeline) translate(ctx context.Context, regions []*geometry.Region) {
	var pending []*geometry.Region
	var texts []string
	for _, r := range regions {
		if r.Failed || r.OriginalText == "" {
			continue
		}
		pending = append(pending, r)
		texts = append(texts, r.OriginalText)
	}
	if len(pending) == 0 {
		return
	}

	out, err := callWithTimeout(ctx, p.opts.PageTimeout, func(ctx context.Context) ([]translator.Translation, error) {
		return p.deps.Translator.TranslateBatch(ctx, texts)
	})
	if err == nil && len(out) != len(texts) {
		err = types.NewAppError(types.ErrTranslation,
			fmt.Sprintf("translator returned %d results for %d texts", len(out), len(texts)), nil)
	}
	if err != nil {
		timedOut := isTimeout(err)
		logger.Error("translation failed", err, logger.Bool("timeout", timedOut), logger.Int("regions", len(pending)))
		for _, r := range pending {
			if timedOut {
				r.Fail(string(types.ErrTimeout))
				continue
			}
			r.Translation = r.OriginalText
			r.ProviderTag = ProviderUntranslated
		}
		return
	}

	for i, r := range pending {
		r.Translation = out[i].TranslatedText
		r.ProviderTag = out[i].ProviderTag
	}
}

// layoutRegion measures with the region's font and stores a fresh layout.
func (p *Pipeline) layoutRegion(r *geometry.Region) {
	if r.Failed {
		r.Layout = nil
		return
	}
	if r.Font == "" {
		r.Font = fonts.MatchCategory(r.Style, p.opts.Heuristics)
	}
	f, resolved, err := p.deps.Fonts.Resolve(r.Font)
	if err != nil {
		logger.Error("no font available for region", err,
			logger.Int("region", r.Index), logger.String("font", r.Font))
		r.Layout = nil
		r.Fail(string(types.ErrAssetResolution))
		return
	}

	lay := p.engine.Layout(layout.Request{
		Text:    r.Translation,
		BBox:    r.BBox,
		Shape:   r.Shape,
		Style:   r.Style,
		Measure: layout.FontMeasurer(f),
	})
	if lay.Overflow {
		logger.Warn("text does not fit, using overflow layout",
			logger.Int("region", r.Index),
			logger.String("font", resolved),
			logger.Int("lines", len(lay.Lines)))
	}
	r.Layout = &lay
}
