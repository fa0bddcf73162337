package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fogleman/gg"

	"comic-translator/internal/config"
	"comic-translator/internal/detector"
	"comic-translator/internal/errors"
	"comic-translator/internal/fonts"
	"comic-translator/internal/geometry"
	"comic-translator/internal/inpaint"
	"comic-translator/internal/jobs"
	"comic-translator/internal/logger"
	"comic-translator/internal/models"
	"comic-translator/internal/ocr"
	"comic-translator/internal/pipeline"
	"comic-translator/internal/results"
	"comic-translator/internal/translator"
	"comic-translator/internal/types"
)

// StatusCallback is called whenever the processing status changes.
type StatusCallback func(status *types.Status)

// App is the application controller. It wires configuration, the
// collaborator adapters and the page pipeline, and tracks the status of the
// running operation.
type App struct {
	ctx        context.Context
	config     *config.ConfigManager
	detector   *detector.BubbleDetector
	recognizer *ocr.Recognizer
	translator *translator.Translator
	fonts      *fonts.Resolver
	results    *results.ResultManager
	errorMgr   *errors.ErrorManager
	pipeline   *pipeline.Pipeline
	batch      *pipeline.Batch

	// Status tracking
	status         *types.Status
	statusMu       sync.RWMutex
	statusCallback StatusCallback

	// Cancellation support
	cancelFunc context.CancelFunc

	// 正在运行的批量任务
	currentJob string
}

// NewApp creates a new App. Call startup before use.
func NewApp() *App {
	return &App{
		status: &types.Status{Phase: types.PhaseIdle},
	}
}

// NewAppWithConfig creates a new App with a custom config path.
func NewAppWithConfig(configPath string) (*App, error) {
	configMgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return nil, err
	}
	app := NewApp()
	app.config = configMgr
	return app, nil
}

// unavailableDetector stands in when the detection model could not be
// loaded, so stored pages can still be edited and re-rendered.
type unavailableDetector struct {
	err error
}

func (d unavailableDetector) Detect(ctx context.Context, img image.Image) ([]geometry.Detection, error) {
	return nil, types.NewAppError(types.ErrDetection, "bubble detector is not available", d.err)
}

// startup loads the configuration and initializes every module. Only a
// missing result store is fatal; other modules degrade with a warning.
func (a *App) startup(ctx context.Context) error {
	a.ctx = ctx
	logger.Info("application starting up")

	if a.config == nil {
		configMgr, err := config.NewConfigManager("")
		if err != nil {
			return err
		}
		a.config = configMgr
	}
	if err := a.config.Load(); err != nil {
		logger.Warn("failed to load config, using defaults", logger.Err(err))
	}
	cfg := a.config.GetConfig()

	resultMgr, err := results.NewResultManager(a.dataDir("results"))
	if err != nil {
		return err
	}
	a.results = resultMgr
	logger.Debug("result manager initialized", logger.String("baseDir", resultMgr.GetBaseDir()))

	errorMgr, err := errors.NewErrorManager(a.dataDir("errors"))
	if err != nil {
		logger.Warn("failed to initialize error manager", logger.Err(err))
	} else {
		a.errorMgr = errorMgr
	}

	a.fonts = fonts.NewResolver(cfg.FontDirectory, cfg.CategoryFonts, cfg.GenericFontPath)

	var det pipeline.Detector
	modelPath := cfg.DetectorModelPath
	if modelPath == "" {
		modelPath = models.GetModelPath(a.appDir())
	}
	if modelPath, err = models.EnsureModel(modelPath, filepath.Join(a.appDir(), "models")); err == nil {
		a.detector, err = detector.NewBubbleDetector(detector.Config{
			ModelPath: modelPath,
			LibPath:   a.config.GetOnnxRuntimeLib(),
			InputSize: cfg.DetectorInputSize,
			Conf:      cfg.DetectorConf,
			IoU:       cfg.DetectorIoU,
		})
	}
	if err != nil {
		logger.Warn("bubble detector not available, only stored pages can be edited", logger.Err(err))
		det = unavailableDetector{err: err}
	} else {
		det = a.detector
	}

	a.recognizer = ocr.NewRecognizer(cfg.OCRLanguages)
	logger.Debug("OCR initialized",
		logger.String("tesseract", ocr.Version()),
		logger.Any("languages", cfg.OCRLanguages))

	apiKey := a.config.GetAPIKey()
	logger.Info("initializing translator",
		logger.Int("apiKeyLength", len(apiKey)),
		logger.String("model", a.config.GetModel()),
		logger.String("baseURL", a.config.GetBaseURL()))
	tr, err := translator.NewTranslator(ctx, translator.Config{
		APIKey:     apiKey,
		BaseURL:    a.config.GetBaseURL(),
		Model:      a.config.GetModel(),
		TargetLang: cfg.TargetLang,
		MaxRetries: cfg.TranslateRetries,
		CachePath:  filepath.Join(a.appDir(), "translation_cache.json"),
	})
	if err != nil {
		logger.Warn("translator not available, only clean_only mode will work", logger.Err(err))
	} else {
		a.translator = tr
	}

	deps := pipeline.Deps{
		Detector: det,
		Cleaner:  inpaint.NewCleaner(cfg.InpaintPadding),
		Fonts:    a.fonts,
		Store:    a.results,
	}
	// 接口变量不能持有 nil 指针
	deps.Recognizer = a.recognizer
	if a.translator != nil {
		deps.Translator = a.translator
	}
	if a.errorMgr != nil {
		deps.Failures = a.errorMgr
	}

	a.pipeline, err = pipeline.New(pipeline.OptionsFromConfig(cfg), deps)
	if err != nil {
		return err
	}
	a.batch = pipeline.NewBatch(a.pipeline, jobs.NewRegistry(), jobs.NewPool(a.config.GetConcurrency()))

	logger.Info("application startup complete",
		logger.Int("workers", a.config.GetConcurrency()),
		logger.Bool("detector", a.detector != nil),
		logger.Bool("translator", a.translator != nil))
	return nil
}

// shutdown releases the detector session and saves the translation cache.
func (a *App) shutdown(ctx context.Context) {
	logger.Info("application shutting down")

	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			logger.Warn("failed to close detector", logger.Err(err))
		}
	}
	if a.translator != nil {
		if err := a.translator.Cache().Save(); err != nil {
			logger.Warn("failed to save translation cache", logger.Err(err))
		}
	}

	logger.Info("application shutdown complete")
}

// appDir is the configured work directory, or ~/.comic-translator.
func (a *App) appDir() string {
	if workDir := a.config.GetWorkDirectory(); workDir != "" {
		return workDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".comic-translator"
	}
	return filepath.Join(home, ".comic-translator")
}

// dataDir returns a path under the configured work directory, or "" to let
// the store pick its default location.
func (a *App) dataDir(name string) string {
	if a.config.GetWorkDirectory() == "" {
		return ""
	}
	return filepath.Join(a.appDir(), name)
}

// GetConfig returns the config manager.
func (a *App) GetConfig() *config.ConfigManager {
	return a.config
}

// SetStatusCallback sets the callback for status updates.
func (a *App) SetStatusCallback(callback StatusCallback) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.statusCallback = callback
}

// GetStatus returns a copy of the current processing status. While a batch
// job runs this is the job's status.
func (a *App) GetStatus() *types.Status {
	a.statusMu.RLock()
	jobID := a.currentJob
	s := *a.status
	a.statusMu.RUnlock()

	if jobID != "" && a.batch != nil {
		if job, ok := a.batch.Registry().Get(jobID); ok {
			s = job.Status
		}
	}
	return &s
}

// IsProcessing returns true if an operation is in progress.
func (a *App) IsProcessing() bool {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()

	switch a.status.Phase {
	case types.PhaseIdle, types.PhaseComplete, types.PhaseError:
		return false
	default:
		return true
	}
}

func (a *App) updateStatus(phase types.ProcessPhase, progress int, message string) {
	a.statusMu.Lock()
	a.status.Phase = phase
	a.status.Progress = progress
	a.status.Message = message
	a.status.Error = ""
	callback := a.statusCallback
	statusCopy := *a.status
	a.statusMu.Unlock()

	// 在锁外回调，避免死锁
	if callback != nil {
		callback(&statusCopy)
	}
}

func (a *App) updateStatusError(errorMsg string) {
	a.statusMu.Lock()
	a.status.Phase = types.PhaseError
	a.status.Error = errorMsg
	callback := a.statusCallback
	statusCopy := *a.status
	a.statusMu.Unlock()

	if callback != nil {
		callback(&statusCopy)
	}
}

// begin starts a cancellable operation.
func (a *App) begin() (context.Context, error) {
	if a.pipeline == nil {
		return nil, types.NewAppError(types.ErrConfig, "application is not initialized", nil)
	}
	parent := a.ctx
	if parent == nil {
		parent = context.Background()
	}

	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	if a.cancelFunc != nil {
		return nil, types.NewAppError(types.ErrInvalidInput, "another operation is in progress", nil)
	}
	ctx, cancel := context.WithCancel(parent)
	a.cancelFunc = cancel
	return ctx, nil
}

func (a *App) end() {
	a.statusMu.Lock()
	if a.cancelFunc != nil {
		a.cancelFunc()
		a.cancelFunc = nil
	}
	a.statusMu.Unlock()
}

// CancelProcess cancels the running operation.
func (a *App) CancelProcess() error {
	a.statusMu.RLock()
	cancel := a.cancelFunc
	a.statusMu.RUnlock()

	if cancel == nil {
		return types.NewAppError(types.ErrInvalidInput, "no operation in progress", nil)
	}
	cancel()
	logger.Info("operation cancelled")
	return nil
}

// CheckExistingPage reports whether a source file was already processed.
func (a *App) CheckExistingPage(input string) (*results.ExistingPageInfo, error) {
	if a.results == nil {
		return &results.ExistingPageInfo{Message: "结果管理器未初始化"}, nil
	}
	return a.results.CheckExistingPage(input)
}

// ProcessPage processes one page. A page that was already processed
// successfully is returned from the store unless force is set.
func (a *App) ProcessPage(input string, mode types.ProcessMode, force bool) (*results.PageInfo, error) {
	if !force {
		existing, err := a.CheckExistingPage(input)
		if err == nil && existing.IsComplete && existing.PageInfo.Mode == mode {
			logger.Info("page already processed, skipping",
				logger.String("input", input),
				logger.String("pageID", existing.PageInfo.PageID))
			return existing.PageInfo, nil
		}
	}

	ctx, err := a.begin()
	if err != nil {
		return nil, err
	}
	defer a.end()

	info, err := a.pipeline.ProcessPage(ctx, pipeline.PageRequest{Path: input, Mode: mode}, a.updateStatus)
	if err != nil {
		a.updateStatusError(err.Error())
		return nil, err
	}
	return info, nil
}

// ProcessBatch processes every image in the given files and directories on
// the worker pool.
func (a *App) ProcessBatch(inputs []string, mode types.ProcessMode) (jobs.Job, error) {
	pages, err := CollectImages(inputs)
	if err != nil {
		return jobs.Job{}, err
	}
	if len(pages) == 0 {
		return jobs.Job{}, types.NewAppError(types.ErrInvalidInput, "no images found", nil)
	}

	ctx, err := a.begin()
	if err != nil {
		return jobs.Job{}, err
	}
	defer a.end()

	a.updateStatus(types.PhaseDetecting, 0, fmt.Sprintf("processing %d pages", len(pages)))
	jobID := a.batch.Submit(mode, pages)
	a.setCurrentJob(jobID)
	defer a.setCurrentJob("")

	job, err := a.batch.Run(ctx, jobID)
	if err != nil {
		a.updateStatusError(err.Error())
		return job, err
	}
	a.finishJob(job)
	return job, nil
}

// RetryFailed reprocesses every retryable page from the failure registry.
func (a *App) RetryFailed(mode types.ProcessMode) (jobs.Job, error) {
	ctx, err := a.begin()
	if err != nil {
		return jobs.Job{}, err
	}
	defer a.end()

	job, err := a.batch.RetryFailed(ctx, mode)
	if err != nil {
		a.updateStatusError(err.Error())
		return job, err
	}
	a.finishJob(job)
	return job, nil
}

func (a *App) setCurrentJob(id string) {
	a.statusMu.Lock()
	a.currentJob = id
	a.statusMu.Unlock()
}

func (a *App) finishJob(job jobs.Job) {
	if job.Status.Phase == types.PhaseError {
		a.updateStatusError(job.Status.Error)
		return
	}
	a.updateStatus(types.PhaseComplete, 100, job.Status.Message)
}

// GetJob returns a job of this session.
func (a *App) GetJob(jobID string) (jobs.Job, bool) {
	return a.batch.Registry().Get(jobID)
}

// UpdateBubble replaces the text of one region and re-renders its page.
func (a *App) UpdateBubble(pageID string, index int, text, font string) (*results.PageInfo, error) {
	if a.pipeline == nil {
		return nil, types.NewAppError(types.ErrConfig, "application is not initialized", nil)
	}
	return a.pipeline.UpdateRegion(pageID, index, text, font)
}

// RerenderPage renders a stored page again and writes it to outPath, or to
// the page's rendered image when outPath is empty.
func (a *App) RerenderPage(pageID, outPath string) (string, error) {
	if a.pipeline == nil {
		return "", types.NewAppError(types.ErrConfig, "application is not initialized", nil)
	}
	img, _, err := a.pipeline.Rerender(pageID)
	if err != nil {
		return "", err
	}
	if outPath == "" {
		return a.results.SaveImage(pageID, results.ImageRendered, img)
	}
	if err := gg.SavePNG(outPath, img); err != nil {
		return "", types.NewAppError(types.ErrInternal, "failed to save rendered page", err)
	}
	return outPath, nil
}

// ListPages returns all stored pages, newest first.
func (a *App) ListPages() ([]*results.PageInfo, error) {
	if a.results == nil {
		return nil, nil
	}
	return a.results.ListPages()
}

// DeletePage removes a stored page.
func (a *App) DeletePage(pageID string) error {
	if a.results == nil {
		return types.NewAppError(types.ErrConfig, "result manager not initialized", nil)
	}
	return a.results.DeletePage(pageID)
}

// ListErrors returns the failure registry.
func (a *App) ListErrors() []*errors.ErrorRecord {
	if a.errorMgr == nil {
		return nil
	}
	return a.errorMgr.ListErrors()
}

// ExportFailedInputs writes the inputs of all failed pages to path.
func (a *App) ExportFailedInputs(path string) error {
	if a.errorMgr == nil {
		return types.NewAppError(types.ErrConfig, "error manager not initialized", nil)
	}
	return a.errorMgr.ExportInputs(path)
}

// GetResultsDirectory returns the result store directory.
func (a *App) GetResultsDirectory() string {
	if a.results == nil {
		return ""
	}
	return a.results.GetBaseDir()
}

// TestAPIConnection translates a short sample to check the LLM settings.
func (a *App) TestAPIConnection(ctx context.Context) (string, error) {
	if a.translator == nil {
		return "", types.NewAppError(types.ErrConfig, "translator is not configured", nil)
	}
	out, err := a.translator.TranslateBatch(ctx, []string{"こんにちは"})
	if err != nil {
		return "", err
	}
	return out[0].TranslatedText, nil
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// CollectImages expands directories into the images they contain, sorted by
// name. Files are kept as given.
func CollectImages(inputs []string) ([]string, error) {
	var out []string
	for _, in := range inputs {
		st, err := os.Stat(in)
		if err != nil {
			// 交给流水线记录为缺失文件
			out = append(out, in)
			continue
		}
		if !st.IsDir() {
			out = append(out, in)
			continue
		}
		entries, err := os.ReadDir(in)
		if err != nil {
			return nil, types.NewAppError(types.ErrInvalidInput, "failed to read directory", err)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				found = append(found, filepath.Join(in, e.Name()))
			}
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}
