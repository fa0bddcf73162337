// Batch process comic pages listed in a file: clean or translate, resumable
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"comic-translator/internal/config"
	"comic-translator/internal/detector"
	errs "comic-translator/internal/errors"
	"comic-translator/internal/fonts"
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

func init() {
	logger.Init(&logger.Config{
		LogFilePath:   "batch_process.log",
		Level:         logger.LevelInfo,
		EnableConsole: true,
	})
}

var (
	goodPages []string
	badPages  []string
	listMutex sync.Mutex
)

func readPagesFromFile(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var pages []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			pages = append(pages, line)
		}
	}
	return pages, scanner.Err()
}

func appendToFile(filename string, lines []string) error {
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, line := range lines {
		if _, err := file.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// record appends a finished page to the phase's good or bad list.
func record(phase, page string, ok bool) {
	listMutex.Lock()
	defer listMutex.Unlock()

	name := phase + "_bad.txt"
	if ok {
		goodPages = append(goodPages, page)
		name = phase + "_good.txt"
	} else {
		badPages = append(badPages, page)
	}
	if err := appendToFile(name, []string{page}); err != nil {
		logger.Warn("failed to update progress file", logger.String("file", name), logger.Err(err))
	}
}

// expand replaces directories with the images inside them.
func expand(inputs []string) []string {
	var out []string
	for _, in := range inputs {
		st, err := os.Stat(in)
		if err != nil || !st.IsDir() {
			out = append(out, in)
			continue
		}
		for _, pattern := range []string{"*.png", "*.jpg", "*.jpeg", "*.webp"} {
			matches, _ := filepath.Glob(filepath.Join(in, pattern))
			out = append(out, matches...)
		}
	}
	return out
}

// buildPipeline wires the page pipeline from the user config.
func buildPipeline(ctx context.Context, mode types.ProcessMode) (*pipeline.Pipeline, func(), error) {
	configMgr, err := config.NewConfigManager("")
	if err != nil {
		return nil, nil, err
	}
	if err := configMgr.Load(); err != nil {
		logger.Warn("failed to load config, using defaults", logger.Err(err))
	}
	cfg := configMgr.GetConfig()

	modelPath := cfg.DetectorModelPath
	if modelPath == "" {
		home, _ := os.UserHomeDir()
		modelPath = models.GetModelPath(filepath.Join(home, ".comic-translator"))
	}
	modelPath, err = models.EnsureModel(modelPath, filepath.Join(os.TempDir(), "comic-translator-models"))
	if err != nil {
		return nil, nil, err
	}

	det, err := detector.NewBubbleDetector(detector.Config{
		ModelPath: modelPath,
		LibPath:   configMgr.GetOnnxRuntimeLib(),
		InputSize: cfg.DetectorInputSize,
		Conf:      cfg.DetectorConf,
		IoU:       cfg.DetectorIoU,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := results.NewResultManager("")
	if err != nil {
		det.Close()
		return nil, nil, err
	}
	failures, err := errs.NewErrorManager("")
	if err != nil {
		det.Close()
		return nil, nil, err
	}

	deps := pipeline.Deps{
		Detector: det,
		Cleaner:  inpaint.NewCleaner(cfg.InpaintPadding),
		Fonts:    fonts.NewResolver(cfg.FontDirectory, cfg.CategoryFonts, cfg.GenericFontPath),
		Store:    store,
		Failures: failures,
	}
	if mode == types.ModeFull {
		tr, err := translator.NewTranslator(ctx, translator.Config{
			APIKey:     configMgr.GetAPIKey(),
			BaseURL:    configMgr.GetBaseURL(),
			Model:      configMgr.GetModel(),
			TargetLang: cfg.TargetLang,
			MaxRetries: cfg.TranslateRetries,
			CachePath:  "batch_translation_cache.json",
		})
		if err != nil {
			det.Close()
			return nil, nil, err
		}
		deps.Recognizer = ocr.NewRecognizer(cfg.OCRLanguages)
		deps.Translator = tr
	}

	p, err := pipeline.New(pipeline.OptionsFromConfig(cfg), deps)
	if err != nil {
		det.Close()
		return nil, nil, err
	}
	return p, func() { det.Close() }, nil
}

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: batch_process [clean|translate] <pages.txt> [workers]")
		fmt.Println("  clean     - Detect bubbles and remove their text (clean_only)")
		fmt.Println("  translate - Full pipeline: detect, OCR, translate, render")
		fmt.Println("Progress is kept in <phase>_good.txt and <phase>_bad.txt; finished pages are skipped.")
		os.Exit(1)
	}

	phase := os.Args[1]
	var mode types.ProcessMode
	switch phase {
	case "clean", "1":
		phase, mode = "clean", types.ModeCleanOnly
	case "translate", "2":
		phase, mode = "translate", types.ModeFull
	default:
		fmt.Printf("Unknown phase: %s\n", phase)
		os.Exit(1)
	}

	workers := config.DefaultConcurrency()
	if len(os.Args) > 3 {
		fmt.Sscanf(os.Args[3], "%d", &workers)
	}

	listed, err := readPagesFromFile(os.Args[2])
	if err != nil {
		fmt.Printf("Failed to read %s: %v\n", os.Args[2], err)
		os.Exit(1)
	}
	allPages := expand(listed)

	existingGood, _ := readPagesFromFile(phase + "_good.txt")
	existingBad, _ := readPagesFromFile(phase + "_bad.txt")
	processed := make(map[string]bool)
	for _, p := range append(existingGood, existingBad...) {
		processed[p] = true
	}
	var toProcess []string
	for _, p := range allPages {
		if !processed[p] {
			toProcess = append(toProcess, p)
		}
	}
	fmt.Printf("Total pages: %d, already processed: %d, remaining: %d\n",
		len(allPages), len(allPages)-len(toProcess), len(toProcess))
	if len(toProcess) == 0 {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, closeFn, err := buildPipeline(ctx, mode)
	if err != nil {
		fmt.Printf("Failed to initialize pipeline: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	start := time.Now()
	pool := jobs.NewPool(workers)
	pool.Run(ctx, len(toProcess), func(ctx context.Context, i int) error {
		page := toProcess[i]
		info, err := p.ProcessPage(ctx, pipeline.PageRequest{JobID: "batch_" + phase, Path: page, Mode: mode}, nil)
		if err != nil {
			fmt.Printf("  ✗ %s: %v\n", page, err)
			record(phase, page, false)
			return err
		}
		fmt.Printf("  ✓ %s (%d bubbles, %d failed)\n", page, len(info.Regions), info.FailedRegions())
		record(phase, page, true)
		return nil
	})

	fmt.Printf("\n=== %s finished in %s ===\n", phase, time.Since(start).Round(time.Second))
	fmt.Printf("Success: %d, Failed: %d\n", len(goodPages), len(badPages))
	fmt.Printf("Results: %s\n", p.Store().GetBaseDir())
}
