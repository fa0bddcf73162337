// Package config provides configuration management for the comic translator application.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"comic-translator/internal/logger"
	"comic-translator/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "comic-translator-config.json"
	// EnvOpenAIAPIKey is the environment variable name for OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable name for OpenAI base URL
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// EnvOnnxRuntimeLib points at the onnxruntime shared library
	EnvOnnxRuntimeLib = "ONNXRUNTIME_LIB"
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the default OpenAI model to use
	DefaultModel = "gpt-4o-mini"
	// DefaultTargetLang is the language translations are produced in
	DefaultTargetLang = "English"
	// DefaultMaxImageDimension 超过该尺寸的页面在检测前缩放
	DefaultMaxImageDimension = 2500
	// DefaultInpaintPadding 修复遮罩在检测框四周的扩展像素
	DefaultInpaintPadding = 10
	// DefaultRegionTimeout 单区域协作调用超时（秒）
	DefaultRegionTimeout = 30
	// DefaultPageTimeout 整页协作调用超时（秒）
	DefaultPageTimeout = 120
	// DefaultTranslateRetries 翻译重试次数
	DefaultTranslateRetries = 3
	// DefaultDetectorInputSize YOLO 输入边长
	DefaultDetectorInputSize = 640
	// DefaultDetectorConf 检测置信度阈值
	DefaultDetectorConf = 0.20
	// DefaultDetectorIoU NMS IoU 阈值
	DefaultDetectorIoU = 0.45
	// MaxDefaultConcurrency 默认页面并发上限
	MaxDefaultConcurrency = 4
)

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// If configPath is empty, it uses the default path in user's home directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "comic-translator", DefaultConfigFileName)
	}

	logger.Info("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
	}, nil
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *types.Config {
	return &types.Config{
		OpenAIBaseURL:       DefaultBaseURL,
		OpenAIModel:         DefaultModel,
		TargetLang:          DefaultTargetLang,
		Concurrency:         DefaultConcurrency(),
		DetectorInputSize:   DefaultDetectorInputSize,
		DetectorConf:        DefaultDetectorConf,
		DetectorIoU:         DefaultDetectorIoU,
		OCRLanguages:        []string{"jpn"},
		CategoryFonts:       DefaultCategoryFonts(),
		MaxImageDimension:   DefaultMaxImageDimension,
		InpaintPadding:      DefaultInpaintPadding,
		RegionTimeoutSecond: DefaultRegionTimeout,
		PageTimeoutSecond:   DefaultPageTimeout,
		TranslateRetries:    DefaultTranslateRetries,
		Heuristics:          types.DefaultHeuristics(),
	}
}

// DefaultCategoryFonts 各类别的默认字体文件
func DefaultCategoryFonts() map[string]string {
	return map[string]string{
		"dialogue": "ComicNeue-Bold.ttf",
		"sfx":      "Bangers-Regular.ttf",
		"narrator": "Roboto-Medium.ttf",
	}
}

// DefaultConcurrency returns min(4, NumCPU-1), at least 1.
func DefaultConcurrency() int {
	n := runtime.NumCPU() - 1
	if n > MaxDefaultConcurrency {
		n = MaxDefaultConcurrency
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Load loads configuration from the config file.
// If the file doesn't exist, it uses default values.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
			m.config = DefaultConfig()
		} else {
			logger.Error("failed to read config file", err, logger.String("path", m.configPath))
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
	} else {
		config := &types.Config{}
		if err := json.Unmarshal(data, config); err != nil {
			logger.Warn("invalid config file format, using defaults", logger.String("path", m.configPath), logger.Err(err))
			m.config = DefaultConfig()
		} else {
			logger.Info("configuration loaded successfully",
				logger.String("path", m.configPath),
				logger.Int("apiKeyLength", len(config.OpenAIAPIKey)),
				logger.String("baseURL", config.OpenAIBaseURL),
				logger.String("model", config.OpenAIModel))
			m.config = config
		}
	}

	ApplyDefaults(m.config)
	return nil
}

// ApplyDefaults fills zero-valued fields of cfg with defaults.
func ApplyDefaults(cfg *types.Config) {
	d := DefaultConfig()
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = d.OpenAIModel
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = d.OpenAIBaseURL
	}
	if cfg.TargetLang == "" {
		cfg.TargetLang = d.TargetLang
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.DetectorInputSize <= 0 {
		cfg.DetectorInputSize = d.DetectorInputSize
	}
	if cfg.DetectorConf <= 0 {
		cfg.DetectorConf = d.DetectorConf
	}
	if cfg.DetectorIoU <= 0 {
		cfg.DetectorIoU = d.DetectorIoU
	}
	if len(cfg.OCRLanguages) == 0 {
		cfg.OCRLanguages = d.OCRLanguages
	}
	if cfg.CategoryFonts == nil {
		cfg.CategoryFonts = d.CategoryFonts
	}
	for k, v := range d.CategoryFonts {
		if cfg.CategoryFonts[k] == "" {
			cfg.CategoryFonts[k] = v
		}
	}
	if cfg.MaxImageDimension <= 0 {
		cfg.MaxImageDimension = d.MaxImageDimension
	}
	if cfg.InpaintPadding <= 0 {
		cfg.InpaintPadding = d.InpaintPadding
	}
	if cfg.RegionTimeoutSecond <= 0 {
		cfg.RegionTimeoutSecond = d.RegionTimeoutSecond
	}
	if cfg.PageTimeoutSecond <= 0 {
		cfg.PageTimeoutSecond = d.PageTimeoutSecond
	}
	if cfg.TranslateRetries <= 0 {
		cfg.TranslateRetries = d.TranslateRetries
	}
	applyHeuristicDefaults(&cfg.Heuristics, d.Heuristics)
}

func applyHeuristicDefaults(h *types.Heuristics, d types.Heuristics) {
	floats := []struct {
		v   *float64
		def float64
	}{
		{&h.ContourMinRatio, d.ContourMinRatio},
		{&h.ContourMaxRatio, d.ContourMaxRatio},
		{&h.ApproxEpsilon, d.ApproxEpsilon},
		{&h.MinContrast, d.MinContrast},
		{&h.PolarityCutoff, d.PolarityCutoff},
		{&h.BoldDensity, d.BoldDensity},
		{&h.DarkBorderCutoff, d.DarkBorderCutoff},
		{&h.CapHeightRatio, d.CapHeightRatio},
		{&h.RectangleRatio, d.RectangleRatio},
		{&h.StartSizeFactor, d.StartSizeFactor},
		{&h.LeadingFactor, d.LeadingFactor},
		{&h.RectMargin, d.RectMargin},
		{&h.OvalInset, d.OvalInset},
		{&h.MinLineBudget, d.MinLineBudget},
		{&h.FallbackWidth, d.FallbackWidth},
		{&h.PatchPadding, d.PatchPadding},
		{&h.MinRegionDim, d.MinRegionDim},
		{&h.ShoutDensity, d.ShoutDensity},
		{&h.BoldShoutDensity, d.BoldShoutDensity},
	}
	for _, f := range floats {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}

	ints := []struct {
		v   *int
		def int
	}{
		{&h.MinInkPixels, d.MinInkPixels},
		{&h.MinFontSize, d.MinFontSize},
		{&h.DefaultFontSize, d.DefaultFontSize},
		{&h.FloorFontSize, d.FloorFontSize},
		{&h.SizeStep, d.SizeStep},
		{&h.OvalMaxLines, d.OvalMaxLines},
	}
	for _, i := range ints {
		if *i.v <= 0 {
			*i.v = i.def
		}
	}

	if h.PatchAlpha == 0 {
		h.PatchAlpha = d.PatchAlpha
	}
}

// Save saves the current configuration to the config file.
func (m *ConfigManager) Save() error {
	logger.Debug("saving configuration", logger.String("path", m.configPath))

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("failed to create config directory", err, logger.String("dir", dir))
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		logger.Error("failed to marshal config", err)
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved successfully", logger.String("path", m.configPath))
	return nil
}

// GetAPIKey returns the OpenAI API key.
// It first checks the config file value, then falls back to the environment variable.
func (m *ConfigManager) GetAPIKey() string {
	if m.config != nil && m.config.OpenAIAPIKey != "" {
		return m.config.OpenAIAPIKey
	}
	return os.Getenv(EnvOpenAIAPIKey)
}

// GetBaseURL returns the OpenAI API base URL.
// An explicit environment value overrides the built-in default but not the file.
func (m *ConfigManager) GetBaseURL() string {
	if m.config != nil && m.config.OpenAIBaseURL != "" && m.config.OpenAIBaseURL != DefaultBaseURL {
		return m.config.OpenAIBaseURL
	}
	if envURL := os.Getenv(EnvOpenAIBaseURL); envURL != "" {
		return envURL
	}
	return DefaultBaseURL
}

// GetOnnxRuntimeLib returns the onnxruntime shared library path, falling back to the environment.
func (m *ConfigManager) GetOnnxRuntimeLib() string {
	if m.config != nil && m.config.OnnxRuntimeLib != "" {
		return m.config.OnnxRuntimeLib
	}
	return os.Getenv(EnvOnnxRuntimeLib)
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return DefaultConfig()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	m.config = config
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// GetModel returns the OpenAI model to use.
func (m *ConfigManager) GetModel() string {
	if m.config != nil && m.config.OpenAIModel != "" {
		return m.config.OpenAIModel
	}
	return DefaultModel
}

// GetWorkDirectory returns the work directory.
func (m *ConfigManager) GetWorkDirectory() string {
	if m.config != nil {
		return m.config.WorkDirectory
	}
	return ""
}

// GetConcurrency returns the page worker count.
func (m *ConfigManager) GetConcurrency() int {
	if m.config != nil && m.config.Concurrency > 0 {
		return m.config.Concurrency
	}
	return DefaultConcurrency()
}

// GetHeuristics returns the geometry and layout tunables.
func (m *ConfigManager) GetHeuristics() types.Heuristics {
	if m.config != nil {
		return m.config.Heuristics
	}
	return types.DefaultHeuristics()
}
