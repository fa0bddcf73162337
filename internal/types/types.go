// Package types defines core data types and enums for the comic translator application.
package types

// Config 应用配置
type Config struct {
	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"` // OpenAI 兼容 API 的 Base URL
	OpenAIModel   string `json:"openai_model"`
	TargetLang    string `json:"target_lang"` // 目标语言，例如 "English"
	WorkDirectory string `json:"work_directory"`
	Concurrency   int    `json:"concurrency"` // 页面并发数，0 表示 min(4, CPU-1)

	// 检测模型
	DetectorModelPath string  `json:"detector_model_path"` // YOLO ONNX 模型路径
	OnnxRuntimeLib    string  `json:"onnxruntime_lib"`     // onnxruntime 动态库路径
	DetectorInputSize int     `json:"detector_input_size"` // 默认 640
	DetectorConf      float64 `json:"detector_conf"`       // 置信度阈值，默认 0.20
	DetectorIoU       float64 `json:"detector_iou"`        // NMS 阈值，默认 0.45

	// OCR
	OCRLanguages []string `json:"ocr_languages"` // tesseract 语言，例如 ["jpn"]

	// 字体
	FontDirectory   string            `json:"font_directory"`
	CategoryFonts   map[string]string `json:"category_fonts"`   // 类别 -> 字体文件名 (dialogue/sfx/narrator)
	GenericFontPath string            `json:"generic_font_path"` // 为空时使用内置 Go Regular

	// 处理
	MaxImageDimension   int `json:"max_image_dimension"`    // 超过则缩放，默认 2500
	InpaintPadding      int `json:"inpaint_padding"`        // 默认 10
	RegionTimeoutSecond int `json:"region_timeout_seconds"` // 单个区域协作调用超时
	PageTimeoutSecond   int `json:"page_timeout_seconds"`   // 检测/修复等整页调用超时
	TranslateRetries    int `json:"translate_retries"`

	Heuristics Heuristics `json:"heuristics"`
}

// Heuristics 几何与排版的可调参数
type Heuristics struct {
	// 轮廓提取
	ContourMinRatio float64 `json:"contour_min_ratio"` // 0.15
	ContourMaxRatio float64 `json:"contour_max_ratio"` // 0.98
	ApproxEpsilon   float64 `json:"approx_epsilon"`    // 0.002 × 周长
	MinContrast     float64 `json:"min_contrast"`      // 10

	// 风格分析
	PolarityCutoff   float64 `json:"polarity_cutoff"`   // 100
	BoldDensity      float64 `json:"bold_density"`      // 0.30
	DarkBorderCutoff float64 `json:"dark_border_cutoff"` // 50
	MinInkPixels     int     `json:"min_ink_pixels"`     // 10
	CapHeightRatio   float64 `json:"cap_height_ratio"`   // 0.7
	MinFontSize      int     `json:"min_font_size"`      // 10
	DefaultFontSize  int     `json:"default_font_size"`  // 20

	// 形状分类
	RectangleRatio float64 `json:"rectangle_ratio"` // 0.80

	// 排版
	StartSizeFactor float64 `json:"start_size_factor"` // 0.9
	FloorFontSize   int     `json:"floor_font_size"`   // 8
	SizeStep        int     `json:"size_step"`         // 2
	LeadingFactor   float64 `json:"leading_factor"`    // 0.2
	RectMargin      float64 `json:"rect_margin"`       // 3
	OvalInset       float64 `json:"oval_inset"`        // 0.85
	OvalMaxLines    int     `json:"oval_max_lines"`    // 20
	MinLineBudget   float64 `json:"min_line_budget"`   // 10
	FallbackWidth   float64 `json:"fallback_width"`    // 0.8

	// 合成
	PatchPadding float64 `json:"patch_padding"` // 2
	PatchAlpha   uint8   `json:"patch_alpha"`   // 245
	MinRegionDim float64 `json:"min_region_dim"` // 10

	// 字体匹配
	ShoutDensity     float64 `json:"shout_density"`      // 0.45
	BoldShoutDensity float64 `json:"bold_shout_density"` // 0.35
}

// DefaultHeuristics 返回默认参数
func DefaultHeuristics() Heuristics {
	return Heuristics{
		ContourMinRatio:  0.15,
		ContourMaxRatio:  0.98,
		ApproxEpsilon:    0.002,
		MinContrast:      10,
		PolarityCutoff:   100,
		BoldDensity:      0.30,
		DarkBorderCutoff: 50,
		MinInkPixels:     10,
		CapHeightRatio:   0.7,
		MinFontSize:      10,
		DefaultFontSize:  20,
		RectangleRatio:   0.80,
		StartSizeFactor:  0.9,
		FloorFontSize:    8,
		SizeStep:         2,
		LeadingFactor:    0.2,
		RectMargin:       3,
		OvalInset:        0.85,
		OvalMaxLines:     20,
		MinLineBudget:    10,
		FallbackWidth:    0.8,
		PatchPadding:     2,
		PatchAlpha:       245,
		MinRegionDim:     10,
		ShoutDensity:     0.45,
		BoldShoutDensity: 0.35,
	}
}

// ProcessMode 处理模式
type ProcessMode string

const (
	ModeFull      ProcessMode = "full"       // 检测 + OCR + 翻译 + 修复 + 排版
	ModeCleanOnly ProcessMode = "clean_only" // 只检测和修复
)

// ProcessPhase 处理阶段枚举
type ProcessPhase string

const (
	PhaseIdle        ProcessPhase = "idle"
	PhaseDetecting   ProcessPhase = "detecting"
	PhaseAnalyzing   ProcessPhase = "analyzing"
	PhaseRecognizing ProcessPhase = "recognizing"
	PhaseTranslating ProcessPhase = "translating"
	PhaseCleaning    ProcessPhase = "cleaning"
	PhaseRendering   ProcessPhase = "rendering"
	PhaseComplete    ProcessPhase = "complete"
	PhaseError       ProcessPhase = "error"
)

// Status 处理状态
type Status struct {
	Phase    ProcessPhase `json:"phase"`
	Progress int          `json:"progress"` // 0-100
	Message  string       `json:"message"`
	Error    string       `json:"error,omitempty"`
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrGeometry        ErrorCode = "GEOMETRY_ERROR"
	ErrFitFailure      ErrorCode = "FIT_FAILURE"
	ErrStyleExtraction ErrorCode = "STYLE_EXTRACTION_FAILURE"
	ErrAssetResolution ErrorCode = "ASSET_RESOLUTION_FAILURE"
	ErrDetection       ErrorCode = "DETECTION_ERROR"
	ErrOCR             ErrorCode = "OCR_ERROR"
	ErrTranslation     ErrorCode = "TRANSLATION_ERROR"
	ErrInpaint         ErrorCode = "INPAINT_ERROR"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	ErrInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrConfig          ErrorCode = "CONFIG_ERROR"
	ErrInternal        ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// CodeOf 返回错误链中第一个 AppError 的错误码，没有则返回空字符串
func CodeOf(err error) ErrorCode {
	for err != nil {
		if ae, ok := err.(*AppError); ok {
			return ae.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
