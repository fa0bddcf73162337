package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"comic-translator/internal/geometry"
	"comic-translator/internal/logger"
	"comic-translator/internal/types"
)

// Config 检测器配置
type Config struct {
	ModelPath string  // YOLO ONNX 模型路径
	LibPath   string  // onnxruntime 共享库路径，为空时使用系统默认
	InputSize int     // 模型输入尺寸
	Conf      float64 // 置信度阈值
	IoU       float64 // NMS 阈值
}

// BubbleDetector finds speech bubbles on a page with a YOLO ONNX model.
type BubbleDetector struct {
	cfg          Config
	preprocessor *ImagePreprocessor

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	attrs   int
	boxes   int

	// 会话绑定了固定的输入输出张量，同一时刻只允许一次推理
	sem chan struct{}
}

var envOnce struct {
	sync.Once
	err error
}

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envOnce.err = ort.InitializeEnvironment()
	})
	return envOnce.err
}

// NewBubbleDetector 加载模型并创建推理会话
func NewBubbleDetector(cfg Config) (*BubbleDetector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, types.NewAppErrorWithDetails(types.ErrFileNotFound,
			"检测模型文件不存在", cfg.ModelPath, err)
	}

	logger.Info("loading bubble detector",
		logger.String("modelPath", cfg.ModelPath),
		logger.Int("inputSize", cfg.InputSize))

	if err := initEnvironment(cfg.LibPath); err != nil {
		return nil, types.NewAppError(types.ErrConfig, "初始化 onnxruntime 失败", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, types.NewAppError(types.ErrDetection, "读取模型输入输出信息失败", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, types.NewAppError(types.ErrDetection,
			fmt.Sprintf("unexpected model signature: %d inputs, %d outputs", len(inputs), len(outputs)), nil)
	}

	attrs, boxes := outputDims(outputs[0].Dimensions, cfg.InputSize)

	s := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, s, s))
	if err != nil {
		return nil, types.NewAppError(types.ErrDetection, "创建输入张量失败", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(attrs), int64(boxes)))
	if err != nil {
		input.Destroy()
		return nil, types.NewAppError(types.ErrDetection, "创建输出张量失败", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, types.NewAppError(types.ErrDetection, "创建推理会话失败", err)
	}

	logger.Info("bubble detector ready",
		logger.String("input", inputs[0].Name),
		logger.String("output", outputs[0].Name),
		logger.Int("attrs", attrs),
		logger.Int("boxes", boxes))

	return &BubbleDetector{
		cfg:          cfg,
		preprocessor: NewImagePreprocessor(cfg.InputSize),
		session:      session,
		input:        input,
		output:       output,
		attrs:        attrs,
		boxes:        boxes,
		sem:          make(chan struct{}, 1),
	}, nil
}

// outputDims resolves [1, attrs, boxes], filling dynamic dimensions with the
// single-class YOLOv8 defaults for the given input size.
func outputDims(dims ort.Shape, inputSize int) (int, int) {
	attrs, boxes := 5, anchorCount(inputSize)
	if len(dims) == 3 {
		if dims[1] > 0 {
			attrs = int(dims[1])
		}
		if dims[2] > 0 {
			boxes = int(dims[2])
		}
	}
	return attrs, boxes
}

// anchorCount is the number of YOLOv8 grid cells over strides 8, 16 and 32.
func anchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		g := inputSize / stride
		n += g * g
	}
	return n
}

// Detect 检测页面中的气泡，返回页面坐标下的候选框
func (d *BubbleDetector) Detect(ctx context.Context, img image.Image) ([]geometry.Detection, error) {
	data, lb := d.preprocessor.Preprocess(img)

	out, err := inferBounded(ctx, d.sem, func() ([]float32, error) {
		copy(d.input.GetData(), data)
		if err := d.session.Run(); err != nil {
			return nil, types.NewAppError(types.ErrDetection, "模型推理失败", err)
		}
		return append([]float32(nil), d.output.GetData()...), nil
	})
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	dets := Decode(out, d.attrs, d.boxes, lb, b.Dx(), b.Dy(), d.cfg.Conf, d.cfg.IoU)
	for i := range dets {
		dets[i].BBox = dets[i].BBox.Translate(b.Min)
	}
	logger.Debug("bubble detection finished", logger.Int("detections", len(dets)))
	return dets, nil
}

// inferBounded runs infer while holding sem and returns once it finishes or
// ctx ends. sem stays held until infer returns, since the session tensors
// are shared.
func inferBounded(ctx context.Context, sem chan struct{}, infer func() ([]float32, error)) ([]float32, error) {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, types.NewAppError(types.ErrTimeout, "等待检测会话超时", ctx.Err())
	}

	type outcome struct {
		out []float32
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := infer()
		<-sem
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		return nil, types.NewAppError(types.ErrTimeout, "检测推理超时", ctx.Err())
	}
}

// Close 释放推理会话
func (d *BubbleDetector) Close() error {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	if d.output != nil {
		d.output.Destroy()
	}
	return nil
}
