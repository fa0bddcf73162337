package detector

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-translator/internal/geometry"
	"comic-translator/internal/types"
)

func TestLetterboxWidePage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1280, 640))
	p := NewImagePreprocessor(640)

	data, lb := p.Preprocess(img)
	require.Len(t, data, 3*640*640)
	assert.InDelta(t, 0.5, lb.Scale, 1e-9)
	assert.Equal(t, 0.0, lb.PadX)
	assert.Equal(t, 160.0, lb.PadY)

	// 上方填充区域为灰色，中间为原图（黑色）
	assert.InDelta(t, 114.0/255, data[0], 1e-6)
	assert.InDelta(t, 0.0, data[320*640+320], 1e-6)
}

func TestTensorChannelOrder(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.RGBA{255, 0, 51, 255})
		}
	}
	data := toTensor(img)
	require.Len(t, data, 12)
	assert.InDelta(t, 1.0, data[0], 1e-6)
	assert.InDelta(t, 0.0, data[4], 1e-6)
	assert.InDelta(t, 0.2, data[8], 1e-6)
}

func TestUnmapClampsToPage(t *testing.T) {
	lb := Letterbox{Scale: 0.5, PadX: 0, PadY: 160, Size: 640}
	got := lb.Unmap(geometry.BBox{-10, 150, 100, 210}, 1280, 640)
	assert.Equal(t, geometry.BBox{0, 0, 200, 100}, got)
}

// column builds a [attrs, boxes] output from per-box rows.
func column(rows [][]float32) []float32 {
	attrs, boxes := len(rows[0]), len(rows)
	out := make([]float32, attrs*boxes)
	for i, r := range rows {
		for a, v := range r {
			out[a*boxes+i] = v
		}
	}
	return out
}

func TestDecode(t *testing.T) {
	lb := Letterbox{Scale: 1, Size: 640}
	out := column([][]float32{
		{100, 100, 50, 40, 0.90},
		{102, 101, 50, 40, 0.60}, // overlaps the first
		{400, 300, 80, 80, 0.30},
		{500, 500, 20, 20, 0.10}, // below threshold
	})

	dets := Decode(out, 5, 4, lb, 640, 640, 0.20, 0.45)
	require.Len(t, dets, 2)
	assert.InDelta(t, 0.90, dets[0].Confidence, 1e-6)
	assert.Equal(t, geometry.BBox{75, 80, 125, 120}, dets[0].BBox)
	assert.InDelta(t, 0.30, dets[1].Confidence, 1e-6)
}

func TestDecodeMultiClassTakesBestScore(t *testing.T) {
	lb := Letterbox{Scale: 1, Size: 640}
	out := column([][]float32{{100, 100, 20, 20, 0.05, 0.70}})
	dets := Decode(out, 6, 1, lb, 640, 640, 0.20, 0.45)
	require.Len(t, dets, 1)
	assert.InDelta(t, 0.70, dets[0].Confidence, 1e-6)
}

func TestDecodeRejectsShortOutput(t *testing.T) {
	assert.Nil(t, Decode([]float32{1, 2, 3}, 5, 10, Letterbox{Scale: 1}, 10, 10, 0.2, 0.45))
	assert.Nil(t, Decode(nil, 4, 0, Letterbox{Scale: 1}, 10, 10, 0.2, 0.45))
}

func TestNMS(t *testing.T) {
	dets := []geometry.Detection{
		{BBox: geometry.BBox{0, 0, 10, 10}, Confidence: 0.5},
		{BBox: geometry.BBox{1, 1, 11, 11}, Confidence: 0.8},
		{BBox: geometry.BBox{50, 50, 60, 60}, Confidence: 0.4},
	}
	kept := NMS(dets, 0.45)
	require.Len(t, kept, 2)
	assert.Equal(t, 0.8, kept[0].Confidence)
	assert.Equal(t, 0.4, kept[1].Confidence)

	// 阈值为 1 时不抑制任何框
	assert.Len(t, NMS(dets, 1), 3)
}

func TestReadingOrder(t *testing.T) {
	dets := []geometry.Detection{
		{BBox: geometry.BBox{0, 0, 50, 50}},
		{BBox: geometry.BBox{100, 5, 150, 55}},
		{BBox: geometry.BBox{60, 200, 110, 250}},
	}
	got := ReadingOrder(dets, 20)
	assert.Equal(t, 100.0, got[0].BBox.X1())
	assert.Equal(t, 0.0, got[1].BBox.X1())
	assert.Equal(t, 60.0, got[2].BBox.X1())
}

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, anchorCount(640))
	attrs, boxes := outputDims(nil, 640)
	assert.Equal(t, 5, attrs)
	assert.Equal(t, 8400, boxes)
}

func TestInferBoundedReturnsOnTimeout(t *testing.T) {
	sem := make(chan struct{}, 1)
	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := inferBounded(ctx, sem, func() ([]float32, error) {
		<-release
		return nil, nil
	})
	assert.Equal(t, types.ErrTimeout, types.CodeOf(err))
	assert.Less(t, time.Since(start), time.Second)

	// 推理结束前会话仍被占用
	assert.Len(t, sem, 1)
	close(release)
	assert.Eventually(t, func() bool { return len(sem) == 0 }, time.Second, 5*time.Millisecond)
}

func TestInferBoundedPassesResult(t *testing.T) {
	sem := make(chan struct{}, 1)
	out, err := inferBounded(context.Background(), sem, func() ([]float32, error) {
		return []float32{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, out)
	assert.Len(t, sem, 0)

	boom := types.NewAppError(types.ErrDetection, "模型推理失败", errors.New("boom"))
	_, err = inferBounded(context.Background(), sem, func() ([]float32, error) { return nil, boom })
	assert.Equal(t, types.ErrDetection, types.CodeOf(err))
}
