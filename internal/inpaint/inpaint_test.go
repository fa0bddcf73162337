package inpaint

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-translator/internal/geometry"
	"comic-translator/internal/types"
)

func TestMaskRects(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	rects := MaskRects(bounds, []geometry.BBox{
		{20, 20, 40, 40},
		{-50, -50, -20, -20}, // off page
		{95, 95, 120, 120},
	}, 10)

	require.Len(t, rects, 2)
	assert.Equal(t, image.Rect(10, 10, 50, 50), rects[0])
	assert.Equal(t, image.Rect(85, 85, 100, 100), rects[1])
}

func page() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	draw.Draw(img, img.Rect, image.White, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(40, 30, 80, 45), image.Black, image.Point{}, draw.Src)
	return img
}

func TestCleanRemovesText(t *testing.T) {
	c := NewCleaner(10)
	out, err := c.Clean(context.Background(), page(), []geometry.BBox{{40, 30, 80, 45}})
	require.NoError(t, err)
	require.Equal(t, 120, out.Rect.Dx())

	// 文字区域被周围的白色填充
	px := out.RGBAAt(60, 37)
	assert.Greater(t, int(px.R), 200)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(2, 2))
}

func TestCleanWithoutBoxesCopiesPage(t *testing.T) {
	src := page()
	out, err := NewCleaner(10).Clean(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, out.Pix)
}

func TestCleanHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := NewCleaner(10).Clean(ctx, page(), []geometry.BBox{{40, 30, 80, 45}})
	if err != nil {
		assert.Equal(t, types.ErrTimeout, types.CodeOf(err))
	}
}
