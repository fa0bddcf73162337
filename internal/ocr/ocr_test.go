package ocr

import (
	"image"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"single line", "  HELLO   WORLD \n", "HELLO WORLD"},
		{"latin lines joined with space", "WE CAN\nDO IT\n\nNOW", "WE CAN DO IT NOW"},
		{"hyphenated break", "INCRED-\nIBLE", "INCREDIBLE"},
		{"cjk lines joined directly", "こんにちは\n世界", "こんにちは世界"},
		{"cjk punctuation", "なに\n！？", "なに！？"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestRectPolygon(t *testing.T) {
	p := rectPolygon(image.Rect(10, 20, 30, 50))
	assert.Len(t, p, 4)
	assert.Equal(t, 600.0, p.Area())
}

func TestNewRecognizer(t *testing.T) {
	r := NewRecognizer(nil)
	assert.Equal(t, []string{"eng"}, r.languages)
	assert.Equal(t, gosseract.PSM_SINGLE_BLOCK, r.mode)

	r = NewRecognizer([]string{"jpn_vert", "jpn"})
	assert.Equal(t, gosseract.PSM_SINGLE_BLOCK_VERT_TEXT, r.mode)
}
