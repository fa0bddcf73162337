package vision

import (
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"comic-translator/internal/geometry"
	"comic-translator/internal/types"
)

// borderWidth is the frame sampled to decide text polarity.
const borderWidth = 2

// Profiler infers the visual style of the original text inside a region.
type Profiler struct {
	h types.Heuristics
}

// NewProfiler creates a profiler with the given tunables.
func NewProfiler(h types.Heuristics) *Profiler {
	return &Profiler{h: h}
}

// Profile measures ink color, background color, boldness and font size from
// the original pixels of bbox. When the crop is degenerate it returns the
// default profile together with a STYLE_EXTRACTION_FAILURE error; callers
// are expected to keep the default and carry on.
func (p *Profiler) Profile(img gocv.Mat, bbox geometry.BBox) (geometry.StyleProfile, error) {
	cropped, rect, ok := crop(img, bbox.Rect().Canon(), 2)
	if !ok {
		return geometry.DefaultStyle(p.h.DefaultFontSize),
			types.NewAppErrorWithDetails(types.ErrStyleExtraction, "degenerate crop", rect.String(), nil)
	}
	defer cropped.Close()

	gray := toGray(cropped)
	defer gray.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	w, h := rect.Dx(), rect.Dy()
	grayPix := gray.ToBytes()
	border := medianByte(borderPixels(grayPix, w, h, borderWidth))
	inverted := float64(border) < p.h.PolarityCutoff
	bgrPix := cropped.ToBytes()

	// Otsu has nothing to split on a flat crop.
	if lo, hi := grayRange(grayPix); float64(hi)-float64(lo) < p.h.MinContrast {
		style := geometry.DefaultStyle(p.h.DefaultFontSize)
		style.IsInverted = inverted
		style.BackgroundColor = centralMedian(bgrPix, w, h)
		if float64(border) < p.h.DarkBorderCutoff {
			style.InkColor = geometry.White
		}
		return style, nil
	}

	// text pixels are 255 in mask
	mask := binary
	if !inverted {
		mask = gocv.NewMat()
		defer mask.Close()
		gocv.BitwiseNot(binary, &mask)
	}
	maskPix := mask.ToBytes()

	var inkPix [][3]byte
	for i, m := range maskPix {
		if m != 0 {
			inkPix = append(inkPix, [3]byte{bgrPix[i*3], bgrPix[i*3+1], bgrPix[i*3+2]})
		}
	}
	density := float64(len(inkPix)) / float64(w*h)

	style := geometry.StyleProfile{
		IsInverted:      inverted,
		IsBold:          density > p.h.BoldDensity,
		Density:         density,
		BackgroundColor: centralMedian(bgrPix, w, h),
	}

	switch {
	case len(inkPix) < p.h.MinInkPixels && float64(border) < p.h.DarkBorderCutoff:
		style.InkColor = geometry.White
	case len(inkPix) < p.h.MinInkPixels:
		style.InkColor = geometry.Black
	default:
		style.InkColor = inkColor(inkPix)
	}

	style.EstimatedFontSize = p.fontSize(mask, h)
	return style, nil
}

// ProfileImage is Profile for an image.Image page.
func (p *Profiler) ProfileImage(img image.Image, bbox geometry.BBox) (geometry.StyleProfile, error) {
	mat, err := FromImage(img)
	if err != nil {
		return geometry.DefaultStyle(p.h.DefaultFontSize),
			types.NewAppError(types.ErrStyleExtraction, "failed to convert page", err)
	}
	defer mat.Close()
	return p.Profile(mat, bbox)
}

// fontSize estimates the original glyph size from connected component
// heights. Specks, hairlines and components spanning most of the crop
// (frames, bubble tails) are ignored.
func (p *Profiler) fontSize(mask gocv.Mat, cropHeight int) int {
	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()
	gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)

	var heights []float64
	for i := 1; i < stats.Rows(); i++ {
		ch := int(stats.GetIntAt(i, int(gocv.CCStatHeight)))
		cw := int(stats.GetIntAt(i, int(gocv.CCStatWidth)))
		if ch < 4 || cw < 2 || float64(ch) > 0.9*float64(cropHeight) {
			continue
		}
		heights = append(heights, float64(ch))
	}
	return EstimateFontSize(heights, p.h)
}

// EstimateFontSize converts glyph heights into a font size:
// median height over the cap-height ratio, rounded, never below MinFontSize.
func EstimateFontSize(heights []float64, h types.Heuristics) int {
	if len(heights) == 0 {
		return h.DefaultFontSize
	}
	size := int(math.Round(median(heights) / h.CapHeightRatio))
	return max(size, h.MinFontSize)
}

// inkColor clusters the text pixels into one center with k-means, then
// re-centers on the nearest half so anti-aliased edge pixels do not pull the
// color toward the background.
func inkColor(pix [][3]byte) geometry.RGB {
	samples := gocv.NewMatWithSize(len(pix), 3, gocv.MatTypeCV32F)
	defer samples.Close()
	for i, p := range pix {
		for c := 0; c < 3; c++ {
			samples.SetFloatAt(i, c, float32(p[c]))
		}
	}

	labels := gocv.NewMat()
	defer labels.Close()
	centers := gocv.NewMat()
	defer centers.Close()
	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 10, 1.0)
	gocv.KMeans(samples, 1, &labels, criteria, 1, gocv.KMeansPPCenters, &centers)

	center := [3]float64{
		float64(centers.GetFloatAt(0, 0)),
		float64(centers.GetFloatAt(0, 1)),
		float64(centers.GetFloatAt(0, 2)),
	}
	center = trimmedCenter(pix, center)
	return geometry.RGB{R: clampByte(center[2]), G: clampByte(center[1]), B: clampByte(center[0])}
}

// trimmedCenter averages the half of pix closest to center.
func trimmedCenter(pix [][3]byte, center [3]float64) [3]float64 {
	type scored struct {
		d float64
		i int
	}
	ds := make([]scored, len(pix))
	for i, p := range pix {
		var d float64
		for c := 0; c < 3; c++ {
			diff := float64(p[c]) - center[c]
			d += diff * diff
		}
		ds[i] = scored{d, i}
	}
	sort.SliceStable(ds, func(a, b int) bool { return ds[a].d < ds[b].d })

	keep := max(1, len(ds)/2)
	var sum [3]float64
	for _, s := range ds[:keep] {
		for c := 0; c < 3; c++ {
			sum[c] += float64(pix[s.i][c])
		}
	}
	for c := 0; c < 3; c++ {
		sum[c] /= float64(keep)
	}
	return sum
}

// centralMedian is the per-channel median of the middle half of a BGR crop.
func centralMedian(bgr []byte, w, h int) geometry.RGB {
	x0, y0 := w/4, h/4
	x1, y1 := x0+max(1, w/2), y0+max(1, h/2)

	var ch [3][]byte
	for y := y0; y < y1 && y < h; y++ {
		for x := x0; x < x1 && x < w; x++ {
			i := (y*w + x) * 3
			ch[0] = append(ch[0], bgr[i])
			ch[1] = append(ch[1], bgr[i+1])
			ch[2] = append(ch[2], bgr[i+2])
		}
	}
	return geometry.RGB{R: medianByte(ch[2]), G: medianByte(ch[1]), B: medianByte(ch[0])}
}

// borderPixels returns the frame of width bw around a w×h single-channel image.
func borderPixels(pix []byte, w, h, bw int) []byte {
	bw = min(bw, w/2, h/2)
	if bw == 0 {
		return pix
	}
	var out []byte
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < bw || x >= w-bw || y < bw || y >= h-bw {
				out = append(out, pix[y*w+x])
			}
		}
	}
	return out
}

func medianByte(v []byte) byte {
	if len(v) == 0 {
		return 0
	}
	s := append([]byte(nil), v...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return byte((int(s[n/2-1]) + int(s[n/2]) + 1) / 2)
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func clampByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
