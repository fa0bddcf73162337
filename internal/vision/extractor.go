package vision

import (
	"image"

	"gocv.io/x/gocv"

	"comic-translator/internal/geometry"
	"comic-translator/internal/logger"
	"comic-translator/internal/types"
)

// Extractor recovers a bubble outline from the pixels inside a detection box.
type Extractor struct {
	h types.Heuristics
}

// NewExtractor creates an extractor with the given tunables.
func NewExtractor(h types.Heuristics) *Extractor {
	return &Extractor{h: h}
}

type contour struct {
	points []image.Point
	area   float64
}

// Extract returns the outline of the bubble inside bbox in page coordinates,
// or nil when the crop is degenerate, featureless, or yields no usable contour.
//
// Both polarities are tried: bright bubbles on darker art (light mask) and
// dark panels on lighter art (dark mask). A mask counts when its largest
// contour covers between ContourMinRatio and ContourMaxRatio of the crop.
func (x *Extractor) Extract(img gocv.Mat, bbox geometry.BBox) geometry.Polygon {
	cropped, rect, ok := crop(img, bbox.Rect().Canon(), 3)
	if !ok {
		logger.Debug("extractor: degenerate crop", logger.Any("bbox", bbox))
		return nil
	}
	defer cropped.Close()

	gray := toGray(cropped)
	defer gray.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	lo, hi := grayRange(blurred.ToBytes())
	if float64(hi)-float64(lo) < x.h.MinContrast {
		return nil
	}

	light := gocv.NewMat()
	defer light.Close()
	gocv.Threshold(blurred, &light, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(blurred, &dark, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	cropArea := float64(rect.Dx() * rect.Dy())
	chosen, ok := x.choose(largestContour(light), largestContour(dark), cropArea)
	if !ok {
		return nil
	}

	poly := geometry.Polygon(simplify(chosen.points, x.h.ApproxEpsilon)).Translate(rect.Min)
	if len(poly) < 3 || poly.Area() <= 0 {
		return nil
	}
	return poly
}

// ExtractImage is Extract for an image.Image page.
func (x *Extractor) ExtractImage(img image.Image, bbox geometry.BBox) (geometry.Polygon, error) {
	mat, err := FromImage(img)
	if err != nil {
		return nil, types.NewAppError(types.ErrGeometry, "failed to convert page", err)
	}
	defer mat.Close()
	return x.Extract(mat, bbox), nil
}

// choose applies the mask decision: a single valid mask wins, two valid masks
// go to the larger contour, and with none valid the light contour is used if
// it exists at all.
func (x *Extractor) choose(light, dark contour, cropArea float64) (contour, bool) {
	valid := func(c contour) bool {
		if len(c.points) < 3 || cropArea <= 0 {
			return false
		}
		r := c.area / cropArea
		return r > x.h.ContourMinRatio && r < x.h.ContourMaxRatio
	}

	lv, dv := valid(light), valid(dark)
	switch {
	case lv && dv:
		if dark.area > light.area {
			return dark, true
		}
		return light, true
	case lv:
		return light, true
	case dv:
		return dark, true
	case len(light.points) >= 3:
		return light, true
	}
	return contour{}, false
}

func largestContour(mask gocv.Mat) contour {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var best contour
	for i := 0; i < contours.Size(); i++ {
		pv := contours.At(i)
		area := gocv.ContourArea(pv)
		if area > best.area || best.points == nil {
			best = contour{points: pv.ToPoints(), area: area}
		}
	}
	return best
}

func simplify(points []image.Point, epsilonFactor float64) []image.Point {
	pv := gocv.NewPointVectorFromPoints(points)
	defer pv.Close()

	eps := epsilonFactor * gocv.ArcLength(pv, true)
	approx := gocv.ApproxPolyDP(pv, eps, true)
	defer approx.Close()
	return approx.ToPoints()
}

func grayRange(pixels []byte) (lo, hi byte) {
	if len(pixels) == 0 {
		return 0, 0
	}
	lo, hi = 255, 0
	for _, p := range pixels {
		lo = min(lo, p)
		hi = max(hi, p)
	}
	return lo, hi
}
