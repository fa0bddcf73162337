package detector

import (
	"sort"

	"comic-translator/internal/geometry"
)

// Decode reads a YOLOv8-style output of shape [1, 4+classes, boxes] where
// each column is (cx, cy, w, h, class scores...). Candidates below conf are
// dropped, the rest go through NMS at iou and are mapped back to the page.
func Decode(out []float32, attrs, boxes int, lb Letterbox, pageW, pageH int, conf, iou float64) []geometry.Detection {
	if attrs < 5 || len(out) < attrs*boxes {
		return nil
	}

	var cands []geometry.Detection
	for i := 0; i < boxes; i++ {
		score := float64(out[4*boxes+i])
		for c := 5; c < attrs; c++ {
			score = max(score, float64(out[c*boxes+i]))
		}
		if score < conf {
			continue
		}
		cx, cy := float64(out[i]), float64(out[boxes+i])
		w, h := float64(out[2*boxes+i]), float64(out[3*boxes+i])
		box := geometry.BBox{cx - w/2, cy - h/2, cx + w/2, cy + h/2}
		box = lb.Unmap(box, pageW, pageH)
		if box.Area() <= 0 {
			continue
		}
		cands = append(cands, geometry.Detection{BBox: box, Confidence: score})
	}
	return NMS(cands, iou)
}

// NMS keeps the highest-confidence detections, dropping any whose IoU with
// an already kept box exceeds iou. Output is sorted by confidence.
func NMS(dets []geometry.Detection, iou float64) []geometry.Detection {
	sorted := append([]geometry.Detection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var kept []geometry.Detection
	for _, d := range sorted {
		overlap := false
		for _, k := range kept {
			if d.BBox.IoU(k.BBox) > iou {
				overlap = true
				break
			}
		}
		if !overlap {
			kept = append(kept, d)
		}
	}
	return kept
}

// ReadingOrder sorts detections right-to-left, top-to-bottom in rows, the
// usual order for manga pages. Boxes whose vertical centers are within
// rowTolerance pixels share a row.
func ReadingOrder(dets []geometry.Detection, rowTolerance float64) []geometry.Detection {
	out := append([]geometry.Detection(nil), dets...)
	sort.SliceStable(out, func(i, j int) bool {
		_, yi := out[i].BBox.Center()
		_, yj := out[j].BBox.Center()
		if yi-yj > rowTolerance || yj-yi > rowTolerance {
			return yi < yj
		}
		return out[i].BBox.X2() > out[j].BBox.X2()
	})
	return out
}
