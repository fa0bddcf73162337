package geometry

// Classifier assigns a ShapeTag from how much of the bbox the polygon fills.
type Classifier struct {
	// RectangleRatio is the fill ratio above which a region counts as rectangular.
	RectangleRatio float64
}

// NewClassifier creates a classifier with the given threshold.
func NewClassifier(rectangleRatio float64) *Classifier {
	return &Classifier{RectangleRatio: rectangleRatio}
}

// Classify returns ShapeRectangle when the polygon fills more than
// RectangleRatio of the bbox, ShapeOval otherwise. A missing or degenerate
// polygon classifies as a rectangle since the bbox is then the only known outline.
func (c *Classifier) Classify(poly Polygon, bbox BBox) ShapeTag {
	if len(poly) < 3 || bbox.Area() <= 0 {
		return ShapeRectangle
	}
	if FillRatio(poly, bbox) > c.RectangleRatio {
		return ShapeRectangle
	}
	return ShapeOval
}
