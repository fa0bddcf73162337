package geometry

// ShapeTag is the effective outline class of a region.
type ShapeTag string

const (
	ShapeRectangle ShapeTag = "rectangle"
	ShapeOval      ShapeTag = "oval"
)

// StyleProfile 原文的视觉风格
type StyleProfile struct {
	InkColor          RGB     `json:"ink_color"`
	BackgroundColor   RGB     `json:"background_color"`
	IsBold            bool    `json:"is_bold"`
	IsInverted        bool    `json:"is_inverted"`
	EstimatedFontSize int     `json:"estimated_font_size"`
	Density           float64 `json:"density"`
}

// DefaultStyle is used when pixels give no usable signal.
func DefaultStyle(fontSize int) StyleProfile {
	return StyleProfile{
		InkColor:          Black,
		BackgroundColor:   White,
		EstimatedFontSize: fontSize,
	}
}

// Layout strategies recorded on a LayoutResult.
const (
	StrategyRectangle = "rectangle"
	StrategyOval      = "oval"
	StrategyFallback  = "fallback"
)

// LayoutResult 排版结果
type LayoutResult struct {
	FontSize    int       `json:"chosen_font_size"`
	Lines       []string  `json:"wrapped_lines"`
	LineWidths  []float64 `json:"line_widths"`
	LineHeight  float64   `json:"line_height"`
	Ascent      float64   `json:"ascent"`
	Leading     float64   `json:"leading"`
	BlockHeight float64   `json:"block_height"`
	Strategy    string    `json:"strategy"`
	Overflow    bool      `json:"overflow,omitempty"`
}

// MaxLineWidth returns the widest measured line.
func (l *LayoutResult) MaxLineWidth() float64 {
	var w float64
	for _, lw := range l.LineWidths {
		w = max(w, lw)
	}
	return w
}

// Region is one detected text area and everything derived from it.
// Optional stages are nil until they run.
type Region struct {
	Index      int      `json:"index"`
	BBox       BBox     `json:"bbox"`
	Polygon    Polygon  `json:"polygon"`
	Confidence float64  `json:"confidence"`
	Shape      ShapeTag `json:"shape_tag"`

	Style *StyleProfile `json:"style,omitempty"`

	OriginalText string `json:"original_text,omitempty"`
	Translation  string `json:"translation,omitempty"`
	ProviderTag  string `json:"provider,omitempty"`
	Font         string `json:"font,omitempty"`

	Layout    *LayoutResult `json:"layout,omitempty"`
	PatchRect *Rect         `json:"patch_rect,omitempty"`

	Failed     bool   `json:"failed,omitempty"`
	FailReason string `json:"fail_reason,omitempty"`
}

// Fail marks the region as skipped for the rest of the pipeline.
func (r *Region) Fail(reason string) {
	r.Failed = true
	r.FailReason = reason
}

// Clone returns a deep copy.
func (r *Region) Clone() *Region {
	c := *r
	if r.Polygon != nil {
		c.Polygon = append(Polygon(nil), r.Polygon...)
	}
	if r.Style != nil {
		s := *r.Style
		c.Style = &s
	}
	if r.Layout != nil {
		l := *r.Layout
		l.Lines = append([]string(nil), r.Layout.Lines...)
		l.LineWidths = append([]float64(nil), r.Layout.LineWidths...)
		c.Layout = &l
	}
	if r.PatchRect != nil {
		p := *r.PatchRect
		c.PatchRect = &p
	}
	return &c
}

// Detection is one bubble candidate from the detector.
type Detection struct {
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}
