package alignment

import (
	"fmt"
	"image"
	"strings"

	"gocv.io/x/gocv"

	"pcb-inspect/internal/verify"
	"pcb-inspect/pkg/geometry"
)

// ParseMatchMethod maps a config name to a normalized template match mode.
func ParseMatchMethod(name string) (gocv.TemplateMatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ccoeff_normed":
		return gocv.TmCcoeffNormed, nil
	case "ccorr_normed":
		return gocv.TmCcorrNormed, nil
	case "sqdiff_normed":
		return gocv.TmSqdiffNormed, nil
	default:
		return 0, fmt.Errorf("unsupported template match method %q", name)
	}
}

// TemplateMatcher locates a single fiducial by normalized template matching.
type TemplateMatcher struct {
	Template  gocv.Mat
	Method    gocv.TemplateMatchMode
	Threshold float64           // minimum score in [0, 1]
	ROI       *geometry.RectInt // optional; the match center must fall inside
}

// NewTemplateMatcher creates a matcher with the default 0.8 threshold.
func NewTemplateMatcher(tmpl gocv.Mat, method gocv.TemplateMatchMode) *TemplateMatcher {
	return &TemplateMatcher{Template: tmpl, Method: method, Threshold: DefaultTemplateThreshold}
}

// Anchor is a translation-only origin found by template matching.
type Anchor struct {
	Point geometry.Point2D `json:"point"`
	Score float64          `json:"score"`
}

// Match finds the best template location. Low scores and matches outside the
// ROI return ErrLowConfidenceMatch.
func (m *TemplateMatcher) Match(frame gocv.Mat) (Anchor, error) {
	if frame.Empty() || m.Template.Empty() {
		return Anchor{}, fmt.Errorf("%w: empty frame or template", ErrFeatureNotFound)
	}
	if m.Template.Cols() > frame.Cols() || m.Template.Rows() > frame.Rows() {
		return Anchor{}, fmt.Errorf("%w: template larger than frame", ErrFeatureNotFound)
	}

	img := toGray(frame)
	defer img.Close()
	tmpl := toGray(m.Template)
	defer tmpl.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(img, tmpl, &result, m.Method, mask)

	minVal, maxVal, minLoc, maxLoc := gocv.MinMaxLoc(result)

	score := float64(maxVal)
	loc := maxLoc
	if m.Method == gocv.TmSqdiffNormed {
		score = 1 - float64(minVal)
		loc = minLoc
	}

	center := geometry.FromImagePoint(loc.Add(image.Point{X: tmpl.Cols() / 2, Y: tmpl.Rows() / 2}))
	anchor := Anchor{Point: center, Score: score}

	if score < m.Threshold {
		return anchor, fmt.Errorf("%w: score %.3f < %.3f", ErrLowConfidenceMatch, score, m.Threshold)
	}
	if m.ROI != nil && !m.ROI.ToFloat().Contains(center) {
		return anchor, fmt.Errorf("%w: match at (%.0f,%.0f) outside ROI", ErrLowConfidenceMatch, center.X, center.Y)
	}
	return anchor, nil
}

// Relative expresses p relative to the anchor.
func (a Anchor) Relative(p geometry.Point2D) geometry.Point2D {
	return p.Sub(a.Point)
}

// Rebase returns copies of the detections with bbox and center relative to the
// anchor. No rotation is corrected.
func (a Anchor) Rebase(dets []verify.Detection) []verify.Detection {
	out := make([]verify.Detection, len(dets))
	for i, d := range dets {
		if d.Center == (geometry.Point2D{}) {
			d.Center = d.BBox.Center()
		}
		d.BBox = d.BBox.Translate(a.Point)
		d.Center = a.Relative(d.Center)
		out[i] = d
	}
	return out
}

// NewMatcher builds a matcher for tmpl from configuration.
func (p TemplateParams) NewMatcher(tmpl gocv.Mat) (*TemplateMatcher, error) {
	method, err := ParseMatchMethod(p.Method)
	if err != nil {
		return nil, err
	}
	m := NewTemplateMatcher(tmpl, method)
	if p.Threshold > 0 {
		m.Threshold = p.Threshold
	}
	m.ROI = p.ROI
	return m, nil
}
