package alignment

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"pcb-inspect/pkg/geometry"
)

// BoardContour is a validated board quadrilateral.
type BoardContour struct {
	Corners      [4]geometry.Point2D // TL, TR, BR, BL
	Area         float64             // contour area in px
	AreaFraction float64             // Area relative to the frame or ROI
	Epsilon      float64             // simplification factor that produced the quad
	QuadArea     float64             // area of the simplified quad in px
}

// Center returns the mean of the four corners.
func (b BoardContour) Center() geometry.Point2D {
	return geometry.Centroid(b.Corners[:])
}

// DetectBoardContour finds the board outline by substrate color segmentation.
// When roi is non-nil the area fraction is measured against the ROI and all
// four corners must fall inside it.
func DetectBoardContour(frame gocv.Mat, params ContourParams, roi *geometry.RectInt) (*BoardContour, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrFeatureNotFound)
	}

	mask := substrateMask(frame, params.Substrate, params.KernelSize)
	defer mask.Close()

	contour, area, err := largestContour(mask)
	if err != nil {
		return nil, err
	}

	refArea := float64(frame.Cols() * frame.Rows())
	if roi != nil {
		refArea = float64(roi.Width * roi.Height)
	}
	minFraction := params.MinAreaFraction
	if minFraction <= 0 {
		minFraction = DefaultMinAreaFraction
	}
	fraction := area / refArea
	if fraction < minFraction {
		return nil, fmt.Errorf("%w: largest contour covers %.3f of frame, need %.3f",
			ErrFeatureNotFound, fraction, minFraction)
	}

	hull := geometry.ConvexHull(contour)
	hullInts := make([]image.Point, len(hull))
	for i, p := range hull {
		hullInts[i] = p.ImagePoint()
	}
	hullVec := gocv.NewPointVectorFromPoints(hullInts)
	defer hullVec.Close()
	perimeter := geometry.Perimeter(hull)

	epsilons := params.Epsilons
	if len(epsilons) == 0 {
		epsilons = DefaultEpsilons
	}

	var lastErr error
	for _, eps := range epsilons {
		approx := gocv.ApproxPolyDP(hullVec, eps*perimeter, true)
		n := approx.Size()
		var quad [4]geometry.Point2D
		if n == 4 {
			for i, p := range approx.ToPoints() {
				quad[i] = geometry.FromImagePoint(p)
			}
		}
		approx.Close()
		if n != 4 {
			continue
		}

		ordered, err := OrderByDiagonals(quad)
		if err == nil {
			err = validateQuad(ordered, params, roi)
		}
		if err != nil {
			lastErr = err
			continue
		}
		return &BoardContour{
			Corners:      ordered,
			Area:         area,
			AreaFraction: fraction,
			Epsilon:      eps,
			QuadArea:     geometry.PolygonArea(ordered[:]),
		}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: no valid quadrilateral: %v", ErrFeatureNotFound, lastErr)
	}
	return nil, fmt.Errorf("%w: contour never simplified to 4 vertices", ErrFeatureNotFound)
}

// largestContour returns the points and area of the largest external contour in a mask.
func largestContour(mask gocv.Mat) ([]geometry.Point2D, float64, error) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return nil, 0, fmt.Errorf("%w: no substrate contour", ErrFeatureNotFound)
	}

	best := -1
	var bestArea float64
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > bestArea {
			bestArea = area
			best = i
		}
	}
	if best < 0 {
		return nil, 0, fmt.Errorf("%w: no substrate contour", ErrFeatureNotFound)
	}

	raw := contours.At(best).ToPoints()
	pts := make([]geometry.Point2D, len(raw))
	for i, p := range raw {
		pts[i] = geometry.FromImagePoint(p)
	}
	return pts, bestArea, nil
}

// validateQuad applies the shape checks to an ordered TL, TR, BR, BL quad.
func validateQuad(q [4]geometry.Point2D, params ContourParams, roi *geometry.RectInt) error {
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if d := q[i].Distance(q[j]); d < params.MinVertexDist {
				return fmt.Errorf("vertices %d and %d only %.1fpx apart", i, j, d)
			}
		}
	}

	if r := ratio(q[0].Distance(q[2]), q[1].Distance(q[3])); r < params.MinDiagRatio {
		return fmt.Errorf("diagonal ratio %.2f < %.2f", r, params.MinDiagRatio)
	}

	top := q[0].Distance(q[1])
	bottom := q[3].Distance(q[2])
	left := q[0].Distance(q[3])
	right := q[1].Distance(q[2])
	if r := ratio(top, bottom); r < params.MinSideRatio {
		return fmt.Errorf("top/bottom ratio %.2f < %.2f", r, params.MinSideRatio)
	}
	if r := ratio(left, right); r < params.MinSideRatio {
		return fmt.Errorf("left/right ratio %.2f < %.2f", r, params.MinSideRatio)
	}

	horiz := (top + bottom) / 2
	vert := (left + right) / 2
	aspect := math.Max(horiz, vert) / math.Min(horiz, vert)
	if !(aspect > params.AspectMin && aspect < params.AspectMax) {
		return fmt.Errorf("aspect %.2f outside (%.2f, %.2f)", aspect, params.AspectMin, params.AspectMax)
	}

	if roi != nil {
		r := roi.ToFloat()
		for i, p := range q {
			if !r.Contains(p) {
				return fmt.Errorf("corner %d (%.0f,%.0f) outside ROI", i, p.X, p.Y)
			}
		}
	}
	return nil
}

// ratio returns min/max of two lengths, 0 when either is 0.
func ratio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return math.Min(a, b) / math.Max(a, b)
}
