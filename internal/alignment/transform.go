package alignment

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"pcb-inspect/pkg/geometry"
)

// homographyMat converts h to a 3x3 CV_64F matrix. Caller must Close it.
func homographyMat(h geometry.Homography) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h[r][c])
		}
	}
	return m
}

// WarpToCanonical applies h to the frame and returns a canonical-size image.
// Caller must Close the result.
func WarpToCanonical(frame gocv.Mat, h geometry.Homography, size geometry.Size) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty frame")
	}
	sz := size.ImagePoint()
	if sz.X <= 0 || sz.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid canonical size %vx%v", size.Width, size.Height)
	}

	m := homographyMat(h)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpPerspective(frame, &dst, m, sz)
	return dst, nil
}

// TransformPoints maps points through h. Points sent to infinity are returned as NaN.
func TransformPoints(h geometry.Homography, pts []geometry.Point2D) []geometry.Point2D {
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		q, ok := h.Apply(p)
		if !ok {
			q = geometry.Point2D{X: math.NaN(), Y: math.NaN()}
		}
		out[i] = q
	}
	return out
}

// ReprojectionError is the largest distance between h(src[i]) and dst[i].
func ReprojectionError(h geometry.Homography, src, dst []geometry.Point2D) float64 {
	var worst float64
	for i, q := range TransformPoints(h, src) {
		if i >= len(dst) {
			break
		}
		d := q.Distance(dst[i])
		if math.IsNaN(d) {
			return math.Inf(1)
		}
		worst = math.Max(worst, d)
	}
	return worst
}
