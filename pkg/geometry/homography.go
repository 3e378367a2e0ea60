package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 projective transform in row-major order with H[2][2] normalized to 1.
type Homography [3][3]float64

// ComputeHomography solves the 4-point perspective transform mapping src[i] to dst[i].
//
//	x' = (h00 x + h01 y + h02) / (h20 x + h21 y + 1)
//	y' = (h10 x + h11 y + h12) / (h20 x + h21 y + 1)
func ComputeHomography(src, dst [4]Point2D) (Homography, error) {
	A := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		r := 2 * i

		A.Set(r, 0, x)
		A.Set(r, 1, y)
		A.Set(r, 2, 1)
		A.Set(r, 6, -x*u)
		A.Set(r, 7, -y*u)
		b.SetVec(r, u)

		A.Set(r+1, 3, x)
		A.Set(r+1, 4, y)
		A.Set(r+1, 5, 1)
		A.Set(r+1, 6, -x*v)
		A.Set(r+1, 7, -y*v)
		b.SetVec(r+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(A, b); err != nil {
		return Homography{}, fmt.Errorf("solve homography: %w", err)
	}

	H := Homography{
		{h.AtVec(0), h.AtVec(1), h.AtVec(2)},
		{h.AtVec(3), h.AtVec(4), h.AtVec(5)},
		{h.AtVec(6), h.AtVec(7), 1},
	}
	for _, row := range H {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Homography{}, fmt.Errorf("degenerate point configuration")
			}
		}
	}
	return H, nil
}

// Apply maps a point through the transform. ok is false when the point maps to infinity.
func (h Homography) Apply(p Point2D) (Point2D, bool) {
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	if math.Abs(w) < 1e-12 {
		return Point2D{}, false
	}
	return Point2D{
		X: (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w,
		Y: (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w,
	}, true
}

// Flat returns the matrix as 9 row-major values.
func (h Homography) Flat() []float64 {
	return []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	}
}
