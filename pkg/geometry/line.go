package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ParallelEpsilon is the slope difference below which two lines are treated as parallel.
const ParallelEpsilon = 1e-9

// Line is a fitted 2D line. Horizontal-ish lines are stored as y = Slope*x + Intercept.
// Vertical-ish lines (Swapped) are stored as x = Slope*y + Intercept so that a perfectly
// vertical edge has slope 0 instead of infinity.
type Line struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	Swapped   bool    `json:"swapped"`
}

// FitLine fits a least-squares line through points. When swapped is true the regression
// is run in x-on-y space.
func FitLine(points []Point2D, swapped bool) (Line, error) {
	if len(points) < 2 {
		return Line{}, fmt.Errorf("need at least 2 points, got %d", len(points))
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		if swapped {
			xs[i], ys[i] = p.Y, p.X
		} else {
			xs[i], ys[i] = p.X, p.Y
		}
	}

	if stat.Variance(xs, nil) == 0 {
		return Line{}, fmt.Errorf("degenerate fit: all samples share one coordinate")
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	return Line{Slope: slope, Intercept: intercept, Swapped: swapped}, nil
}

// Shift moves the line along its dependent axis (y for normal lines, x for swapped).
func (l Line) Shift(offset float64) Line {
	l.Intercept += offset
	return l
}

// At evaluates the dependent coordinate for the given independent one.
func (l Line) At(t float64) float64 {
	return l.Slope*t + l.Intercept
}

// Intersect returns the crossing point of two lines. ok is false when the lines are parallel.
//
// Lines of the same orientation are parallel when their slopes differ by less than
// ParallelEpsilon. A y(x) line and an x(y) line are parallel when the y(x) slope equals
// the reciprocal of the x(y) slope, i.e. |1 - m1*m2| < ParallelEpsilon.
func (l Line) Intersect(other Line) (Point2D, bool) {
	switch {
	case l.Swapped == other.Swapped:
		if math.Abs(l.Slope-other.Slope) < ParallelEpsilon {
			return Point2D{}, false
		}
		t := (other.Intercept - l.Intercept) / (l.Slope - other.Slope)
		d := l.At(t)
		if l.Swapped {
			return Point2D{X: d, Y: t}, true
		}
		return Point2D{X: t, Y: d}, true
	case l.Swapped:
		return other.Intersect(l)
	default:
		// l: y = m1 x + b1, other: x = m2 y + b2
		denom := 1 - l.Slope*other.Slope
		if math.Abs(denom) < ParallelEpsilon {
			return Point2D{}, false
		}
		x := (other.Slope*l.Intercept + other.Intercept) / denom
		return Point2D{X: x, Y: l.At(x)}, true
	}
}
