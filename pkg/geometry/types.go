// Package geometry provides basic geometric types used throughout the inspection pipeline.
package geometry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// FromImagePoint converts an integer image point.
func FromImagePoint(p image.Point) Point2D {
	return Point2D{X: float64(p.X), Y: float64(p.Y)}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Add returns the sum of two points.
func (p Point2D) Add(other Point2D) Point2D {
	return Point2D{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns the difference of two points.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

// Scale returns the point scaled by a factor.
func (p Point2D) Scale(factor float64) Point2D {
	return Point2D{X: p.X * factor, Y: p.Y * factor}
}

// ImagePoint rounds to the nearest integer pixel.
func (p Point2D) ImagePoint() image.Point {
	return image.Point{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point2D) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Rect represents a rectangle with floating-point coordinates.
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Contains returns true if the point is inside the rectangle.
func (r Rect) Contains(p Point2D) bool {
	return p.X >= r.X && p.X <= r.X+r.Width &&
		p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// RectInt represents a rectangle with integer coordinates.
type RectInt struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// ToFloat converts to Rect.
func (r RectInt) ToFloat() Rect {
	return Rect{X: float64(r.X), Y: float64(r.Y), Width: float64(r.Width), Height: float64(r.Height)}
}

// ImageRect converts to an image.Rectangle.
func (r RectInt) ImageRect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Clamp restricts the rectangle to a w x h image. The result may be empty.
func (r RectInt) Clamp(w, h int) RectInt {
	x0 := max(0, r.X)
	y0 := max(0, r.Y)
	x1 := min(w, r.X+r.Width)
	y1 := min(h, r.Y+r.Height)
	if x1 <= x0 || y1 <= y0 {
		return RectInt{X: x0, Y: y0}
	}
	return RectInt{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Empty reports whether the rectangle has no area.
func (r RectInt) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// BBox is a corner-form bounding box (x1,y1)-(x2,y2) as produced by object detectors.
type BBox struct {
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
	X2 float64 `json:"x2" yaml:"x2"`
	Y2 float64 `json:"y2" yaml:"y2"`
}

// BBoxFromSlice builds a box from [x1,y1,x2,y2]. ok is false for any other length.
func BBoxFromSlice(v []float64) (BBox, bool) {
	if len(v) != 4 {
		return BBox{}, false
	}
	return BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, true
}

// UnmarshalJSON accepts both {"x1":..,"y1":..,"x2":..,"y2":..} and the
// detector array form [x1, y1, x2, y2].
func (b *BBox) UnmarshalJSON(data []byte) error {
	if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '[' {
		var v []float64
		if err := json.Unmarshal(t, &v); err != nil {
			return fmt.Errorf("bbox: %w", err)
		}
		box, ok := BBoxFromSlice(v)
		if !ok {
			return fmt.Errorf("bbox: want 4 values, got %d", len(v))
		}
		*b = box
		return nil
	}

	type plain BBox
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = BBox(p)
	return nil
}

// Center returns the box midpoint.
func (b BBox) Center() Point2D {
	return Point2D{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Valid reports whether the box is finite and not inverted.
func (b BBox) Valid() bool {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X2 >= b.X1 && b.Y2 >= b.Y1
}

// Translate shifts the box by -offset.
func (b BBox) Translate(offset Point2D) BBox {
	return BBox{X1: b.X1 - offset.X, Y1: b.Y1 - offset.Y, X2: b.X2 - offset.X, Y2: b.Y2 - offset.Y}
}

// ImageRect converts to an integer rectangle.
func (b BBox) ImageRect() image.Rectangle {
	return image.Rect(int(math.Round(b.X1)), int(math.Round(b.Y1)), int(math.Round(b.X2)), int(math.Round(b.Y2)))
}

// Size represents a 2D size.
type Size struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// ImagePoint returns the size as an image.Point suitable for gocv destination sizes.
func (s Size) ImagePoint() image.Point {
	return image.Point{X: int(math.Round(s.Width)), Y: int(math.Round(s.Height))}
}

// Area returns width times height.
func (s Size) Area() float64 {
	return s.Width * s.Height
}

// Centroid computes the centroid (average position) of a set of points.
func Centroid(points []Point2D) Point2D {
	if len(points) == 0 {
		return Point2D{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point2D{X: sumX / n, Y: sumY / n}
}

