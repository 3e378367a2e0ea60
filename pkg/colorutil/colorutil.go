// Package colorutil holds the overlay palette and HSV helpers shared by the
// alignment and layout packages.
package colorutil

import (
	"image/color"
	"math"
)

// Overlay colors. Alpha is left at zero because gocv drawing ignores it.
var (
	Fiducial  = color.RGBA{R: 255, G: 0, B: 255}
	Matched   = color.RGBA{R: 0, G: 200, B: 0}
	Misplaced = color.RGBA{R: 255, G: 165, B: 0}
	Missing   = color.RGBA{R: 255, G: 0, B: 0}
	Extra     = color.RGBA{R: 0, G: 128, B: 255}
	Anchor    = color.RGBA{R: 0, G: 255, B: 255}
)

// RGBToHSV converts RGB (0-255) to HSV in OpenCV's convention: H 0-180, S and V 0-255.
func RGBToHSV(r, g, b float64) (h, s, v float64) {
	r /= 255.0
	g /= 255.0
	b /= 255.0

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	diff := maxC - minC

	v = maxC * 255.0
	if maxC > 0 {
		s = diff / maxC * 255.0
	}

	switch {
	case diff == 0:
		h = 0
	case maxC == r:
		h = 60 * math.Mod((g-b)/diff, 6)
	case maxC == g:
		h = 60 * ((b-r)/diff + 2)
	default:
		h = 60 * ((r-g)/diff + 4)
	}
	if h < 0 {
		h += 360
	}
	return h / 2, s, v
}

// ColorToHSV converts a color.Color. Translucent colors are premultiplied first.
func ColorToHSV(c color.Color) (h, s, v float64) {
	r, g, b, _ := c.RGBA()
	return RGBToHSV(float64(r>>8), float64(g>>8), float64(b>>8))
}
