package alignment

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"pcb-inspect/internal/verify"
	"pcb-inspect/pkg/colorutil"
	"pcb-inspect/pkg/geometry"
)

// DrawOverlay draws fiducials and verification results on a copy of img.
// res may be nil. Caller must Close the result.
func DrawOverlay(img gocv.Mat, fiducials []geometry.Point2D, res *verify.Result) gocv.Mat {
	dst := img.Clone()

	// a single point is a template anchor
	mark := colorutil.Fiducial
	if len(fiducials) == 1 {
		mark = colorutil.Anchor
	}
	for i, p := range fiducials {
		c := p.ImagePoint()
		gocv.Circle(&dst, c, 8, mark, 2)
		gocv.PutText(&dst, fmt.Sprintf("%d", i), c.Add(image.Point{X: 10, Y: -10}),
			gocv.FontHersheyPlain, 1.0, mark, 1)
	}

	if res == nil {
		return dst
	}

	for _, m := range res.Matched {
		gocv.Rectangle(&dst, m.Detected.BBox.ImageRect(), colorutil.Matched, 2)
	}
	for _, m := range res.Misplaced {
		gocv.Rectangle(&dst, m.Reference.BBox.ImageRect(), colorutil.Misplaced, 1)
		gocv.Rectangle(&dst, m.Detected.BBox.ImageRect(), colorutil.Misplaced, 2)
		gocv.Line(&dst, m.Reference.Center.ImagePoint(), m.Detected.Center.ImagePoint(), colorutil.Misplaced, 1)
	}
	for _, r := range res.Missing {
		gocv.Rectangle(&dst, r.BBox.ImageRect(), colorutil.Missing, 2)
		gocv.PutText(&dst, r.ClassName, r.BBox.ImageRect().Min.Add(image.Point{Y: -3}),
			gocv.FontHersheyPlain, 1.0, colorutil.Missing, 1)
	}
	for _, d := range res.Extra {
		gocv.Rectangle(&dst, d.BBox.ImageRect(), colorutil.Extra, 1)
	}

	return dst
}

// EncodePNG encodes a Mat as PNG bytes.
func EncodePNG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
