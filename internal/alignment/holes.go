package alignment

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"pcb-inspect/pkg/geometry"
)

// cornerNames follows FeatureSet order.
var cornerNames = [4]string{"top-left", "top-right", "bottom-right", "bottom-left"}

// CircleLocator finds one mounting hole per frame corner with a Hough circle
// transform. It fails unless all four corners yield a hole.
type CircleLocator struct {
	Params CircleParams
	logger *zap.Logger
}

// NewCircleLocator creates a circle locator. A nil logger disables logging.
func NewCircleLocator(params CircleParams, logger *zap.Logger) *CircleLocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircleLocator{Params: params, logger: logger}
}

func (c *CircleLocator) Name() string { return StrategyCircle }

// Locate searches each corner ROI and returns the four hole centers in frame coordinates.
func (c *CircleLocator) Locate(frame gocv.Mat) (FeatureSet, error) {
	if frame.Empty() {
		return FeatureSet{}, fmt.Errorf("%w: empty frame", ErrFeatureNotFound)
	}

	rois := cornerROIs(frame.Cols(), frame.Rows(), c.Params.ROIWidth, c.Params.ROIHeight)

	var found [4]geometry.Point2D
	for i, roi := range rois {
		hole, ok := c.findHole(frame, roi, i)
		if !ok {
			return FeatureSet{}, fmt.Errorf("%w: no hole in %s ROI", ErrFeatureNotFound, cornerNames[i])
		}
		found[i] = hole
	}

	ordered, consistent := OrderPoints(found)
	if !consistent {
		c.logger.Warn("hole ordering fell back to y-then-x sort", zap.Any("points", found))
	}
	return FeatureSet{Points: ordered, Strategy: c.Name(), Kind: KindHoles}, nil
}

// cornerROIs returns TL, TR, BR, BL corner rectangles of the given fractional size.
func cornerROIs(w, h int, fw, fh float64) [4]geometry.RectInt {
	rw := int(float64(w) * fw)
	rh := int(float64(h) * fh)
	return [4]geometry.RectInt{
		{X: 0, Y: 0, Width: rw, Height: rh},
		{X: w - rw, Y: 0, Width: rw, Height: rh},
		{X: w - rw, Y: h - rh, Width: rw, Height: rh},
		{X: 0, Y: h - rh, Width: rw, Height: rh},
	}
}

// roiTarget is the ROI-local point that faces the frame corner.
func roiTarget(roi geometry.RectInt, corner int) geometry.Point2D {
	w, h := float64(roi.Width), float64(roi.Height)
	switch corner {
	case 1:
		return geometry.Point2D{X: w, Y: 0}
	case 2:
		return geometry.Point2D{X: w, Y: h}
	case 3:
		return geometry.Point2D{X: 0, Y: h}
	default:
		return geometry.Point2D{}
	}
}

// findHole runs the circle transform inside one ROI and returns the circle
// nearest to the ROI's frame corner.
func (c *CircleLocator) findHole(frame gocv.Mat, roi geometry.RectInt, corner int) (geometry.Point2D, bool) {
	roi = roi.Clamp(frame.Cols(), frame.Rows())
	if roi.Empty() {
		return geometry.Point2D{}, false
	}

	region := frame.Region(roi.ImageRect())
	defer region.Close()

	gray := toGray(region)
	defer gray.Close()

	k := c.Params.BlurSize
	if k < 1 {
		k = 9
	}
	if k%2 == 0 {
		k++
	}
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: k, Y: k}, 2, 2, gocv.BorderDefault)

	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(blurred, &circles, gocv.HoughGradient,
		c.Params.DP, c.Params.MinDist, c.Params.Param1, c.Params.Param2,
		c.Params.MinRadius, c.Params.MaxRadius)

	if circles.Empty() || circles.Cols() == 0 {
		return geometry.Point2D{}, false
	}

	centers := make([]geometry.Point2D, circles.Cols())
	for i := range centers {
		centers[i] = geometry.Point2D{
			X: float64(circles.GetFloatAt(0, i*3)),
			Y: float64(circles.GetFloatAt(0, i*3+1)),
		}
	}

	best := nearestTo(centers, roiTarget(roi, corner))
	c.logger.Debug("hole candidate",
		zap.String("corner", cornerNames[corner]),
		zap.Int("circles", len(centers)),
		zap.Float64("x", best.X+float64(roi.X)),
		zap.Float64("y", best.Y+float64(roi.Y)))

	return geometry.Point2D{X: best.X + float64(roi.X), Y: best.Y + float64(roi.Y)}, true
}

// nearestTo returns the point closest to target; the first one wins ties.
func nearestTo(pts []geometry.Point2D, target geometry.Point2D) geometry.Point2D {
	best := pts[0]
	bestDist := best.Distance(target)
	for _, p := range pts[1:] {
		if d := p.Distance(target); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}
