package alignment

import (
	"fmt"

	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"pcb-inspect/internal/board"
	"pcb-inspect/pkg/geometry"
)

// Result holds an aligned frame and the transform that produced it.
type Result struct {
	Warped     gocv.Mat
	Homography geometry.Homography
	Features   FeatureSet
	Visibility VisibilityReport
	Residual   float64 // max reprojection error of the fiducials, px
}

// Close releases the warped frame.
func (r *Result) Close() error {
	return r.Warped.Close()
}

// Aligner validates visibility and warps frames into a layout's canonical frame.
type Aligner struct {
	Visibility VisibilityParams
	logger     *zap.Logger
}

// NewAligner creates an aligner. A nil logger disables logging.
func NewAligner(params VisibilityParams, logger *zap.Logger) *Aligner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aligner{Visibility: params, logger: logger}
}

// Align checks the board is fully visible, computes the perspective transform
// mapping the detected fiducials onto their layout targets (mounting holes, or
// the board outline for corner features), and warps the frame to the
// canonical size. A failed visibility check returns a *VisibilityError.
func (a *Aligner) Align(frame gocv.Mat, features FeatureSet, layout *board.ReferenceLayout) (*Result, error) {
	var areaFrame *gocv.Mat
	if a.Visibility.AreaCheck {
		areaFrame = &frame
	}
	targets := features.Targets(layout)
	report := CheckVisibility(features.Slice(), targets, layout, areaFrame, a.Visibility)
	if !report.Visible {
		a.logger.Warn("visibility check failed",
			zap.String("product", layout.ProductCode),
			zap.String("report", report.String()))
		return nil, &VisibilityError{Report: report}
	}

	h, err := geometry.ComputeHomography(features.Points, targets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}

	warped, err := WarpToCanonical(frame, h, layout.CanonicalSize)
	if err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}

	residual := ReprojectionError(h, features.Slice(), targets[:])
	a.logger.Debug("frame aligned",
		zap.String("product", layout.ProductCode),
		zap.String("strategy", features.Strategy),
		zap.String("kind", string(features.Kind)),
		zap.Float64("residual", residual))

	return &Result{
		Warped:     warped,
		Homography: h,
		Features:   features,
		Visibility: report,
		Residual:   residual,
	}, nil
}
