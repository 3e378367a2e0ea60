package alignment

import "pcb-inspect/internal/board"

// Empirical defaults. They were tuned on the reference inspection rig and
// should be recalibrated for other cameras and lighting.
const (
	// Inward offset applied to board contour corners to approximate hole centers.
	DefaultHoleOffsetPx = 15.0

	// Corner ROI size for hole search, as a fraction of frame width/height.
	DefaultCornerROIWidth  = 0.30
	DefaultCornerROIHeight = 0.35

	// Canonical frame the edge ROIs are defined on.
	EdgeCanonicalSize = 640

	// Intensity-jump thresholds per edge.
	DefaultEdgeThresholdTop    = 21
	DefaultEdgeThresholdBottom = 48
	DefaultEdgeThresholdLeft   = 13
	DefaultEdgeThresholdRight  = 63

	// Added to the fitted bottom line intercept. Observed bias on the reference
	// rig; likely lighting-specific.
	DefaultBottomEdgeOffset = 30.0

	DefaultMinAreaFraction = 0.10
	MinAreaFractionLow     = 0.05
	MinAreaFractionHigh    = 0.15

	DefaultTemplateThreshold = 0.8
)

// DefaultEpsilons is the ascending Douglas-Peucker epsilon schedule, as a fraction of perimeter.
var DefaultEpsilons = []float64{0.02, 0.03, 0.04, 0.05, 0.06, 0.08, 0.10, 0.12, 0.15}

// ContourParams controls board-contour detection.
type ContourParams struct {
	Substrate       board.HSVRange `mapstructure:"substrate" json:"substrate"`
	MinAreaFraction float64        `mapstructure:"min_area_fraction" json:"min_area_fraction"`
	Epsilons        []float64      `mapstructure:"epsilons" json:"epsilons"`
	MinVertexDist   float64        `mapstructure:"min_vertex_dist" json:"min_vertex_dist"`
	MinDiagRatio    float64        `mapstructure:"min_diag_ratio" json:"min_diag_ratio"`
	MinSideRatio    float64        `mapstructure:"min_side_ratio" json:"min_side_ratio"`
	AspectMin       float64        `mapstructure:"aspect_min" json:"aspect_min"`
	AspectMax       float64        `mapstructure:"aspect_max" json:"aspect_max"`
	KernelSize      int            `mapstructure:"kernel_size" json:"kernel_size"`
	HoleOffset      float64        `mapstructure:"hole_offset" json:"hole_offset"`
}

// DefaultContourParams returns the green-substrate contour defaults.
func DefaultContourParams() ContourParams {
	return ContourParams{
		Substrate:       board.GreenSubstrate(),
		MinAreaFraction: DefaultMinAreaFraction,
		Epsilons:        append([]float64(nil), DefaultEpsilons...),
		MinVertexDist:   30,
		MinDiagRatio:    0.8,
		MinSideRatio:    0.80,
		AspectMin:       1.3,
		AspectMax:       2.0,
		KernelSize:      5,
		HoleOffset:      DefaultHoleOffsetPx,
	}
}

// CircleParams controls the per-corner Hough circle search.
type CircleParams struct {
	ROIWidth  float64 `mapstructure:"roi_width" json:"roi_width"`
	ROIHeight float64 `mapstructure:"roi_height" json:"roi_height"`
	BlurSize  int     `mapstructure:"blur_size" json:"blur_size"`
	DP        float64 `mapstructure:"dp" json:"dp"`
	MinDist   float64 `mapstructure:"min_dist" json:"min_dist"`
	Param1    float64 `mapstructure:"param1" json:"param1"`
	Param2    float64 `mapstructure:"param2" json:"param2"`
	MinRadius int     `mapstructure:"min_radius" json:"min_radius"`
	MaxRadius int     `mapstructure:"max_radius" json:"max_radius"`
}

// DefaultCircleParams returns the mounting-hole Hough defaults.
func DefaultCircleParams() CircleParams {
	return CircleParams{
		ROIWidth:  DefaultCornerROIWidth,
		ROIHeight: DefaultCornerROIHeight,
		BlurSize:  9,
		DP:        1,
		MinDist:   30,
		Param1:    50,
		Param2:    20,
		MinRadius: 5,
		MaxRadius: 20,
	}
}

// EdgeParams controls EdgeFitter.
type EdgeParams struct {
	ThresholdTop    float64 `mapstructure:"threshold_top" json:"threshold_top"`
	ThresholdBottom float64 `mapstructure:"threshold_bottom" json:"threshold_bottom"`
	ThresholdLeft   float64 `mapstructure:"threshold_left" json:"threshold_left"`
	ThresholdRight  float64 `mapstructure:"threshold_right" json:"threshold_right"`
	BottomOffset    float64 `mapstructure:"bottom_offset" json:"bottom_offset"`
	BandDepth       int     `mapstructure:"band_depth" json:"band_depth"`
	BandMargin      int     `mapstructure:"band_margin" json:"band_margin"`
	ScanStep        int     `mapstructure:"scan_step" json:"scan_step"`
	MinHitsPerEdge  int     `mapstructure:"min_hits_per_edge" json:"min_hits_per_edge"`
}

// DefaultEdgeParams returns the edge-scan defaults for a 640x640 frame.
func DefaultEdgeParams() EdgeParams {
	return EdgeParams{
		ThresholdTop:    DefaultEdgeThresholdTop,
		ThresholdBottom: DefaultEdgeThresholdBottom,
		ThresholdLeft:   DefaultEdgeThresholdLeft,
		ThresholdRight:  DefaultEdgeThresholdRight,
		BottomOffset:    DefaultBottomEdgeOffset,
		BandDepth:       200,
		BandMargin:      120,
		ScanStep:        4,
		MinHitsPerEdge:  5,
	}
}

// VisibilityParams controls the 2-of-3 visibility check.
type VisibilityParams struct {
	RatioMin        float64 `mapstructure:"ratio_min" json:"ratio_min"`
	RatioMax        float64 `mapstructure:"ratio_max" json:"ratio_max"`
	AreaCheck       bool    `mapstructure:"area_check" json:"area_check"`
	MinAreaFraction float64 `mapstructure:"min_area_fraction" json:"min_area_fraction"`
}

// DefaultVisibilityParams returns [0.8, 1.2] ratios with the area check disabled.
func DefaultVisibilityParams() VisibilityParams {
	return VisibilityParams{
		RatioMin:        0.8,
		RatioMax:        1.2,
		AreaCheck:       false,
		MinAreaFraction: 0.95,
	}
}
