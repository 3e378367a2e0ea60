package alignment

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"pcb-inspect/pkg/geometry"
)

// Strategy names, as used in configuration.
const (
	StrategyContourOffset = "contour_offset"
	StrategyCircle        = "circle"
	StrategyEdge          = "edge"
	StrategyContourCorner = "contour_corner"

	// StrategyTemplate is the translation-only anchor fallback. It is not a
	// Locator and cannot appear in the chain.
	StrategyTemplate = "template"
)

// DefaultStrategies is the default fallback order.
var DefaultStrategies = []string{StrategyContourOffset, StrategyCircle, StrategyEdge, StrategyContourCorner}

// Locator finds four ordered fiducial points in a raw BGR frame, or fails.
type Locator interface {
	Name() string
	Locate(frame gocv.Mat) (FeatureSet, error)
}

// ContourOffsetLocator approximates mounting holes by moving each board
// contour corner a fixed distance toward the board center.
type ContourOffsetLocator struct {
	Params ContourParams
	logger *zap.Logger
}

// NewContourOffsetLocator creates the contour-then-offset strategy.
func NewContourOffsetLocator(params ContourParams, logger *zap.Logger) *ContourOffsetLocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContourOffsetLocator{Params: params, logger: logger}
}

func (l *ContourOffsetLocator) Name() string { return StrategyContourOffset }

func (l *ContourOffsetLocator) Locate(frame gocv.Mat) (FeatureSet, error) {
	bc, err := DetectBoardContour(frame, l.Params, nil)
	if err != nil {
		return FeatureSet{}, err
	}

	pts := OffsetTowardCenter(bc.Corners, l.Params.HoleOffset)
	ordered, consistent := OrderPoints(pts)
	if !consistent {
		l.logger.Warn("hole ordering fell back to y-then-x sort", zap.Any("points", pts))
	}
	return FeatureSet{Points: ordered, Strategy: l.Name(), Kind: KindHoles}, nil
}

// OffsetTowardCenter moves each corner by offset pixels along the line to the centroid.
func OffsetTowardCenter(corners [4]geometry.Point2D, offset float64) [4]geometry.Point2D {
	center := geometry.Centroid(corners[:])
	var out [4]geometry.Point2D
	for i, c := range corners {
		dir := center.Sub(c)
		n := dir.Distance(geometry.Point2D{})
		if n == 0 {
			out[i] = c
			continue
		}
		out[i] = c.Add(dir.Scale(offset / n))
	}
	return out
}

// ContourCornerLocator returns the raw board contour corners, which align
// against the layout outline. It is the last resort when neither holes nor
// edges can be found.
type ContourCornerLocator struct {
	Params ContourParams
}

func (l *ContourCornerLocator) Name() string { return StrategyContourCorner }

func (l *ContourCornerLocator) Locate(frame gocv.Mat) (FeatureSet, error) {
	bc, err := DetectBoardContour(frame, l.Params, nil)
	if err != nil {
		return FeatureSet{}, err
	}
	return FeatureSet{Points: bc.Corners, Strategy: l.Name(), Kind: KindBoardCorners}, nil
}

// Chain tries locators in order and returns the first success.
type Chain struct {
	locators []Locator
	logger   *zap.Logger
	observe  func(strategy string, ok bool)
}

// NewChain builds a chain. A nil logger disables logging.
func NewChain(logger *zap.Logger, locators ...Locator) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{locators: locators, logger: logger}
}

// OnAttempt registers a callback invoked after every strategy attempt.
func (c *Chain) OnAttempt(fn func(strategy string, ok bool)) {
	c.observe = fn
}

// Names returns the strategy names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.locators))
	for i, l := range c.locators {
		names[i] = l.Name()
	}
	return names
}

func (c *Chain) Name() string { return "chain" }

// Locate returns the first successful FeatureSet. When every strategy fails the
// error is a *ChainError, which matches ErrFeatureNotFound.
func (c *Chain) Locate(frame gocv.Mat) (FeatureSet, error) {
	var failures []StrategyFailure
	for _, l := range c.locators {
		fs, err := l.Locate(frame)
		if c.observe != nil {
			c.observe(l.Name(), err == nil)
		}
		if err == nil {
			if fs.Strategy == "" {
				fs.Strategy = l.Name()
			}
			c.logger.Debug("fiducials located", zap.String("strategy", fs.Strategy))
			return fs, nil
		}
		c.logger.Debug("locator failed", zap.String("strategy", l.Name()), zap.Error(err))
		failures = append(failures, StrategyFailure{Strategy: l.Name(), Err: err})
	}
	return FeatureSet{}, &ChainError{Failures: failures}
}

// Params groups every alignment parameter set.
type Params struct {
	Strategies []string         `mapstructure:"strategies" json:"strategies"`
	Contour    ContourParams    `mapstructure:"contour" json:"contour"`
	Circle     CircleParams     `mapstructure:"circle" json:"circle"`
	Edge       EdgeParams       `mapstructure:"edge" json:"edge"`
	Visibility VisibilityParams `mapstructure:"visibility" json:"visibility"`
	Template   TemplateParams   `mapstructure:"template" json:"template"`
}

// TemplateParams configures single-anchor matching.
type TemplateParams struct {
	Method    string            `mapstructure:"method" json:"method"`
	Threshold float64           `mapstructure:"threshold" json:"threshold"`
	ROI       *geometry.RectInt `mapstructure:"roi" json:"roi,omitempty"`
}

// DefaultParams returns all defaults.
func DefaultParams() Params {
	return Params{
		Strategies: append([]string(nil), DefaultStrategies...),
		Contour:    DefaultContourParams(),
		Circle:     DefaultCircleParams(),
		Edge:       DefaultEdgeParams(),
		Visibility: DefaultVisibilityParams(),
		Template:   TemplateParams{Method: "ccoeff_normed", Threshold: DefaultTemplateThreshold},
	}
}

// NewLocator builds a single strategy by name.
func NewLocator(name string, p Params, logger *zap.Logger) (Locator, error) {
	switch name {
	case StrategyContourOffset:
		return NewContourOffsetLocator(p.Contour, logger), nil
	case StrategyCircle:
		return NewCircleLocator(p.Circle, logger), nil
	case StrategyEdge:
		return NewEdgeLocator(NewEdgeFitter(p.Edge, logger)), nil
	case StrategyContourCorner:
		return &ContourCornerLocator{Params: p.Contour}, nil
	default:
		return nil, fmt.Errorf("unknown alignment strategy %q", name)
	}
}

// BuildChain builds the configured strategy chain.
func BuildChain(p Params, logger *zap.Logger) (*Chain, error) {
	names := p.Strategies
	if len(names) == 0 {
		names = DefaultStrategies
	}
	locators := make([]Locator, 0, len(names))
	for _, n := range names {
		l, err := NewLocator(n, p, logger)
		if err != nil {
			return nil, err
		}
		locators = append(locators, l)
	}
	return NewChain(logger, locators...), nil
}

// IsNotFound reports whether err means the frame is not ready for inspection.
func IsNotFound(err error) bool {
	var ve *VisibilityError
	return errors.Is(err, ErrFeatureNotFound) || errors.As(err, &ve)
}
