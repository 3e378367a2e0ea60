package alignment

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"pcb-inspect/pkg/geometry"
)

// Edge names one side of the board.
type Edge string

const (
	EdgeTop    Edge = "top"
	EdgeBottom Edge = "bottom"
	EdgeLeft   Edge = "left"
	EdgeRight  Edge = "right"
)

// Corner names a board corner recovered from two edge lines.
type Corner string

const (
	CornerTopLeft     Corner = "top_left"
	CornerTopRight    Corner = "top_right"
	CornerBottomRight Corner = "bottom_right"
	CornerBottomLeft  Corner = "bottom_left"
)

// cornerEdges lists the line pair for each corner, in FeatureSet order.
var cornerEdges = []struct {
	corner Corner
	a, b   Edge
}{
	{CornerTopLeft, EdgeTop, EdgeLeft},
	{CornerTopRight, EdgeTop, EdgeRight},
	{CornerBottomRight, EdgeBottom, EdgeRight},
	{CornerBottomLeft, EdgeBottom, EdgeLeft},
}

// EdgeResult holds fitted lines and whatever corners could be intersected.
// Lines and Corners are in input-frame coordinates. Corners may hold 0 to 4 entries.
type EdgeResult struct {
	Lines   map[Edge]geometry.Line
	Hits    map[Edge]int
	Corners map[Corner]geometry.Point2D
}

// FeatureSet converts a complete result into ordered board corners.
func (r *EdgeResult) FeatureSet() (FeatureSet, error) {
	var fs FeatureSet
	for i, ce := range cornerEdges {
		p, ok := r.Corners[ce.corner]
		if !ok {
			return FeatureSet{}, fmt.Errorf("%w: edge fit found %d of 4 corners", ErrFeatureNotFound, len(r.Corners))
		}
		fs.Points[i] = p
	}
	fs.Strategy = StrategyEdge
	fs.Kind = KindBoardCorners
	return fs, nil
}

// EdgeFitter recovers board corners by scanning edge bands for intensity jumps,
// fitting a line per edge and intersecting adjacent lines.
type EdgeFitter struct {
	Params EdgeParams
	logger *zap.Logger
}

// NewEdgeFitter creates an edge fitter. A nil logger disables logging.
func NewEdgeFitter(params EdgeParams, logger *zap.Logger) *EdgeFitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EdgeFitter{Params: params, logger: logger}
}

// Fit scans the frame after resizing it to the 640x640 canonical edge frame.
func (f *EdgeFitter) Fit(frame gocv.Mat) (*EdgeResult, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrFeatureNotFound)
	}

	gray := toGray(frame)
	defer gray.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{X: EdgeCanonicalSize, Y: EdgeCanonicalSize}, 0, 0, gocv.InterpolationLinear)

	grid := intensityGrid{pix: resized.ToBytes(), w: resized.Cols(), h: resized.Rows()}
	res := f.fitGrid(grid)

	sx := float64(frame.Cols()) / float64(EdgeCanonicalSize)
	sy := float64(frame.Rows()) / float64(EdgeCanonicalSize)
	for c, p := range res.Corners {
		res.Corners[c] = geometry.Point2D{X: p.X * sx, Y: p.Y * sy}
	}
	for e, l := range res.Lines {
		res.Lines[e] = scaleLine(l, sx, sy)
	}
	return res, nil
}

// fitGrid runs scan, fit and intersection on canonical-frame pixels.
func (f *EdgeFitter) fitGrid(g intensityGrid) *EdgeResult {
	res := &EdgeResult{
		Lines:   make(map[Edge]geometry.Line),
		Hits:    make(map[Edge]int),
		Corners: make(map[Corner]geometry.Point2D),
	}

	minHits := max(2, f.Params.MinHitsPerEdge)
	for _, e := range []Edge{EdgeTop, EdgeBottom, EdgeLeft, EdgeRight} {
		hits := f.scan(g, e)
		res.Hits[e] = len(hits)
		if len(hits) < minHits {
			f.logger.Debug("edge has too few hits", zap.String("edge", string(e)), zap.Int("hits", len(hits)))
			continue
		}
		line, err := geometry.FitLine(hits, e == EdgeLeft || e == EdgeRight)
		if err != nil {
			f.logger.Debug("edge fit failed", zap.String("edge", string(e)), zap.Error(err))
			continue
		}
		if e == EdgeBottom {
			line = line.Shift(f.Params.BottomOffset)
		}
		res.Lines[e] = line
	}

	for _, ce := range cornerEdges {
		a, okA := res.Lines[ce.a]
		b, okB := res.Lines[ce.b]
		if !okA || !okB {
			continue
		}
		p, ok := a.Intersect(b)
		if !ok {
			f.logger.Debug("parallel edges, corner omitted", zap.String("corner", string(ce.corner)))
			continue
		}
		res.Corners[ce.corner] = p
	}
	return res
}

// scan walks from outside toward the board center along each scan line of the
// edge band and records the first adjacent-pixel jump above the edge threshold.
func (f *EdgeFitter) scan(g intensityGrid, e Edge) []geometry.Point2D {
	depth := min(f.Params.BandDepth, g.h/2, g.w/2)
	margin := f.Params.BandMargin
	step := max(1, f.Params.ScanStep)

	var hits []geometry.Point2D
	switch e {
	case EdgeTop:
		for x := margin; x < g.w-margin; x += step {
			for y := 1; y < depth; y++ {
				if g.jump(x, y, x, y-1) > f.Params.ThresholdTop {
					hits = append(hits, geometry.Point2D{X: float64(x), Y: float64(y)})
					break
				}
			}
		}
	case EdgeBottom:
		for x := margin; x < g.w-margin; x += step {
			for y := g.h - 2; y >= g.h-depth; y-- {
				if g.jump(x, y, x, y+1) > f.Params.ThresholdBottom {
					hits = append(hits, geometry.Point2D{X: float64(x), Y: float64(y)})
					break
				}
			}
		}
	case EdgeLeft:
		for y := margin; y < g.h-margin; y += step {
			for x := 1; x < depth; x++ {
				if g.jump(x, y, x-1, y) > f.Params.ThresholdLeft {
					hits = append(hits, geometry.Point2D{X: float64(x), Y: float64(y)})
					break
				}
			}
		}
	case EdgeRight:
		for y := margin; y < g.h-margin; y += step {
			for x := g.w - 2; x >= g.w-depth; x-- {
				if g.jump(x, y, x+1, y) > f.Params.ThresholdRight {
					hits = append(hits, geometry.Point2D{X: float64(x), Y: float64(y)})
					break
				}
			}
		}
	}
	return hits
}

// intensityGrid is a row-major 8-bit grayscale buffer.
type intensityGrid struct {
	pix  []byte
	w, h int
}

func (g intensityGrid) at(x, y int) float64 {
	return float64(g.pix[y*g.w+x])
}

func (g intensityGrid) jump(x0, y0, x1, y1 int) float64 {
	return math.Abs(g.at(x0, y0) - g.at(x1, y1))
}

// scaleLine maps a canonical-frame line into a frame scaled by (sx, sy).
func scaleLine(l geometry.Line, sx, sy float64) geometry.Line {
	if l.Swapped {
		// x = m*y + b  ->  X/sx = m*(Y/sy) + b
		return geometry.Line{Slope: l.Slope * sx / sy, Intercept: l.Intercept * sx, Swapped: true}
	}
	return geometry.Line{Slope: l.Slope * sy / sx, Intercept: l.Intercept * sy}
}

// EdgeLocator adapts EdgeFitter to the Locator interface.
type EdgeLocator struct {
	fitter *EdgeFitter
}

// NewEdgeLocator wraps an edge fitter.
func NewEdgeLocator(fitter *EdgeFitter) *EdgeLocator {
	return &EdgeLocator{fitter: fitter}
}

func (l *EdgeLocator) Name() string { return StrategyEdge }

// Locate fails with ErrFeatureNotFound unless all four corners were recovered.
func (l *EdgeLocator) Locate(frame gocv.Mat) (FeatureSet, error) {
	res, err := l.fitter.Fit(frame)
	if err != nil {
		return FeatureSet{}, fmt.Errorf("%w: %v", ErrFeatureNotFound, err)
	}
	return res.FeatureSet()
}
