package verify

import (
	"go.uber.org/zap"

	"pcb-inspect/internal/board"
)

const (
	DefaultPositionThreshold   = 20.0
	DefaultConfidenceThreshold = 0.5
)

// Verifier matches detections to reference components. Thresholds are per instance.
type Verifier struct {
	PositionThreshold   float64 // max center offset (px) for a correct placement, inclusive
	ConfidenceThreshold float64 // detections below this are ignored

	logger *zap.Logger
}

// NewVerifier creates a verifier. A nil logger disables logging.
func NewVerifier(positionThreshold, confidenceThreshold float64, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		PositionThreshold:   positionThreshold,
		ConfidenceThreshold: confidenceThreshold,
		logger:              logger,
	}
}

// Verify classifies every reference component as matched, misplaced or missing
// and every leftover detection as extra.
//
// Matching is greedy: reference components are taken in layout order and each
// claims the nearest unclaimed detection of the same class, first seen winning
// ties. This is not a globally optimal assignment; closely spaced parts of the
// same class can pair up with a larger total offset than the optimum.
func (v *Verifier) Verify(reference []board.ReferenceComponent, detections []Detection) *Result {
	res := &Result{
		Matched:   []Match{},
		Misplaced: []Match{},
		Missing:   []board.ReferenceComponent{},
		Extra:     []Detection{},
	}
	res.Summary.Reference = len(reference)

	dets := make([]Detection, 0, len(detections))
	for _, d := range detections {
		nd, ok := d.normalized()
		if !ok {
			res.Summary.Dropped++
			continue
		}
		if nd.Confidence < v.ConfidenceThreshold {
			res.Summary.LowConfidence++
			continue
		}
		dets = append(dets, nd)
	}
	res.Summary.Detections = len(dets)
	if res.Summary.Dropped > 0 {
		v.logger.Warn("dropped malformed detections", zap.Int("count", res.Summary.Dropped))
	}

	byClass := make(map[string][]int)
	for i, d := range dets {
		byClass[d.ClassName] = append(byClass[d.ClassName], i)
	}

	claimed := make([]bool, len(dets))
	for _, ref := range reference {
		best := -1
		bestDist := 0.0
		for _, j := range byClass[ref.ClassName] {
			if claimed[j] {
				continue
			}
			dist := ref.Center.Distance(dets[j].Center)
			if best < 0 || dist < bestDist {
				best = j
				bestDist = dist
			}
		}

		if best < 0 {
			res.Missing = append(res.Missing, ref)
			continue
		}

		claimed[best] = true
		m := Match{Reference: ref, Detected: dets[best], Offset: bestDist}
		if bestDist <= v.PositionThreshold {
			res.Matched = append(res.Matched, m)
		} else {
			res.Misplaced = append(res.Misplaced, m)
		}
	}

	for i, d := range dets {
		if !claimed[i] {
			res.Extra = append(res.Extra, d)
		}
	}

	res.Summary.Matched = len(res.Matched)
	res.Summary.Misplaced = len(res.Misplaced)
	res.Summary.Missing = len(res.Missing)
	res.Summary.Extra = len(res.Extra)

	v.logger.Debug("verification complete",
		zap.Int("matched", res.Summary.Matched),
		zap.Int("misplaced", res.Summary.Misplaced),
		zap.Int("missing", res.Summary.Missing),
		zap.Int("extra", res.Summary.Extra))

	return res
}
