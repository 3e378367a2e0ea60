package verify

import (
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcb-inspect/internal/board"
	"pcb-inspect/pkg/geometry"
)

func ref(class string, x, y float64) board.ReferenceComponent {
	return board.ReferenceComponent{
		ClassName: class,
		BBox:      geometry.BBox{X1: x - 5, Y1: y - 5, X2: x + 5, Y2: y + 5},
		Center:    geometry.Point2D{X: x, Y: y},
	}
}

func det(class string, x, y, conf float64) Detection {
	return Detection{
		ClassName:  class,
		BBox:       geometry.BBox{X1: x - 5, Y1: y - 5, X2: x + 5, Y2: y + 5},
		Center:     geometry.Point2D{X: x, Y: y},
		Confidence: conf,
	}
}

func TestVerify_MatchedAndMisplaced(t *testing.T) {
	v := NewVerifier(20, 0.5, nil)
	res := v.Verify(
		[]board.ReferenceComponent{ref("R", 100, 100), ref("C", 200, 200)},
		[]Detection{det("R", 105, 102, 0.9), det("C", 260, 260, 0.9)},
	)

	require.Len(t, res.Matched, 1)
	require.Len(t, res.Misplaced, 1)
	assert.Equal(t, "R", res.Matched[0].Reference.ClassName)
	assert.InDelta(t, 5.385, res.Matched[0].Offset, 1e-3)
	assert.Equal(t, "C", res.Misplaced[0].Reference.ClassName)
	assert.InDelta(t, 84.853, res.Misplaced[0].Offset, 1e-3)
	assert.Equal(t, Summary{Reference: 2, Detections: 2, Matched: 1, Misplaced: 1}, res.Summary)
}

func TestVerify_MissingWhenNoDetections(t *testing.T) {
	v := NewVerifier(20, 0.5, nil)
	res := v.Verify([]board.ReferenceComponent{ref("IC", 50, 50)}, nil)
	assert.Equal(t, 1, res.Summary.Missing)
	assert.Empty(t, res.Matched)
	assert.NotNil(t, res.Extra)
}

func TestVerify_ThresholdBoundaryInclusive(t *testing.T) {
	v := NewVerifier(20, 0.5, nil)

	res := v.Verify([]board.ReferenceComponent{ref("R", 100, 100)}, []Detection{det("R", 120, 100, 0.9)})
	assert.Equal(t, 1, res.Summary.Matched)

	res = v.Verify([]board.ReferenceComponent{ref("R", 100, 100)}, []Detection{det("R", 120.000001, 100, 0.9)})
	assert.Equal(t, 1, res.Summary.Misplaced)
}

func TestVerify_NoCrossClassMatching(t *testing.T) {
	v := NewVerifier(20, 0.5, nil)
	res := v.Verify([]board.ReferenceComponent{ref("R", 100, 100)}, []Detection{det("C", 100, 100, 0.9)})
	assert.Equal(t, 1, res.Summary.Missing)
	assert.Equal(t, 1, res.Summary.Extra)
}

func TestVerify_ConfidenceFilter(t *testing.T) {
	v := NewVerifier(20, 0.6, nil)
	res := v.Verify([]board.ReferenceComponent{ref("R", 100, 100)}, []Detection{det("R", 100, 100, 0.59)})
	assert.Equal(t, 1, res.Summary.Missing)
	assert.Equal(t, 1, res.Summary.LowConfidence)
	assert.Equal(t, 0, res.Summary.Detections)
}

func TestVerify_DetectionNotReused(t *testing.T) {
	v := NewVerifier(20, 0.5, nil)
	res := v.Verify(
		[]board.ReferenceComponent{ref("R", 100, 100), ref("R", 104, 100)},
		[]Detection{det("R", 102, 100, 0.9)},
	)
	assert.Equal(t, 1, res.Summary.Matched)
	assert.Equal(t, 1, res.Summary.Missing)
	assert.Equal(t, 104.0, res.Missing[0].Center.X, "first reference in order claims the detection")
}

func TestVerify_TieFirstSeenWins(t *testing.T) {
	v := NewVerifier(20, 0.5, nil)
	a := det("R", 95, 100, 0.7)
	b := det("R", 105, 100, 0.8)
	res := v.Verify([]board.ReferenceComponent{ref("R", 100, 100)}, []Detection{a, b})
	require.Len(t, res.Matched, 1)
	assert.Equal(t, a, res.Matched[0].Detected)
	assert.Equal(t, []Detection{b}, res.Extra)
}

func TestVerify_MalformedDetectionsDropped(t *testing.T) {
	v := NewVerifier(20, 0.5, nil)
	bad := []Detection{
		{ClassName: "", BBox: geometry.BBox{X2: 1, Y2: 1}, Confidence: 0.9},
		{ClassName: "R", BBox: geometry.BBox{X1: 10, X2: 1}, Confidence: 0.9},
		{ClassName: "R", BBox: geometry.BBox{X1: math.NaN()}, Confidence: 0.9},
	}
	res := v.Verify([]board.ReferenceComponent{ref("R", 100, 100)}, bad)
	assert.Equal(t, 3, res.Summary.Dropped)
	assert.Equal(t, 1, res.Summary.Missing)
}

func TestVerify_CenterDerivedFromBBox(t *testing.T) {
	v := NewVerifier(20, 0.5, nil)
	d := Detection{ClassName: "R", BBox: geometry.BBox{X1: 90, Y1: 90, X2: 110, Y2: 110}, Confidence: 0.9}
	res := v.Verify([]board.ReferenceComponent{ref("R", 100, 100)}, []Detection{d})
	require.Len(t, res.Matched, 1)
	assert.Equal(t, 0.0, res.Matched[0].Offset)
}

// TestVerify_OneToOne checks every reference and detection lands in exactly one bucket.
func TestVerify_OneToOne(t *testing.T) {
	properties := gopter.NewProperties(nil)
	classes := []string{"R", "C", "IC"}

	properties.Property("partition of references and detections", prop.ForAll(
		func(seed int64, nRef, nDet int) bool {
			rng := rand.New(rand.NewSource(seed))

			refs := make([]board.ReferenceComponent, nRef)
			for i := range refs {
				refs[i] = board.ReferenceComponent{
					ClassName: classes[rng.Intn(len(classes))],
					BBox:      geometry.BBox{X1: float64(i), X2: float64(i)},
					Center:    geometry.Point2D{X: rng.Float64() * 200, Y: rng.Float64() * 200},
				}
			}
			dets := make([]Detection, nDet)
			for i := range dets {
				dets[i] = Detection{
					ClassName:  classes[rng.Intn(len(classes))],
					BBox:       geometry.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1},
					Center:     geometry.Point2D{X: rng.Float64() * 200, Y: rng.Float64() * 200},
					Confidence: 0.5 + float64(i)*1e-3,
				}
			}

			res := NewVerifier(20, 0, nil).Verify(refs, dets)
			s := res.Summary

			if s.Matched+s.Misplaced+s.Missing != len(refs) {
				return false
			}
			if s.Matched+s.Misplaced+s.Extra != s.Detections || s.Detections != len(dets) {
				return false
			}

			seenRef := map[float64]int{}
			seenDet := map[float64]int{}
			for _, m := range append(append([]Match{}, res.Matched...), res.Misplaced...) {
				seenRef[m.Reference.BBox.X1]++
				seenDet[m.Detected.Confidence]++
				if m.Reference.ClassName != m.Detected.ClassName {
					return false
				}
			}
			for _, r := range res.Missing {
				seenRef[r.BBox.X1]++
			}
			for _, d := range res.Extra {
				seenDet[d.Confidence]++
			}
			for _, n := range seenRef {
				if n != 1 {
					return false
				}
			}
			for _, n := range seenDet {
				if n != 1 {
					return false
				}
			}
			return len(seenRef) == len(refs) && len(seenDet) == len(dets)
		},
		gen.Int64(),
		gen.IntRange(0, 12),
		gen.IntRange(0, 15),
	))

	properties.TestingRun(t)
}
