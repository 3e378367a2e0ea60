package alignment

import (
	"fmt"
	"strings"

	"gocv.io/x/gocv"

	"pcb-inspect/internal/board"
	"pcb-inspect/pkg/geometry"
)

// HoleRatios are detected/reference hole distance ratios.
type HoleRatios struct {
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Diagonal float64 `json:"diagonal"`
}

// VisibilityReport is the per-condition breakdown of a visibility check.
// The board is visible when at least two of the three conditions pass; the
// hole count is a prerequisite and short-circuits the others when it fails.
type VisibilityReport struct {
	HolesPresent bool       `json:"holes_present"`
	DistancesOK  bool       `json:"distances_ok"`
	AreaChecked  bool       `json:"area_checked"`
	AreaOK       bool       `json:"area_ok"`
	Ratios       HoleRatios `json:"ratios"`
	AreaFraction float64    `json:"area_fraction,omitempty"`
	Passed       int        `json:"passed"`
	Visible      bool       `json:"visible"`
}

func (r VisibilityReport) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("holes=%t", r.HolesPresent))
	if r.HolesPresent {
		parts = append(parts, fmt.Sprintf("distances=%t (w=%.2f h=%.2f d=%.2f)",
			r.DistancesOK, r.Ratios.Width, r.Ratios.Height, r.Ratios.Diagonal))
		if r.AreaChecked {
			parts = append(parts, fmt.Sprintf("area=%t (%.2f)", r.AreaOK, r.AreaFraction))
		} else {
			parts = append(parts, "area=skipped")
		}
	}
	parts = append(parts, fmt.Sprintf("passed=%d/3", r.Passed))
	return strings.Join(parts, " ")
}

// tally counts passing conditions and sets Visible.
func (r *VisibilityReport) tally() {
	r.Passed = 0
	if !r.HolesPresent {
		r.Visible = false
		return
	}
	for _, ok := range []bool{r.HolesPresent, r.DistancesOK, r.AreaOK} {
		if ok {
			r.Passed++
		}
	}
	r.Visible = r.Passed >= 2
}

// CheckVisibility decides whether the whole board is in frame. points are
// compared against the distances between targets, the canonical positions
// they correspond to. frame may be nil; the area condition only runs when a
// frame is given and params.AreaCheck is set, and otherwise counts as failed.
func CheckVisibility(points []geometry.Point2D, targets [4]geometry.Point2D, layout *board.ReferenceLayout, frame *gocv.Mat, params VisibilityParams) VisibilityReport {
	var r VisibilityReport

	r.HolesPresent = len(points) == 4
	if !r.HolesPresent {
		r.tally()
		return r
	}

	var pts [4]geometry.Point2D
	copy(pts[:], points)
	got := board.ComputeHoleDistances(pts)
	want := board.ComputeHoleDistances(targets)
	r.Ratios = HoleRatios{
		Width:    safeDiv(got.Width, want.Width),
		Height:   safeDiv(got.Height, want.Height),
		Diagonal: safeDiv(got.Diagonal, want.Diagonal),
	}
	r.DistancesOK = true
	for _, v := range []float64{r.Ratios.Width, r.Ratios.Height, r.Ratios.Diagonal} {
		if v < params.RatioMin || v > params.RatioMax {
			r.DistancesOK = false
		}
	}

	if frame != nil && params.AreaCheck && !frame.Empty() {
		r.AreaChecked = true
		r.AreaFraction = boardAreaFraction(*frame, layout)
		r.AreaOK = r.AreaFraction >= params.MinAreaFraction
	}

	r.tally()
	return r
}

// boardAreaFraction is the largest substrate contour area over the canonical area.
func boardAreaFraction(frame gocv.Mat, layout *board.ReferenceLayout) float64 {
	mask := substrateMask(frame, layout.SubstrateRange(), 5)
	defer mask.Close()

	_, area, err := largestContour(mask)
	if err != nil {
		return 0
	}
	return safeDiv(area, layout.CanonicalSize.Area())
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
