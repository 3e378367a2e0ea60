package alignment

import (
	"fmt"
	"sort"

	"pcb-inspect/internal/board"
	"pcb-inspect/pkg/geometry"
)

// FeatureKind says which physical points a FeatureSet holds.
type FeatureKind string

const (
	KindHoles        FeatureKind = "holes"
	KindBoardCorners FeatureKind = "board_corners"
)

// FeatureSet is four fiducial points ordered TL, TR, BR, BL.
type FeatureSet struct {
	Points   [4]geometry.Point2D `json:"points"`
	Strategy string              `json:"strategy"`
	Kind     FeatureKind         `json:"kind"`
}

// Targets returns the canonical layout points the features correspond to:
// the board outline for board corners, the mounting holes otherwise.
func (f FeatureSet) Targets(layout *board.ReferenceLayout) [4]geometry.Point2D {
	if f.Kind == KindBoardCorners {
		return layout.Outline()
	}
	return layout.MountingHoles
}

// Slice returns the points as a slice.
func (f FeatureSet) Slice() []geometry.Point2D {
	return f.Points[:]
}

// OrderPoints orders four points as TL, TR, BR, BL by splitting at the median y
// into top and bottom pairs and sorting each pair by x.
//
// consistent is false when the median split does not give two points on each
// side (equal y values at the median). The points are then ordered by a plain
// y-then-x sort, which is usable but may swap corners on rotated boards.
func OrderPoints(pts [4]geometry.Point2D) (ordered [4]geometry.Point2D, consistent bool) {
	ys := []float64{pts[0].Y, pts[1].Y, pts[2].Y, pts[3].Y}
	sort.Float64s(ys)
	median := (ys[1] + ys[2]) / 2

	var top, bottom []geometry.Point2D
	for _, p := range pts {
		if p.Y < median {
			top = append(top, p)
		} else {
			bottom = append(bottom, p)
		}
	}

	if len(top) != 2 || len(bottom) != 2 {
		sorted := append([]geometry.Point2D(nil), pts[:]...)
		sort.Slice(sorted, func(i, j int) bool { return lessYX(sorted[i], sorted[j]) })
		top, bottom = sorted[:2], sorted[2:]
		sortByX(top)
		sortByX(bottom)
		return [4]geometry.Point2D{top[0], top[1], bottom[1], bottom[0]}, false
	}

	sortByX(top)
	sortByX(bottom)
	return [4]geometry.Point2D{top[0], top[1], bottom[1], bottom[0]}, true
}

// OrderByDiagonals orders a quadrilateral's vertices by x+y and x-y extremes:
// TL has min x+y, BR max x+y, TR max x-y, BL min x-y.
func OrderByDiagonals(pts [4]geometry.Point2D) ([4]geometry.Point2D, error) {
	tl, br, tr, bl := 0, 0, 0, 0
	for i, p := range pts {
		if p.X+p.Y < pts[tl].X+pts[tl].Y {
			tl = i
		}
		if p.X+p.Y > pts[br].X+pts[br].Y {
			br = i
		}
		if p.X-p.Y > pts[tr].X-pts[tr].Y {
			tr = i
		}
		if p.X-p.Y < pts[bl].X-pts[bl].Y {
			bl = i
		}
	}

	seen := map[int]bool{tl: true, tr: true, br: true, bl: true}
	if len(seen) != 4 {
		return pts, fmt.Errorf("%w: corners not separable by diagonals", ErrDegenerateGeometry)
	}
	return [4]geometry.Point2D{pts[tl], pts[tr], pts[br], pts[bl]}, nil
}

func sortByX(pts []geometry.Point2D) {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
}

func lessYX(a, b geometry.Point2D) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}
