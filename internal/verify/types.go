// Package verify compares detected components against a reference layout.
package verify

import (
	"math"
	"strings"

	"pcb-inspect/internal/board"
	"pcb-inspect/pkg/geometry"
)

// Detection is one component reported by the detector for a single frame.
type Detection struct {
	ClassName  string           `json:"class_name"`
	BBox       geometry.BBox    `json:"bbox"`
	Center     geometry.Point2D `json:"center"`
	Confidence float64          `json:"confidence"`
}

// normalized fills a missing center from the bbox. ok is false for detections
// that cannot take part in matching.
func (d Detection) normalized() (Detection, bool) {
	if strings.TrimSpace(d.ClassName) == "" || !d.BBox.Valid() {
		return d, false
	}
	if math.IsNaN(d.Confidence) {
		return d, false
	}
	if d.Center == (geometry.Point2D{}) {
		d.Center = d.BBox.Center()
	}
	if !d.Center.IsFinite() {
		return d, false
	}
	return d, true
}

// Match pairs a reference component with the detection assigned to it.
type Match struct {
	Reference board.ReferenceComponent `json:"reference"`
	Detected  Detection                `json:"detected"`
	Offset    float64                  `json:"offset"`
}

// Summary holds the counts of a verification run.
type Summary struct {
	Reference     int `json:"reference"`
	Detections    int `json:"detections"` // after filtering
	Matched       int `json:"matched"`
	Misplaced     int `json:"misplaced"`
	Missing       int `json:"missing"`
	Extra         int `json:"extra"`
	LowConfidence int `json:"low_confidence"`
	Dropped       int `json:"dropped"` // malformed input
}

// Result is the outcome of one verification run. It is not modified after Verify returns.
type Result struct {
	Matched   []Match                    `json:"matched"`
	Misplaced []Match                    `json:"misplaced"`
	Missing   []board.ReferenceComponent `json:"missing"`
	Extra     []Detection                `json:"extra"`
	Summary   Summary                    `json:"summary"`
}
