package inspect

import (
	"encoding/json"
	"time"

	"pcb-inspect/internal/actuation"
	"pcb-inspect/internal/alignment"
	"pcb-inspect/internal/board"
	"pcb-inspect/internal/decision"
	"pcb-inspect/internal/ocr"
	"pcb-inspect/internal/verify"
	"pcb-inspect/pkg/geometry"
)

// Alignment modes.
const (
	ModeHomography = "homography"
	ModeAnchor     = "anchor"
)

// Timings records wall time per stage. It marshals as milliseconds.
type Timings map[Stage]time.Duration

// MarshalJSON encodes each duration in fractional milliseconds.
func (t Timings) MarshalJSON() ([]byte, error) {
	out := make(map[Stage]float64, len(t))
	for k, v := range t {
		out[k] = float64(v.Microseconds()) / 1000
	}
	return json.Marshal(out)
}

// Total is the sum of all stage timings.
func (t Timings) Total() time.Duration {
	var sum time.Duration
	for _, v := range t {
		sum += v
	}
	return sum
}

// SideReport is the result for one face of the board.
type SideReport struct {
	Side         board.Side                  `json:"side"`
	Mode         string                      `json:"mode"`
	Strategy     string                      `json:"strategy"`
	Fiducials    []geometry.Point2D          `json:"fiducials"`
	Residual     float64                     `json:"residual,omitempty"`
	Visibility   *alignment.VisibilityReport `json:"visibility,omitempty"`
	Anchor       *alignment.Anchor           `json:"anchor,omitempty"`
	Verification *verify.Result              `json:"verification"`
	Outcome      decision.Outcome            `json:"outcome"`

	// Overlay is a PNG debug rendering, present only when requested.
	Overlay []byte `json:"-"`
}

// Report is the full outcome of one inspection.
type Report struct {
	ID          string               `json:"id"`
	ProductCode string               `json:"product_code"`
	Serial      string               `json:"serial,omitempty"`
	OCR         *ocr.Result          `json:"ocr,omitempty"`
	Sides       []SideReport         `json:"sides"`
	Outcome     decision.Outcome     `json:"outcome"`
	Slot        actuation.SlotResult `json:"slot"`
	Ack         *actuation.Ack       `json:"ack,omitempty"`
	ActuateErr  string               `json:"actuation_error,omitempty"`
	Timings     Timings              `json:"timings_ms"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Side returns the report for s, if present.
func (r *Report) Side(s board.Side) (*SideReport, bool) {
	for i := range r.Sides {
		if r.Sides[i].Side == s {
			return &r.Sides[i], true
		}
	}
	return nil, false
}

// combine folds per-side outcomes into the board outcome: the most severe
// decision wins, reasons are kept per side.
func combine(sides []SideReport) decision.Outcome {
	out := decision.Outcome{Decision: decision.Normal, Code: decision.Normal.Code()}
	for _, s := range sides {
		o := s.Outcome
		if decision.Worse(out.Decision, o.Decision) != out.Decision {
			out.Decision = o.Decision
			out.Code = o.Code
		}
		if o.Critical {
			out.Critical = true
		}
		for _, r := range o.Reasons {
			out.Reasons = append(out.Reasons, string(s.Side)+": "+r)
		}
	}
	return out
}
