// Package decision maps verification counts to an inspection outcome.
package decision

import (
	"fmt"
	"strings"

	"pcb-inspect/internal/verify"
)

// Decision is the categorical inspection outcome.
type Decision string

const (
	Normal        Decision = "normal"
	Missing       Decision = "missing"
	PositionError Decision = "position_error"
	Discard       Decision = "discard"
)

// Code returns the numeric category used by actuation.
func (d Decision) Code() int {
	switch d {
	case Normal:
		return 0
	case Missing:
		return 1
	case PositionError:
		return 2
	case Discard:
		return 3
	default:
		return -1
	}
}

// Severity orders decisions: discard > missing > position_error > normal.
func (d Decision) Severity() int {
	switch d {
	case Discard:
		return 3
	case Missing:
		return 2
	case PositionError:
		return 1
	default:
		return 0
	}
}

// Valid reports whether d is one of the four known decisions.
func (d Decision) Valid() bool {
	return d.Code() >= 0
}

// Worse returns the more severe of two decisions.
func Worse(a, b Decision) Decision {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Parse converts a decision name.
func Parse(s string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown decision %q", s)
	}
	return d, nil
}

// Policy holds the critical-defect thresholds. Any one rule triggers discard.
type Policy struct {
	MissingCritical   int `mapstructure:"missing_critical" json:"missing_critical"`
	MisplacedCritical int `mapstructure:"misplaced_critical" json:"misplaced_critical"`
	CombinedCritical  int `mapstructure:"combined_critical" json:"combined_critical"`
}

// DefaultPolicy returns missing>=3, misplaced>=5, combined>=7.
func DefaultPolicy() Policy {
	return Policy{
		MissingCritical:   3,
		MisplacedCritical: 5,
		CombinedCritical:  7,
	}
}

// Outcome is a decision with the critical reasons that produced it, if any.
type Outcome struct {
	Decision Decision `json:"decision"`
	Code     int      `json:"code"`
	Critical bool     `json:"critical"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Reason joins the critical reasons into one line.
func (o Outcome) Reason() string {
	return strings.Join(o.Reasons, "; ")
}

// Critical evaluates the OR-combined critical-defect rules.
func (p Policy) Critical(missing, misplaced int) (bool, []string) {
	var reasons []string
	if missing >= p.MissingCritical {
		reasons = append(reasons, fmt.Sprintf("missing %d >= %d", missing, p.MissingCritical))
	}
	if misplaced >= p.MisplacedCritical {
		reasons = append(reasons, fmt.Sprintf("misplaced %d >= %d", misplaced, p.MisplacedCritical))
	}
	if missing+misplaced >= p.CombinedCritical {
		reasons = append(reasons, fmt.Sprintf("missing+misplaced %d >= %d", missing+misplaced, p.CombinedCritical))
	}
	return len(reasons) > 0, reasons
}

// Decide maps counts to a decision, first rule wins:
// critical -> discard, missing -> missing, misplaced -> position_error, else normal.
func (p Policy) Decide(missing, misplaced int) Outcome {
	if critical, reasons := p.Critical(missing, misplaced); critical {
		return Outcome{Decision: Discard, Code: Discard.Code(), Critical: true, Reasons: reasons}
	}
	d := Normal
	switch {
	case missing > 0:
		d = Missing
	case misplaced > 0:
		d = PositionError
	}
	return Outcome{Decision: d, Code: d.Code()}
}

// DecideResult applies the policy to a verification summary.
func (p Policy) DecideResult(s verify.Summary) Outcome {
	return p.Decide(s.Missing, s.Misplaced)
}
