package alignment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFeatureNotFound means no usable fiducials were located in the frame.
	ErrFeatureNotFound = errors.New("fiducial features not found")

	// ErrLowConfidenceMatch is a template match below threshold or outside its ROI.
	// It is a kind of ErrFeatureNotFound.
	ErrLowConfidenceMatch = &lowConfidenceError{}

	// ErrDegenerateGeometry marks parallel edge lines or a singular transform.
	ErrDegenerateGeometry = errors.New("degenerate geometry")
)

type lowConfidenceError struct{}

func (*lowConfidenceError) Error() string { return "template match below confidence" }

func (*lowConfidenceError) Is(target error) bool {
	return target == ErrFeatureNotFound
}

// StrategyFailure records why one locator in a chain failed.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// ChainError is returned when every locator in a chain failed.
type ChainError struct {
	Failures []StrategyFailure
}

func (e *ChainError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Strategy, f.Err)
	}
	return fmt.Sprintf("%v (%s)", ErrFeatureNotFound, strings.Join(parts, "; "))
}

func (e *ChainError) Unwrap() error { return ErrFeatureNotFound }

// VisibilityError carries the per-condition breakdown of a failed visibility check.
type VisibilityError struct {
	Report VisibilityReport
}

func (e *VisibilityError) Error() string {
	return "board not fully visible: " + e.Report.String()
}
