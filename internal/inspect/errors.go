package inspect

import (
	"errors"
	"fmt"

	"pcb-inspect/internal/board"
)

// Stage names a step of the inspection pipeline.
type Stage string

const (
	StageDecode  Stage = "decode"
	StageOCR     Stage = "ocr"
	StageLayout  Stage = "layout"
	StageAlign   Stage = "align"
	StageDetect  Stage = "detect"
	StageVerify  Stage = "verify"
	StageActuate Stage = "actuate"
	StageRecord  Stage = "record"
)

// ErrNoProductCode is returned when neither the request nor OCR yields a product code.
var ErrNoProductCode = errors.New("product code unknown")

// StageError reports which stage failed, and for which side. An inspection that
// ends in a StageError has no decision.
type StageError struct {
	Stage Stage
	Side  board.Side // empty for stages that are not per side
	Err   error
}

func (e *StageError) Error() string {
	if e.Side != "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Side, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, side board.Side, err error) *StageError {
	return &StageError{Stage: stage, Side: side, Err: err}
}

// StageOf returns the failing stage of err, or "" if err is not a StageError.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
