// Package inspect runs the full board inspection: decode, identify, align,
// detect, verify, decide, actuate and record.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"pcb-inspect/internal/actuation"
	"pcb-inspect/internal/alignment"
	"pcb-inspect/internal/board"
	"pcb-inspect/internal/decision"
	"pcb-inspect/internal/detector"
	"pcb-inspect/internal/ocr"
	"pcb-inspect/internal/serial"
	"pcb-inspect/internal/store"
	"pcb-inspect/internal/verify"
)

// Deps are the collaborators of a Service. Layouts, Locator, Aligner, Verifier
// and Detector are required; the rest have working defaults.
type Deps struct {
	Layouts  *board.Store
	Locator  alignment.Locator
	Aligner  *alignment.Aligner
	Template alignment.TemplateParams
	Verifier *verify.Verifier
	Policy   decision.Policy
	Detector detector.Detector
	OCR      ocr.Recognizer
	Actuator actuation.Actuator
	Slots    *actuation.SlotAllocator
	Recorder store.Recorder
}

// Request is one board to inspect. Back is optional.
type Request struct {
	Front       []byte
	Back        []byte
	ProductCode string // overrides OCR when set
	Overlay     bool
}

// StageObserver is called after every stage with its duration and error.
type StageObserver func(stage Stage, side board.Side, d time.Duration, err error)

// Service is built once and shared by all concurrent inspections. Apart from
// the slot allocator and the template cache it holds no mutable state.
type Service struct {
	deps    Deps
	logger  *zap.Logger
	observe StageObserver

	tmplMu    sync.Mutex
	templates map[string]gocv.Mat
}

// New validates deps and creates a Service.
func New(deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Layouts == nil:
		return nil, errors.New("inspect: layout store is required")
	case deps.Locator == nil:
		return nil, errors.New("inspect: locator is required")
	case deps.Aligner == nil:
		return nil, errors.New("inspect: aligner is required")
	case deps.Verifier == nil:
		return nil, errors.New("inspect: verifier is required")
	case deps.Detector == nil:
		return nil, errors.New("inspect: detector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Policy == (decision.Policy{}) {
		deps.Policy = decision.DefaultPolicy()
	}
	if deps.OCR == nil {
		deps.OCR = ocr.Nop{}
	}
	if deps.Actuator == nil {
		deps.Actuator = actuation.NewLogActuator(logger)
	}
	return &Service{
		deps:      deps,
		logger:    logger,
		templates: make(map[string]gocv.Mat),
	}, nil
}

// Observe registers a stage observer. It must be called before serving.
func (s *Service) Observe(fn StageObserver) {
	s.observe = fn
}

// Layouts returns the layout store.
func (s *Service) Layouts() *board.Store {
	return s.deps.Layouts
}

// Verifier returns the configured verifier.
func (s *Service) Verifier() *verify.Verifier {
	return s.deps.Verifier
}

// Policy returns the decision policy.
func (s *Service) Policy() decision.Policy {
	return s.deps.Policy
}

// Close releases cached anchor templates.
func (s *Service) Close() error {
	s.tmplMu.Lock()
	defer s.tmplMu.Unlock()
	for k, m := range s.templates {
		m.Close()
		delete(s.templates, k)
	}
	return nil
}

// timed runs fn as a stage, recording its duration.
func (s *Service) timed(t Timings, stage Stage, side board.Side, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	t[stage] += d
	if s.observe != nil {
		s.observe(stage, side, d, err)
	}
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return err
		}
		return stageErr(stage, side, err)
	}
	return nil
}

// Inspect runs the pipeline. Any failure before a decision is reached returns a
// *StageError and no report; failures after it (actuation, recording) are
// logged and reported but do not change the decision.
func (s *Service) Inspect(ctx context.Context, req Request) (*Report, error) {
	rep := &Report{
		ID:        uuid.NewString(),
		Timings:   Timings{},
		CreatedAt: time.Now(),
	}
	log := s.logger.With(zap.String("inspection_id", rep.ID))

	var front, back gocv.Mat
	err := s.timed(rep.Timings, StageDecode, board.SideFront, func() (err error) {
		front, err = DecodeImage(req.Front)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer front.Close()

	hasBack := len(req.Back) > 0
	if hasBack {
		err := s.timed(rep.Timings, StageDecode, board.SideBack, func() (err error) {
			back, err = DecodeImage(req.Back)
			return err
		})
		if err != nil {
			return nil, err
		}
		defer back.Close()
	}

	if err := s.identify(ctx, rep, req.ProductCode, front); err != nil {
		return nil, err
	}

	var layout *board.ReferenceLayout
	err = s.timed(rep.Timings, StageLayout, "", func() (err error) {
		layout, err = s.deps.Layouts.Get(rep.ProductCode)
		return err
	})
	if err != nil {
		return nil, err
	}

	sides := []sideFrame{{board.SideFront, front}}
	if hasBack {
		if layout.HasSide(board.SideBack) {
			sides = append(sides, sideFrame{board.SideBack, back})
		} else {
			log.Warn("back frame supplied but layout has no back components", zap.String("product", layout.ProductCode))
		}
	}

	for _, sd := range sides {
		sr, err := s.inspectSide(ctx, rep.Timings, layout, sd.side, sd.frame, req.Overlay)
		if err != nil {
			log.Info("inspection stopped", zap.Error(err))
			return nil, err
		}
		rep.Sides = append(rep.Sides, *sr)
	}

	rep.Outcome = combine(rep.Sides)
	s.dispatch(ctx, rep, log)

	log.Info("inspection complete",
		zap.String("product", rep.ProductCode),
		zap.String("decision", string(rep.Outcome.Decision)),
		zap.Duration("elapsed", rep.Timings.Total()))
	return rep, nil
}

type sideFrame struct {
	side  board.Side
	frame gocv.Mat
}

// identify fills the product code from the override or from the serial label.
func (s *Service) identify(ctx context.Context, rep *Report, override string, front gocv.Mat) error {
	if code := board.NormalizeCode(override); code != "" {
		rep.ProductCode = code
		return nil
	}
	return s.timed(rep.Timings, StageOCR, board.SideFront, func() error {
		res, err := s.deps.OCR.Recognize(ctx, front)
		if err != nil {
			return err
		}
		rep.OCR = &res
		sn, err := serial.Parse(res.Text)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoProductCode, err)
		}
		rep.Serial = sn.String()
		rep.ProductCode = sn.ProductCode
		return nil
	})
}

// inspectSide aligns, detects, verifies and decides one face of the board.
func (s *Service) inspectSide(ctx context.Context, t Timings, layout *board.ReferenceLayout, side board.Side, frame gocv.Mat, overlay bool) (*SideReport, error) {
	sr := &SideReport{Side: side}

	var (
		aligned   *alignment.Result
		anchor    *alignment.Anchor
		reference []board.ReferenceComponent
	)
	err := s.timed(t, StageAlign, side, func() error {
		var err error
		aligned, anchor, err = s.align(frame, layout)
		return err
	})
	if err != nil {
		return nil, err
	}

	target := frame
	if aligned != nil {
		defer aligned.Close()
		target = aligned.Warped
		sr.Mode = ModeHomography
		sr.Strategy = aligned.Features.Strategy
		targets := aligned.Features.Targets(layout)
		sr.Fiducials = targets[:]
		sr.Residual = aligned.Residual
		sr.Visibility = &aligned.Visibility
		reference = layout.ComponentsFor(side)
	} else {
		sr.Mode = ModeAnchor
		sr.Strategy = alignment.StrategyTemplate
		sr.Anchor = anchor
		sr.Fiducials = append(sr.Fiducials, anchor.Point)
		reference = layout.RelativeComponents(side, layout.Anchor.Point)
	}

	var dets []verify.Detection
	err = s.timed(t, StageDetect, side, func() (err error) {
		dets, err = s.deps.Detector.Detect(ctx, target)
		return err
	})
	if err != nil {
		return nil, err
	}
	if anchor != nil {
		dets = anchor.Rebase(dets)
	}

	_ = s.timed(t, StageVerify, side, func() error {
		sr.Verification = s.deps.Verifier.Verify(reference, dets)
		sr.Outcome = s.deps.Policy.DecideResult(sr.Verification.Summary)
		return nil
	})

	if overlay {
		res := sr.Verification
		if anchor != nil {
			// Results are anchor-relative; only the anchor is drawn.
			res = nil
		}
		img := alignment.DrawOverlay(target, sr.Fiducials, res)
		png, err := alignment.EncodePNG(img)
		img.Close()
		if err != nil {
			s.logger.Warn("overlay encoding failed", zap.Error(err))
		} else {
			sr.Overlay = png
		}
	}
	return sr, nil
}

// align runs the locator chain and warps the frame. When every strategy fails
// and the layout defines an anchor template, it falls back to a translation-only
// anchor match. Exactly one of the returned result and anchor is non-nil on success.
func (s *Service) align(frame gocv.Mat, layout *board.ReferenceLayout) (*alignment.Result, *alignment.Anchor, error) {
	features, err := s.deps.Locator.Locate(frame)
	if err == nil {
		res, err := s.deps.Aligner.Align(frame, features, layout)
		if err != nil {
			return nil, nil, err
		}
		return res, nil, nil
	}
	if layout.Anchor == nil || !alignment.IsNotFound(err) {
		return nil, nil, err
	}

	s.logger.Debug("locator chain failed, trying anchor template",
		zap.String("product", layout.ProductCode), zap.Error(err))
	tmpl, terr := s.template(layout)
	if terr != nil {
		return nil, nil, fmt.Errorf("%w; anchor template: %v", err, terr)
	}
	m, terr := s.deps.Template.NewMatcher(tmpl)
	if terr != nil {
		return nil, nil, terr
	}
	a, terr := m.Match(frame)
	if terr != nil {
		return nil, nil, terr
	}
	return nil, &a, nil
}

// template loads and caches the layout's anchor template.
func (s *Service) template(layout *board.ReferenceLayout) (gocv.Mat, error) {
	path := layout.TemplatePath()
	if path == "" {
		return gocv.Mat{}, fmt.Errorf("layout %s has no anchor template", layout.ProductCode)
	}

	s.tmplMu.Lock()
	defer s.tmplMu.Unlock()
	if m, ok := s.templates[path]; ok {
		return m, nil
	}
	m := gocv.IMRead(path, gocv.IMReadColor)
	if m.Empty() {
		m.Close()
		return gocv.Mat{}, fmt.Errorf("cannot read template %s", path)
	}
	s.templates[path] = m
	return m, nil
}

// dispatch allocates a slot, notifies the line and queues the record. None of
// these can change the decision.
func (s *Service) dispatch(ctx context.Context, rep *Report, log *zap.Logger) {
	d := rep.Outcome.Decision
	rep.Slot = actuation.SlotResult{Status: actuation.SlotFull}
	if s.deps.Slots != nil {
		rep.Slot = s.deps.Slots.Assign(d)
		if !rep.Slot.Assigned() {
			log.Warn("no free slot for decision", zap.String("decision", string(d)))
		}
	}

	_ = s.timed(rep.Timings, StageActuate, "", func() error {
		ack, err := s.deps.Actuator.Send(ctx, d, actuation.Metadata{
			InspectionID: rep.ID,
			ProductCode:  rep.ProductCode,
			Serial:       rep.Serial,
			Slot:         rep.Slot,
		})
		if err != nil {
			rep.ActuateErr = err.Error()
			log.Error("actuation failed", zap.Error(err))
			return err
		}
		rep.Ack = &ack
		return nil
	})

	if s.deps.Recorder == nil {
		return
	}
	_ = s.timed(rep.Timings, StageRecord, "", func() error {
		if _, err := s.deps.Recorder.Record(ctx, s.record(rep)); err != nil {
			log.Warn("inspection record not stored", zap.Error(err))
			return err
		}
		return nil
	})
}

func (s *Service) record(rep *Report) store.Record {
	r := store.Record{
		ID:          rep.ID,
		ProductCode: rep.ProductCode,
		Serial:      rep.Serial,
		Decision:    rep.Outcome.Decision,
		Critical:    rep.Outcome.Critical,
		Reasons:     rep.Outcome.Reasons,
		Box:         -1,
		Slot:        -1,
		Total:       rep.Timings.Total(),
		CreatedAt:   rep.CreatedAt,
	}
	if rep.Slot.Assigned() {
		r.Box, r.Slot = rep.Slot.Box, rep.Slot.Slot
	}
	for _, sd := range rep.Sides {
		if r.Strategy == "" {
			r.Strategy = sd.Strategy
		}
		r.Sides = append(r.Sides, store.CountsFromSummary(sd.Side, sd.Verification.Summary))
	}
	if b, err := json.Marshal(rep); err == nil {
		r.Report = b
	}
	return r
}
