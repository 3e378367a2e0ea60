package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"pcb-inspect/internal/actuation"
	"pcb-inspect/internal/alignment"
	"pcb-inspect/internal/board"
	"pcb-inspect/internal/config"
	"pcb-inspect/internal/detector"
	"pcb-inspect/internal/inspect"
	"pcb-inspect/internal/ocr"
	"pcb-inspect/internal/server"
	"pcb-inspect/internal/store"
	"pcb-inspect/internal/verify"
)

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close(log *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("close", zap.Error(err))
		}
	}
}

// buildService wires every pipeline dependency from configuration.
func buildService(cfg *config.Config, log *zap.Logger) (*inspect.Service, closers, error) {
	var cl closers
	fail := func(err error) (*inspect.Service, closers, error) {
		cl.close(log)
		return nil, nil, err
	}

	layouts, err := board.LoadDir(cfg.Layouts.Dir)
	if err != nil {
		return fail(err)
	}
	log.Info("layouts loaded", zap.String("dir", cfg.Layouts.Dir), zap.Strings("codes", layouts.Codes()))

	chain, err := alignment.BuildChain(cfg.Alignment, log)
	if err != nil {
		return fail(err)
	}
	chain.OnAttempt(server.ObserveStrategy)

	recognizer, err := buildOCR(cfg.OCR, log, &cl)
	if err != nil {
		return fail(err)
	}

	var actuator actuation.Actuator = actuation.NewLogActuator(log)
	if cfg.Actuation.URL != "" {
		actuator = actuation.NewHTTPActuator(cfg.Actuation.URL, cfg.Actuation.Timeout, log)
	}

	var recorder store.Recorder
	if cfg.Store.Enabled() {
		st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return fail(err)
		}
		cl.add(st.Close)
		async := store.NewAsyncRecorder(st, cfg.Store.QueueSize, log)
		cl.add(async.Close)
		recorder = async
	}

	svc, err := inspect.New(inspect.Deps{
		Layouts:  layouts,
		Locator:  chain,
		Aligner:  alignment.NewAligner(cfg.Alignment.Visibility, log),
		Template: cfg.Alignment.Template,
		Verifier: verify.NewVerifier(cfg.Verify.PositionThreshold, cfg.Verify.ConfidenceThreshold, log),
		Policy:   cfg.Decision,
		Detector: detector.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Timeout, log),
		OCR:      recognizer,
		Actuator: actuator,
		Slots:    actuation.NewSlotAllocator(cfg.Actuation.Boxes, cfg.Actuation.SlotsPerBox),
		Recorder: recorder,
	}, log)
	if err != nil {
		return fail(err)
	}
	cl.add(svc.Close)
	return svc, cl, nil
}

func buildOCR(cfg config.OCRConfig, log *zap.Logger, cl *closers) (ocr.Recognizer, error) {
	switch cfg.Engine {
	case config.OCREngineTesseract:
		eng, err := ocr.NewTesseractEngine()
		if err != nil {
			return nil, fmt.Errorf("tesseract: %w", err)
		}
		if !cfg.Region.Empty() {
			eng.Region = cfg.Region
		}
		cl.add(eng.Close)
		return eng, nil
	case config.OCREngineHTTP:
		return ocr.NewHTTPRecognizer(cfg.URL, cfg.Timeout, log), nil
	default:
		return ocr.Nop{}, nil
	}
}
