package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"pcb-inspect/internal/actuation"
	"pcb-inspect/internal/alignment"
	"pcb-inspect/internal/board"
	"pcb-inspect/internal/decision"
	"pcb-inspect/internal/ocr"
	"pcb-inspect/internal/store"
	"pcb-inspect/internal/verify"
	"pcb-inspect/pkg/geometry"
)

var holes = [4]geometry.Point2D{{X: 30, Y: 30}, {X: 610, Y: 30}, {X: 610, Y: 450}, {X: 30, Y: 450}}

func comp(class string, cx, cy float64) board.ReferenceComponent {
	return board.ReferenceComponent{
		ClassName: class,
		BBox:      geometry.BBox{X1: cx - 10, Y1: cy - 10, X2: cx + 10, Y2: cy + 10},
		Center:    geometry.Point2D{X: cx, Y: cy},
	}
}

func det(class string, cx, cy float64) verify.Detection {
	return verify.Detection{
		ClassName:  class,
		BBox:       geometry.BBox{X1: cx - 10, Y1: cy - 10, X2: cx + 10, Y2: cy + 10},
		Center:     geometry.Point2D{X: cx, Y: cy},
		Confidence: 0.9,
	}
}

func testLayout() *board.ReferenceLayout {
	return &board.ReferenceLayout{
		ProductCode:    "AB",
		CanonicalSize:  geometry.Size{Width: 640, Height: 480},
		MountingHoles:  holes,
		Components:     []board.ReferenceComponent{comp("R", 100, 100), comp("C", 200, 200), comp("IC", 300, 300)},
		BackComponents: []board.ReferenceComponent{comp("J", 400, 100)},
	}
}

func pngFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: 20, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixedLocator struct {
	points [4]geometry.Point2D
	err    error
}

func (l fixedLocator) Name() string { return "fixed" }

func (l fixedLocator) Locate(gocv.Mat) (alignment.FeatureSet, error) {
	if l.err != nil {
		return alignment.FeatureSet{}, l.err
	}
	return alignment.FeatureSet{Points: l.points, Strategy: "fixed"}, nil
}

type fakeOCR struct {
	text  string
	calls int
}

func (o *fakeOCR) Recognize(context.Context, gocv.Mat) (ocr.Result, error) {
	o.calls++
	return ocr.Result{Text: o.text, Confidence: 0.9}, nil
}

// sideDetector returns a different detection list on each call.
type sideDetector struct {
	mu    sync.Mutex
	calls [][]verify.Detection
	n     int
}

func (d *sideDetector) Detect(context.Context, gocv.Mat) ([]verify.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.calls[d.n%len(d.calls)]
	d.n++
	return out, nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []store.Record
}

func (r *memRecorder) Record(_ context.Context, rec store.Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return rec.ID, nil
}

type fixture struct {
	svc      *Service
	ocr      *fakeOCR
	det      *sideDetector
	recorder *memRecorder
	slots    *actuation.SlotAllocator
}

func newFixture(t *testing.T, layout *board.ReferenceLayout, loc alignment.Locator, dets ...[]verify.Detection) *fixture {
	t.Helper()
	layouts, err := board.NewStore(layout)
	require.NoError(t, err)
	f := &fixture{
		ocr:      &fakeOCR{text: "MBAB-1234"},
		det:      &sideDetector{calls: dets},
		recorder: &memRecorder{},
		slots:    actuation.NewSlotAllocator(1, 5),
	}
	f.svc, err = New(Deps{
		Layouts:  layouts,
		Locator:  loc,
		Aligner:  alignment.NewAligner(alignment.DefaultVisibilityParams(), nil),
		Template: alignment.DefaultParams().Template,
		Verifier: verify.NewVerifier(verify.DefaultPositionThreshold, verify.DefaultConfidenceThreshold, nil),
		Detector: f.det,
		OCR:      f.ocr,
		Slots:    f.slots,
		Recorder: f.recorder,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { f.svc.Close() })
	return f
}

func allFront() []verify.Detection {
	return []verify.Detection{det("R", 101, 99), det("C", 200, 203), det("IC", 298, 300)}
}

func TestInspect_Normal(t *testing.T) {
	f := newFixture(t, testLayout(), fixedLocator{points: holes}, allFront())

	rep, err := f.svc.Inspect(context.Background(), Request{Front: pngFrame(t)})
	require.NoError(t, err)

	assert.Equal(t, "AB", rep.ProductCode)
	assert.Equal(t, "MBAB-1234", rep.Serial)
	assert.Equal(t, 1, f.ocr.calls)
	assert.Equal(t, decision.Normal, rep.Outcome.Decision)
	assert.Equal(t, 0, rep.Outcome.Code)
	require.Len(t, rep.Sides, 1)

	front := rep.Sides[0]
	assert.Equal(t, ModeHomography, front.Mode)
	assert.Equal(t, "fixed", front.Strategy)
	assert.Len(t, front.Verification.Matched, 3)
	assert.Less(t, front.Residual, 1e-6)
	assert.Nil(t, front.Overlay)

	assert.True(t, rep.Slot.Assigned())
	require.NotNil(t, rep.Ack)
	assert.True(t, rep.Ack.Accepted)

	for _, st := range []Stage{StageDecode, StageOCR, StageLayout, StageAlign, StageDetect, StageVerify, StageActuate} {
		assert.Contains(t, rep.Timings, st)
	}

	require.Len(t, f.recorder.records, 1)
	rec := f.recorder.records[0]
	assert.Equal(t, rep.ID, rec.ID)
	assert.Equal(t, decision.Normal, rec.Decision)
	assert.Equal(t, "fixed", rec.Strategy)
	require.Len(t, rec.Sides, 1)
	assert.Equal(t, 3, rec.Sides[0].Matched)
	assert.True(t, json.Valid(rec.Report))
}

func TestInspect_MissingAndMisplaced(t *testing.T) {
	f := newFixture(t, testLayout(), fixedLocator{points: holes},
		[]verify.Detection{det("R", 101, 99), det("C", 260, 200)})

	rep, err := f.svc.Inspect(context.Background(), Request{Front: pngFrame(t), ProductCode: "ab"})
	require.NoError(t, err)
	assert.Equal(t, decision.Missing, rep.Outcome.Decision)
	s := rep.Sides[0].Verification.Summary
	assert.Equal(t, 1, s.Matched)
	assert.Equal(t, 1, s.Misplaced)
	assert.Equal(t, 1, s.Missing)
}

func TestInspect_ProductCodeOverrideSkipsOCR(t *testing.T) {
	f := newFixture(t, testLayout(), fixedLocator{points: holes}, allFront())
	f.ocr.text = "garbage"

	rep, err := f.svc.Inspect(context.Background(), Request{Front: pngFrame(t), ProductCode: " ab "})
	require.NoError(t, err)
	assert.Equal(t, "AB", rep.ProductCode)
	assert.Zero(t, f.ocr.calls)
	assert.NotContains(t, rep.Timings, StageOCR)
}

func TestInspect_FrontAndBack(t *testing.T) {
	f := newFixture(t, testLayout(), fixedLocator{points: holes}, allFront(), []verify.Detection{})

	rep, err := f.svc.Inspect(context.Background(), Request{Front: pngFrame(t), Back: pngFrame(t), ProductCode: "AB"})
	require.NoError(t, err)
	require.Len(t, rep.Sides, 2)

	front, ok := rep.Side(board.SideFront)
	require.True(t, ok)
	assert.Equal(t, decision.Normal, front.Outcome.Decision)
	back, ok := rep.Side(board.SideBack)
	require.True(t, ok)
	assert.Equal(t, decision.Missing, back.Outcome.Decision)

	assert.Equal(t, decision.Missing, rep.Outcome.Decision, "worse side wins")
	require.Len(t, f.recorder.records[0].Sides, 2)
}

func TestInspect_BackSkippedWithoutBackLayout(t *testing.T) {
	layout := testLayout()
	layout.BackComponents = nil
	f := newFixture(t, layout, fixedLocator{points: holes}, allFront())

	rep, err := f.svc.Inspect(context.Background(), Request{Front: pngFrame(t), Back: pngFrame(t), ProductCode: "AB"})
	require.NoError(t, err)
	assert.Len(t, rep.Sides, 1)
}

func TestInspect_Overlay(t *testing.T) {
	f := newFixture(t, testLayout(), fixedLocator{points: holes}, allFront())
	rep, err := f.svc.Inspect(context.Background(), Request{Front: pngFrame(t), ProductCode: "AB", Overlay: true})
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(rep.Sides[0].Overlay))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(640, 480), img.Bounds().Size())
}

func TestInspect_StageErrors(t *testing.T) {
	notFound := &alignment.ChainError{Failures: []alignment.StrategyFailure{{Strategy: "fixed", Err: alignment.ErrFeatureNotFound}}}

	tests := []struct {
		name    string
		loc     alignment.Locator
		ocrText string
		req     func(t *testing.T) Request
		stage   Stage
		is      error
	}{
		{
			name:  "undecodable",
			loc:   fixedLocator{points: holes},
			req:   func(t *testing.T) Request { return Request{Front: []byte("not an image")} },
			stage: StageDecode,
		},
		{
			name:  "empty upload",
			loc:   fixedLocator{points: holes},
			req:   func(t *testing.T) Request { return Request{} },
			stage: StageDecode,
			is:    ErrEmptyUpload,
		},
		{
			name:    "no serial",
			loc:     fixedLocator{points: holes},
			ocrText: "HELLO",
			req:     func(t *testing.T) Request { return Request{Front: pngFrame(t)} },
			stage:   StageOCR,
			is:      ErrNoProductCode,
		},
		{
			name:  "unknown layout",
			loc:   fixedLocator{points: holes},
			req:   func(t *testing.T) Request { return Request{Front: pngFrame(t), ProductCode: "ZZ"} },
			stage: StageLayout,
			is:    board.ErrLayoutNotFound,
		},
		{
			name:  "no fiducials",
			loc:   fixedLocator{err: notFound},
			req:   func(t *testing.T) Request { return Request{Front: pngFrame(t), ProductCode: "AB"} },
			stage: StageAlign,
			is:    alignment.ErrFeatureNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testLayout(), tt.loc, allFront())
			if tt.ocrText != "" {
				f.ocr.text = tt.ocrText
			}
			rep, err := f.svc.Inspect(context.Background(), tt.req(t))
			require.Error(t, err)
			assert.Nil(t, rep)

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.stage, se.Stage)
			assert.Equal(t, tt.stage, StageOf(err))
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.Empty(t, f.recorder.records, "no decision, nothing recorded")
			assert.Zero(t, f.slots.Used(decision.Normal))
		})
	}
}

func TestInspect_VisibilityFailure(t *testing.T) {
	var shrunk [4]geometry.Point2D
	for i, p := range holes {
		shrunk[i] = p.Scale(0.5)
	}
	f := newFixture(t, testLayout(), fixedLocator{points: shrunk}, allFront())

	_, err := f.svc.Inspect(context.Background(), Request{Front: pngFrame(t), ProductCode: "AB"})
	require.Error(t, err)
	assert.Equal(t, StageAlign, StageOf(err))
	var ve *alignment.VisibilityError
	assert.True(t, errors.As(err, &ve))
	assert.True(t, alignment.IsNotFound(err))
}

// anchorFrame draws an asymmetric marker centered on c.
func anchorFrame(c image.Point) gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 480, 640, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&m, image.Rect(c.X-10, c.Y-10, c.X+10, c.Y+10), color.RGBA{R: 255, G: 255, B: 255}, -1)
	gocv.Circle(&m, c.Add(image.Pt(12, -12)), 4, color.RGBA{}, -1)
	return m
}

func TestInspect_AnchorFallback(t *testing.T) {
	dir := t.TempDir()
	marker := image.Pt(200, 150)

	frame := anchorFrame(marker)
	defer frame.Close()
	tmpl := frame.Region(image.Rect(marker.X-20, marker.Y-20, marker.X+20, marker.Y+20))
	require.True(t, gocv.IMWrite(filepath.Join(dir, "anchor.png"), tmpl))
	tmpl.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, frame)
	require.NoError(t, err)
	frameBytes := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	layout := testLayout()
	layout.SourceDir = dir
	layout.Anchor = &board.AnchorSpec{Template: "anchor.png", Point: geometry.Point2D{X: 100, Y: 100}}
	layout.Components = []board.ReferenceComponent{comp("R", 150, 120)}

	notFound := &alignment.ChainError{Failures: []alignment.StrategyFailure{{Strategy: "fixed", Err: alignment.ErrFeatureNotFound}}}
	// (150,120) is (50,20) from the canonical anchor; in the raw frame that is (250,170).
	f := newFixture(t, layout, fixedLocator{err: notFound}, []verify.Detection{det("R", 250, 170)})

	rep, err := f.svc.Inspect(context.Background(), Request{Front: frameBytes, ProductCode: "AB"})
	require.NoError(t, err)
	side := rep.Sides[0]
	assert.Equal(t, ModeAnchor, side.Mode)
	assert.Equal(t, alignment.StrategyTemplate, side.Strategy)
	require.NotNil(t, side.Anchor)
	assert.InDelta(t, 200, side.Anchor.Point.X, 1)
	assert.InDelta(t, 150, side.Anchor.Point.Y, 1)
	assert.Len(t, side.Verification.Matched, 1)
	assert.Equal(t, decision.Normal, rep.Outcome.Decision)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, nil)
	assert.Error(t, err)
}

func TestTimingsJSON(t *testing.T) {
	b, err := json.Marshal(Timings{StageAlign: 1500 * time.Microsecond})
	require.NoError(t, err)
	assert.JSONEq(t, `{"align":1.5}`, string(b))
	assert.Equal(t, 1500*time.Microsecond, Timings{StageAlign: time.Millisecond, StageDetect: 500 * time.Microsecond}.Total())
}

func TestCombine(t *testing.T) {
	p := decision.DefaultPolicy()
	out := combine([]SideReport{
		{Side: board.SideFront, Outcome: p.Decide(0, 1)},
		{Side: board.SideBack, Outcome: p.Decide(3, 0)},
	})
	assert.Equal(t, decision.Discard, out.Decision)
	assert.Equal(t, 3, out.Code)
	assert.True(t, out.Critical)
	assert.Equal(t, []string{"back: missing 3 >= 3"}, out.Reasons)
}

func TestDecodeImage(t *testing.T) {
	m, err := DecodeImage(pngFrame(t))
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 640, m.Cols())
	assert.Equal(t, 480, m.Rows())
	assert.Equal(t, 3, m.Channels())

	_, err = DecodeImage(nil)
	assert.ErrorIs(t, err, ErrEmptyUpload)

	_, err = DecodeImage([]byte{1, 2, 3, 4})
	assert.Error(t, err)
}
