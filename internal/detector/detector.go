// Package detector talks to the external component-detection model.
package detector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"pcb-inspect/internal/verify"
	"pcb-inspect/pkg/geometry"
)

// DefaultTimeout bounds a single detection call.
const DefaultTimeout = 10 * time.Second

// ErrEmptyImage is returned for an empty frame.
var ErrEmptyImage = errors.New("detector: empty image")

// Detector returns component detections for an aligned frame.
type Detector interface {
	Detect(ctx context.Context, img gocv.Mat) ([]verify.Detection, error)
}

// request is the body posted to the model server.
type request struct {
	Image string `json:"image"`
}

// wireDetection is one entry of the model server response. BBox is [x1, y1, x2, y2].
type wireDetection struct {
	ClassName  string    `json:"class_name"`
	BBox       []float64 `json:"bbox"`
	Confidence float64   `json:"confidence"`
}

type response struct {
	Detections []wireDetection `json:"detections"`
}

// HTTPDetector posts base64 PNG frames as JSON to a detection endpoint.
type HTTPDetector struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewHTTPDetector creates a client for the detection endpoint at url.
func NewHTTPDetector(url string, timeout time.Duration, logger *zap.Logger) *HTTPDetector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPDetector{
		client: resty.New().SetTimeout(timeout),
		url:    url,
		logger: logger,
	}
}

// Detect implements Detector. Entries with a malformed bbox are skipped.
func (d *HTTPDetector) Detect(ctx context.Context, img gocv.Mat) ([]verify.Detection, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	body := request{Image: base64.StdEncoding.EncodeToString(buf.GetBytes())}
	buf.Close()

	var out response
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post(d.url)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	if resp.IsError() {
		d.logger.Warn("detector error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
		return nil, fmt.Errorf("detector returned %s", resp.Status())
	}

	dets := make([]verify.Detection, 0, len(out.Detections))
	for _, w := range out.Detections {
		box, ok := geometry.BBoxFromSlice(w.BBox)
		if !ok {
			d.logger.Debug("skipping detection with malformed bbox",
				zap.String("class", w.ClassName), zap.Int("len", len(w.BBox)))
			continue
		}
		dets = append(dets, verify.Detection{
			ClassName:  w.ClassName,
			BBox:       box,
			Center:     box.Center(),
			Confidence: w.Confidence,
		})
	}
	return dets, nil
}

// Static returns a fixed set of detections. It backs the offline CLI and tests.
type Static []verify.Detection

// Detect implements Detector.
func (s Static) Detect(ctx context.Context, _ gocv.Mat) ([]verify.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]verify.Detection(nil), s...), nil
}
