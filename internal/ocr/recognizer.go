// Package ocr reads the serial-number label printed on a board.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"gocv.io/x/gocv"
	"go.uber.org/zap"
)

// SerialChars restricts recognition to the characters a serial label can contain.
const SerialChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-"

// DefaultTimeout bounds a remote recognition call.
const DefaultTimeout = 5 * time.Second

// ErrEmptyImage is returned when there is nothing to read.
var ErrEmptyImage = errors.New("ocr: empty image")

// Result is the recognized text and a 0..1 confidence.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer reads text from a frame.
type Recognizer interface {
	Recognize(ctx context.Context, img gocv.Mat) (Result, error)
}

// HTTPRecognizer posts a PNG to a remote OCR service and expects
// {"text": "...", "confidence": 0.93} in response.
type HTTPRecognizer struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewHTTPRecognizer creates a client for the OCR endpoint at url.
func NewHTTPRecognizer(url string, timeout time.Duration, logger *zap.Logger) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRecognizer{
		client: resty.New().SetTimeout(timeout),
		url:    url,
		logger: logger,
	}
}

// Recognize implements Recognizer.
func (r *HTTPRecognizer) Recognize(ctx context.Context, img gocv.Mat) (Result, error) {
	if img.Empty() {
		return Result{}, ErrEmptyImage
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return Result{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	var out Result
	resp, err := r.client.R().
		SetContext(ctx).
		SetFileReader("image", "frame.png", bytes.NewReader(buf.GetBytes())).
		SetResult(&out).
		Post(r.url)
	if err != nil {
		return Result{}, fmt.Errorf("ocr request: %w", err)
	}
	if resp.IsError() {
		r.logger.Warn("ocr service error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
		return Result{}, fmt.Errorf("ocr service returned %s", resp.Status())
	}
	out.Text = strings.ToUpper(strings.TrimSpace(out.Text))
	return out, nil
}

// Nop never reads anything. It is used when OCR is disabled and the caller
// always supplies the product code.
type Nop struct{}

// Recognize implements Recognizer.
func (Nop) Recognize(context.Context, gocv.Mat) (Result, error) {
	return Result{}, nil
}
