package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"

	"pcb-inspect/pkg/geometry"
)

// minTextHeight is the smallest region side handed to Tesseract; smaller crops are upscaled.
const minTextHeight = 150

// TesseractEngine recognizes serial labels with a local Tesseract install.
// The underlying client is not safe for concurrent use, so calls are serialized.
type TesseractEngine struct {
	mu     sync.Mutex
	client *gosseract.Client

	// Region limits recognition to part of the frame. Zero means the whole frame.
	Region geometry.RectInt
}

// NewTesseractEngine creates an engine configured for serial labels.
func NewTesseractEngine() (*TesseractEngine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// Serials are not dictionary words.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")
	_ = client.SetVariable("language_model_penalty_non_dict_word", "0")

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := client.SetWhitelist(SerialChars); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set whitelist: %w", err)
	}
	return &TesseractEngine{client: client}, nil
}

// Close releases OCR resources.
func (e *TesseractEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

// Recognize implements Recognizer. Confidence is the mean word confidence.
func (e *TesseractEngine) Recognize(ctx context.Context, img gocv.Mat) (Result, error) {
	if img.Empty() {
		return Result{}, ErrEmptyImage
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	region := img
	if !e.Region.Empty() {
		r := e.Region.Clamp(img.Cols(), img.Rows())
		if r.Empty() {
			return Result{}, fmt.Errorf("ocr region %+v outside %dx%d frame", e.Region, img.Cols(), img.Rows())
		}
		region = img.Region(r.ImageRect())
		defer region.Close()
	}

	processed := preprocessLabel(region)
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return Result{}, fmt.Errorf("ocr engine closed")
	}
	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return Result{}, fmt.Errorf("failed to set image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("OCR failed: %w", err)
	}

	var conf float64
	if boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil && len(boxes) > 0 {
		for _, b := range boxes {
			conf += b.Confidence
		}
		conf = conf / float64(len(boxes)) / 100
	}

	return Result{
		Text:       strings.ToUpper(strings.Join(strings.Fields(text), " ")),
		Confidence: conf,
	}, nil
}

// preprocessLabel upscales, equalizes and binarizes a label crop so the text is
// dark on a light background.
func preprocessLabel(region gocv.Mat) gocv.Mat {
	scaled := gocv.NewMat()
	if side := min(region.Rows(), region.Cols()); side < minTextHeight {
		scale := float64(minTextHeight) / float64(side)
		gocv.Resize(region, &scaled, image.Point{}, scale, scale, gocv.InterpolationCubic)
	} else {
		region.CopyTo(&scaled)
	}
	defer scaled.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if scaled.Channels() == 1 {
		scaled.CopyTo(&gray)
	} else {
		gocv.CvtColor(scaled, &gray, gocv.ColorBGRToGray)
	}

	clahe := gocv.NewCLAHEWithParams(2.0, image.Point{X: 8, Y: 8})
	defer clahe.Close()
	enhanced := gocv.NewMat()
	defer enhanced.Close()
	clahe.Apply(gray, &enhanced)

	binary := gocv.NewMat()
	gocv.Threshold(enhanced, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	// Background is the majority; make it white.
	if white := gocv.CountNonZero(binary); white*2 < binary.Rows()*binary.Cols() {
		gocv.BitwiseNot(binary, &binary)
	}
	return binary
}
