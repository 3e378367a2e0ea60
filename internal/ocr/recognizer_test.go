package ocr

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func testFrame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 200, 200, 0), 60, 120, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestHTTPRecognizer(t *testing.T) {
	var gotImage bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("image")
		if err == nil {
			gotImage = hdr.Size > 0
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"text": " mbab-1234\n", "confidence": 0.91})
	}))
	defer srv.Close()

	rec := NewHTTPRecognizer(srv.URL, time.Second, nil)
	res, err := rec.Recognize(context.Background(), testFrame(t))
	require.NoError(t, err)
	assert.True(t, gotImage)
	assert.Equal(t, "MBAB-1234", res.Text)
	assert.InDelta(t, 0.91, res.Confidence, 1e-9)
}

func TestHTTPRecognizerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPRecognizer(srv.URL, time.Second, nil).Recognize(context.Background(), testFrame(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPRecognizerEmptyImage(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	_, err := NewHTTPRecognizer("http://127.0.0.1:1", time.Second, nil).Recognize(context.Background(), empty)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestNopRecognizer(t *testing.T) {
	res, err := Nop{}.Recognize(context.Background(), gocv.NewMat())
	require.NoError(t, err)
	assert.Empty(t, res.Text)
}

func TestPreprocessLabelLightBackground(t *testing.T) {
	// Light text on a dark label must come out dark-on-light.
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 20, 20, 0), 40, 200, gocv.MatTypeCV8UC3)
	defer m.Close()
	gocv.Rectangle(&m, image.Rect(20, 10, 60, 30), color.RGBA{R: 240, G: 240, B: 240}, -1)

	out := preprocessLabel(m)
	defer out.Close()

	assert.Equal(t, 1, out.Channels())
	assert.GreaterOrEqual(t, out.Rows(), minTextHeight)
	white := gocv.CountNonZero(out)
	assert.Greater(t, white*2, out.Rows()*out.Cols())
}
