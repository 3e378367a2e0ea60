package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"pcb-inspect/internal/verify"
	"pcb-inspect/pkg/geometry"
)

func frame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 128, 0, 0), 32, 48, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestHTTPDetectorParsesDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		img, err := gocv.IMDecode(raw, gocv.IMReadColor)
		require.NoError(t, err)
		assert.Equal(t, 48, img.Cols())
		assert.Equal(t, 32, img.Rows())
		img.Close()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detections":[
			{"class_name":"capacitor","bbox":[10,20,30,40],"confidence":0.9},
			{"class_name":"resistor","bbox":[1,2,3],"confidence":0.8},
			{"class_name":"chip","bbox":[0,0,4,8],"confidence":0.7}
		]}`))
	}))
	defer srv.Close()

	dets, err := NewHTTPDetector(srv.URL, time.Second, nil).Detect(context.Background(), frame(t))
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "capacitor", dets[0].ClassName)
	assert.Equal(t, geometry.Point2D{X: 20, Y: 30}, dets[0].Center)
	assert.Equal(t, geometry.BBox{X1: 10, Y1: 20, X2: 30, Y2: 40}, dets[0].BBox)
	assert.Equal(t, "chip", dets[1].ClassName)
	assert.Equal(t, geometry.Point2D{X: 2, Y: 4}, dets[1].Center)
}

func TestHTTPDetectorEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detections":[]}`))
	}))
	defer srv.Close()

	dets, err := NewHTTPDetector(srv.URL, time.Second, nil).Detect(context.Background(), frame(t))
	require.NoError(t, err)
	assert.NotNil(t, dets)
	assert.Empty(t, dets)
}

func TestHTTPDetectorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPDetector(srv.URL, time.Second, nil).Detect(context.Background(), frame(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPDetectorEmptyFrame(t *testing.T) {
	m := gocv.NewMat()
	defer m.Close()
	_, err := NewHTTPDetector("http://127.0.0.1:1", time.Second, nil).Detect(context.Background(), m)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestStaticDetector(t *testing.T) {
	s := Static{{ClassName: "chip", Confidence: 1}}
	got, err := s.Detect(context.Background(), gocv.Mat{})
	require.NoError(t, err)
	assert.Equal(t, []verify.Detection(s), got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Detect(ctx, gocv.Mat{})
	assert.ErrorIs(t, err, context.Canceled)
}
