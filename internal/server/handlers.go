package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pcb-inspect/internal/alignment"
	"pcb-inspect/internal/board"
	"pcb-inspect/internal/inspect"
	"pcb-inspect/internal/verify"
)

type errorBody struct {
	Stage   inspect.Stage `json:"stage,omitempty"`
	Side    board.Side    `json:"side,omitempty"`
	Message string        `json:"message"`
	Details any           `json:"details,omitempty"`
}

// details extracts structured context from alignment failures.
func details(err error) any {
	var ve *alignment.VisibilityError
	if errors.As(err, &ve) {
		return ve.Report
	}
	var ce *alignment.ChainError
	if errors.As(err, &ce) {
		out := make(map[string]string, len(ce.Failures))
		for _, f := range ce.Failures {
			out[f.Strategy] = f.Err.Error()
		}
		return out
	}
	return nil
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, board.ErrLayoutNotFound):
		return http.StatusNotFound
	case errors.Is(err, inspect.ErrNoProductCode):
		return http.StatusUnprocessableEntity
	}
	switch inspect.StageOf(err) {
	case inspect.StageDecode:
		return http.StatusBadRequest
	case inspect.StageAlign:
		return http.StatusUnprocessableEntity
	case inspect.StageOCR, inspect.StageDetect:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	body := errorBody{Message: err.Error(), Details: details(err)}
	var se *inspect.StageError
	if errors.As(err, &se) {
		body.Stage = se.Stage
		body.Side = se.Side
		body.Message = se.Err.Error()
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": body})
}

func (s *Server) listLayouts(c *gin.Context) {
	codes := s.svc.Layouts().Codes()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"codes": codes, "count": len(codes)}})
}

func (s *Server) getLayout(c *gin.Context) {
	layout, err := s.svc.Layouts().Get(c.Param("code"))
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": layout})
}

// inspectResponse adds base64 PNG overlays to the report.
type inspectResponse struct {
	*inspect.Report
	Overlays map[board.Side]string `json:"overlays,omitempty"`
}

func (s *Server) inspect(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	front, err := readFormFile(c, "front")
	if err != nil {
		s.failUpload(c, "front", err)
		return
	}
	back, err := readFormFile(c, "back")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		s.failUpload(c, "back", err)
		return
	}
	uploadSizeBytes.Observe(float64(len(front) + len(back)))

	overlay, _ := strconv.ParseBool(c.DefaultQuery("overlay", "false"))
	rep, err := s.svc.Inspect(c.Request.Context(), inspect.Request{
		Front:       front,
		Back:        back,
		ProductCode: c.PostForm("product_code"),
		Overlay:     overlay,
	})
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	inspectionsTotal.WithLabelValues(string(rep.Outcome.Decision)).Inc()

	resp := inspectResponse{Report: rep}
	for _, sr := range rep.Sides {
		if len(sr.Overlay) == 0 {
			continue
		}
		if resp.Overlays == nil {
			resp.Overlays = make(map[board.Side]string)
		}
		resp.Overlays[sr.Side] = base64.StdEncoding.EncodeToString(sr.Overlay)
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) failUpload(c *gin.Context, field string, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, http.ErrMissingFile):
		s.fail(c, http.StatusBadRequest, fmt.Errorf("missing form file %q", field))
	default:
		s.logger.Debug("bad upload", zap.String("field", field), zap.Error(err))
		s.fail(c, http.StatusBadRequest, fmt.Errorf("read %s: %w", field, err))
	}
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, err
	}
	return readMultipart(fh)
}

func readMultipart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type verifyRequest struct {
	ProductCode string             `json:"product_code" binding:"required"`
	Side        string             `json:"side"`
	Detections  []verify.Detection `json:"detections"`
}

// verify checks a detection list against a layout without running alignment.
func (s *Server) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	side, err := board.ParseSide(req.Side)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	layout, err := s.svc.Layouts().Get(req.ProductCode)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	if !layout.HasSide(side) {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("layout %s has no %s components", layout.ProductCode, side))
		return
	}

	res := s.svc.Verifier().Verify(layout.ComponentsFor(side), req.Detections)
	out := s.svc.Policy().DecideResult(res.Summary)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"product_code": layout.ProductCode,
		"side":         side,
		"verification": res,
		"outcome":      out,
	}})
}
