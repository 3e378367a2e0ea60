package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"gocv.io/x/gocv"

	"pcb-inspect/internal/alignment"
)

// ErrEmptyUpload is returned for a zero-length image.
var ErrEmptyUpload = errors.New("empty image data")

// DecodeImage decodes an uploaded frame into a BGR Mat. OpenCV handles the
// common formats; anything it rejects goes through image.Decode.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrEmptyUpload
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	img, format, derr := image.Decode(bytes.NewReader(data))
	if derr != nil {
		return gocv.NewMat(), fmt.Errorf("unsupported image: %w", derr)
	}
	mat, err = alignment.ImageToMat(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert %s image: %w", format, err)
	}
	return mat, nil
}
