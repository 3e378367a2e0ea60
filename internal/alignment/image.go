package alignment

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"gocv.io/x/gocv"

	"pcb-inspect/internal/board"
)

// ImageToMat converts a Go image.Image to a BGR gocv.Mat.
func ImageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)

	forEachStripe(height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < width; x++ {
				r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
				mat.SetUCharAt(y, x*3+0, uint8(b>>8))
				mat.SetUCharAt(y, x*3+1, uint8(g>>8))
				mat.SetUCharAt(y, x*3+2, uint8(r>>8))
			}
		}
	})

	return mat, nil
}

// forEachStripe splits rows into one horizontal stripe per CPU.
func forEachStripe(rows int, fn func(yStart, yEnd int)) {
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (rows + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		if startY >= rows {
			break
		}
		endY := min(startY+rowsPerWorker, rows)

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}

// substrateMask returns a binary mask of pixels inside the HSV range, cleaned
// with a close then an open. Caller must Close the result.
func substrateMask(img gocv.Mat, r board.HSVRange, kernelSize int) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	lower := gocv.NewScalar(r.HueMin, r.SatMin, r.ValMin, 0)
	upper := gocv.NewScalar(r.HueMax, r.SatMax, r.ValMax, 0)
	gocv.InRangeWithScalar(hsv, lower, upper, &mask)

	if kernelSize < 1 {
		kernelSize = 5
	}
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)

	return mask
}

// toGray returns a single-channel copy. Caller must Close the result.
func toGray(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if img.Channels() == 1 {
		img.CopyTo(&gray)
		return gray
	}
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gray
}
