package vision

import (
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-overlay/model"
)

// MatPixels is the OpenCV rendering of model.Pixels.
type MatPixels struct {
	Mat    gocv.Mat
	closed bool
}

// NewMatPixels takes ownership of mat.
func NewMatPixels(mat gocv.Mat) *MatPixels {
	return &MatPixels{Mat: mat}
}

func (p *MatPixels) Clone() model.Pixels {
	return &MatPixels{Mat: p.Mat.Clone()}
}

// Close is crucial: the Mat memory lives outside the Go heap.
func (p *MatPixels) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.Mat.Close()
}

func (p *MatPixels) Size() (int, int) {
	if p.closed {
		return 0, 0
	}
	return p.Mat.Cols(), p.Mat.Rows()
}

func asMat(pixels model.Pixels) (*MatPixels, bool) {
	m, ok := pixels.(*MatPixels)
	if !ok || m == nil || m.closed || m.Mat.Empty() {
		return nil, false
	}
	return m, true
}
