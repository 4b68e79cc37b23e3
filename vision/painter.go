package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-overlay/model"
)

var (
	annotatedColor    = color.RGBA{0, 255, 0, 0}
	interpolatedColor = color.RGBA{255, 200, 0, 0}
)

var errNotMat = errors.New("pixels are not an OpenCV mat")

type Painter struct {
	Thickness int
	FontScale float64
}

func NewPainter() *Painter {
	return &Painter{Thickness: 2, FontScale: 0.6}
}

// Draw outlines every track in place. Interpolated tracks get their own color so a viewer can
// tell detector output from tracker estimates.
func (p *Painter) Draw(pixels model.Pixels, tracks []model.Track, labels bool) error {
	m, ok := asMat(pixels)
	if !ok {
		return errNotMat
	}

	for _, t := range tracks {
		rect := image.Rect(int(t.BBox.X1), int(t.BBox.Y1), int(t.BBox.X2), int(t.BBox.Y2))
		c := annotatedColor
		if t.Interpolated {
			c = interpolatedColor
		}
		gocv.Rectangle(&m.Mat, rect, c, p.Thickness)

		if !labels {
			continue
		}
		y := rect.Min.Y - 5
		if y < 10 {
			y = rect.Min.Y + 15
		}
		gocv.PutText(&m.Mat, Label(t), image.Pt(rect.Min.X, y), gocv.FontHersheySimplex, p.FontScale, c, p.Thickness)
	}
	return nil
}

// Label is the text drawn next to a track.
func Label(t model.Track) string {
	return fmt.Sprintf("ID:%d %s %.2f", t.ID, t.ClassName, t.Confidence)
}
