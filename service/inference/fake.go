package inference

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/khaledhikmat/vs-overlay/model"
)

type FakeOptions struct {
	MinJitter time.Duration
	MaxJitter time.Duration
	DropEvery int                   // swallow every Nth task (by ticket); 0 keeps all
	Drop      func(model.Task) bool // optional, checked after DropEvery
	Objects   int
	Width     int
	Height    int
	Speed     float64 // pixels per frame
}

type fakeService struct {
	opts FakeOptions
}

// NewFake returns a detector that reports Objects boxes sliding horizontally across the frame,
// answering after a random latency between MinJitter and MaxJitter.
func NewFake(opts FakeOptions) IService {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	if opts.Speed == 0 {
		opts.Speed = 4
	}
	if opts.MaxJitter < opts.MinJitter {
		opts.MaxJitter = opts.MinJitter
	}
	return &fakeService{opts: opts}
}

func (svc *fakeService) Name() string {
	return "fake"
}

func (svc *fakeService) Detect(ctx context.Context, task model.Task) ([]model.Detection, error) {
	delay := svc.opts.MinJitter
	if spread := svc.opts.MaxJitter - svc.opts.MinJitter; spread > 0 {
		delay += time.Duration(rand.Int64N(int64(spread)))
	}

	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	if svc.opts.DropEvery > 0 && (task.Ticket+1)%uint64(svc.opts.DropEvery) == 0 {
		return nil, ErrNoResult
	}
	if svc.opts.Drop != nil && svc.opts.Drop(task) {
		return nil, ErrNoResult
	}

	return SyntheticDetections(task.FrameSeq, svc.opts.Objects, svc.opts.Width, svc.opts.Height, svc.opts.Speed), nil
}

// SyntheticDetections places n person-sized boxes for frame seq. Each object moves right by
// speed pixels per frame and wraps around at the right edge.
func SyntheticDetections(seq uint64, n, width, height int, speed float64) []model.Detection {
	const boxW, boxH = 60.0, 120.0

	lanes := float64(height) - boxH
	if lanes < 0 {
		lanes = 0
	}
	span := float64(width) - boxW
	if span <= 0 {
		span = 1
	}

	dets := make([]model.Detection, 0, n)
	for i := 0; i < n; i++ {
		x := float64(i)*150 + float64(seq)*speed
		for x >= span {
			x -= span
		}
		y := 0.0
		if n > 1 {
			y = lanes * float64(i) / float64(n-1)
		}
		dets = append(dets, model.Detection{
			BBox:       model.BBox{X1: x, Y1: y, X2: x + boxW, Y2: y + boxH},
			ClassID:    0,
			ClassName:  "person",
			Confidence: 0.9,
		})
	}
	return dets
}
