package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/pipeline"
	"github.com/khaledhikmat/vs-overlay/service/inference"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

// Consecutive empty reads tolerated from a live stream before it counts as a disconnect
const maxMisses = 25

type captureSource struct {
	camera   model.Camera
	capture  *gocv.VideoCapture
	file     bool
	interval time.Duration
	next     time.Time
	misses   int

	// a Close during a read defers releasing the capture to the end of that read
	mu      sync.Mutex
	reading bool
	closed  bool
}

var errCaptureClosed = errors.New("capture closed")

// OpenCapture opens an RTSP stream, or a video file when the camera framer type is "file".
// File sources are read at the nominal rate so they behave like a live camera.
func OpenCapture(ctx context.Context, camera model.Camera, fps int) (pipeline.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	capture, err := gocv.OpenVideoCapture(camera.RtspURL)
	if err != nil {
		return nil, fmt.Errorf("error opening %s stream %s: %w", camera.FramerType, camera.Name, err)
	}

	src := &captureSource{
		camera:  camera,
		capture: capture,
		file:    camera.FramerType == "file",
	}
	if src.file {
		if fps <= 0 {
			fps = int(capture.Get(gocv.VideoCaptureFPS))
		}
		if fps > 0 {
			src.interval = time.Second / time.Duration(fps)
		}
	}

	lgr.Logger.Info("capture opened",
		slog.String("camera", camera.Name),
		slog.String("framerType", camera.FramerType),
		slog.String("openCV", gocv.Version()),
	)
	return src, nil
}

func (s *captureSource) Read(ctx context.Context) (pipeline.Capture, error) {
	for {
		if err := ctx.Err(); err != nil {
			return pipeline.Capture{}, err
		}
		if !pace(ctx, &s.next, s.interval) {
			return pipeline.Capture{}, ctx.Err()
		}

		img := gocv.NewMat()
		ok, err := s.read(&img)
		if err != nil {
			img.Close()
			return pipeline.Capture{}, err
		}
		if !ok || img.Empty() {
			img.Close()
			if s.file {
				return pipeline.Capture{}, io.EOF
			}
			s.misses++
			if s.misses >= maxMisses {
				return pipeline.Capture{}, fmt.Errorf("no frame from %s after %d reads", s.camera.Name, s.misses)
			}
			continue
		}

		s.misses = 0
		return pipeline.Capture{Pixels: NewMatPixels(img), CapturedAt: time.Now()}, nil
	}
}

// read blocks in the capture backend, which does not observe cancellation.
func (s *captureSource) read(img *gocv.Mat) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, errCaptureClosed
	}
	s.reading = true
	s.mu.Unlock()

	ok := s.capture.Read(img)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = false
	if s.closed {
		if err := s.capture.Close(); err != nil {
			lgr.Logger.Warn("capture close failed", slog.String("camera", s.camera.Name), lgr.Err(err))
		}
		return false, errCaptureClosed
	}
	return ok, nil
}

func (s *captureSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.reading {
		return nil
	}
	return s.capture.Close()
}

type SyntheticOptions struct {
	Frames  int // 0 runs until cancelled
	Width   int
	Height  int
	Objects int
	FPS     int
	Speed   float64
}

type syntheticSource struct {
	opts     SyntheticOptions
	interval time.Duration
	next     time.Time
	seq      uint64
}

// NewSynthetic draws the boxes that the fake inference service reports onto blank frames, so
// the overlay lines up with something visible.
func NewSynthetic(opts SyntheticOptions) pipeline.Source {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	if opts.Speed == 0 {
		opts.Speed = 4
	}
	src := &syntheticSource{opts: opts}
	if opts.FPS > 0 {
		src.interval = time.Second / time.Duration(opts.FPS)
	}
	return src
}

func (s *syntheticSource) Read(ctx context.Context) (pipeline.Capture, error) {
	if s.opts.Frames > 0 && s.seq >= uint64(s.opts.Frames) {
		return pipeline.Capture{}, io.EOF
	}
	if !pace(ctx, &s.next, s.interval) {
		return pipeline.Capture{}, ctx.Err()
	}
	s.seq++

	img := gocv.NewMatWithSize(s.opts.Height, s.opts.Width, gocv.MatTypeCV8UC3)
	for _, d := range inference.SyntheticDetections(s.seq, s.opts.Objects, s.opts.Width, s.opts.Height, s.opts.Speed) {
		rect := image.Rect(int(d.BBox.X1), int(d.BBox.Y1), int(d.BBox.X2), int(d.BBox.Y2))
		gocv.Rectangle(&img, rect, color.RGBA{128, 128, 128, 0}, -1)
	}
	return pipeline.Capture{Pixels: NewMatPixels(img), CapturedAt: time.Now()}, nil
}

func (s *syntheticSource) Close() error {
	return nil
}

// pace blocks until the next read is due. It returns false when ctx ends first.
func pace(ctx context.Context, next *time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return true
	}
	now := time.Now()
	if next.IsZero() || now.Sub(*next) > interval {
		*next = now
	}
	if d := next.Sub(now); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}
	*next = next.Add(interval)
	return true
}
