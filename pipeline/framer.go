package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-overlay/metric"
	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

// framerStage reads the source, numbers the frames from 1, samples them and forwards every
// frame to the output stage.
type framerStage struct {
	camera  model.Camera
	session string
	source  Source
	sampler *Sampler
	frames  chan<- *model.Frame
	tasks   chan<- model.Task
	results chan<- model.Result
	metrics *metric.Metrics
	cancel  context.CancelFunc

	errorStream chan interface{}

	stats model.FramerStats
}

// run returns io.EOF when the source ended, an ErrDisconnected wrap when it failed and nil
// when cancelled. A failure cancels the session before the frame channel is closed so the
// output stage does not mistake it for the end of the stream.
func (s *framerStage) run(ctx context.Context) error {
	defer close(s.frames)
	defer close(s.tasks)

	startTime := time.Now()
	defer func() {
		s.stats.Name = "framer"
		s.stats.Camera = s.camera.Name
		s.stats.Session = s.session
		s.stats.Uptime = int64(time.Since(startTime).Seconds())
		if s.stats.Uptime > 0 {
			s.stats.FPS = s.stats.Frames / int(s.stats.Uptime)
		}
	}()

	reads := readSource(ctx, s.source)

	var seq uint64
	for {
		var capture Capture
		var err error
		select {
		case <-ctx.Done():
			return nil
		case r := <-reads:
			capture, err = r.capture, r.err
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				lgr.Logger.InfoContext(ctx, "frame source ended",
					slog.String("camera", s.camera.Name),
					slog.Uint64("frames", seq),
				)
				return io.EOF
			}
			s.stats.Errors++
			if s.cancel != nil {
				s.cancel()
			}
			return fmt.Errorf("%w: %w", model.ErrDisconnected, err)
		}

		seq++
		s.stats.Frames++
		frame := &model.Frame{
			Seq:        seq,
			CapturedAt: capture.CapturedAt,
			StreamID:   s.camera.ID,
			Pixels:     capture.Pixels,
			State:      model.Raw,
		}

		sampled, outcome := s.sampler.Sample(ctx, frame)
		if sampled && outcome == DispatchFull {
			s.metrics.RecordDispatchFull(s.camera.Name)
			lgr.Logger.WarnContext(ctx, "analysis queue full, ticket abandoned",
				slog.String("camera", s.camera.Name),
				slog.Uint64("seq", frame.Seq),
				slog.Uint64("ticket", frame.Ticket),
			)
			send(s.errorStream, model.GenError("pipeline_framer",
				model.ErrDispatchFull,
				map[string]interface{}{
					"camera": s.camera.Name,
					"seq":    frame.Seq,
					"ticket": frame.Ticket,
				},
				"ticket abandoned"))
			select {
			case s.results <- model.Result{Ticket: frame.Ticket, FrameSeq: frame.Seq, Abandoned: true}:
			case <-ctx.Done():
				frame.Release()
				return nil
			}
		}

		select {
		case s.frames <- frame:
		case <-ctx.Done():
			frame.Release()
			return nil
		}
	}
}

type sourceRead struct {
	capture Capture
	err     error
}

// readSource reads on its own goroutine so that a read stuck past cancellation does not hold
// the session. A capture that arrives after cancellation is released. The goroutine exits
// after the first error.
func readSource(ctx context.Context, source Source) <-chan sourceRead {
	reads := make(chan sourceRead)
	go func() {
		for {
			capture, err := source.Read(ctx)
			select {
			case reads <- sourceRead{capture: capture, err: err}:
			case <-ctx.Done():
				if capture.Pixels != nil {
					_ = capture.Pixels.Close()
				}
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return reads
}
