package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-overlay/metric"
	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

// outputStage owns the stream buffer, the pacer and the reinserter. Frames come in from the
// framer, ordered results from the sequencer, and paced frames go out to the sink.
type outputStage struct {
	camera     string
	params     config.PipelineParameters
	buffer     *StreamBuffer
	pacer      *Pacer
	reinserter *Reinserter
	sink       Sink
	metrics    *metric.Metrics

	frames      <-chan *model.Frame
	deliveries  <-chan delivery
	expires     chan<- uint64
	departures  chan<- model.Departure
	errorStream chan interface{}

	framesClosed  bool
	resultsClosed bool
	stats         model.OutputStats
	emitted       []uint64 // optional trace of emitted sequences
	traceEmitted  bool
}

func newOutputStage(camera string, params config.PipelineParameters, reinserter *Reinserter, sink Sink, metrics *metric.Metrics) *outputStage {
	return &outputStage{
		camera:     camera,
		params:     params,
		buffer:     NewStreamBuffer(params.Buffer, params.StallTimeout),
		pacer:      NewPacer(params.FrameInterval(), params.Buffer.MaxLag, params.Buffer.Preroll),
		reinserter: reinserter,
		sink:       sink,
		metrics:    metrics,
		stats:      model.OutputStats{Camera: camera},
	}
}

// run returns nil once the frame source ended and every buffered frame went out, ErrStalled
// when ingestion stopped, and nil on cancellation.
func (s *outputStage) run(ctx context.Context) error {
	defer s.buffer.Reset()
	s.buffer.Arm(time.Now())

	timer := time.NewTimer(s.pacer.Interval())
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.framesClosed && s.buffer.Len() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-s.frames:
			if !ok {
				s.framesClosed = true
				s.frames = nil
				continue
			}
			s.ingest(frame, time.Now())

		case d, ok := <-s.deliveries:
			if !ok {
				s.resultsClosed = true
				s.deliveries = nil
				continue
			}
			s.deliver(d, time.Now())

		case now := <-timer.C:
			if !s.framesClosed && s.buffer.Stalled(now) {
				s.stats.Stalled = true
				s.metrics.RecordStall(s.camera)
				lgr.Logger.WarnContext(ctx, "frame source stalled",
					slog.String("camera", s.camera),
					slog.Duration("timeout", s.params.StallTimeout),
				)
				return model.ErrStalled
			}

			s.pump(ctx, now)

			next := s.pacer.Until(time.Now())
			if next <= 0 {
				next = s.pacer.Interval() / 4
			}
			timer.Reset(next)
		}
	}
}

// pump emits every frame whose deadline has passed.
func (s *outputStage) pump(ctx context.Context, now time.Time) {
	for ctx.Err() == nil && s.pacer.Ready(s.buffer.Len(), s.framesClosed) && s.pacer.Due(now) {
		if !s.emitNext(ctx, now) {
			return
		}
		now = time.Now()
	}
}

func (s *outputStage) emitNext(ctx context.Context, now time.Time) bool {
	frame := s.buffer.Get(s.buffer.Expected())
	if frame == nil {
		if s.buffer.Len() == 0 {
			return false
		}
		n := s.buffer.ForceAdvance()
		s.stats.BufferSkips += n
		s.metrics.RecordForcedSkip(s.camera, "buffer", "gap", n)
		frame = s.buffer.Get(s.buffer.Expected())
		if frame == nil {
			return false
		}
	}

	if s.awaiting(frame) {
		s.stats.Waits++
		if !s.await(ctx, frame) && s.awaiting(frame) {
			s.stats.WaitTimeouts++
			s.expire(ctx, frame.Ticket)
		}
		now = time.Now()
	}

	if frame.State == model.Raw {
		if _, err := s.reinserter.Fallback(frame, now); err != nil {
			s.drawFailed(frame, err)
		}
		s.forwardDepartures()
	}

	out, ok := s.buffer.NextReady()
	if !ok {
		return false
	}
	s.write(ctx, out)
	s.pacer.Emitted(time.Now())
	s.metrics.SetBufferDepth(s.camera, s.buffer.Len())
	return true
}

func (s *outputStage) awaiting(frame *model.Frame) bool {
	return !s.resultsClosed && s.reinserter.Awaiting(frame)
}

// await blocks up to the result wait for frame's result, applying deliveries as they come.
func (s *outputStage) await(ctx context.Context, frame *model.Frame) bool {
	timer := time.NewTimer(s.params.ResultWait)
	defer timer.Stop()

	for s.awaiting(frame) {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case d, ok := <-s.deliveries:
			if !ok {
				s.resultsClosed = true
				s.deliveries = nil
				return false
			}
			s.deliver(d, time.Now())
		}
	}
	return true
}

// expire gives up on ticket here and asks the sequencer to stop waiting for it as well.
func (s *outputStage) expire(ctx context.Context, ticket uint64) {
	s.reinserter.Resolve(ticket)
	select {
	case s.expires <- ticket:
	default:
		lgr.Logger.WarnContext(ctx, "expiry queue full, sequencer will time out on its own",
			slog.String("camera", s.camera),
			slog.Uint64("ticket", ticket),
		)
	}
}

func (s *outputStage) ingest(frame *model.Frame, now time.Time) {
	evicted, err := s.buffer.Ingest(frame, now)
	if err != nil {
		lgr.Logger.Warn("frame rejected by buffer",
			slog.String("camera", s.camera),
			slog.Uint64("seq", frame.Seq),
			lgr.Err(err),
		)
		frame.Release()
		return
	}

	for _, f := range evicted {
		s.stats.Evicted++
		f.Release()
	}
	if len(evicted) > 0 {
		s.metrics.RecordEvicted(s.camera, len(evicted))
	}
	s.metrics.RecordIngested(s.camera)
	s.metrics.SetBufferDepth(s.camera, s.buffer.Len())

	if result, ok := s.reinserter.Pending(frame.Seq); ok {
		s.apply(result, now)
	}
}

func (s *outputStage) deliver(d delivery, now time.Time) {
	if d.skip.Happened() {
		s.reinserter.Resolve(d.skip.To - 1)
	}
	for _, e := range d.entries {
		s.reinserter.Resolve(e.Seq)
		if e.Abandoned {
			continue
		}
		s.apply(e.Value, now)
	}
}

func (s *outputStage) apply(result model.Result, now time.Time) {
	frame := s.buffer.Get(result.FrameSeq)
	switch {
	case frame != nil:
		if err := s.reinserter.Annotate(frame, result, now); err != nil {
			s.drawFailed(frame, err)
		}
		if err := s.buffer.Replace(frame.Seq, frame); err != nil {
			lgr.Logger.Warn("frame replace failed",
				slog.String("camera", s.camera),
				slog.Uint64("seq", frame.Seq),
				lgr.Err(err),
			)
		}

	case result.FrameSeq > s.buffer.Highest():
		// the frame is still on its way from the framer
		s.reinserter.Offer(result)
		return

	default:
		s.stats.LateResults++
		s.metrics.RecordLate(s.camera, "output")
		s.reinserter.Track(result, now)
	}
	s.forwardDepartures()
}

// drawFailed counts an overlay that could not be painted. The frame still goes out with its
// tracks attached.
func (s *outputStage) drawFailed(frame *model.Frame, err error) {
	s.stats.DrawErrors++
	lgr.Logger.Warn("overlay draw failed",
		slog.String("camera", s.camera),
		slog.Uint64("seq", frame.Seq),
		lgr.Err(err),
	)
}

func (s *outputStage) write(ctx context.Context, frame *model.Frame) {
	defer frame.Release()

	if s.sink != nil {
		if err := s.sink.Write(frame); err != nil {
			s.stats.SinkErrors++
			send(s.errorStream, model.GenError("pipeline_output",
				err,
				map[string]interface{}{
					"camera": s.camera,
					"seq":    frame.Seq,
				},
				"error writing frame to sink"))
		}
	}

	s.stats.Emitted++
	switch frame.State {
	case model.Annotated:
		s.stats.Annotated++
	case model.Interpolated:
		s.stats.Interpolated++
	default:
		s.stats.Raw++
	}
	if s.traceEmitted {
		s.emitted = append(s.emitted, frame.Seq)
	}
	s.metrics.RecordEmitted(s.camera, frame.State.String())

	lgr.Logger.DebugContext(ctx, "frame emitted",
		slog.String("camera", s.camera),
		slog.Uint64("seq", frame.Seq),
		slog.String("state", frame.State.String()),
		slog.Int("tracks", len(frame.Tracks)),
	)
}

func (s *outputStage) forwardDepartures() {
	for _, d := range s.reinserter.Departures() {
		d.StreamID = s.camera
		s.metrics.RecordDeparture(s.camera, string(d.Reason))
		if s.departures == nil {
			continue
		}
		select {
		case s.departures <- d:
		default:
			lgr.Logger.Warn("departure queue full, departure dropped",
				slog.String("camera", s.camera),
				slog.Uint64("track", d.TrackID),
			)
		}
	}
}
