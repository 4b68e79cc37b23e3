package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/resequencer"
	"github.com/khaledhikmat/vs-overlay/service/config"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
	"github.com/khaledhikmat/vs-overlay/tracker"
)

// SessionStats is the end-of-session summary of every stage.
type SessionStats struct {
	Framer    model.FramerStats
	Sampler   model.SamplerStats
	Sequencer model.SequencerStats
	Output    model.OutputStats
}

// Session is one uninterrupted run over a frame source. Sequence numbers and tickets start
// over with every session; track ids do not.
type Session struct {
	ID     uuid.UUID
	Camera model.Camera
	Params config.PipelineParameters

	svcs        ServicesFactory
	tracker     *tracker.Tracker
	source      Source
	sink        Sink
	departures  chan<- model.Departure
	errorStream chan interface{}
	statsStream chan interface{}

	stats   SessionStats
	emitted []uint64
	trace   bool
}

func NewSession(svcs ServicesFactory, camera model.Camera, params config.PipelineParameters, trk *tracker.Tracker, source Source, sink Sink) *Session {
	return &Session{
		ID:      uuid.New(),
		Camera:  camera,
		Params:  params,
		svcs:    svcs,
		tracker: trk,
		source:  source,
		sink:    sink,
	}
}

// WithStreams routes errors, stats and departures to the agent's streams.
func (s *Session) WithStreams(errorStream, statsStream chan interface{}, departures chan<- model.Departure) *Session {
	s.errorStream = errorStream
	s.statsStream = statsStream
	s.departures = departures
	return s
}

// Run blocks until the session ends. It returns io.EOF when the source ran out and every frame
// went out, an error wrapping ErrDisconnected or ErrStalled when the session was cut short,
// and the context error when cancelled from outside.
func (s *Session) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(lgr.WithSession(parent, s.ID))
	defer cancel()

	p := s.Params
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	frames := make(chan *model.Frame, p.FPS)
	tasks := make(chan model.Task, p.DispatchQueue)
	results := make(chan model.Result, p.ResultQueue)
	expires := make(chan uint64, p.ResultQueue)
	deliveries := make(chan delivery, p.ResultQueue)

	lgr.Logger.InfoContext(ctx, "session starting",
		slog.String("camera", s.Camera.Name),
		slog.String("session", s.ID.String()),
		slog.Int("fps", p.FPS),
		slog.Int("sampleEvery", p.SampleEvery),
		slog.Int("workers", workers),
	)

	s.tracker.Reset()
	reinserter := NewReinserter(s.tracker, s.svcs.Painter, p.LabelInterval, p.InterpolateUnsampled)

	sampler := NewSampler(p.SampleEvery, p.Dispatch, tasks)
	framer := &framerStage{
		camera:  s.Camera,
		session: s.ID.String(),
		source:  s.source,
		sampler: sampler,
		frames:  frames,
		tasks:   tasks,
		results: results,
		metrics: s.svcs.Metrics,
		cancel:  cancel,

		errorStream: s.errorStream,
	}

	sequencer := &sequencerStage{
		camera:      s.Camera.Name,
		reseq:       resequencer.New[model.Result](p.Resequencer),
		results:     results,
		expires:     expires,
		out:         deliveries,
		tick:        p.FrameInterval() / 2,
		metrics:     s.svcs.Metrics,
		errorStream: s.errorStream,
	}

	output := newOutputStage(s.Camera.Name, p, reinserter, s.sink, s.svcs.Metrics)
	output.frames = frames
	output.deliveries = deliveries
	output.expires = expires
	output.departures = s.departures
	output.errorStream = s.errorStream
	output.traceEmitted = s.trace

	var producers, stages sync.WaitGroup
	var framerErr, outputErr error

	producers.Add(1)
	go func() {
		defer producers.Done()
		framerErr = framer.run(ctx)
	}()

	for i := 0; i < workers; i++ {
		a := &analyzer{
			worker:      i,
			producer:    fmt.Sprintf("%s-w%d", s.ID.String(), i),
			camera:      s.Camera.Name,
			svcs:        s.svcs,
			tasks:       tasks,
			results:     results,
			errorStream: s.errorStream,
			statsStream: s.statsStream,
		}
		producers.Add(1)
		go func() {
			defer producers.Done()
			a.run(ctx)
		}()
	}

	// framer and workers all write results
	go func() {
		producers.Wait()
		close(results)
	}()

	stages.Add(2)
	go func() {
		defer stages.Done()
		sequencer.run(ctx)
	}()
	go func() {
		defer stages.Done()
		outputErr = output.run(ctx)
		cancel()
	}()

	stages.Wait()
	producers.Wait()

	// frames the output stage never picked up
	for f := range frames {
		f.Release()
	}

	sampled := sampler.Stats()
	sampled.Camera = s.Camera.Name
	sampled.Session = s.ID.String()
	seqStats := sequencer.stats()
	seqStats.Session = s.ID.String()
	outStats := output.stats
	outStats.Session = s.ID.String()
	outStats.LateResults += seqStats.Late

	s.stats = SessionStats{
		Framer:    framer.stats,
		Sampler:   sampled,
		Sequencer: seqStats,
		Output:    outStats,
	}
	s.emitted = output.emitted

	send(s.statsStream, s.stats.Framer)
	send(s.statsStream, s.stats.Sampler)
	send(s.statsStream, s.stats.Sequencer)
	send(s.statsStream, s.stats.Output)

	err := s.reason(parent, framerErr, outputErr)
	lgr.Logger.InfoContext(ctx, "session ended",
		slog.String("camera", s.Camera.Name),
		slog.String("session", s.ID.String()),
		slog.String("reason", EndReason(err)),
		slog.Int("emitted", outStats.Emitted),
		slog.Int("annotated", outStats.Annotated),
		slog.Int("interpolated", outStats.Interpolated),
		slog.Int("raw", outStats.Raw),
		slog.Int("forcedSkips", seqStats.ForcedSkips),
	)
	return err
}

func (s *Session) reason(parent context.Context, framerErr, outputErr error) error {
	switch {
	case outputErr != nil:
		return outputErr
	case framerErr != nil:
		return framerErr
	case parent.Err() != nil:
		return parent.Err()
	default:
		return io.EOF
	}
}

// Stats is only meaningful after Run returned.
func (s *Session) Stats() SessionStats {
	return s.stats
}

// EndReason names why a session ended, for logs and metrics.
func EndReason(err error) string {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, model.ErrStalled):
		return "stalled"
	case errors.Is(err, model.ErrDisconnected):
		return "disconnected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
