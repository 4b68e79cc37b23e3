package pipeline

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-overlay/metric"
	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
	"github.com/khaledhikmat/vs-overlay/service/inference"
	"github.com/khaledhikmat/vs-overlay/tracker"
)

func sessionParams() config.PipelineParameters {
	params := config.NewHardCoded().GetPipelineParameters(25)
	params.InterpolateUnsampled = false
	params.ResultWait = 400 * time.Millisecond
	params.Workers = 3
	return params
}

func newTestSession(params config.PipelineParameters, detector inference.IService, source Source, sink Sink) *Session {
	svcs := ServicesFactory{
		InferenceSvc: detector,
		Metrics:      metric.NewMetrics(),
		Painter:      &countingPainter{},
	}
	camera := model.Camera{ID: "cam-1", Name: "lobby", FPS: 25}

	s := NewSession(svcs, camera, params, tracker.New(params.Tracker), source, sink)
	s.trace = true
	return s
}

func TestSessionEmitsEveryFrameInOrder(t *testing.T) {
	var live atomic.Int64
	source := &testSource{frames: 100, interval: 40 * time.Millisecond, live: &live}
	sink := &recordingSink{}
	detector := inference.NewFake(inference.FakeOptions{
		MaxJitter: 200 * time.Millisecond,
		Objects:   1,
	})

	s := newTestSession(sessionParams(), detector, source, sink)
	err := s.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)

	emitted := sink.emitted()
	require.Len(t, emitted, 100)
	for i, f := range emitted {
		seq := uint64(i + 1)
		require.Equal(t, seq, f.seq)
		if seq%5 == 0 {
			assert.Equal(t, model.Annotated, f.state, "frame %d", seq)
		} else {
			assert.Equal(t, model.Raw, f.state, "frame %d", seq)
		}
	}

	stats := s.Stats()
	assert.Equal(t, 100, stats.Framer.Frames)
	assert.Equal(t, 20, stats.Sampler.Dispatched)
	assert.Equal(t, 20, stats.Sequencer.Delivered)
	assert.Equal(t, 0, stats.Sequencer.ForcedSkips)
	assert.Equal(t, 20, stats.Output.Annotated)
	assert.Equal(t, int64(0), live.Load())
}

func TestSessionMissingResultIsSkippedOnce(t *testing.T) {
	var live atomic.Int64
	source := &testSource{frames: 100, interval: 40 * time.Millisecond, live: &live}
	sink := &recordingSink{}
	detector := inference.NewFake(inference.FakeOptions{
		MaxJitter: 200 * time.Millisecond,
		Objects:   1,
		Drop:      func(task model.Task) bool { return task.FrameSeq == 50 },
	})

	s := newTestSession(sessionParams(), detector, source, sink)
	err := s.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)

	emitted := sink.emitted()
	require.Len(t, emitted, 100)
	for i, f := range emitted {
		require.Equal(t, uint64(i+1), f.seq)
	}
	assert.Equal(t, model.Interpolated, emitted[49].state)
	assert.Equal(t, 1, s.Stats().Sequencer.ForcedSkips)
	assert.Equal(t, int64(0), live.Load())
}

func TestSessionStall(t *testing.T) {
	params := sessionParams()
	params.StallTimeout = 200 * time.Millisecond

	source := &testSource{frames: 100, interval: 10 * time.Millisecond, blockAfter: 10}
	s := newTestSession(params, inference.NewFake(inference.FakeOptions{}), source, &recordingSink{})

	start := time.Now()
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, model.ErrStalled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, s.Stats().Output.Stalled)
	assert.Equal(t, "stalled", EndReason(err))
}

func TestSessionStallsWhenSourceNeverDelivers(t *testing.T) {
	params := sessionParams()
	params.StallTimeout = 300 * time.Millisecond
	s := newTestSession(params, inference.NewFake(inference.FakeOptions{}), silentSource{}, &recordingSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	err := s.Run(ctx)
	require.ErrorIs(t, err, model.ErrStalled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, s.Stats().Framer.Frames)
}

func TestSessionTeardownDoesNotWaitOnStuckRead(t *testing.T) {
	var live atomic.Int64
	params := sessionParams()
	params.StallTimeout = 200 * time.Millisecond
	source := &stuckSource{release: make(chan struct{}), live: &live}
	s := newTestSession(params, inference.NewFake(inference.FakeOptions{}), source, &recordingSink{})

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, model.ErrStalled)
	case <-time.After(2 * time.Second):
		close(source.release)
		t.Fatal("session blocked on a read that ignores cancellation")
	}

	// the late capture is released by the reader
	close(source.release)
	require.Eventually(t, func() bool {
		return source.reads.Load() == 1 && live.Load() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSessionDisconnectEndsImmediately(t *testing.T) {
	var live atomic.Int64
	source := &testSource{frames: 100, interval: 10 * time.Millisecond, failAfter: 20, live: &live}
	sink := &recordingSink{}
	s := newTestSession(sessionParams(), inference.NewFake(inference.FakeOptions{}), source, sink)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, model.ErrDisconnected)
	assert.Equal(t, "disconnected", EndReason(err))
	// buffered frames are dropped, not drained
	assert.Less(t, len(sink.emitted()), 20)
	assert.Equal(t, int64(0), live.Load())
}

func TestSessionCancelled(t *testing.T) {
	source := &testSource{frames: 1000, interval: 10 * time.Millisecond}
	s := newTestSession(sessionParams(), inference.NewFake(inference.FakeOptions{}), source, &recordingSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "cancelled", EndReason(err))
}

func TestEndReason(t *testing.T) {
	assert.Equal(t, "eof", EndReason(io.EOF))
	assert.Equal(t, "error", EndReason(errors.New("boom")))
}
