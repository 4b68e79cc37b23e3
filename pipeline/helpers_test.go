package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khaledhikmat/vs-overlay/model"
)

type fakePixels struct {
	live   *atomic.Int64
	closed atomic.Bool
}

func newFakePixels(live *atomic.Int64) *fakePixels {
	if live != nil {
		live.Add(1)
	}
	return &fakePixels{live: live}
}

func (p *fakePixels) Clone() model.Pixels {
	return newFakePixels(p.live)
}

func (p *fakePixels) Close() error {
	if p.closed.CompareAndSwap(false, true) && p.live != nil {
		p.live.Add(-1)
	}
	return nil
}

func (p *fakePixels) Size() (int, int) {
	return 640, 480
}

// testSource produces frames at a fixed rate, then ends, fails or hangs.
type testSource struct {
	frames     int
	interval   time.Duration
	failAfter  int
	blockAfter int
	live       *atomic.Int64

	next  int
	start time.Time
}

func (s *testSource) Read(ctx context.Context) (Capture, error) {
	if s.failAfter > 0 && s.next >= s.failAfter {
		return Capture{}, errors.New("connection reset by peer")
	}
	if s.blockAfter > 0 && s.next >= s.blockAfter {
		<-ctx.Done()
		return Capture{}, ctx.Err()
	}
	if s.next >= s.frames {
		return Capture{}, io.EOF
	}

	if s.start.IsZero() {
		s.start = time.Now()
	} else if d := time.Until(s.start.Add(time.Duration(s.next) * s.interval)); d > 0 {
		if !sleep(ctx, d) {
			return Capture{}, ctx.Err()
		}
	}
	s.next++
	return Capture{Pixels: newFakePixels(s.live), CapturedAt: time.Now()}, nil
}

func (s *testSource) Close() error {
	return nil
}

// silentSource connects but never produces a frame.
type silentSource struct{}

func (silentSource) Read(ctx context.Context) (Capture, error) {
	<-ctx.Done()
	return Capture{}, ctx.Err()
}

func (silentSource) Close() error {
	return nil
}

// stuckSource blocks in Read until released, whatever the context says, like a capture backend
// waiting on a dead stream.
type stuckSource struct {
	release chan struct{}
	live    *atomic.Int64
	reads   atomic.Int64
}

func (s *stuckSource) Read(_ context.Context) (Capture, error) {
	<-s.release
	pixels := newFakePixels(s.live)
	s.reads.Add(1)
	return Capture{Pixels: pixels, CapturedAt: time.Now()}, nil
}

func (s *stuckSource) Close() error {
	return nil
}

type emittedFrame struct {
	seq    uint64
	state  model.AnnotationState
	tracks int
}

type recordingSink struct {
	mu     sync.Mutex
	frames []emittedFrame
}

func (s *recordingSink) Write(frame *model.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, emittedFrame{seq: frame.Seq, state: frame.State, tracks: len(frame.Tracks)})
	return nil
}

func (s *recordingSink) Close() error {
	return nil
}

func (s *recordingSink) emitted() []emittedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emittedFrame(nil), s.frames...)
}

type countingPainter struct {
	mu     sync.Mutex
	draws  int
	labels int
}

func (p *countingPainter) Draw(_ model.Pixels, _ []model.Track, labels bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draws++
	if labels {
		p.labels++
	}
	return nil
}

// drain keeps reading a stream until it is closed.
func drain(stream chan interface{}) {
	go func() {
		for range stream {
		}
	}()
}
