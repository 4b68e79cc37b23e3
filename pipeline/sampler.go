package pipeline

import (
	"context"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
)

// Sampler picks every Nth frame for analysis. Sampled frames get a contiguous ticket, which is
// what the resequencer orders results by.
type Sampler struct {
	every  uint64
	retry  config.RetryParameters
	tasks  chan<- model.Task
	ticket uint64

	sampled      int
	dispatched   int
	retries      int
	dispatchFull int
}

func NewSampler(every int, retry config.RetryParameters, tasks chan<- model.Task) *Sampler {
	if every <= 0 {
		every = 1
	}
	return &Sampler{
		every: uint64(every),
		retry: retry,
		tasks: tasks,
	}
}

// ShouldSample reports whether seq is analysed. Sequence numbers start at 1.
func (s *Sampler) ShouldSample(seq uint64) bool {
	return seq%s.every == 0
}

// Sample tags and dispatches frame when it is selected. The task gets its own copy of the
// pixels. When dispatch gives up the frame is flagged abandoned and DispatchFull is returned;
// the caller must then tell the resequencer stage about the ticket.
func (s *Sampler) Sample(ctx context.Context, frame *model.Frame) (bool, DispatchOutcome) {
	if !s.ShouldSample(frame.Seq) {
		return false, Dispatched
	}

	frame.Sampled = true
	frame.Ticket = s.ticket
	s.ticket++
	s.sampled++

	task := model.Task{
		Ticket:     frame.Ticket,
		FrameSeq:   frame.Seq,
		StreamID:   frame.StreamID,
		CapturedAt: frame.CapturedAt,
	}
	if frame.Pixels != nil {
		task.Pixels = frame.Pixels.Clone()
	}

	outcome, attempts := Dispatch(ctx, s.tasks, task, s.retry)
	s.retries += attempts - 1
	if outcome == Dispatched {
		s.dispatched++
		return true, outcome
	}

	if task.Pixels != nil {
		_ = task.Pixels.Close()
	}
	frame.Abandoned = true
	if outcome == DispatchFull {
		s.dispatchFull++
	}
	return true, outcome
}

func (s *Sampler) Stats() model.SamplerStats {
	return model.SamplerStats{
		Sampled:      s.sampled,
		Dispatched:   s.dispatched,
		Retries:      s.retries,
		DispatchFull: s.dispatchFull,
	}
}
