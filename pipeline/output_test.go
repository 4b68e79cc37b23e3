package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/resequencer"
	"github.com/khaledhikmat/vs-overlay/service/config"
	"github.com/khaledhikmat/vs-overlay/service/inference"
	"github.com/khaledhikmat/vs-overlay/tracker"
)

// outputHarness drives the output stage and a resequencer step by step, without goroutines.
type outputHarness struct {
	out     *outputStage
	reseq   *resequencer.Resequencer[model.Result]
	expires chan uint64
	sink    *recordingSink
}

func newOutputHarness(t *testing.T) *outputHarness {
	t.Helper()

	params := config.NewHardCoded().GetPipelineParameters(25)
	params.InterpolateUnsampled = false
	params.ResultWait = time.Millisecond

	sink := &recordingSink{}
	reinserter := NewReinserter(tracker.New(params.Tracker), &countingPainter{}, params.LabelInterval, params.InterpolateUnsampled)
	out := newOutputStage("cam", params, reinserter, sink, nil)
	expires := make(chan uint64, 16)
	out.expires = expires

	return &outputHarness{
		out:     out,
		reseq:   resequencer.New[model.Result](params.Resequencer),
		expires: expires,
		sink:    sink,
	}
}

func (h *outputHarness) submit(result model.Result, now time.Time) {
	h.reseq.Submit(result.Ticket, result, "w0", 1, now)
	h.out.deliver(delivery{entries: h.reseq.DrainReady()}, now)
}

func (h *outputHarness) processExpiries(now time.Time) {
	for {
		select {
		case ticket := <-h.expires:
			skip := h.reseq.Expire(ticket)
			h.out.deliver(delivery{skip: skip, entries: h.reseq.DrainReady()}, now)
		default:
			return
		}
	}
}

// run ingests frames 1..n. Sampled frames get their result right away unless drop says
// otherwise. One frame goes out per ingested frame once the pre-roll is reached, the rest is
// flushed at the end.
func (h *outputHarness) run(n uint64, every uint64, drop func(seq uint64) bool) {
	ctx := context.Background()
	for seq := uint64(1); seq <= n; seq++ {
		now := t0.Add(time.Duration(seq) * 40 * time.Millisecond)
		frame := &model.Frame{Seq: seq, CapturedAt: now, StreamID: "cam", Pixels: newFakePixels(nil)}
		if seq%every == 0 {
			frame.Sampled = true
			frame.Ticket = seq/every - 1
		}
		h.out.ingest(frame, now)

		if frame.Sampled && (drop == nil || !drop(seq)) {
			h.submit(model.Result{
				Ticket:     frame.Ticket,
				FrameSeq:   seq,
				ProducerID: "w0",
				Epoch:      1,
				Detections: inference.SyntheticDetections(seq, 1, 640, 480, 4),
			}, now)
		}

		if h.out.pacer.Ready(h.out.buffer.Len(), false) {
			h.out.emitNext(ctx, now)
			h.processExpiries(now)
		}
	}

	h.out.framesClosed = true
	for h.out.buffer.Len() > 0 {
		h.out.emitNext(ctx, time.Now())
		h.processExpiries(time.Now())
	}
}

func TestOutputScenarioInOrderResults(t *testing.T) {
	h := newOutputHarness(t)
	h.run(100, 5, nil)

	emitted := h.sink.emitted()
	require.Len(t, emitted, 100)
	for i, f := range emitted {
		seq := uint64(i + 1)
		assert.Equal(t, seq, f.seq)
		if seq%5 == 0 {
			assert.Equal(t, model.Annotated, f.state, "frame %d", seq)
		} else {
			assert.Equal(t, model.Raw, f.state, "frame %d", seq)
		}
	}

	assert.Equal(t, 0, h.reseq.Stats().ForcedSkips)
	assert.Equal(t, 0, h.out.stats.WaitTimeouts)
	assert.Equal(t, 20, h.out.stats.Annotated)
}

func TestOutputScenarioMissingResult(t *testing.T) {
	h := newOutputHarness(t)
	h.run(100, 5, func(seq uint64) bool { return seq == 50 })

	emitted := h.sink.emitted()
	require.Len(t, emitted, 100)
	for i, f := range emitted {
		seq := uint64(i + 1)
		assert.Equal(t, seq, f.seq)
		switch {
		case seq == 50:
			assert.Equal(t, model.Interpolated, f.state)
			assert.Equal(t, 1, f.tracks)
		case seq%5 == 0:
			assert.Equal(t, model.Annotated, f.state, "frame %d", seq)
		default:
			assert.Equal(t, model.Raw, f.state, "frame %d", seq)
		}
	}

	assert.Equal(t, 1, h.reseq.Stats().ForcedSkips)
	assert.Equal(t, 1, h.out.stats.WaitTimeouts)
}

func TestOutputMissingResultWithoutTracksGoesRaw(t *testing.T) {
	h := newOutputHarness(t)
	// nothing ever comes back
	h.run(30, 5, func(uint64) bool { return true })

	emitted := h.sink.emitted()
	require.Len(t, emitted, 30)
	for _, f := range emitted {
		assert.Equal(t, model.Raw, f.state)
	}
	assert.Equal(t, 6, h.reseq.Stats().ForcedSkips)
}

func TestOutputLateResultIsCounted(t *testing.T) {
	h := newOutputHarness(t)

	for seq := uint64(1); seq <= 20; seq++ {
		h.out.ingest(&model.Frame{Seq: seq, CapturedAt: t0}, t0)
	}
	for i := 0; i < 3; i++ {
		h.out.emitNext(context.Background(), t0)
	}

	h.out.apply(model.Result{FrameSeq: 2, Detections: []model.Detection{person(10)}}, t0)
	assert.Equal(t, 1, h.out.stats.LateResults)
	// the tracker still learned from it
	assert.Equal(t, 1, h.out.reinserter.tracker.Len())
}

func TestOutputParksResultUntilFrameArrives(t *testing.T) {
	h := newOutputHarness(t)

	h.out.ingest(&model.Frame{Seq: 1, CapturedAt: t0}, t0)
	h.out.apply(model.Result{FrameSeq: 5, Detections: []model.Detection{person(10)}}, t0)
	assert.Equal(t, 0, h.out.stats.LateResults)

	for seq := uint64(2); seq <= 5; seq++ {
		h.out.ingest(&model.Frame{Seq: seq, CapturedAt: t0, Sampled: seq == 5}, t0)
	}
	assert.Equal(t, model.Annotated, h.out.buffer.Get(5).State)
}
