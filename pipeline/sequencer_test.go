package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/resequencer"
)

type sequencerHarness struct {
	stage   *sequencerStage
	results chan model.Result
	expires chan uint64
	out     chan delivery
	errs    chan interface{}
	done    chan struct{}
}

func newSequencerHarness(t *testing.T) *sequencerHarness {
	t.Helper()

	cfg := resequencer.DefaultConfig()
	// keep the timers out of the way, the tests drive every skip
	cfg.EntryTimeout = time.Hour
	cfg.IdleTimeout = time.Hour
	cfg.BatchThreshold = 10

	h := &sequencerHarness{
		results: make(chan model.Result),
		expires: make(chan uint64),
		out:     make(chan delivery, 16),
		errs:    make(chan interface{}, 64),
		done:    make(chan struct{}),
	}
	h.stage = &sequencerStage{
		camera:  "lobby",
		reseq:   resequencer.New[model.Result](cfg),
		results: h.results,
		expires: h.expires,
		out:     h.out,
		tick:    time.Millisecond,

		errorStream: h.errs,
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		defer close(h.done)
		h.stage.run(ctx)
	}()
	return h
}

func (h *sequencerHarness) submit(tickets ...uint64) {
	for _, ticket := range tickets {
		h.results <- model.Result{Ticket: ticket, FrameSeq: (ticket + 1) * 5, ProducerID: "w0"}
	}
}

// collect waits for the stage to end and returns every delivery.
func (h *sequencerHarness) collect(t *testing.T) []delivery {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("sequencer stage did not end")
	}

	var all []delivery
	for d := range h.out {
		all = append(all, d)
	}
	return all
}

func tickets(deliveries []delivery) []uint64 {
	var out []uint64
	for _, d := range deliveries {
		for _, e := range d.entries {
			out = append(out, e.Seq)
		}
	}
	return out
}

func TestSequencerStageReorders(t *testing.T) {
	h := newSequencerHarness(t)

	h.submit(2, 0, 1, 3)
	close(h.results)

	deliveries := h.collect(t)
	assert.Equal(t, []uint64{0, 1, 2, 3}, tickets(deliveries))
	for _, d := range deliveries {
		assert.False(t, d.skip.Happened())
	}
	assert.Equal(t, 4, h.stage.stats().Delivered)
}

func TestSequencerStageDrainsPastGaps(t *testing.T) {
	h := newSequencerHarness(t)

	h.submit(0, 2, 3)
	close(h.results)

	deliveries := h.collect(t)
	assert.Equal(t, []uint64{0, 2, 3}, tickets(deliveries))

	last := deliveries[len(deliveries)-1]
	require.True(t, last.skip.Happened())
	assert.Equal(t, reasonDrain, last.skip.Reason)
	assert.Equal(t, 1, last.skip.Skipped)
	assert.Equal(t, 1, h.stage.stats().ForcedSkips)
}

func TestSequencerStageExpiresOnRequest(t *testing.T) {
	h := newSequencerHarness(t)

	h.submit(0, 2)
	h.expires <- 1
	// expiring an already closed gap is a no-op
	h.expires <- 1
	close(h.results)

	deliveries := h.collect(t)
	assert.Equal(t, []uint64{0, 2}, tickets(deliveries))

	var skips []resequencer.Skip
	for _, d := range deliveries {
		if d.skip.Happened() {
			skips = append(skips, d.skip)
		}
	}
	require.Len(t, skips, 1)
	assert.Equal(t, resequencer.ReasonExpired, skips[0].Reason)
	assert.Equal(t, 1, h.stage.stats().ForcedSkips)
}

func TestSequencerStageAbandonedTicketsKeepTheRunGoing(t *testing.T) {
	h := newSequencerHarness(t)

	h.submit(0)
	h.results <- model.Result{Ticket: 1, FrameSeq: 10, Abandoned: true}
	h.submit(2)
	close(h.results)

	deliveries := h.collect(t)
	assert.Equal(t, []uint64{0, 1, 2}, tickets(deliveries))
	assert.Equal(t, 0, h.stage.stats().ForcedSkips)
	assert.Equal(t, 1, h.stage.stats().Abandoned)
}

func (h *sequencerHarness) reported() []error {
	var out []error
	for {
		select {
		case e := <-h.errs:
			out = append(out, e.(model.CustomError))
		default:
			return out
		}
	}
}

func TestSequencerStageReportsDuplicatesAndSkips(t *testing.T) {
	h := newSequencerHarness(t)

	h.submit(0, 2, 2)
	close(h.results)

	deliveries := h.collect(t)
	assert.Equal(t, []uint64{0, 2}, tickets(deliveries))

	reported := h.reported()
	require.Len(t, reported, 2)
	assert.ErrorIs(t, reported[0], model.ErrDuplicateResult)
	assert.ErrorIs(t, reported[1], model.ErrForcedSkip)
	assert.Equal(t, 1, h.stage.stats().Duplicates)
}
