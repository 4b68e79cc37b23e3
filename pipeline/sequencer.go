package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-overlay/metric"
	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/resequencer"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

const reasonDrain = "drain"

// delivery is what the sequencer stage hands to the output stage: an optional skip followed
// by the run of results that became contiguous.
type delivery struct {
	skip    resequencer.Skip
	entries []resequencer.Entry[model.Result]
}

type sequencerStage struct {
	camera      string
	reseq       *resequencer.Resequencer[model.Result]
	results     <-chan model.Result
	expires     <-chan uint64
	out         chan<- delivery
	tick        time.Duration
	metrics     *metric.Metrics
	errorStream chan interface{}
}

// run owns the resequencer. It ends when the results channel is closed or ctx is cancelled,
// closing out either way.
func (s *sequencerStage) run(ctx context.Context) {
	defer close(s.out)

	if s.tick <= 0 {
		s.tick = 20 * time.Millisecond
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case result, ok := <-s.results:
			if !ok {
				s.drain(ctx)
				return
			}
			s.submit(ctx, result, time.Now())
			if !s.flush(ctx, resequencer.Skip{}) {
				return
			}

		case ticket := <-s.expires:
			skip := s.reseq.Expire(ticket)
			s.recordSkip(ctx, skip)
			if !s.flush(ctx, skip) {
				return
			}

		case now := <-ticker.C:
			if ok, reason := s.reseq.ShouldForceAdvance(now); ok {
				skip := s.reseq.ForceAdvance(reason)
				s.recordSkip(ctx, skip)
				if !s.flush(ctx, skip) {
					return
				}
			}
		}
	}
}

func (s *sequencerStage) submit(ctx context.Context, result model.Result, now time.Time) {
	if result.Abandoned {
		s.reseq.Abandon(result.Ticket, now)
		return
	}

	switch verdict := s.reseq.Submit(result.Ticket, result, result.ProducerID, result.Epoch, now); verdict {
	case resequencer.Late:
		s.metrics.RecordLate(s.camera, "sequencer")
		lgr.Logger.DebugContext(ctx, "late result",
			slog.String("camera", s.camera),
			slog.Uint64("ticket", result.Ticket),
			slog.String("producer", result.ProducerID),
		)
	case resequencer.Duplicate:
		s.metrics.RecordDuplicate(s.camera)
		lgr.Logger.DebugContext(ctx, "duplicate result",
			slog.String("camera", s.camera),
			slog.Uint64("ticket", result.Ticket),
			slog.String("producer", result.ProducerID),
		)
		send(s.errorStream, model.GenError("pipeline_sequencer",
			model.ErrDuplicateResult,
			map[string]interface{}{
				"camera":   s.camera,
				"ticket":   result.Ticket,
				"producer": result.ProducerID,
			},
			"result already seen, dropped"))
	case resequencer.Overflow:
		send(s.errorStream, model.GenError("pipeline_sequencer",
			model.ErrLateResult,
			map[string]interface{}{
				"camera":  s.camera,
				"ticket":  result.Ticket,
				"pending": s.reseq.Len(),
			},
			"resequencer window full, result dropped"))
	}
	s.metrics.SetPending(s.camera, s.reseq.Len())
}

func (s *sequencerStage) recordSkip(ctx context.Context, skip resequencer.Skip) {
	if !skip.Happened() {
		return
	}
	s.metrics.RecordForcedSkip(s.camera, "sequencer", skip.Reason, skip.Skipped+skip.Discarded)
	lgr.Logger.WarnContext(ctx, "resequencer forced skip",
		slog.String("camera", s.camera),
		slog.String("reason", skip.Reason),
		slog.Uint64("from", skip.From),
		slog.Uint64("to", skip.To),
		slog.Int("skipped", skip.Skipped),
		slog.Int("discarded", skip.Discarded),
	)
	send(s.errorStream, model.GenError("pipeline_sequencer",
		model.ErrForcedSkip,
		map[string]interface{}{
			"camera":    s.camera,
			"reason":    skip.Reason,
			"from":      skip.From,
			"to":        skip.To,
			"skipped":   skip.Skipped,
			"discarded": skip.Discarded,
		},
		"skipped %d tickets", skip.Skipped+skip.Discarded))
}

// flush hands over the skip and whatever is ready. It returns false once ctx is cancelled.
func (s *sequencerStage) flush(ctx context.Context, skip resequencer.Skip) bool {
	entries := s.reseq.DrainReady()
	s.metrics.SetPending(s.camera, s.reseq.Len())
	if len(entries) == 0 && !skip.Happened() {
		return true
	}

	select {
	case s.out <- delivery{skip: skip, entries: entries}:
		return true
	case <-ctx.Done():
		return false
	}
}

// drain runs once every producer is gone: whatever is still pending can only be behind a gap
// that will never fill.
func (s *sequencerStage) drain(ctx context.Context) {
	if !s.flush(ctx, resequencer.Skip{}) {
		return
	}
	for s.reseq.Len() > 0 {
		skip := s.reseq.ForceAdvance(reasonDrain)
		s.recordSkip(ctx, skip)
		if !s.flush(ctx, skip) {
			return
		}
	}
}

func (s *sequencerStage) stats() model.SequencerStats {
	st := s.reseq.Stats()
	return model.SequencerStats{
		Camera:           s.camera,
		Accepted:         st.Accepted,
		Delivered:        st.Delivered,
		Late:             st.Late,
		Duplicates:       st.Duplicates,
		Overflows:        st.Overflows,
		ForcedSkips:      st.ForcedSkips,
		SkippedSeqs:      st.Skipped,
		Discarded:        st.Discarded,
		Abandoned:        st.Abandoned,
		ProducerRestarts: st.ProducerRestarts,
	}
}
