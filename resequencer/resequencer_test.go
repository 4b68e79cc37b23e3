package resequencer

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seqs[T any](entries []Entry[T]) []uint64 {
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Seq)
	}
	return out
}

func TestSubmitExpectedDrainsImmediately(t *testing.T) {
	r := New[string](DefaultConfig())

	require.Equal(t, Accepted, r.Submit(0, "a", "p1", 0, t0))
	ready := r.DrainReady()
	require.Len(t, ready, 1)
	assert.Equal(t, uint64(0), ready[0].Seq)
	assert.Equal(t, "a", ready[0].Value)
	assert.Equal(t, uint64(1), r.Expected())
	assert.Equal(t, 0, r.Stats().ForcedSkips)
}

func TestDrainReadyEmptyWhenHeadMissing(t *testing.T) {
	r := New[int](DefaultConfig())

	require.Equal(t, Accepted, r.Submit(1, 1, "p1", 0, t0))
	require.Equal(t, Accepted, r.Submit(2, 2, "p1", 0, t0))
	assert.Empty(t, r.DrainReady())
	assert.Equal(t, uint64(0), r.Expected())

	require.Equal(t, Accepted, r.Submit(0, 0, "p2", 0, t0))
	assert.Equal(t, []uint64{0, 1, 2}, seqs(r.DrainReady()))
	assert.Equal(t, uint64(3), r.Expected())
}

func TestAnyInterleavingDrainsContiguousRunInOrder(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	const k = 12

	for round := 0; round < 50; round++ {
		cfg := DefaultConfig()
		cfg.MaxPending = 64
		cfg.BatchThreshold = 64
		r := New[uint64](cfg)

		order := rnd.Perm(k)
		var got []uint64
		for i, n := range order {
			producer := "p1"
			if i%2 == 1 {
				producer = "p2"
			}
			// Each producer sees increasing sequences only within its own submissions
			// when the permutation allows it; regressions restart the producer.
			r.Submit(uint64(n), uint64(n), producer, 0, t0)
			got = append(got, seqs(r.DrainReady())...)
		}

		want := make([]uint64, k)
		for i := range want {
			want[i] = uint64(i)
		}
		require.Equal(t, want, got, "round %d order %v", round, order)
		require.Equal(t, 0, r.Stats().ForcedSkips)
	}
}

func TestLateAndDuplicate(t *testing.T) {
	r := New[int](DefaultConfig())

	require.Equal(t, Accepted, r.Submit(0, 0, "p1", 0, t0))
	r.DrainReady()

	// Redelivery of something already delivered is a duplicate.
	assert.Equal(t, Duplicate, r.Submit(0, 0, "p2", 0, t0))

	require.Equal(t, Accepted, r.Submit(2, 2, "p1", 0, t0))
	assert.Equal(t, Duplicate, r.Submit(2, 2, "p1", 0, t0))
	assert.Equal(t, Duplicate, r.Submit(2, 2, "p2", 0, t0))

	skip := r.ForceAdvance(ReasonBatch)
	require.True(t, skip.Happened())
	assert.Equal(t, []uint64{2}, seqs(r.DrainReady()))

	// Sequence 1 was skipped and never delivered: late, not duplicate.
	assert.Equal(t, Late, r.Submit(1, 1, "p3", 0, t0))

	s := r.Stats()
	assert.Equal(t, 1, s.Late)
	assert.Equal(t, 3, s.Duplicates)
}

func TestOverlappingProducersCountEachDuplicateOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPending = 64
	cfg.BatchThreshold = 64
	r := New[string](cfg)

	type sub struct {
		seq      uint64
		producer string
	}
	// p1 covers 0..7, p2 covers 4..11; both submit 4..7.
	subs := []sub{
		{1, "p1"}, {5, "p2"}, {0, "p1"}, {4, "p2"}, {3, "p1"}, {6, "p2"},
		{4, "p1"}, {8, "p2"}, {5, "p1"}, {9, "p2"}, {6, "p1"}, {7, "p2"},
		{7, "p1"}, {10, "p2"}, {2, "p1"}, {11, "p2"},
	}

	var got []uint64
	for _, s := range subs {
		r.Submit(s.seq, s.producer, s.producer, 0, t0)
		got = append(got, seqs(r.DrainReady())...)
	}

	want := []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	assert.Equal(t, want, got)
	assert.Equal(t, 4, r.Stats().Duplicates)
	assert.Equal(t, 0, r.Stats().Late)
	assert.Equal(t, 0, r.Stats().ForcedSkips)
}

func TestProducerEpochs(t *testing.T) {
	r := New[int](DefaultConfig())

	require.Equal(t, Accepted, r.Submit(5, 5, "p1", 1, t0))
	// Lower epoch is a stale replay.
	assert.Equal(t, Duplicate, r.Submit(6, 6, "p1", 0, t0))
	// Higher epoch starts a fresh history.
	assert.Equal(t, Accepted, r.Submit(3, 3, "p1", 2, t0))
	assert.Equal(t, 0, r.Stats().ProducerRestarts)

	// Same epoch regression is inferred as a restart.
	assert.Equal(t, Accepted, r.Submit(2, 2, "p1", 2, t0))
	assert.Equal(t, 1, r.Stats().ProducerRestarts)
}

func TestShouldForceAdvanceRespectsThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchThreshold = 3
	cfg.EntryTimeout = 2 * time.Second
	cfg.IdleTimeout = 5 * time.Second
	r := New[int](cfg)

	fire, _ := r.ShouldForceAdvance(t0)
	assert.False(t, fire, "nothing pending")

	r.Submit(1, 1, "p1", 0, t0)
	fire, _ = r.ShouldForceAdvance(t0.Add(time.Second))
	assert.False(t, fire)

	fire, reason := r.ShouldForceAdvance(t0.Add(2*time.Second + time.Millisecond))
	assert.True(t, fire)
	assert.Equal(t, ReasonEntryTimeout, reason)

	r.Reset(0)
	r.Submit(1, 1, "p1", 0, t0)
	r.Submit(2, 2, "p1", 0, t0)
	fire, _ = r.ShouldForceAdvance(t0)
	assert.False(t, fire)
	r.Submit(3, 3, "p1", 0, t0)
	fire, reason = r.ShouldForceAdvance(t0)
	assert.True(t, fire)
	assert.Equal(t, ReasonBatch, reason)
}

func TestShouldForceAdvanceIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EntryTimeout = time.Hour
	cfg.IdleTimeout = 5 * time.Second
	r := New[int](cfg)

	r.Submit(4, 4, "p1", 0, t0)
	fire, _ := r.ShouldForceAdvance(t0.Add(4 * time.Second))
	assert.False(t, fire)
	fire, reason := r.ShouldForceAdvance(t0.Add(6 * time.Second))
	assert.True(t, fire)
	assert.Equal(t, ReasonIdle, reason)
}

func TestForceAdvanceGapPolicy(t *testing.T) {
	r := New[int](DefaultConfig())

	r.Submit(3, 3, "p1", 0, t0)
	r.Submit(5, 5, "p1", 0, t0)
	r.Submit(4, 4, "p2", 0, t0)

	skip := r.ForceAdvance(ReasonBatch)
	assert.Equal(t, uint64(0), skip.From)
	assert.Equal(t, uint64(3), skip.To)
	assert.Equal(t, 3, skip.Skipped)
	assert.Equal(t, 0, skip.Discarded)

	assert.Equal(t, []uint64{3, 4, 5}, seqs(r.DrainReady()))
	assert.Equal(t, 1, r.Stats().ForcedSkips)
}

func TestForceAdvanceMaxPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = AdvanceMax
	r := New[int](cfg)

	r.Submit(2, 2, "p1", 0, t0)
	r.Submit(6, 6, "p1", 0, t0)

	skip := r.ForceAdvance(ReasonIdle)
	assert.Equal(t, uint64(7), skip.To)
	assert.Equal(t, 2, skip.Discarded)
	assert.Equal(t, 5, skip.Skipped)
	assert.Equal(t, uint64(7), r.Expected())
	assert.Empty(t, r.DrainReady())

	// Everything dropped is now behind the expected sequence.
	assert.Equal(t, Late, r.Submit(6, 6, "p2", 0, t0))
}

func TestAbandonLetsRunContinue(t *testing.T) {
	r := New[int](DefaultConfig())

	r.Submit(0, 0, "p1", 0, t0)
	r.Submit(2, 2, "p1", 0, t0)
	assert.Equal(t, []uint64{0}, seqs(r.DrainReady()))

	require.True(t, r.Abandon(1, t0))
	ready := r.DrainReady()
	require.Equal(t, []uint64{1, 2}, seqs(ready))
	assert.True(t, ready[0].Abandoned)
	assert.False(t, ready[1].Abandoned)
	assert.Equal(t, 0, r.Stats().ForcedSkips)
	assert.False(t, r.Abandon(1, t0))
}

func TestExpireSkipsOpenGapOnce(t *testing.T) {
	r := New[int](DefaultConfig())

	r.Submit(2, 2, "p1", 0, t0)
	skip := r.Expire(0)
	assert.True(t, skip.Happened())
	assert.Equal(t, uint64(1), r.Expected())

	// Already passed: no second skip.
	assert.False(t, r.Expire(0).Happened())
	assert.Equal(t, 1, r.Stats().ForcedSkips)

	r.Submit(1, 1, "p1", 0, t0)
	assert.Equal(t, []uint64{1, 2}, seqs(r.DrainReady()))
}

func TestOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPending = 2
	r := New[int](cfg)

	assert.Equal(t, Accepted, r.Submit(5, 5, "p1", 0, t0))
	assert.Equal(t, Accepted, r.Submit(6, 6, "p1", 0, t0))
	assert.Equal(t, Overflow, r.Submit(7, 7, "p1", 0, t0))
	assert.Equal(t, 1, r.Stats().Overflows)
}
