// Package resequencer reorders results that arrive out of order, possibly from several
// concurrent producers, back into strict sequence order.
//
// A Resequencer is not safe for concurrent use. It is owned by a single pipeline stage.
package resequencer

import (
	"time"
)

type Verdict int

const (
	Accepted Verdict = iota
	Late
	Duplicate
	Overflow
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Late:
		return "late"
	case Duplicate:
		return "duplicate"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// AdvancePolicy selects where a forced advance moves the expected sequence.
type AdvancePolicy string

const (
	// AdvanceGap jumps to the oldest buffered sequence. Only the missing run is skipped.
	AdvanceGap AdvancePolicy = "gap"
	// AdvanceMax jumps one past the newest buffered sequence and discards everything below it.
	AdvanceMax AdvancePolicy = "max"
)

const (
	ReasonBatch        = "batch"
	ReasonEntryTimeout = "entry_timeout"
	ReasonIdle         = "idle"
	ReasonExpired      = "expired"
)

type Config struct {
	FirstSequence  uint64
	MaxPending     int
	BatchThreshold int
	EntryTimeout   time.Duration
	IdleTimeout    time.Duration
	Policy         AdvancePolicy
	History        int // delivered sequences remembered to classify redeliveries
}

func DefaultConfig() Config {
	return Config{
		FirstSequence:  0,
		MaxPending:     20,
		BatchThreshold: 5,
		EntryTimeout:   2 * time.Second,
		IdleTimeout:    5 * time.Second,
		Policy:         AdvanceGap,
		History:        256,
	}
}

type Entry[T any] struct {
	Seq        uint64
	Value      T
	ProducerID string
	ReceivedAt time.Time
	Abandoned  bool
}

// Skip describes one forced advance.
type Skip struct {
	From      uint64
	To        uint64
	Skipped   int // sequence numbers that never received a result
	Discarded int // buffered entries dropped by the advance
	Reason    string
}

func (s Skip) Happened() bool {
	return s.To > s.From
}

type Stats struct {
	Expected         uint64
	Pending          int
	Accepted         int
	Delivered        int
	Late             int
	Duplicates       int
	Overflows        int
	ForcedSkips      int
	Skipped          int
	Discarded        int
	Abandoned        int
	ProducerRestarts int
}

type producer struct {
	epoch uint32
	last  uint64
	seen  bool
}

type Resequencer[T any] struct {
	cfg         Config
	expected    uint64
	pending     map[uint64]Entry[T]
	producers   map[string]*producer
	delivered   []uint64 // ring of seq+1 values
	lastArrival time.Time
	stats       Stats
}

func New[T any](cfg Config) *Resequencer[T] {
	def := DefaultConfig()
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = def.BatchThreshold
	}
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = def.EntryTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}

	r := &Resequencer[T]{cfg: cfg}
	r.Reset(cfg.FirstSequence)
	return r
}

// Reset drops all state and restarts expecting next.
func (r *Resequencer[T]) Reset(next uint64) {
	r.expected = next
	r.pending = make(map[uint64]Entry[T], r.cfg.MaxPending)
	r.producers = map[string]*producer{}
	r.delivered = make([]uint64, r.cfg.History)
	r.lastArrival = time.Time{}
	r.stats = Stats{}
}

func (r *Resequencer[T]) Expected() uint64 {
	return r.expected
}

func (r *Resequencer[T]) Len() int {
	return len(r.pending)
}

func (r *Resequencer[T]) Stats() Stats {
	s := r.stats
	s.Expected = r.expected
	s.Pending = len(r.pending)
	return s
}

// Submit buffers a result for seq. A producer moving to a higher epoch starts with a clean
// history; a lower epoch is a stale replay and is rejected.
func (r *Resequencer[T]) Submit(seq uint64, value T, producerID string, epoch uint32, now time.Time) Verdict {
	if seq < r.expected {
		if r.wasDelivered(seq) {
			r.stats.Duplicates++
			return Duplicate
		}
		r.stats.Late++
		return Late
	}

	p, ok := r.producers[producerID]
	if !ok {
		p = &producer{epoch: epoch}
		r.producers[producerID] = p
	}

	switch {
	case epoch > p.epoch:
		p.epoch = epoch
		p.seen = false
	case epoch < p.epoch:
		r.stats.Duplicates++
		return Duplicate
	case p.seen && seq == p.last:
		r.stats.Duplicates++
		return Duplicate
	case p.seen && seq < p.last:
		// Regressed within the same epoch: assume the producer restarted.
		r.stats.ProducerRestarts++
		p.seen = false
	}

	if _, exists := r.pending[seq]; exists {
		p.last, p.seen = seq, true
		r.stats.Duplicates++
		return Duplicate
	}

	if len(r.pending) >= r.cfg.MaxPending {
		r.stats.Overflows++
		return Overflow
	}

	r.pending[seq] = Entry[T]{
		Seq:        seq,
		Value:      value,
		ProducerID: producerID,
		ReceivedAt: now,
	}
	p.last, p.seen = seq, true
	r.lastArrival = now
	r.stats.Accepted++
	return Accepted
}

// Abandon records that seq will never get a result so the run behind it can drain.
func (r *Resequencer[T]) Abandon(seq uint64, now time.Time) bool {
	if seq < r.expected {
		return false
	}
	if _, exists := r.pending[seq]; exists {
		return false
	}

	var zero T
	r.pending[seq] = Entry[T]{
		Seq:        seq,
		Value:      zero,
		ReceivedAt: now,
		Abandoned:  true,
	}
	r.lastArrival = now
	r.stats.Abandoned++
	return true
}

// DrainReady pops the longest contiguous run starting at the expected sequence.
func (r *Resequencer[T]) DrainReady() []Entry[T] {
	var out []Entry[T]
	for {
		e, ok := r.pending[r.expected]
		if !ok {
			return out
		}
		delete(r.pending, r.expected)
		if !e.Abandoned {
			r.markDelivered(e.Seq)
			r.stats.Delivered++
		}
		out = append(out, e)
		r.expected++
	}
}

// ShouldForceAdvance reports whether the gap at the expected sequence has been waited on long
// enough, and why.
func (r *Resequencer[T]) ShouldForceAdvance(now time.Time) (bool, string) {
	if len(r.pending) == 0 {
		return false, ""
	}
	if _, ok := r.pending[r.expected]; ok {
		return false, ""
	}

	if len(r.pending) >= r.cfg.BatchThreshold {
		return true, ReasonBatch
	}

	oldest := now
	for _, e := range r.pending {
		if e.ReceivedAt.Before(oldest) {
			oldest = e.ReceivedAt
		}
	}
	if now.Sub(oldest) > r.cfg.EntryTimeout {
		return true, ReasonEntryTimeout
	}

	if !r.lastArrival.IsZero() && now.Sub(r.lastArrival) > r.cfg.IdleTimeout {
		return true, ReasonIdle
	}

	return false, ""
}

// ForceAdvance moves the expected sequence past the current gap according to the policy.
func (r *Resequencer[T]) ForceAdvance(reason string) Skip {
	if len(r.pending) == 0 {
		return Skip{From: r.expected, To: r.expected, Reason: reason}
	}

	var lo, hi uint64
	first := true
	for seq := range r.pending {
		if first || seq < lo {
			lo = seq
		}
		if first || seq > hi {
			hi = seq
		}
		first = false
	}

	to := lo
	if r.cfg.Policy == AdvanceMax {
		to = hi + 1
	}
	return r.advanceTo(to, reason)
}

// Expire is called by the consumer once it stopped waiting for seq. The gap up to and
// including seq is skipped if it is still open.
func (r *Resequencer[T]) Expire(seq uint64) Skip {
	if seq < r.expected {
		return Skip{From: r.expected, To: r.expected, Reason: ReasonExpired}
	}
	if _, ok := r.pending[r.expected]; ok {
		// The head is already buffered and drains on the next pass.
		return Skip{From: r.expected, To: r.expected, Reason: ReasonExpired}
	}
	return r.advanceTo(seq+1, ReasonExpired)
}

func (r *Resequencer[T]) advanceTo(to uint64, reason string) Skip {
	skip := Skip{From: r.expected, To: to, Reason: reason}
	if to <= r.expected {
		skip.To = r.expected
		return skip
	}

	for seq := range r.pending {
		if seq < to {
			delete(r.pending, seq)
			skip.Discarded++
		}
	}
	skip.Skipped = int(to-r.expected) - skip.Discarded
	r.expected = to

	r.stats.ForcedSkips++
	r.stats.Skipped += skip.Skipped
	r.stats.Discarded += skip.Discarded
	return skip
}

func (r *Resequencer[T]) markDelivered(seq uint64) {
	r.delivered[seq%uint64(len(r.delivered))] = seq + 1
}

func (r *Resequencer[T]) wasDelivered(seq uint64) bool {
	return r.delivered[seq%uint64(len(r.delivered))] == seq+1
}
