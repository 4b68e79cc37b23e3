package pipeline

import (
	"fmt"
	"time"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
)

// StreamBuffer holds the frames that were ingested but not yet emitted, in a ring indexed by
// sequence number. It is owned by the output stage and is not safe for concurrent use.
type StreamBuffer struct {
	slots        []*model.Frame
	maxAge       time.Duration
	minRetention int
	stallTimeout time.Duration

	expected   uint64 // next sequence to emit
	highest    uint64 // highest sequence ingested
	count      int
	started    bool
	armedAt    time.Time
	lastIngest time.Time

	evicted int
	skipped int
}

func NewStreamBuffer(params config.BufferParameters, stallTimeout time.Duration) *StreamBuffer {
	capacity := params.MaxFrames
	if capacity <= 0 {
		capacity = 40
	}
	retention := params.MinRetention
	if retention >= capacity {
		retention = capacity - 1
	}
	return &StreamBuffer{
		slots:        make([]*model.Frame, capacity),
		maxAge:       params.MaxAge,
		minRetention: retention,
		stallTimeout: stallTimeout,
	}
}

// Ingest stores frame at its sequence number and returns the frames evicted to make room.
// Eviction removes the oldest unemitted frames while the buffer is over capacity or holds
// frames older than the max age, but always keeps the newest minRetention frames.
func (b *StreamBuffer) Ingest(frame *model.Frame, now time.Time) ([]*model.Frame, error) {
	if !b.started {
		b.expected = frame.Seq
		b.highest = frame.Seq
		b.started = true
	} else if frame.Seq <= b.highest || frame.Seq < b.expected {
		return nil, fmt.Errorf("sequence %d already ingested (highest %d)", frame.Seq, b.highest)
	}
	var evicted []*model.Frame
	for b.count >= len(b.slots) || frame.Seq-b.expected >= uint64(len(b.slots)) {
		f := b.evictOldest()
		if f == nil {
			break
		}
		evicted = append(evicted, f)
	}
	if b.count == 0 {
		// nothing unemitted is waiting behind a jump
		b.expected = frame.Seq
	}

	b.slots[b.index(frame.Seq)] = frame
	b.count++
	b.highest = frame.Seq
	b.lastIngest = now

	if b.maxAge > 0 {
		for b.count > b.minRetention {
			oldest := b.slots[b.index(b.expected)]
			if oldest == nil || now.Sub(oldest.CapturedAt) <= b.maxAge {
				break
			}
			evicted = append(evicted, b.evictOldest())
		}
	}
	return evicted, nil
}

// Get returns the unemitted frame at seq or nil.
func (b *StreamBuffer) Get(seq uint64) *model.Frame {
	if !b.started || seq < b.expected || seq > b.highest {
		return nil
	}
	f := b.slots[b.index(seq)]
	if f == nil || f.Seq != seq {
		return nil
	}
	return f
}

// Replace overwrites the frame at seq and marks it annotated. It returns ErrLateResult when
// the frame was already emitted or evicted.
func (b *StreamBuffer) Replace(seq uint64, frame *model.Frame) error {
	current := b.Get(seq)
	if current == nil {
		return model.ErrLateResult
	}
	if err := frame.Mark(model.Annotated); err != nil {
		return err
	}
	if current != frame {
		current.Release()
	}
	b.slots[b.index(seq)] = frame
	return nil
}

// NextReady pops the expected frame if it is present.
func (b *StreamBuffer) NextReady() (*model.Frame, bool) {
	f := b.Get(b.expected)
	if f == nil {
		return nil, false
	}
	b.slots[b.index(b.expected)] = nil
	b.count--
	b.expected++
	return f, true
}

// ForceAdvance moves the expected sequence to the oldest buffered frame, returning how many
// sequence numbers were skipped.
func (b *StreamBuffer) ForceAdvance() int {
	if b.count == 0 {
		return 0
	}
	from := b.expected
	for b.Get(b.expected) == nil && b.expected <= b.highest {
		b.expected++
	}
	n := int(b.expected - from)
	b.skipped += n
	return n
}

func (b *StreamBuffer) Expected() uint64 {
	return b.expected
}

func (b *StreamBuffer) Highest() uint64 {
	return b.highest
}

func (b *StreamBuffer) Len() int {
	return b.count
}

// Evicted is the number of unemitted frames dropped under buffer pressure.
func (b *StreamBuffer) Evicted() int {
	return b.evicted
}

// Skipped is the number of sequence numbers jumped over by ForceAdvance.
func (b *StreamBuffer) Skipped() int {
	return b.skipped
}

// Arm starts the stall clock for a source that has not delivered its first frame yet.
func (b *StreamBuffer) Arm(now time.Time) {
	b.armedAt = now
}

// Stalled reports whether nothing was ingested for longer than the stall timeout, counting
// from the last ingest or, before the first one, from Arm.
func (b *StreamBuffer) Stalled(now time.Time) bool {
	if b.stallTimeout <= 0 {
		return false
	}
	since := b.lastIngest
	if since.IsZero() {
		since = b.armedAt
	}
	if since.IsZero() {
		return false
	}
	return now.Sub(since) > b.stallTimeout
}

// Reset releases every held frame and forgets the session's sequence numbers.
func (b *StreamBuffer) Reset() {
	for i, f := range b.slots {
		if f != nil {
			f.Release()
			b.slots[i] = nil
		}
	}
	b.expected = 0
	b.highest = 0
	b.count = 0
	b.started = false
	b.armedAt = time.Time{}
	b.lastIngest = time.Time{}
	b.evicted = 0
	b.skipped = 0
}

func (b *StreamBuffer) evictOldest() *model.Frame {
	if b.count == 0 {
		return nil
	}
	for b.Get(b.expected) == nil {
		b.expected++
		b.skipped++
	}
	f, _ := b.NextReady()
	b.evicted++
	return f
}

func (b *StreamBuffer) index(seq uint64) int {
	return int(seq % uint64(len(b.slots)))
}
