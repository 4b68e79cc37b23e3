package pipeline

import (
	"time"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/tracker"
)

// Reinserter decides what each outgoing frame shows: fresh detections, the tracker's
// interpolated state, or nothing. It owns the tracker for the duration of a session.
type Reinserter struct {
	tracker              *tracker.Tracker
	painter              Painter
	labelInterval        int
	interpolateUnsampled bool

	// results whose frame has not been ingested yet, by frame sequence
	parked map[uint64]model.Result
	// tickets below horizon were delivered, abandoned or skipped
	horizon uint64

	interpolated int
}

func NewReinserter(trk *tracker.Tracker, painter Painter, labelInterval int, interpolateUnsampled bool) *Reinserter {
	return &Reinserter{
		tracker:              trk,
		painter:              painter,
		labelInterval:        labelInterval,
		interpolateUnsampled: interpolateUnsampled,
		parked:               map[uint64]model.Result{},
	}
}

// Offer parks a result until its frame shows up.
func (r *Reinserter) Offer(result model.Result) {
	r.parked[result.FrameSeq] = result
}

// Pending hands back the parked result for frame seq, if any.
func (r *Reinserter) Pending(seq uint64) (model.Result, bool) {
	result, ok := r.parked[seq]
	if ok {
		delete(r.parked, seq)
	}
	return result, ok
}

// Resolve records that nothing more will arrive for ticket and the ones before it.
func (r *Reinserter) Resolve(ticket uint64) {
	if ticket+1 > r.horizon {
		r.horizon = ticket + 1
	}
}

// Awaiting reports whether frame still expects an analysis result.
func (r *Reinserter) Awaiting(frame *model.Frame) bool {
	return frame.Sampled && !frame.Abandoned && frame.State == model.Raw && frame.Ticket >= r.horizon
}

// Annotate feeds result into the tracker and draws the fresh tracks onto frame. The caller
// marks the frame by replacing it in the buffer.
func (r *Reinserter) Annotate(frame *model.Frame, result model.Result, now time.Time) error {
	tracks := r.tracker.Update(result.Detections, frame.Seq, now)
	frame.Detections = result.Detections
	frame.Tracks = tracks
	return r.draw(frame, tracks, true)
}

// Track feeds a result whose frame is gone. The tracker still learns from it.
func (r *Reinserter) Track(result model.Result, now time.Time) {
	r.tracker.Update(result.Detections, result.FrameSeq, now)
}

// Fallback handles a frame that reached the head of the buffer without a result. It draws the
// interpolated tracks when there are any, otherwise the frame goes out raw. A draw error leaves
// the frame marked interpolated; the tracks are still attached.
func (r *Reinserter) Fallback(frame *model.Frame, now time.Time) (model.AnnotationState, error) {
	if frame.State != model.Raw {
		return frame.State, nil
	}
	if !frame.Sampled && !r.interpolateUnsampled {
		return model.Raw, nil
	}

	tracks := r.tracker.All(now)
	if len(tracks) == 0 {
		return model.Raw, nil
	}

	labels := r.labelInterval <= 1 || r.interpolated%r.labelInterval == 0
	r.interpolated++

	frame.Tracks = tracks
	err := r.draw(frame, tracks, labels)
	if markErr := frame.Mark(model.Interpolated); markErr != nil {
		return frame.State, markErr
	}
	return model.Interpolated, err
}

// Departures drains the tracks that left since the last call.
func (r *Reinserter) Departures() []model.Departure {
	return r.tracker.Departures()
}

// Reset forgets the session. The tracker is reset too but keeps its id counter.
func (r *Reinserter) Reset() {
	r.parked = map[uint64]model.Result{}
	r.horizon = 0
	r.interpolated = 0
	r.tracker.Reset()
}

func (r *Reinserter) draw(frame *model.Frame, tracks []model.Track, labels bool) error {
	if r.painter == nil || frame.Pixels == nil || len(tracks) == 0 {
		return nil
	}
	return r.painter.Draw(frame.Pixels, tracks, labels)
}
