// Package tracker keeps a persistent identity for detected entities across frames so that
// frames without fresh analysis can still carry a plausible overlay.
package tracker

import (
	"container/heap"
	"math"
	"sort"
	"time"

	"github.com/khaledhikmat/vs-overlay/model"
)

type Config struct {
	MatchThreshold    float64
	MaxAge            int
	SmoothAlpha       float64 // weight kept from the previous box
	VelocityAlpha     float64 // weight kept from the previous velocity
	CenterBonusRadius float64 // pixels; 0 disables the proximity bonus
	CenterBonusWeight float64
	LeaveTime         time.Duration
	LeavePercent      float64
}

func DefaultConfig() Config {
	return Config{
		MatchThreshold:    0.2,
		MaxAge:            25,
		SmoothAlpha:       0.25,
		VelocityAlpha:     0.7,
		CenterBonusRadius: 150,
		CenterBonusWeight: 0.3,
		LeaveTime:         500 * time.Millisecond,
		LeavePercent:      0.0,
	}
}

// TrackedObject is the tracker's state for one entity.
type TrackedObject struct {
	ID           uint64
	BBox         model.BBox
	PreviousBBox model.BBox
	ClassID      int
	ClassName    string
	Confidence   float32

	// Velocity is the smoothed per-update displacement of the box center.
	VelocityX   float64
	VelocityY   float64
	hasVelocity bool

	Age           int
	FirstSeenAt   time.Time
	LastMatchedAt time.Time
	LastFrame     uint64
	MatchCount    int
	TotalCount    int

	windowStartedAt time.Time
}

// Predicted is the box translated by the velocity estimate.
func (o *TrackedObject) Predicted() model.BBox {
	if !o.hasVelocity {
		return o.BBox
	}
	return o.BBox.Translate(o.VelocityX, o.VelocityY)
}

func (o *TrackedObject) record(now time.Time, interpolated bool) model.Track {
	return model.Track{
		ID:           o.ID,
		BBox:         o.BBox,
		ClassID:      o.ClassID,
		ClassName:    o.ClassName,
		Confidence:   o.Confidence,
		Interpolated: interpolated,
		FirstSeenAt:  o.FirstSeenAt,
		Duration:     now.Sub(o.FirstSeenAt),
	}
}

// Tracker is not safe for concurrent use. Guard Update and All with one lock if it ever needs
// to be shared between stages.
type Tracker struct {
	cfg        Config
	nextID     uint64
	tracks     []*TrackedObject
	departures []model.Departure
}

func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = def.MatchThreshold
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.SmoothAlpha < 0 || cfg.SmoothAlpha >= 1 {
		cfg.SmoothAlpha = def.SmoothAlpha
	}
	if cfg.VelocityAlpha <= 0 || cfg.VelocityAlpha > 1 {
		cfg.VelocityAlpha = def.VelocityAlpha
	}
	if cfg.LeaveTime <= 0 {
		cfg.LeaveTime = def.LeaveTime
	}
	return &Tracker{
		cfg:    cfg,
		nextID: 1,
	}
}

// Score is the best of the direct similarity, the velocity-predicted similarity and, for a
// track that was matched since it spawned, the direct similarity plus a proximity bonus capped
// at 1.
func (t *Tracker) Score(det model.BBox, obj *TrackedObject) float64 {
	direct := Similarity(det, obj.BBox)
	if !obj.hasVelocity {
		return direct
	}

	best := direct
	if p := Similarity(det, obj.Predicted()); p > best {
		best = p
	}
	if r := t.cfg.CenterBonusRadius; r > 0 {
		if d := centerDistance(det, obj.BBox); d <= r {
			if b := math.Min(1, direct+t.cfg.CenterBonusWeight*(1-d/r)); b > best {
				best = b
			}
		}
	}
	return best
}

// Update associates detections of frame with the live tracks and returns one record per
// surviving track, sorted by id.
func (t *Tracker) Update(detections []model.Detection, frame uint64, now time.Time) []model.Track {
	for _, obj := range t.tracks {
		obj.Age++
		obj.TotalCount++
	}

	t.checkDepartures(now)

	matchedTracks := make([]bool, len(t.tracks))
	matchedDets := make([]bool, len(detections))

	h := &candidateHeap{}
	for ti, obj := range t.tracks {
		for di, det := range detections {
			if score := t.Score(det.BBox, obj); score >= t.cfg.MatchThreshold {
				*h = append(*h, candidate{score: score, track: ti, det: di})
			}
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		c := heap.Pop(h).(candidate)
		if matchedTracks[c.track] || matchedDets[c.det] {
			continue
		}
		matchedTracks[c.track] = true
		matchedDets[c.det] = true
		t.apply(t.tracks[c.track], detections[c.det], frame, now)
	}

	fresh := map[uint64]bool{}
	for ti, ok := range matchedTracks {
		if ok {
			fresh[t.tracks[ti].ID] = true
		}
	}

	for di, det := range detections {
		if matchedDets[di] {
			continue
		}
		obj := t.spawn(det, frame, now)
		fresh[obj.ID] = true
	}

	t.evictAged(now)

	records := make([]model.Track, 0, len(t.tracks))
	for _, obj := range t.tracks {
		records = append(records, obj.record(now, !fresh[obj.ID]))
	}
	sortRecords(records)
	return records
}

// All returns the live tracks without new detections. Tracks past max age are evicted.
func (t *Tracker) All(now time.Time) []model.Track {
	t.evictAged(now)

	records := make([]model.Track, 0, len(t.tracks))
	for _, obj := range t.tracks {
		records = append(records, obj.record(now, true))
	}
	sortRecords(records)
	return records
}

// Objects returns a copy of the tracked state.
func (t *Tracker) Objects() []TrackedObject {
	out := make([]TrackedObject, 0, len(t.tracks))
	for _, obj := range t.tracks {
		out = append(out, *obj)
	}
	return out
}

// Departures returns and clears the departures recorded since the last call.
func (t *Tracker) Departures() []model.Departure {
	out := t.departures
	t.departures = nil
	return out
}

func (t *Tracker) Len() int {
	return len(t.tracks)
}

// Reset forgets every track. Ids keep increasing.
func (t *Tracker) Reset() {
	t.tracks = nil
	t.departures = nil
}

func (t *Tracker) apply(obj *TrackedObject, det model.Detection, frame uint64, now time.Time) {
	a := t.cfg.SmoothAlpha
	old := obj.BBox
	smoothed := old.Lerp(det.BBox, 1-a)

	ox, oy := old.Center()
	nx, ny := smoothed.Center()
	dx, dy := nx-ox, ny-oy
	if !obj.hasVelocity {
		obj.VelocityX, obj.VelocityY = dx, dy
		obj.hasVelocity = true
	} else {
		va := t.cfg.VelocityAlpha
		obj.VelocityX = va*obj.VelocityX + (1-va)*dx
		obj.VelocityY = va*obj.VelocityY + (1-va)*dy
	}

	obj.PreviousBBox = old
	obj.BBox = smoothed
	obj.ClassID = det.ClassID
	obj.ClassName = det.ClassName
	obj.Confidence = det.Confidence
	obj.Age = 0
	obj.MatchCount++
	obj.LastMatchedAt = now
	obj.LastFrame = frame
	obj.windowStartedAt = now
}

func (t *Tracker) spawn(det model.Detection, frame uint64, now time.Time) *TrackedObject {
	obj := &TrackedObject{
		ID:              t.nextID,
		BBox:            det.BBox,
		PreviousBBox:    det.BBox,
		ClassID:         det.ClassID,
		ClassName:       det.ClassName,
		Confidence:      det.Confidence,
		FirstSeenAt:     now,
		LastMatchedAt:   now,
		LastFrame:       frame,
		MatchCount:      1,
		TotalCount:      1,
		windowStartedAt: now,
	}
	t.nextID++
	t.tracks = append(t.tracks, obj)
	return obj
}

// checkDepartures closes the observation window of every track that has not been matched
// for longer than the leave time.
func (t *Tracker) checkDepartures(now time.Time) {
	kept := t.tracks[:0]
	for _, obj := range t.tracks {
		if now.Sub(obj.windowStartedAt) <= t.cfg.LeaveTime {
			kept = append(kept, obj)
			continue
		}

		ratio := 0.0
		if obj.TotalCount > 0 {
			ratio = float64(obj.MatchCount) / float64(obj.TotalCount)
		}
		if ratio <= t.cfg.LeavePercent {
			t.depart(obj, model.DepartureLeft, now)
			continue
		}

		obj.MatchCount = 0
		obj.TotalCount = 0
		obj.windowStartedAt = now
		kept = append(kept, obj)
	}
	t.tracks = kept
}

func (t *Tracker) evictAged(now time.Time) {
	kept := t.tracks[:0]
	for _, obj := range t.tracks {
		if obj.Age > t.cfg.MaxAge {
			t.depart(obj, model.DepartureAged, now)
			continue
		}
		kept = append(kept, obj)
	}
	t.tracks = kept
}

func (t *Tracker) depart(obj *TrackedObject, reason model.DepartureReason, now time.Time) {
	t.departures = append(t.departures, model.Departure{
		TrackID:     obj.ID,
		ClassName:   obj.ClassName,
		Reason:      reason,
		FirstSeenAt: obj.FirstSeenAt,
		LeftAt:      now,
		MatchCount:  obj.MatchCount,
		TotalCount:  obj.TotalCount,
	})
}

func sortRecords(records []model.Track) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}
