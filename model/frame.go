package model

import (
	"math"
	"time"
)

type AnnotationState int

const (
	Raw AnnotationState = iota
	Annotated
	Interpolated
)

func (s AnnotationState) String() string {
	switch s {
	case Raw:
		return "raw"
	case Annotated:
		return "annotated"
	case Interpolated:
		return "interpolated"
	default:
		return "unknown"
	}
}

// Pixels is an owned pixel buffer. Whoever holds it must Close it exactly once.
type Pixels interface {
	Clone() Pixels
	Close() error
	Size() (width, height int)
}

type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	StreamID   string
	Pixels     Pixels
	State      AnnotationState
	Detections []Detection
	Tracks     []Track

	// Sampling bookkeeping
	Sampled   bool
	Ticket    uint64
	Abandoned bool
}

// Mark advances the annotation state. Only Raw frames can be advanced.
func (f *Frame) Mark(state AnnotationState) error {
	if state == f.State {
		return nil
	}
	if f.State != Raw || state == Raw {
		return ErrStateRegression
	}
	f.State = state
	return nil
}

// Release closes the pixel buffer if the frame still owns one.
func (f *Frame) Release() {
	if f.Pixels != nil {
		_ = f.Pixels.Close()
		f.Pixels = nil
	}
}

type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b BBox) Width() float64 {
	return b.X2 - b.X1
}

func (b BBox) Height() float64 {
	return b.Y2 - b.Y1
}

func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

func (b BBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

func (b BBox) Translate(dx, dy float64) BBox {
	return BBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Union returns the smallest box containing both boxes.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
		X2: math.Max(b.X2, o.X2),
		Y2: math.Max(b.Y2, o.Y2),
	}
}

func (b BBox) Diagonal() float64 {
	return math.Hypot(b.Width(), b.Height())
}

// Lerp moves each corner a fraction t of the way towards o.
func (b BBox) Lerp(o BBox, t float64) BBox {
	return BBox{
		X1: b.X1 + (o.X1-b.X1)*t,
		Y1: b.Y1 + (o.Y1-b.Y1)*t,
		X2: b.X2 + (o.X2-b.X2)*t,
		Y2: b.Y2 + (o.Y2-b.Y2)*t,
	}
}

// IoU is the intersection over union of two boxes, 0 when they do not overlap.
func (b BBox) IoU(o BBox) float64 {
	ix1 := math.Max(b.X1, o.X1)
	iy1 := math.Max(b.Y1, o.Y1)
	ix2 := math.Min(b.X2, o.X2)
	iy2 := math.Min(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

type Detection struct {
	BBox       BBox    `json:"bbox"`
	ClassID    int     `json:"classId"`
	ClassName  string  `json:"className"`
	Confidence float32 `json:"confidence"`
}

// Track is the per-frame record of a tracked entity.
type Track struct {
	ID           uint64        `json:"id"`
	BBox         BBox          `json:"bbox"`
	ClassID      int           `json:"classId"`
	ClassName    string        `json:"className"`
	Confidence   float32       `json:"confidence"`
	Interpolated bool          `json:"interpolated"`
	FirstSeenAt  time.Time     `json:"firstSeenAt"`
	Duration     time.Duration `json:"duration"`
}

type DepartureReason string

const (
	DepartureLeft DepartureReason = "left"
	DepartureAged DepartureReason = "aged"
)

type Departure struct {
	StreamID    string          `json:"streamId"`
	TrackID     uint64          `json:"trackId"`
	ClassName   string          `json:"className"`
	Reason      DepartureReason `json:"reason"`
	FirstSeenAt time.Time       `json:"firstSeenAt"`
	LeftAt      time.Time       `json:"leftAt"`
	MatchCount  int             `json:"matchCount"`
	TotalCount  int             `json:"totalCount"`
}

// Task is a sampled frame handed to the analysis boundary. The task owns its pixels.
type Task struct {
	Ticket     uint64
	FrameSeq   uint64
	StreamID   string
	CapturedAt time.Time
	Pixels     Pixels
}

// Result is what an analysis producer returns for a task.
type Result struct {
	Ticket     uint64
	FrameSeq   uint64
	ProducerID string
	Epoch      uint32
	Detections []Detection
	Abandoned  bool
}
