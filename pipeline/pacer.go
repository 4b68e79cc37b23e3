package pipeline

import "time"

// Pacer schedules emissions on a fixed deadline grid. Emission starts once the pre-roll is
// buffered. A pacer that falls behind catches up in a burst as long as it is no more than
// maxLag late, otherwise it drops the backlog of deadlines and restarts the grid.
type Pacer struct {
	interval time.Duration
	maxLag   time.Duration
	preroll  int

	started bool
	next    time.Time
	resyncs int
}

func NewPacer(interval, maxLag time.Duration, preroll int) *Pacer {
	if interval <= 0 {
		interval = 40 * time.Millisecond
	}
	return &Pacer{
		interval: interval,
		maxLag:   maxLag,
		preroll:  preroll,
	}
}

// Ready reports whether emission may run. Once the pre-roll has been reached it stays true.
// A draining session flushes whatever is buffered without waiting for the pre-roll.
func (p *Pacer) Ready(buffered int, draining bool) bool {
	if !p.started && (buffered >= p.preroll || (draining && buffered > 0)) {
		p.started = true
	}
	return p.started
}

// Due reports whether the next deadline has passed.
func (p *Pacer) Due(now time.Time) bool {
	return p.started && !p.next.After(now)
}

// Until returns how long to sleep before the next deadline.
func (p *Pacer) Until(now time.Time) time.Duration {
	if !p.started {
		return p.interval
	}
	if d := p.next.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Emitted books the emission that just happened at now.
func (p *Pacer) Emitted(now time.Time) {
	if p.next.IsZero() {
		p.next = now.Add(p.interval)
		return
	}
	p.next = p.next.Add(p.interval)
	if now.Sub(p.next) > p.maxLag {
		p.next = now.Add(p.interval)
		p.resyncs++
	}
}

func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Resyncs counts how many times the deadline grid was restarted.
func (p *Pacer) Resyncs() int {
	return p.resyncs
}

func (p *Pacer) Reset() {
	p.started = false
	p.next = time.Time{}
	p.resyncs = 0
}
