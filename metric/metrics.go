// Package metric exposes the pipeline observability counters through prometheus.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vs_overlay"

// Metrics holds every pipeline counter. A nil *Metrics is valid and records nothing.
type Metrics struct {
	FramesIngested   *prometheus.CounterVec
	FramesEmitted    *prometheus.CounterVec
	FramesEvicted    *prometheus.CounterVec
	ForcedSkips      *prometheus.CounterVec
	SkippedSeqs      *prometheus.CounterVec
	LateResults      *prometheus.CounterVec
	DuplicateResults *prometheus.CounterVec
	DispatchFull     *prometheus.CounterVec
	Stalls           *prometheus.CounterVec
	Sessions         *prometheus.CounterVec
	Departures       *prometheus.CounterVec
	PendingResults   *prometheus.GaugeVec
	BufferDepth      *prometheus.GaugeVec
	AnalysisDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		FramesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "buffer",
				Name:      "frames_ingested_total",
				Help:      "Frames ingested from the source",
			},
			[]string{"stream"},
		),

		FramesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "output",
				Name:      "frames_emitted_total",
				Help:      "Frames emitted to the sink by annotation state (raw, annotated, interpolated)",
			},
			[]string{"stream", "state"},
		),

		FramesEvicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "buffer",
				Name:      "frames_evicted_total",
				Help:      "Unemitted frames evicted under buffer pressure",
			},
			[]string{"stream"},
		),

		ForcedSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ordering",
				Name:      "forced_skips_total",
				Help:      "Forced advance events by stage and reason",
			},
			[]string{"stream", "stage", "reason"},
		),

		SkippedSeqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ordering",
				Name:      "skipped_sequences_total",
				Help:      "Sequence numbers passed over by forced advances",
			},
			[]string{"stream", "stage"},
		),

		LateResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "results",
				Name:      "late_total",
				Help:      "Results that arrived for an already passed sequence",
			},
			[]string{"stream", "stage"},
		),

		DuplicateResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "results",
				Name:      "duplicate_total",
				Help:      "Results delivered more than once",
			},
			[]string{"stream"},
		),

		DispatchFull: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sampler",
				Name:      "dispatch_full_total",
				Help:      "Sampled frames abandoned after the dispatch retry budget ran out",
			},
			[]string{"stream"},
		),

		Stalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "stalls_total",
				Help:      "Sessions reset because the source stopped producing frames",
			},
			[]string{"stream"},
		),

		Sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "sessions_total",
				Help:      "Finished sessions by end reason",
			},
			[]string{"stream", "reason"},
		),

		Departures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tracker",
				Name:      "departures_total",
				Help:      "Tracks that departed by reason",
			},
			[]string{"stream", "reason"},
		),

		PendingResults: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ordering",
				Name:      "pending_results",
				Help:      "Results buffered by the resequencer",
			},
			[]string{"stream"},
		),

		BufferDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "buffer",
				Name:      "depth_frames",
				Help:      "Frames currently held by the stream buffer",
			},
			[]string{"stream"},
		),

		AnalysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "duration_seconds",
				Help:      "Time spent by an analysis producer on one frame",
				Buckets:   []float64{.01, .025, .05, .1, .2, .4, .8, 1.6},
			},
			[]string{"stream", "producer"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesIngested,
		m.FramesEmitted,
		m.FramesEvicted,
		m.ForcedSkips,
		m.SkippedSeqs,
		m.LateResults,
		m.DuplicateResults,
		m.DispatchFull,
		m.Stalls,
		m.Sessions,
		m.Departures,
		m.PendingResults,
		m.BufferDepth,
		m.AnalysisDuration,
	}
}

func (m *Metrics) RecordIngested(stream string) {
	if m == nil {
		return
	}
	m.FramesIngested.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordEmitted(stream, state string) {
	if m == nil {
		return
	}
	m.FramesEmitted.WithLabelValues(stream, state).Inc()
}

func (m *Metrics) RecordEvicted(stream string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesEvicted.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) RecordForcedSkip(stream, stage, reason string, skipped int) {
	if m == nil {
		return
	}
	m.ForcedSkips.WithLabelValues(stream, stage, reason).Inc()
	if skipped > 0 {
		m.SkippedSeqs.WithLabelValues(stream, stage).Add(float64(skipped))
	}
}

func (m *Metrics) RecordLate(stream, stage string) {
	if m == nil {
		return
	}
	m.LateResults.WithLabelValues(stream, stage).Inc()
}

func (m *Metrics) RecordDuplicate(stream string) {
	if m == nil {
		return
	}
	m.DuplicateResults.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordDispatchFull(stream string) {
	if m == nil {
		return
	}
	m.DispatchFull.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordStall(stream string) {
	if m == nil {
		return
	}
	m.Stalls.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordSession(stream, reason string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(stream, reason).Inc()
}

func (m *Metrics) RecordDeparture(stream, reason string) {
	if m == nil {
		return
	}
	m.Departures.WithLabelValues(stream, reason).Inc()
}

func (m *Metrics) SetPending(stream string, n int) {
	if m == nil {
		return
	}
	m.PendingResults.WithLabelValues(stream).Set(float64(n))
}

func (m *Metrics) SetBufferDepth(stream string, n int) {
	if m == nil {
		return
	}
	m.BufferDepth.WithLabelValues(stream).Set(float64(n))
}

func (m *Metrics) RecordAnalysis(stream, producer string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisDuration.WithLabelValues(stream, producer).Observe(d.Seconds())
}
