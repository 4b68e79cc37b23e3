package config

import (
	"fmt"
	"math"
	"time"

	"github.com/khaledhikmat/vs-overlay/resequencer"
	"github.com/khaledhikmat/vs-overlay/tracker"
)

type settingsService struct {
	cfg fileConfig
}

// NewHardCoded returns the built-in defaults.
func NewHardCoded() IService {
	return &settingsService{cfg: defaultFileConfig()}
}

func (svc *settingsService) GetModeMaxShutdownTime() int {
	return svc.cfg.Agents.ShutdownSec
}

func (svc *settingsService) GetInputFolder() string {
	return svc.cfg.Paths.InputFolder
}

func (svc *settingsService) GetCamerasInputFile() string {
	return fmt.Sprintf("%s/cameras.json", svc.GetInputFolder())
}

func (svc *settingsService) GetRecordingsFolder() string {
	return svc.cfg.Paths.RecordingsFolder
}

func (svc *settingsService) GetMetricsAddress() string {
	return svc.cfg.Metrics.Address
}

func (svc *settingsService) GetMaxAgentsPerPod() int {
	return svc.cfg.Agents.MaxAgentsPerPod
}

func (svc *settingsService) GetAgentPeriodicTimeout() int {
	return svc.cfg.Agents.PeriodicTimeoutSec
}

func (svc *settingsService) GetAgentsManagerPeriodicTimeout() int {
	return svc.cfg.Agents.ManagerPeriodicTimeoutSec
}

func (svc *settingsService) GetMaxOrphanedCameras() int {
	return svc.cfg.Agents.MaxOrphanedCameras
}

func (svc *settingsService) GetAnalyzerMaxWorkers() int {
	return svc.cfg.Pipeline.Workers
}

// GetPipelineParameters resolves the per-stream parameters. fps <= 0 uses the configured rate.
func (svc *settingsService) GetPipelineParameters(fps int) PipelineParameters {
	p := svc.cfg.Pipeline
	if fps <= 0 {
		fps = p.FPS
	}

	// Buffer capacity follows the source rate but stays within sane bounds.
	maxFrames := clampInt(int(float64(fps)*p.BufferSeconds), 40, 70)
	minRetention := p.MinBufferFrames
	if r := int(math.Round(float64(fps) * 0.6)); r > minRetention {
		minRetention = r
	}
	preroll := p.PrerollFrames
	if preroll <= 0 {
		preroll = minRetention
	}

	interpolate := false
	if p.InterpolateUnsampled != nil {
		interpolate = *p.InterpolateUnsampled
	}

	rs := svc.cfg.Resequencer
	tr := svc.cfg.Tracker

	return PipelineParameters{
		FPS:           fps,
		SampleEvery:   p.SampleEvery,
		Workers:       p.Workers,
		DispatchQueue: p.DispatchQueue,
		ResultQueue:   p.ResultQueue,
		Dispatch: RetryParameters{
			MaxAttempts:  p.DispatchAttempts,
			InitialDelay: ms(p.DispatchDelayMs),
			MaxDelay:     ms(p.DispatchMaxDelayMs),
			Multiplier:   2.0,
			Jitter:       true,
		},
		Buffer: BufferParameters{
			MaxFrames:    maxFrames,
			MaxAge:       time.Duration(p.BufferSeconds * float64(time.Second)),
			MinRetention: minRetention,
			Preroll:      preroll,
			MaxLag:       ms(p.MaxLagMs),
		},
		ResultWait:           ms(p.ResultWaitMs),
		LabelInterval:        p.LabelInterval,
		InterpolateUnsampled: interpolate,
		StallTimeout:         ms(p.StallTimeoutMs),
		Reconnect: RetryParameters{
			MaxAttempts:  p.ReconnectAttempts,
			InitialDelay: ms(p.ReconnectDelayMs),
			MaxDelay:     8 * ms(p.ReconnectDelayMs),
			Multiplier:   2.0,
			Jitter:       true,
		},
		ReconnectPause: time.Duration(p.ReconnectPauseSec) * time.Second,
		Resequencer: resequencer.Config{
			MaxPending:     rs.Window * 2,
			BatchThreshold: rs.Batch,
			EntryTimeout:   ms(rs.EntryTimeoutMs),
			IdleTimeout:    ms(rs.IdleTimeoutMs),
			Policy:         resequencer.AdvancePolicy(rs.Policy),
		},
		Tracker: tracker.Config{
			MatchThreshold:    tr.MatchThreshold,
			MaxAge:            tr.MaxAge,
			SmoothAlpha:       tr.SmoothAlpha,
			VelocityAlpha:     tr.VelocityAlpha,
			CenterBonusRadius: tr.CenterBonusRadius,
			CenterBonusWeight: 0.3,
			LeaveTime:         ms(tr.LeaveTimeMs),
			LeavePercent:      tr.LeavePercent,
		},
	}
}

func (svc *settingsService) GetDetectorParameters() DetectorParameters {
	d := svc.cfg.Detector
	return DetectorParameters{
		ModelPath:                 d.ModelPath,
		NamesPath:                 d.NamesPath,
		ConfidenceThreshold:       d.ConfidenceThreshold,
		ObjectConfidenceThreshold: d.ObjectConfidenceThreshold,
		Classes:                   append([]string{}, d.Classes...),
		Logging:                   d.Logging,
		LogFile:                   d.LogFile,
	}
}

func (svc *settingsService) GetSimulationParameters() SimulationParameters {
	s := svc.cfg.Simulation
	return SimulationParameters{
		Frames:    s.Frames,
		Width:     s.Width,
		Height:    s.Height,
		Objects:   s.Objects,
		MinJitter: ms(s.MinJitterMs),
		MaxJitter: ms(s.MaxJitterMs),
		DropEvery: s.DropEvery,
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
