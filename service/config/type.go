package config

import (
	"time"

	"github.com/khaledhikmat/vs-overlay/resequencer"
	"github.com/khaledhikmat/vs-overlay/tracker"
)

type IService interface {
	GetModeMaxShutdownTime() int
	GetInputFolder() string
	GetCamerasInputFile() string
	GetRecordingsFolder() string
	GetMetricsAddress() string
	GetMaxAgentsPerPod() int
	GetAgentPeriodicTimeout() int
	GetAgentsManagerPeriodicTimeout() int
	GetMaxOrphanedCameras() int
	GetAnalyzerMaxWorkers() int
	GetPipelineParameters(fps int) PipelineParameters
	GetDetectorParameters() DetectorParameters
	GetSimulationParameters() SimulationParameters
}

type RetryParameters struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

type BufferParameters struct {
	MaxFrames    int
	MaxAge       time.Duration
	MinRetention int
	Preroll      int
	MaxLag       time.Duration
}

type PipelineParameters struct {
	FPS                  int
	SampleEvery          int
	Workers              int
	DispatchQueue        int
	ResultQueue          int
	Dispatch             RetryParameters
	Buffer               BufferParameters
	ResultWait           time.Duration
	LabelInterval        int
	InterpolateUnsampled bool
	StallTimeout         time.Duration
	Reconnect            RetryParameters
	ReconnectPause       time.Duration
	Resequencer          resequencer.Config
	Tracker              tracker.Config
}

// FrameInterval is the output cadence derived from the source rate.
func (p PipelineParameters) FrameInterval() time.Duration {
	if p.FPS <= 0 {
		return 40 * time.Millisecond
	}
	return time.Second / time.Duration(p.FPS)
}

type DetectorParameters struct {
	ModelPath                 string
	NamesPath                 string
	ConfidenceThreshold       float32
	ObjectConfidenceThreshold float32
	Classes                   []string
	Logging                   bool
	LogFile                   string
}

type SimulationParameters struct {
	Frames    int
	Width     int
	Height    int
	Objects   int
	MinJitter time.Duration
	MaxJitter time.Duration
	DropEvery int // drop the result of every Nth task; 0 keeps all
}
