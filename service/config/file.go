package config

// fileConfig mirrors the TOML layout. Durations are plain integers with their unit in the key.
type fileConfig struct {
	Paths       pathsConfig       `toml:"paths"`
	Agents      agentsConfig      `toml:"agents"`
	Metrics     metricsConfig     `toml:"metrics"`
	Pipeline    pipelineConfig    `toml:"pipeline"`
	Resequencer resequencerConfig `toml:"resequencer"`
	Tracker     trackerConfig     `toml:"tracker"`
	Detector    detectorConfig    `toml:"detector"`
	Simulation  simulationConfig  `toml:"simulation"`
}

type pathsConfig struct {
	InputFolder      string `toml:"input_folder"`
	RecordingsFolder string `toml:"recordings_folder"`
}

type agentsConfig struct {
	MaxAgentsPerPod           int `toml:"max_agents_per_pod"`
	PeriodicTimeoutSec        int `toml:"periodic_timeout_sec"`
	ManagerPeriodicTimeoutSec int `toml:"manager_periodic_timeout_sec"`
	MaxOrphanedCameras        int `toml:"max_orphaned_cameras"`
	ShutdownSec               int `toml:"shutdown_sec"`
}

type metricsConfig struct {
	Address string `toml:"address"`
}

type pipelineConfig struct {
	FPS                  int     `toml:"fps"`
	SampleEvery          int     `toml:"sample_every"`
	Workers              int     `toml:"workers"`
	DispatchQueue        int     `toml:"dispatch_queue"`
	ResultQueue          int     `toml:"result_queue"`
	DispatchAttempts     int     `toml:"dispatch_attempts"`
	DispatchDelayMs      int     `toml:"dispatch_delay_ms"`
	DispatchMaxDelayMs   int     `toml:"dispatch_max_delay_ms"`
	BufferSeconds        float64 `toml:"buffer_seconds"`
	MinBufferFrames      int     `toml:"min_buffer_frames"`
	PrerollFrames        int     `toml:"preroll_frames"`
	MaxLagMs             int     `toml:"max_lag_ms"`
	ResultWaitMs         int     `toml:"result_wait_ms"`
	LabelInterval        int     `toml:"label_interval"`
	InterpolateUnsampled *bool   `toml:"interpolate_unsampled"`
	StallTimeoutMs       int     `toml:"stall_timeout_ms"`
	ReconnectAttempts    int     `toml:"reconnect_attempts"`
	ReconnectDelayMs     int     `toml:"reconnect_delay_ms"`
	ReconnectPauseSec    int     `toml:"reconnect_pause_sec"`
}

type resequencerConfig struct {
	Window         int    `toml:"window"`
	Batch          int    `toml:"batch"`
	EntryTimeoutMs int    `toml:"entry_timeout_ms"`
	IdleTimeoutMs  int    `toml:"idle_timeout_ms"`
	Policy         string `toml:"policy"`
}

type trackerConfig struct {
	MatchThreshold    float64 `toml:"match_threshold"`
	MaxAge            int     `toml:"max_age"`
	SmoothAlpha       float64 `toml:"smooth_alpha"`
	VelocityAlpha     float64 `toml:"velocity_alpha"`
	CenterBonusRadius float64 `toml:"center_bonus_radius"`
	LeaveTimeMs       int     `toml:"leave_time_ms"`
	LeavePercent      float64 `toml:"leave_percent"`
}

type detectorConfig struct {
	ModelPath                 string   `toml:"model_path"`
	NamesPath                 string   `toml:"names_path"`
	ConfidenceThreshold       float32  `toml:"confidence_threshold"`
	ObjectConfidenceThreshold float32  `toml:"object_confidence_threshold"`
	Classes                   []string `toml:"classes"`
	Logging                   bool     `toml:"logging"`
	LogFile                   string   `toml:"log_file"`
}

type simulationConfig struct {
	Frames      int `toml:"frames"`
	Width       int `toml:"width"`
	Height      int `toml:"height"`
	Objects     int `toml:"objects"`
	MinJitterMs int `toml:"min_jitter_ms"`
	MaxJitterMs int `toml:"max_jitter_ms"`
	DropEvery   int `toml:"drop_every"`
}

func defaultFileConfig() fileConfig {
	interpolate := false
	return fileConfig{
		Paths: pathsConfig{
			InputFolder:      "./settings",
			RecordingsFolder: "./recordings",
		},
		Agents: agentsConfig{
			MaxAgentsPerPod:           1,
			PeriodicTimeoutSec:        30,
			ManagerPeriodicTimeoutSec: 30,
			MaxOrphanedCameras:        10,
			ShutdownSec:               5,
		},
		Pipeline: pipelineConfig{
			FPS:                  25,
			SampleEvery:          5,
			Workers:              3,
			DispatchQueue:        8,
			ResultQueue:          64,
			DispatchAttempts:     5,
			DispatchDelayMs:      10,
			DispatchMaxDelayMs:   40,
			BufferSeconds:        2.5,
			MinBufferFrames:      12,
			MaxLagMs:             80,
			ResultWaitMs:         100,
			LabelInterval:        10,
			InterpolateUnsampled: &interpolate,
			StallTimeoutMs:       3000,
			ReconnectAttempts:    5,
			ReconnectDelayMs:     1000,
			ReconnectPauseSec:    30,
		},
		Resequencer: resequencerConfig{
			Window:         10,
			Batch:          5,
			EntryTimeoutMs: 2000,
			IdleTimeoutMs:  5000,
			Policy:         "gap",
		},
		Tracker: trackerConfig{
			MatchThreshold:    0.2,
			MaxAge:            25,
			SmoothAlpha:       0.25,
			VelocityAlpha:     0.7,
			CenterBonusRadius: 150,
			LeaveTimeMs:       500,
			LeavePercent:      0.0,
		},
		Detector: detectorConfig{
			ModelPath:                 "./yolo5/yolov5s.onnx",
			NamesPath:                 "./yolo5/coco.names",
			ConfidenceThreshold:       0.5,
			ObjectConfidenceThreshold: 0.4,
			Classes:                   []string{"person"},
			LogFile:                   "detections.log",
		},
		Simulation: simulationConfig{
			Frames:      500,
			Width:       640,
			Height:      480,
			Objects:     2,
			MinJitterMs: 0,
			MaxJitterMs: 200,
			DropEvery:   0,
		},
	}
}
