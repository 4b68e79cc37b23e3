package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// NewToml layers the TOML file at path over the built-in defaults, then applies environment
// overrides. Keys missing from the file keep their default.
func NewToml(path string) (IService, error) {
	cfg := defaultFileConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
		defer f.Close()

		dec := toml.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &settingsService{cfg: cfg}, nil
}

// Load picks the config file from VS_CONFIG when set, the defaults otherwise.
func Load() (IService, error) {
	return NewToml(os.Getenv("VS_CONFIG"))
}

func applyEnv(cfg *fileConfig) {
	if v := os.Getenv("VS_INPUT_FOLDER"); v != "" {
		cfg.Paths.InputFolder = v
	}
	if v := os.Getenv("VS_RECORDINGS_FOLDER"); v != "" {
		cfg.Paths.RecordingsFolder = v
	}
	if v := os.Getenv("VS_METRICS_ADDR"); v != "" {
		cfg.Metrics.Address = v
	}
}

func validate(cfg fileConfig) error {
	p := cfg.Pipeline
	switch {
	case p.FPS <= 0:
		return fmt.Errorf("pipeline.fps must be positive, got %d", p.FPS)
	case p.SampleEvery <= 0:
		return fmt.Errorf("pipeline.sample_every must be positive, got %d", p.SampleEvery)
	case p.Workers <= 0:
		return fmt.Errorf("pipeline.workers must be positive, got %d", p.Workers)
	case p.DispatchQueue <= 0:
		return fmt.Errorf("pipeline.dispatch_queue must be positive, got %d", p.DispatchQueue)
	case p.ResultWaitMs < 0:
		return fmt.Errorf("pipeline.result_wait_ms cannot be negative")
	}

	switch cfg.Resequencer.Policy {
	case "gap", "max":
	default:
		return fmt.Errorf("resequencer.policy must be gap or max, got %q", cfg.Resequencer.Policy)
	}
	if cfg.Resequencer.Batch <= 0 || cfg.Resequencer.Window < cfg.Resequencer.Batch {
		return fmt.Errorf("resequencer.window (%d) must be >= batch (%d) > 0", cfg.Resequencer.Window, cfg.Resequencer.Batch)
	}
	return nil
}
