package vision

import (
	"context"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/pipeline"
	"github.com/khaledhikmat/vs-overlay/service/config"
)

// SourceOpener picks the capture for a camera from its framer type. Synthetic cameras never end.
func SourceOpener(cfgsvc config.IService) pipeline.SourceOpener {
	return func(ctx context.Context, camera model.Camera) (pipeline.Source, error) {
		fps := cfgsvc.GetPipelineParameters(camera.FPS).FPS

		switch camera.FramerType {
		case "synthetic", "random":
			sim := cfgsvc.GetSimulationParameters()
			return NewSynthetic(SyntheticOptions{
				Width:   sim.Width,
				Height:  sim.Height,
				Objects: sim.Objects,
				FPS:     fps,
			}), nil
		default:
			return OpenCapture(ctx, camera, fps)
		}
	}
}

// SinkOpener records every session to MP4. It returns nil when no recordings folder is set.
func SinkOpener(cfgsvc config.IService) pipeline.SinkOpener {
	folder := cfgsvc.GetRecordingsFolder()
	if folder == "" {
		return nil
	}
	return func(camera model.Camera, session string) (pipeline.Sink, error) {
		return NewMP4Sink(folder, camera, session, cfgsvc.GetPipelineParameters(camera.FPS).FPS)
	}
}

// SimulationOpener produces the finite synthetic source of the simulate mode.
func SimulationOpener(cfgsvc config.IService) pipeline.SourceOpener {
	return func(_ context.Context, camera model.Camera) (pipeline.Source, error) {
		sim := cfgsvc.GetSimulationParameters()
		return NewSynthetic(SyntheticOptions{
			Frames:  sim.Frames,
			Width:   sim.Width,
			Height:  sim.Height,
			Objects: sim.Objects,
			FPS:     cfgsvc.GetPipelineParameters(camera.FPS).FPS,
		}), nil
	}
}
