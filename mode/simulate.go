package mode

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/khaledhikmat/vs-overlay/metric"
	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/pipeline"
	"github.com/khaledhikmat/vs-overlay/service/inference"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

// Simulate runs one agent over the synthetic source the caller wired into svcs.Sources, with
// the fake detector, and prints what every stage did.
func Simulate(canxCtx context.Context, svcs pipeline.ServicesFactory, _ *metric.Registry) error {
	sim := svcs.CfgSvc.GetSimulationParameters()
	params := svcs.CfgSvc.GetPipelineParameters(0)

	svcs.DataSvc = nil
	svcs.InferenceSvc = inference.NewFake(inference.FakeOptions{
		MinJitter: sim.MinJitter,
		MaxJitter: sim.MaxJitter,
		DropEvery: sim.DropEvery,
		Objects:   sim.Objects,
		Width:     sim.Width,
		Height:    sim.Height,
	})

	camera := model.Camera{
		ID:         "simulation",
		Name:       "simulation",
		FramerType: "synthetic",
		FPS:        params.FPS,
	}

	lgr.Logger.Info("simulation starting",
		slog.Int("frames", sim.Frames),
		slog.Int("objects", sim.Objects),
		slog.Duration("minJitter", sim.MinJitter),
		slog.Duration("maxJitter", sim.MaxJitter),
		slog.Int("dropEvery", sim.DropEvery),
		slog.Int("workers", params.Workers),
	)

	errorStream := make(chan interface{})
	statsStream := make(chan interface{})
	done := make(chan error, 1)

	go func() {
		done <- pipeline.Agent(canxCtx, svcs, camera, errorStream, statsStream)
	}()

	s := &summary{}
	var err error
	for running := true; running; {
		select {
		case err = <-done:
			running = false
		case st := <-statsStream:
			s.add(st)
		case e := <-errorStream:
			s.errors++
			procError(nil, e)
		}
	}

	fmt.Fprintln(os.Stdout, renderTable(
		[]string{"Stage", "Metric", "Value"},
		s.rows(),
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
	return err
}
