package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-overlay/metric"
	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/pipeline"
	"github.com/khaledhikmat/vs-overlay/service/data"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory, metrics *metric.Registry) error

func procStats(datasvc data.IService, stats interface{}) {
	if datasvc == nil {
		return
	}

	var err error
	switch stats := stats.(type) {
	case model.AgentsManagerStats:
		err = datasvc.NewAgentsManagerStats(stats)
	case model.AgentStats:
		err = datasvc.NewAgentStats(stats)
	case model.FramerStats:
		err = datasvc.NewFramerStats(stats)
	case model.SamplerStats:
		err = datasvc.NewSamplerStats(stats)
	case model.AnalyzerStats:
		err = datasvc.NewAnalyzerStats(stats)
	case model.SequencerStats:
		err = datasvc.NewSequencerStats(stats)
	case model.OutputStats:
		err = datasvc.NewOutputStats(stats)
	case model.DepartureStats:
		err = datasvc.NewDepartureStats(stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
		return
	}

	if err != nil {
		lgr.Logger.Error(
			"failed to store stats",
			slog.Any("stats", stats),
			lgr.Err(err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	if datasvc == nil {
		lgr.Logger.Error("pipeline error", slog.Any("error", err))
		return
	}

	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			lgr.Err(errTemp),
		)
	}
}
