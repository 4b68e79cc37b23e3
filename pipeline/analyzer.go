package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/inference"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

// analyzer is one worker of the analysis pool. Workers compete on the task queue and report
// under their own producer id. A worker that recovers from a detector panic moves to a new
// epoch so the resequencer drops what it remembered about it.
type analyzer struct {
	worker      int
	producer    string
	camera      string
	svcs        ServicesFactory
	tasks       <-chan model.Task
	results     chan<- model.Result
	errorStream chan interface{}
	statsStream chan interface{}
}

func (a *analyzer) run(ctx context.Context) {
	frames := 0
	errs := 0
	epoch := uint32(1)
	beginTime := time.Now()
	var totalInferenceTime time.Duration

	defer func() {
		var avgProcTime float64
		if frames > 0 {
			avgProcTime = totalInferenceTime.Seconds() / float64(frames)
		}
		send(a.statsStream, model.AnalyzerStats{
			Name:        a.svcs.InferenceSvc.Name(),
			Worker:      a.worker,
			Producer:    a.producer,
			Camera:      a.camera,
			Frames:      frames,
			Errors:      errs,
			Uptime:      int64(time.Since(beginTime).Seconds()),
			AvgProcTime: avgProcTime,
		})
	}()

	// Keep ranging after cancellation so queued pixels get released.
	for task := range a.tasks {
		if ctx.Err() != nil {
			releaseTask(task)
			continue
		}

		start := time.Now()
		detections, err := a.detect(ctx, task)
		releaseTask(task)
		elapsed := time.Since(start)
		totalInferenceTime += elapsed
		frames++
		a.svcs.Metrics.RecordAnalysis(a.camera, a.producer, elapsed)

		result := model.Result{
			Ticket:     task.Ticket,
			FrameSeq:   task.FrameSeq,
			ProducerID: a.producer,
			Epoch:      epoch,
			Detections: detections,
		}

		var panicErr *detectorPanic
		switch {
		case ctx.Err() != nil:
			continue
		case errors.Is(err, inference.ErrNoResult):
			continue
		case errors.As(err, &panicErr):
			errs++
			epoch++
			result.Epoch = epoch
			result.Abandoned = true
			send(a.errorStream, model.GenError("pipeline_analyzer",
				err,
				map[string]interface{}{"camera": a.camera, "producer": a.producer, "ticket": task.Ticket},
				"detector panicked, worker restarted"))
		case err != nil:
			errs++
			result.Abandoned = true
			send(a.errorStream, model.GenError("pipeline_analyzer",
				err,
				map[string]interface{}{"camera": a.camera, "producer": a.producer, "ticket": task.Ticket},
				"error running detector"))
		}

		select {
		case a.results <- result:
		case <-ctx.Done():
		}
	}

	lgr.Logger.DebugContext(ctx, "analyzer worker exited",
		slog.String("camera", a.camera),
		slog.String("producer", a.producer),
		slog.Int("frames", frames),
	)
}

type detectorPanic struct {
	value interface{}
}

func (p *detectorPanic) Error() string {
	return fmt.Sprintf("detector panic: %v", p.value)
}

func (a *analyzer) detect(ctx context.Context, task model.Task) (detections []model.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &detectorPanic{value: r}
		}
	}()
	return a.svcs.InferenceSvc.Detect(ctx, task)
}

func releaseTask(task model.Task) {
	if task.Pixels != nil {
		_ = task.Pixels.Close()
	}
}
