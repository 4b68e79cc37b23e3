package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
	"github.com/khaledhikmat/vs-overlay/tracker"
)

// Agent supervises the sessions of one camera until canxCtx is cancelled. Every disconnect or
// stall starts a new session after a backoff; a finite source that ends is replayed only when
// the camera asks for it.
func Agent(canxCtx context.Context,
	svcs ServicesFactory,
	camera model.Camera,
	errorStream chan interface{},
	statsStream chan interface{}) error {
	agentID := uuid.NewString()
	params := svcs.CfgSvc.GetPipelineParameters(camera.FPS)

	lgr.Logger.Info(
		"agent starting....",
		slog.String("agentID", agentID),
		slog.String("camera", camera.Name),
		slog.String("framerType", camera.FramerType),
		slog.String("rtsp", camera.RtspURL),
		slog.Int("fps", params.FPS),
		slog.Int("sampleEvery", params.SampleEvery),
	)

	agentStartTime := time.Now().Unix()
	var sessions atomic.Int32
	agentStats := func() model.AgentStats {
		return model.AgentStats{
			ID:       agentID,
			Camera:   camera.Name,
			Sessions: int(sessions.Load()),
			Uptime:   time.Now().Unix() - agentStartTime,
		}
	}

	// Update the camera agent id
	if svcs.DataSvc != nil {
		if err := svcs.DataSvc.UpdateCameraAgentID(camera.ID, agentID); err != nil {
			return fmt.Errorf("error updating camera agent id: %w", err)
		}
	}

	agentCtx, agentCancel := context.WithCancel(canxCtx)
	defer agentCancel()

	departures := make(chan model.Departure, 64)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		departureReporter(agentCtx, svcs, camera, departures, errorStream, statsStream)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		heartbeat(agentCtx, svcs, camera, agentStats, statsStream)
	}()

	// The tracker outlives sessions so track ids keep increasing across reconnects.
	trk := tracker.New(params.Tracker)

	reconnect := NewBackOff(params.Reconnect)
	failures := 0
	var err error
	for agentCtx.Err() == nil {
		var emitted int
		emitted, err = runSession(agentCtx, svcs, camera, params, trk, departures, errorStream, statsStream)
		sessions.Add(1)

		if agentCtx.Err() != nil {
			err = nil
			break
		}
		if errors.Is(err, io.EOF) {
			if !camera.Loop {
				err = nil
				break
			}
			failures = 0
			reconnect.Reset()
			continue
		}

		if emitted > 0 {
			failures = 0
			reconnect.Reset()
		}
		failures++

		send(errorStream, model.GenError("pipeline_agent",
			err,
			map[string]interface{}{"camera": camera.Name, "failures": failures},
			"session ended, reconnecting"))

		delay := reconnect.NextBackOff()
		if failures > params.Reconnect.MaxAttempts {
			delay = params.ReconnectPause
			failures = 0
			reconnect.Reset()
		}
		lgr.Logger.Warn("agent reconnecting",
			slog.String("camera", camera.Name),
			slog.Duration("delay", delay),
			lgr.Err(err),
		)
		if !sleep(agentCtx, delay) {
			err = nil
			break
		}
	}

	agentCancel()
	<-heartbeatDone
	<-reporterDone

	send(statsStream, agentStats())

	lgr.Logger.Info(
		"agent exited",
		slog.String("agentID", agentID),
		slog.String("camera", camera.Name),
		slog.Int("sessions", int(sessions.Load())),
	)
	return err
}

// runSession opens the source and the sink and runs one session over them. It returns the
// number of emitted frames and why the session ended.
func runSession(ctx context.Context,
	svcs ServicesFactory,
	camera model.Camera,
	params config.PipelineParameters,
	trk *tracker.Tracker,
	departures chan<- model.Departure,
	errorStream chan interface{},
	statsStream chan interface{}) (int, error) {
	source, err := svcs.Sources(ctx, camera)
	if err != nil {
		recordSession(svcs, camera, "disconnected")
		return 0, fmt.Errorf("%w: %w", model.ErrDisconnected, err)
	}
	defer source.Close()

	session := NewSession(svcs, camera, params, trk, source, nil)

	if svcs.Sinks != nil {
		sink, err := svcs.Sinks(camera, session.ID.String())
		if err != nil {
			return 0, fmt.Errorf("error opening sink: %w", err)
		}
		defer sink.Close()
		session.sink = sink
	}

	err = session.WithStreams(errorStream, statsStream, departures).Run(ctx)
	recordSession(svcs, camera, EndReason(err))
	return session.Stats().Output.Emitted, err
}

func recordSession(svcs ServicesFactory, camera model.Camera, reason string) {
	svcs.Metrics.RecordSession(camera.Name, reason)
}

// heartbeat lets the manager know the camera is still served.
func heartbeat(ctx context.Context, svcs ServicesFactory, camera model.Camera, stats func() model.AgentStats, statsStream chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-time.After(time.Duration(svcs.CfgSvc.GetAgentPeriodicTimeout()) * time.Second):
			if svcs.DataSvc != nil {
				if err := svcs.DataSvc.UpdateCameraAgentHeartbeat(camera.ID); err != nil {
					lgr.Logger.Error(
						"error updating camera agent heartbeat",
						slog.String("camera", camera.Name),
						lgr.Err(err),
					)
				}
			}

			send(statsStream, stats())
		}
	}
}
