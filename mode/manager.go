package mode

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-overlay/metric"
	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/pipeline"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

// The agents manager is responsible for running the agents of orphaned cameras
func Manager(canxCtx context.Context, svcs pipeline.ServicesFactory, metrics *metric.Registry) error {
	// Never closed: agents may still report while they are being stopped
	errorStream := make(chan interface{})
	statsStream := make(chan interface{})

	shutdown := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second

	registry := pipeline.NewRegistry(func(camera model.Camera, err error) {
		if err == nil {
			lgr.Logger.Info("agent stopped", slog.String("camera", camera.Name))
			return
		}
		lgr.Logger.Error(
			"agent exited",
			slog.String("camera", camera.Name),
			lgr.Err(xerrors.Errorf("agent for camera %s: %w", camera.ID, err)),
		)
	})

	runAgent := func(ctx context.Context, camera model.Camera) error {
		return pipeline.Agent(ctx, svcs, camera, errorStream, statsStream)
	}

	if addr := svcs.CfgSvc.GetMetricsAddress(); addr != "" && metrics != nil {
		go func() {
			lgr.Logger.Info("serving metrics", slog.String("address", addr))
			if err := metrics.Serve(canxCtx, addr); err != nil {
				lgr.Logger.Error("metrics endpoint failed", lgr.Err(xerrors.Errorf("serve %s: %w", addr, err)))
			}
		}()
	}

	orphanStream, err := svcs.OrphanSvc.Subscribe()
	if err != nil {
		return err
	}
	maxAgents := svcs.CfgSvc.GetMaxAgentsPerPod()

	var agentsManagerStartTime = time.Now().Unix()
	agentsManagerStats := model.AgentsManagerStats{}

	period := time.Duration(svcs.CfgSvc.GetAgentsManagerPeriodicTimeout()) * time.Second
	if period <= 0 {
		period = 30 * time.Second
	}
	periodic := time.NewTicker(period)
	defer periodic.Stop()

	// Wait for cancellation, timeout, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"agents manager context cancelled",
			)
			goto resume

		case cameras := <-orphanStream:
			agentsManagerStats.TotalOrphanedRequests++
			startOrphaned(canxCtx, svcs, registry, runAgent, cameras)

			if registry.Len() >= maxAgents && svcs.OrphanSvc.Subscribed() {
				// Leave the remaining orphans to other agent pods
				agentsManagerStats.TotalOrphanedRequestUnsubscriptions++
				if err := svcs.OrphanSvc.Unsubscribe(); err != nil {
					procError(svcs.DataSvc, model.GenError("agents_manager",
						err,
						map[string]interface{}{},
						"error unsubscribing from orphan service"))
				}
			}

		case <-periodic.C:
			stopExcluded(svcs, registry, shutdown)

			if registry.Len() < maxAgents && !svcs.OrphanSvc.Subscribed() {
				agentsManagerStats.TotalOrphanedRequestSubscriptions++
				if _, err := svcs.OrphanSvc.Subscribe(); err != nil {
					procError(svcs.DataSvc, model.GenError("agents_manager",
						err,
						map[string]interface{}{},
						"error subscribing to orphan service"))
				}
			}

			running := registry.Len()
			agentsManagerStats.TotalRunningAgentsUptime = int64(registry.Uptime(time.Now()).Seconds())
			agentsManagerStats.TotalRunningAgents += int64(running)
			if elapsed := time.Now().Unix() - agentsManagerStartTime; elapsed > 0 {
				uptimeInMinutes := float64(elapsed) / 60.0
				agentsManagerStats.AvgRunningAgentsPerMin = float64(agentsManagerStats.TotalRunningAgents) / uptimeInMinutes
			}

			procStats(svcs.DataSvc, agentsManagerStats)

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	// Keep draining the streams while the agents stop, they report as they exit
resume:
	lgr.Logger.Info(
		"agents manager is waiting for all agents to exit",
		slog.Int("agents", registry.Len()),
	)

	stopped := make(chan bool, 1)
	go func() {
		stopped <- registry.StopAll(shutdown)
	}()

	for {
		select {
		case all := <-stopped:
			if !all {
				lgr.Logger.Warn(
					"agents manager shutdown waiting period expired. Exiting now",
					slog.Duration("period", shutdown),
				)
			}
			return nil

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}

// stopExcluded stops the agents whose camera got excluded since they started.
func stopExcluded(svcs pipeline.ServicesFactory, registry *pipeline.Registry, timeout time.Duration) {
	running := registry.Running()
	if len(running) == 0 {
		return
	}

	ids := make([]string, 0, len(running))
	for _, camera := range running {
		ids = append(ids, camera.ID)
	}

	cameras, err := svcs.DataSvc.RetrieveCamerasByIDs(ids)
	if err != nil {
		procError(svcs.DataSvc, model.GenError("agents_manager",
			err,
			map[string]interface{}{},
			"error retrieving cameras by IDs from the data service"))
		return
	}

	for _, camera := range cameras {
		if !camera.Excluded {
			continue
		}
		lgr.Logger.Info(
			"camera is in exclusion list, stopping its agent",
			slog.String("cameraID", camera.ID),
		)
		// the agent reports on the manager streams while it stops
		go registry.Stop(camera.ID, timeout)
	}
}

// startOrphaned runs the agents of as many orphaned cameras as this pod has room for.
func startOrphaned(canxCtx context.Context,
	svcs pipeline.ServicesFactory,
	registry *pipeline.Registry,
	run pipeline.AgentFunc,
	cameras []model.Camera) {
	unAccommodated := 0
	for _, camera := range cameras {
		if registry.IsRunning(camera.ID) {
			continue
		}
		if registry.Len() >= svcs.CfgSvc.GetMaxAgentsPerPod() {
			unAccommodated++
			continue
		}
		if err := registry.Start(canxCtx, camera, run); err != nil {
			procError(svcs.DataSvc, model.GenError("agents_manager",
				err,
				map[string]interface{}{},
				"error starting agent for camera: %s",
				camera.Name))
		}
	}

	if unAccommodated > 0 {
		lgr.Logger.Debug(
			"agents pod could not accommodate these cameras.",
			slog.Int("runningAgents", registry.Len()),
			slog.Int("maxAgentsPerPod", svcs.CfgSvc.GetMaxAgentsPerPod()),
			slog.Int("unAccommodatedAgents", unAccommodated),
		)
	}
}
