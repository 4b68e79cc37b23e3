package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

// departureReporter logs and persists the tracks that left the scene of one camera.
func departureReporter(canx context.Context, svcs ServicesFactory, camera model.Camera, in <-chan model.Departure, errorStream chan interface{}, statsStream chan interface{}) {
	beginTime := time.Now()
	stats := model.DepartureStats{Camera: camera.Name}

	defer func() {
		stats.Uptime = int64(time.Since(beginTime).Seconds())
		send(statsStream, stats)
	}()

	proc := func(d model.Departure) {
		stats.Departures++

		lgr.Logger.Info(
			"track departed",
			slog.String("camera", camera.Name),
			slog.Uint64("track", d.TrackID),
			slog.String("class", d.ClassName),
			slog.String("reason", string(d.Reason)),
			slog.Duration("dwell", d.LeftAt.Sub(d.FirstSeenAt)),
			slog.Int("matches", d.MatchCount),
			slog.Int("total", d.TotalCount),
		)

		if svcs.DataSvc == nil {
			return
		}
		if err := svcs.DataSvc.NewDeparture(d); err != nil {
			stats.Errors++
			send(errorStream, model.GenError("pipeline_departures",
				err,
				map[string]interface{}{"camera": camera.Name, "track": d.TrackID},
				"error storing departure"))
		}
	}

	for {
		select {
		case <-canx.Done():
			// Whatever is already queued still gets reported
			for {
				select {
				case d := <-in:
					proc(d)
				default:
					lgr.Logger.Info(
						"departure reporter context cancelled",
						slog.String("camera", camera.Name),
					)
					return
				}
			}

		case d := <-in:
			proc(d)
		}
	}
}
