package orphan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/data"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

type polledService struct {
	canxCtx  context.Context
	dataSvc  data.IService
	interval time.Duration
	max      int

	mu         sync.Mutex
	cameras    chan []model.Camera
	subsCancel context.CancelFunc
}

// NewPolled asks the data service for up to max orphaned cameras every interval while
// subscribed.
func NewPolled(canxCtx context.Context, dataSvc data.IService, interval time.Duration, max int) IService {
	if max <= 0 {
		max = 1
	}
	return &polledService{
		canxCtx:  canxCtx,
		dataSvc:  dataSvc,
		interval: interval,
		max:      max,
		// one channel for the lifetime of the service, whatever the subscriptions
		cameras: make(chan []model.Camera),
	}
}

func (svc *polledService) Subscribe() (<-chan []model.Camera, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.subsCancel != nil {
		return nil, xerrors.New("orphan polled service: already subscribed, unsubscribe first")
	}

	subsCtx, subsCancel := context.WithCancel(svc.canxCtx)
	svc.subsCancel = subsCancel

	go svc.poll(subsCtx)
	return svc.cameras, nil
}

func (svc *polledService) Unsubscribe() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.subsCancel == nil {
		return xerrors.New("orphan polled service: not subscribed")
	}
	svc.subsCancel()
	svc.subsCancel = nil
	return nil
}

func (svc *polledService) Subscribed() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.subsCancel != nil
}

func (svc *polledService) poll(ctx context.Context) {
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			cameras, err := svc.dataSvc.RetrieveOrphanedCameras(svc.max)
			if err != nil {
				lgr.Logger.Error(
					"error retrieving orphaned cameras",
					lgr.Err(xerrors.Errorf("orphan poll: %w", err)),
				)
				continue
			}
			if len(cameras) == 0 {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case svc.cameras <- cameras:
				lgr.Logger.Debug("orphaned cameras published", slog.Int("cameras", len(cameras)))
			}
		}
	}
}
