package pipeline

import (
	"context"
	"time"

	"github.com/khaledhikmat/vs-overlay/metric"
	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
	"github.com/khaledhikmat/vs-overlay/service/data"
	"github.com/khaledhikmat/vs-overlay/service/inference"
	"github.com/khaledhikmat/vs-overlay/service/orphan"
)

// Capture is one raw frame as read from a camera.
type Capture struct {
	Pixels     model.Pixels
	CapturedAt time.Time
}

// Source is a lazy, non-restartable frame sequence. Read returns io.EOF when a finite source is
// exhausted; any other error is a disconnect. Read may outlive the session that called it when
// the source ignores cancellation, so Close must be safe while a Read is in flight.
type Source interface {
	Read(ctx context.Context) (Capture, error)
	Close() error
}

// Sink consumes the paced output. It does not take ownership of the frame pixels.
type Sink interface {
	Write(frame *model.Frame) error
	Close() error
}

// Painter draws track overlays in place onto pixels the caller owns.
type Painter interface {
	Draw(pixels model.Pixels, tracks []model.Track, labels bool) error
}

type SourceOpener func(ctx context.Context, camera model.Camera) (Source, error)

type SinkOpener func(camera model.Camera, session string) (Sink, error)

type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	InferenceSvc inference.IService
	OrphanSvc    orphan.IService
	Metrics      *metric.Metrics
	Sources      SourceOpener
	Sinks        SinkOpener
	Painter      Painter
}

func send(stream chan interface{}, v interface{}) {
	if stream == nil {
		return
	}
	stream <- v
}
