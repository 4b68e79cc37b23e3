package inference

import (
	"context"
	"errors"

	"github.com/khaledhikmat/vs-overlay/model"
)

// ErrNoResult means the detector swallowed the task. The pipeline must not wait for an answer
// that will never come, but it must not tombstone the ticket either.
var ErrNoResult = errors.New("no result for task")

// IService runs object detection over a sampled frame. Implementations must be safe for
// concurrent use by several analyzer workers and must not close the task pixels.
type IService interface {
	Detect(ctx context.Context, task model.Task) ([]model.Detection, error)
	Name() string
}
