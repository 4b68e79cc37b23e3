package pipeline

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
)

func TestFramerReportsAbandonedTickets(t *testing.T) {
	var live atomic.Int64
	tasks := make(chan model.Task) // nobody analyzes
	frames := make(chan *model.Frame, 8)
	results := make(chan model.Result, 8)
	errs := make(chan interface{}, 8)

	framer := &framerStage{
		camera:  model.Camera{ID: "cam-1", Name: "lobby"},
		source:  &testSource{frames: 3, live: &live},
		sampler: NewSampler(1, config.RetryParameters{MaxAttempts: 1}, tasks),
		frames:  frames,
		tasks:   tasks,
		results: results,

		errorStream: errs,
	}

	err := framer.run(context.Background())
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, framer.stats.Frames)

	close(results)
	var abandoned []uint64
	for r := range results {
		assert.True(t, r.Abandoned)
		abandoned = append(abandoned, r.Ticket)
	}
	assert.Equal(t, []uint64{0, 1, 2}, abandoned)

	require.Len(t, errs, 3)
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, (<-errs).(model.CustomError), model.ErrDispatchFull)
	}

	for f := range frames {
		assert.True(t, f.Abandoned)
		f.Release()
	}
	assert.Equal(t, int64(0), live.Load())
}
