package pipeline

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-overlay/model"
)

func TestSamplerPicksEveryNthWithContiguousTickets(t *testing.T) {
	var live atomic.Int64
	tasks := make(chan model.Task, 100)
	s := NewSampler(5, fastRetry, tasks)

	for seq := uint64(1); seq <= 100; seq++ {
		f := &model.Frame{Seq: seq, Pixels: newFakePixels(&live)}
		sampled, outcome := s.Sample(context.Background(), f)
		assert.Equal(t, seq%5 == 0, sampled)
		assert.Equal(t, Dispatched, outcome)
		f.Release()
	}
	close(tasks)

	var ticket uint64
	for task := range tasks {
		assert.Equal(t, ticket, task.Ticket)
		assert.Equal(t, (ticket+1)*5, task.FrameSeq)
		require.NotNil(t, task.Pixels)
		ticket++
		releaseTask(task)
	}
	assert.Equal(t, uint64(20), ticket)
	assert.Equal(t, int64(0), live.Load())

	stats := s.Stats()
	assert.Equal(t, 20, stats.Sampled)
	assert.Equal(t, 20, stats.Dispatched)
}

func TestSamplerAbandonsWhenQueueStaysFull(t *testing.T) {
	var live atomic.Int64
	tasks := make(chan model.Task)
	s := NewSampler(1, fastRetry, tasks)

	f := &model.Frame{Seq: 1, Pixels: newFakePixels(&live)}
	sampled, outcome := s.Sample(context.Background(), f)

	assert.True(t, sampled)
	assert.Equal(t, DispatchFull, outcome)
	assert.True(t, f.Abandoned)
	assert.Equal(t, uint64(0), f.Ticket)
	// only the frame's own pixels are left
	assert.Equal(t, int64(1), live.Load())
	assert.Equal(t, 1, s.Stats().DispatchFull)

	// the next sample still gets the next ticket
	g := &model.Frame{Seq: 2}
	s.Sample(context.Background(), g)
	assert.Equal(t, uint64(1), g.Ticket)
}
