package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/khaledhikmat/vs-overlay/service/config"
)

var fastRetry = config.RetryParameters{
	MaxAttempts:  5,
	InitialDelay: time.Millisecond,
	MaxDelay:     4 * time.Millisecond,
	Multiplier:   2,
	Jitter:       true,
}

func TestDispatchSucceedsWhenQueueHasRoom(t *testing.T) {
	queue := make(chan int, 1)

	outcome, attempts := Dispatch(context.Background(), queue, 7, fastRetry)
	assert.Equal(t, Dispatched, outcome)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 7, <-queue)
}

func TestDispatchGivesUpOnFullQueue(t *testing.T) {
	queue := make(chan int, 1)
	queue <- 1

	outcome, attempts := Dispatch(context.Background(), queue, 2, fastRetry)
	assert.Equal(t, DispatchFull, outcome)
	assert.Equal(t, 5, attempts)
	assert.Len(t, queue, 1)
}

func TestDispatchRetriesUntilRoom(t *testing.T) {
	queue := make(chan int, 1)
	queue <- 1

	go func() {
		time.Sleep(2 * time.Millisecond)
		<-queue
	}()

	params := fastRetry
	params.MaxAttempts = 50
	outcome, attempts := Dispatch(context.Background(), queue, 2, params)
	assert.Equal(t, Dispatched, outcome)
	assert.Greater(t, attempts, 1)
}

func TestDispatchCancelled(t *testing.T) {
	queue := make(chan int)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, _ := Dispatch(ctx, queue, 1, fastRetry)
	assert.Equal(t, DispatchCancelled, outcome)
}

func TestBackOffGrowsToMax(t *testing.T) {
	params := config.RetryParameters{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}
	b := NewBackOff(params)

	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
	for i := 0; i < 6; i++ {
		assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
	}

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
}

func TestBackOffJitterStaysWithinQuarter(t *testing.T) {
	params := config.RetryParameters{InitialDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true}
	b := NewBackOff(params)

	for i := 0; i < 50; i++ {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 126*time.Millisecond)
	}
}
