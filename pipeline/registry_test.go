package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-overlay/model"
)

func blockUntilCancelled(ctx context.Context, _ model.Camera) error {
	<-ctx.Done()
	return nil
}

func TestRegistryStartStop(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, model.Camera{ID: "1"}, blockUntilCancelled))
	require.NoError(t, r.Start(ctx, model.Camera{ID: "2"}, blockUntilCancelled))
	assert.Error(t, r.Start(ctx, model.Camera{ID: "1"}, blockUntilCancelled))

	assert.Equal(t, 2, r.Len())
	assert.True(t, r.IsRunning("1"))

	assert.True(t, r.Stop("1", time.Second))
	assert.False(t, r.IsRunning("1"))
	assert.False(t, r.Stop("1", time.Second))
	assert.Equal(t, 1, r.Len())

	running := r.Running()
	require.Len(t, running, 1)
	assert.Equal(t, "2", running[0].ID)

	assert.True(t, r.StopAll(time.Second))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryForgetsAgentsThatExit(t *testing.T) {
	var mu sync.Mutex
	exited := map[string]error{}
	done := make(chan struct{})
	var once sync.Once

	r := NewRegistry(func(camera model.Camera, err error) {
		mu.Lock()
		if _, ok := exited[camera.ID]; !ok {
			exited[camera.ID] = err
		}
		mu.Unlock()
		once.Do(func() { close(done) })
	})

	boom := errors.New("boom")
	require.NoError(t, r.Start(context.Background(), model.Camera{ID: "1"}, func(context.Context, model.Camera) error {
		return boom
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("agent exit not reported")
	}

	mu.Lock()
	assert.ErrorIs(t, exited["1"], boom)
	mu.Unlock()
	assert.Equal(t, 0, r.Len())

	// the camera can be started again
	require.NoError(t, r.Start(context.Background(), model.Camera{ID: "1"}, blockUntilCancelled))
	assert.True(t, r.StopAll(time.Second))
}

func TestRegistryStopAllReportsStragglers(t *testing.T) {
	r := NewRegistry(nil)
	release := make(chan struct{})
	defer close(release)

	require.NoError(t, r.Start(context.Background(), model.Camera{ID: "1"}, func(context.Context, model.Camera) error {
		<-release
		return nil
	}))

	assert.False(t, r.StopAll(50*time.Millisecond))
}

func TestRegistryParentCancellationStopsAgents(t *testing.T) {
	r := NewRegistry(nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.Start(ctx, model.Camera{ID: "1"}, blockUntilCancelled))
	cancel()

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}
