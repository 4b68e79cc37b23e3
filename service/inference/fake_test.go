package inference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-overlay/model"
)

func TestFakeDetectsMovingObjects(t *testing.T) {
	svc := NewFake(FakeOptions{Objects: 2})

	first, err := svc.Detect(context.Background(), model.Task{Ticket: 0, FrameSeq: 5})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := svc.Detect(context.Background(), model.Task{Ticket: 1, FrameSeq: 10})
	require.NoError(t, err)
	require.Len(t, second, 2)

	assert.InDelta(t, first[0].BBox.X1+20, second[0].BBox.X1, 1e-9)
	assert.InDelta(t, 0.5, first[0].BBox.IoU(second[0].BBox), 1e-9)
	assert.Equal(t, "person", first[0].ClassName)
}

func TestFakeDropsTasks(t *testing.T) {
	svc := NewFake(FakeOptions{
		Objects:   1,
		DropEvery: 3,
		Drop:      func(task model.Task) bool { return task.FrameSeq == 50 },
	})

	_, err := svc.Detect(context.Background(), model.Task{Ticket: 2})
	assert.ErrorIs(t, err, ErrNoResult)

	_, err = svc.Detect(context.Background(), model.Task{Ticket: 0, FrameSeq: 50})
	assert.ErrorIs(t, err, ErrNoResult)

	_, err = svc.Detect(context.Background(), model.Task{Ticket: 0, FrameSeq: 45})
	assert.NoError(t, err)
}

func TestFakeHonorsCancellation(t *testing.T) {
	svc := NewFake(FakeOptions{MinJitter: time.Second, MaxJitter: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Detect(ctx, model.Task{})
	assert.ErrorIs(t, err, context.Canceled)
}
