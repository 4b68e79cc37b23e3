package orphan

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/data"
)

type orphansDB struct {
	data.IService
	calls atomic.Int32
}

func (db *orphansDB) RetrieveOrphanedCameras(max int) ([]model.Camera, error) {
	db.calls.Add(1)
	cameras := []model.Camera{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	return cameras[:min(max, len(cameras))], nil
}

func TestPolledPublishesWhileSubscribed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := &orphansDB{}
	svc := NewPolled(ctx, db, 5*time.Millisecond, 2)

	stream, err := svc.Subscribe()
	require.NoError(t, err)
	assert.True(t, svc.Subscribed())

	_, err = svc.Subscribe()
	assert.Error(t, err)

	select {
	case cameras := <-stream:
		require.Len(t, cameras, 2)
		assert.Equal(t, "1", cameras[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no orphaned cameras published")
	}

	require.NoError(t, svc.Unsubscribe())
	assert.False(t, svc.Subscribed())
	assert.Error(t, svc.Unsubscribe())

	// let a poll that was in flight notice the unsubscription
	time.Sleep(20 * time.Millisecond)
	calls := db.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, db.calls.Load())

	again, err := svc.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, stream, again)
}
