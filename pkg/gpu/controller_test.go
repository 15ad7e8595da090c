package gpu

import (
	"testing"
	"time"

	"github.com/minicloud/minicloud/pkg/events"
	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	totalMB = int64(8192)
	sliceMB = int64(2048)
)

func newController(t *testing.T) *Controller {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewController(store, totalMB, sliceMB, nil)
}

// TestAdmissionUntilBudgetExhausted tests exhaustion: four
// slices fit an 8192 MB budget, the fifth is rejected
func TestAdmissionUntilBudgetExhausted(t *testing.T) {
	ctrl := newController(t)

	for id := int64(1); id <= 4; id++ {
		granted, err := ctrl.TryAcquire(id)
		require.NoError(t, err)
		assert.True(t, granted)
	}

	granted, err := ctrl.TryAcquire(5)
	require.NoError(t, err)
	assert.False(t, granted)

	snap, err := ctrl.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, totalMB, snap.UsedMB)
	assert.Equal(t, sliceMB, snap.SliceMB)
}

// TestReleaseWakesExactlyOne tests that releasing one of
// the admitted tasks dispatches the parked payload exactly once
func TestReleaseWakesExactlyOne(t *testing.T) {
	ctrl := newController(t)

	for id := int64(1); id <= 4; id++ {
		granted, err := ctrl.TryAcquire(id)
		require.NoError(t, err)
		require.True(t, granted)
	}

	payload := &types.JobPayload{TaskID: 5, Image: "alpine:3", GPU: true}
	require.NoError(t, ctrl.Enqueue(5, payload))

	next, err := ctrl.Release(2)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, int64(5), next.TaskID)
	assert.Equal(t, "alpine:3", next.Image)

	// Subsequent releases find an empty queue
	next, err = ctrl.Release(1)
	require.NoError(t, err)
	assert.Nil(t, next)

	snap, err := ctrl.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.QueueDepth)
	assert.Len(t, snap.Allocations, 3) // tasks 3, 4, 5
	assert.Contains(t, snap.Allocations, int64(5))
}

// TestFIFOFairness tests that rejected-then-enqueued tasks are
// admitted in their original enqueue order
func TestFIFOFairness(t *testing.T) {
	ctrl := newController(t)

	for id := int64(1); id <= 4; id++ {
		granted, err := ctrl.TryAcquire(id)
		require.NoError(t, err)
		require.True(t, granted)
	}

	waiting := []int64{20, 21, 22, 23}
	for _, id := range waiting {
		granted, err := ctrl.TryAcquire(id)
		require.NoError(t, err)
		require.False(t, granted)
		require.NoError(t, ctrl.Enqueue(id, &types.JobPayload{TaskID: id}))
	}

	var admitted []int64
	for _, id := range []int64{1, 2, 3, 4} {
		next, err := ctrl.Release(id)
		require.NoError(t, err)
		require.NotNil(t, next)
		admitted = append(admitted, next.TaskID)
	}
	assert.Equal(t, waiting, admitted)
}

// TestReleaseUnknownTaskIsNoOp tests tolerance of a wiped registry
func TestReleaseUnknownTaskIsNoOp(t *testing.T) {
	ctrl := newController(t)

	next, err := ctrl.Release(404)
	require.NoError(t, err)
	assert.Nil(t, next)

	snap, err := ctrl.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.UsedMB)
	assert.Empty(t, snap.Allocations)
}

// TestReleaseEventOnlyForHeldSlice tests that the no-op release of an
// unknown id stays out of the audit stream: only a release that
// actually returned a slice publishes gpu.released
func TestReleaseEventOnlyForHeldSlice(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	sub := broker.Subscribe()

	ctrl := NewController(store, totalMB, sliceMB, broker)

	// No-op first, then a real acquire/release pair
	next, err := ctrl.Release(404)
	require.NoError(t, err)
	assert.Nil(t, next)

	granted, err := ctrl.TryAcquire(1)
	require.NoError(t, err)
	require.True(t, granted)

	next, err = ctrl.Release(1)
	require.NoError(t, err)
	assert.Nil(t, next)

	// The stream carries exactly one gpu.released, for the real holder.
	// Had the no-op published, a gpu.released for 404 would arrive ahead
	// of the acquire.
	var seen []*events.Event
	deadline := time.After(2 * time.Second)
	for {
		var done bool
		select {
		case ev := <-sub:
			seen = append(seen, ev)
			done = ev.Type == events.EventGPUReleased
		case <-deadline:
			t.Fatalf("gpu.released never arrived; saw %d events", len(seen))
		}
		if done {
			break
		}
	}

	require.Len(t, seen, 2)
	assert.Equal(t, events.EventGPUAcquired, seen[0].Type)
	assert.Equal(t, int64(1), seen[0].TaskID)
	assert.Equal(t, events.EventGPUReleased, seen[1].Type)
	assert.Equal(t, int64(1), seen[1].TaskID)
}
