package queue

import (
	"testing"
	"time"

	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, lease time.Duration) *Queue {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, lease)
}

// TestSubmitDequeueAck tests the normal job round-trip
func TestSubmitDequeueAck(t *testing.T) {
	q := newTestQueue(t, time.Minute)

	require.NoError(t, q.Submit(&types.JobPayload{TaskID: 1, Image: "alpine:3"}))
	require.NoError(t, q.Submit(&types.JobPayload{TaskID: 2, Image: "alpine:3"}))

	job, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, TaskRunContainer, job.Task)
	assert.Equal(t, int64(1), job.Payload.TaskID)
	assert.NotEmpty(t, job.ID)

	require.NoError(t, q.Ack(job))

	job, err = q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(2), job.Payload.TaskID)
	require.NoError(t, q.Ack(job))

	job, err = q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, job)

	pending, inflight, err := q.Depth()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, inflight)
}

// TestSubmitWakesWaiter tests the notify channel
func TestSubmitWakesWaiter(t *testing.T) {
	q := newTestQueue(t, time.Minute)

	require.NoError(t, q.Submit(&types.JobPayload{TaskID: 1}))

	select {
	case <-q.Notify():
	case <-time.After(time.Second):
		t.Fatal("submit did not wake the notify channel")
	}
}

// TestUnackedJobIsRedelivered tests at-least-once delivery after a
// lease expires
func TestUnackedJobIsRedelivered(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(&types.JobPayload{TaskID: 9}))

	// Lease it and walk away, simulating a crashed worker
	job, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)

	// The reaper returns it to the queue once the lease expires
	var again *storage.Job
	require.Eventually(t, func() bool {
		again, err = q.Dequeue()
		require.NoError(t, err)
		return again != nil
	}, 5*time.Second, 20*time.Millisecond, "expired job never redelivered")

	assert.Equal(t, int64(9), again.Payload.TaskID)
	assert.Equal(t, 2, again.Attempts)
	require.NoError(t, q.Ack(again))
}

// TestKeepAliveHoldsLease tests that a heartbeated lease survives the
// reaper for as long as the worker is still processing. Without the
// heartbeat a leased-but-unacked job outliving the lease would come
// back with Attempts 2 while the first holder is still running it.
func TestKeepAliveHoldsLease(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(&types.JobPayload{TaskID: 7}))

	job, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)

	// Hold the lease well past several reap rounds
	stop := q.KeepAlive(job)
	time.Sleep(300 * time.Millisecond)

	ghost, err := q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, ghost, "heartbeated job must not be redelivered")

	// Once the holder lets go, the reaper reclaims it as usual
	stop()
	var again *storage.Job
	require.Eventually(t, func() bool {
		again, err = q.Dequeue()
		require.NoError(t, err)
		return again != nil
	}, 5*time.Second, 20*time.Millisecond, "abandoned job never redelivered")

	assert.Equal(t, int64(7), again.Payload.TaskID)
	assert.Equal(t, 2, again.Attempts)
	require.NoError(t, q.Ack(again))

	// Stop is idempotent
	stop()
}

// TestKeepAliveAfterAck tests that a heartbeat outliving its job's ack
// is harmless
func TestKeepAliveAfterAck(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond)

	require.NoError(t, q.Submit(&types.JobPayload{TaskID: 8}))
	job, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)

	stop := q.KeepAlive(job)
	require.NoError(t, q.Ack(job))

	// Extending an absent inflight key is a no-op, not a resurrection
	time.Sleep(150 * time.Millisecond)
	stop()

	ghost, err := q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, ghost)

	pending, inflight, err := q.Depth()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, inflight)
}

// TestAckedJobStaysGone tests that acked work is not reaped
func TestAckedJobStaysGone(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(&types.JobPayload{TaskID: 3}))
	job, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Ack(job))

	// Give the reaper a few rounds to misbehave
	time.Sleep(250 * time.Millisecond)

	ghost, err := q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, ghost)
}
