package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minicloud/minicloud/pkg/gpu"
	"github.com/minicloud/minicloud/pkg/logstream"
	"github.com/minicloud/minicloud/pkg/queue"
	"github.com/minicloud/minicloud/pkg/runtime"
	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/types"
)

const (
	testTotalMB = int64(8192)
	testSliceMB = int64(2048)
)

// fakeRuntime scripts the container lifecycle for worker tests
type fakeRuntime struct {
	mu        sync.Mutex
	createErr error
	startErr  error
	waitErr   error
	exitCode  uint32
	output    []string

	created []string
	started []string
	removed []string
}

func (f *fakeRuntime) Create(ctx context.Context, spec *runtime.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, spec.ID)
	return nil
}

func (f *fakeRuntime) Start(ctx context.Context, id string, output io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	for _, line := range f.output {
		output.Write([]byte(line))
	}
	return nil
}

func (f *fakeRuntime) Wait(ctx context.Context, id string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode, f.waitErr
}

func (f *fakeRuntime) Kill(ctx context.Context, id string) error { return nil }

func (f *fakeRuntime) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) IsRunning(ctx context.Context, id string) (bool, error) { return false, nil }

func (f *fakeRuntime) Close() error { return nil }

func (f *fakeRuntime) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.removed...)
}

type fixture struct {
	store storage.Store
	queue *queue.Queue
	gpu   *gpu.Controller
	hub   *logstream.Hub
	pool  *Pool
	fake  *fakeRuntime
	root  string
}

func newFixture(t *testing.T, fake *fakeRuntime) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q := queue.New(store, time.Minute)
	ctrl := gpu.NewController(store, testTotalMB, testSliceMB, nil)
	hub := logstream.NewHub()

	pool := NewPool(&Config{
		Store:   store,
		Queue:   q,
		Runtime: fake,
		GPU:     ctrl,
		Hub:     hub,
		LogCap:  1 << 20,
		Workers: 1,
	})

	return &fixture{store: store, queue: q, gpu: ctrl, hub: hub, pool: pool, fake: fake, root: t.TempDir()}
}

// queuedTask mirrors the dispatcher: pending row, workspace path,
// queued status, payload.
func (f *fixture) queuedTask(t *testing.T, gpuWanted bool) (*types.Task, *types.JobPayload) {
	t.Helper()
	task := &types.Task{
		OwnerID:   1,
		OwnerName: "alice",
		TaskType:  types.TaskTypeCompute,
		Status:    types.TaskStatusPending,
	}
	require.NoError(t, f.store.CreateTask(task))

	ws := filepath.Join(f.root, fmt.Sprintf("task_%d", task.ID))
	require.NoError(t, f.store.SetTaskPath(task.ID, ws))
	require.NoError(t, f.store.UpdateTaskStatus(task.ID, types.TaskStatusQueued))
	task.Status = types.TaskStatusQueued
	task.Path = ws

	payload := &types.JobPayload{
		TaskID:    task.ID,
		TaskType:  types.TaskTypeCompute,
		Image:     "alpine:3",
		Command:   []string{"sh", "-c", "echo hi"},
		Workspace: ws,
		CPUCores:  2,
		GPU:       gpuWanted,
		Env:       map[string]string{"TASK_OUTPUT_DIR": MountPoint},
	}
	return task, payload
}

func (f *fixture) lease(t *testing.T, payload *types.JobPayload) *storage.Job {
	t.Helper()
	require.NoError(t, f.queue.Submit(payload))
	job, err := f.queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

// TestSuccessPath tests exit 0 → completed with logs and cleanup
func TestSuccessPath(t *testing.T) {
	fake := &fakeRuntime{exitCode: 0, output: []string{"hi\n"}}
	f := newFixture(t, fake)
	task, payload := f.queuedTask(t, false)

	f.pool.process(f.lease(t, payload))

	got, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, got.Status)
	assert.Equal(t, 0, got.ExitCode)
	assert.Contains(t, got.Logs, "hi")
	assert.NotContains(t, got.Logs, "Worker error")

	// Cleanup guarantee: container removed, job acked
	assert.Equal(t, []string{task.ContainerName()}, fake.removedIDs())
	pending, inflight, err := f.queue.Depth()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, inflight)

	// The workspace log file mirrors the blob
	data, err := os.ReadFile(filepath.Join(payload.Workspace, LogFileName))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}

// TestNonZeroExitFails tests that exit 7 means failed, logs kept
func TestNonZeroExitFails(t *testing.T) {
	fake := &fakeRuntime{exitCode: 7, output: []string{"boom\n"}}
	f := newFixture(t, fake)
	task, payload := f.queuedTask(t, false)

	f.pool.process(f.lease(t, payload))

	got, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, got.Status)
	assert.Equal(t, 7, got.ExitCode)
	assert.Contains(t, got.Logs, "boom")
	assert.Equal(t, []string{task.ContainerName()}, fake.removedIDs())
}

// TestCreateFailureStillCleansUp tests the exception path: the task
// fails with a Worker error line and the finalizer still runs
func TestCreateFailureStillCleansUp(t *testing.T) {
	fake := &fakeRuntime{createErr: fmt.Errorf("image pull: no such image")}
	f := newFixture(t, fake)
	task, payload := f.queuedTask(t, false)

	f.pool.process(f.lease(t, payload))

	got, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Logs, "Worker error:")
	assert.Contains(t, got.Logs, "no such image")

	assert.Equal(t, []string{task.ContainerName()}, fake.removedIDs())
	pending, inflight, err := f.queue.Depth()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, inflight)
}

// TestGPUReleaseDispatchesParkedPayload tests release-then-admit end to
// end: a GPU task's exit releases the slice and the parked payload
// lands in the worker queue exactly once
func TestGPUReleaseDispatchesParkedPayload(t *testing.T) {
	fake := &fakeRuntime{exitCode: 0}
	f := newFixture(t, fake)
	task, payload := f.queuedTask(t, true)

	granted, err := f.gpu.TryAcquire(task.ID)
	require.NoError(t, err)
	require.True(t, granted)

	// Exhaust the budget and park a fifth payload
	for id := int64(100); id < 103; id++ {
		granted, err := f.gpu.TryAcquire(id)
		require.NoError(t, err)
		require.True(t, granted)
	}
	parked := &types.JobPayload{TaskID: 999, TaskType: types.TaskTypeCompute, Image: "alpine:3", GPU: true}
	require.NoError(t, f.gpu.Enqueue(999, parked))

	f.pool.process(f.lease(t, payload))

	// The released slice admitted the parked task and its payload is
	// the single pending job.
	pending, _, err := f.queue.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	job, err := f.queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(999), job.Payload.TaskID)

	snap, err := f.gpu.Snapshot()
	require.NoError(t, err)
	assert.Zero(t, snap.QueueDepth)
	assert.Contains(t, snap.Allocations, int64(999))
	assert.NotContains(t, snap.Allocations, task.ID)
}

// TestRedeliveredTerminalTaskNoOps tests the at-least-once guard: a
// payload for a finished task is acked without touching the runtime
func TestRedeliveredTerminalTaskNoOps(t *testing.T) {
	fake := &fakeRuntime{}
	f := newFixture(t, fake)
	task, payload := f.queuedTask(t, false)

	require.NoError(t, f.store.UpdateTaskStatus(task.ID, types.TaskStatusRunning))
	require.NoError(t, f.store.FinishTask(task.ID, types.TaskStatusCompleted, "done", 0))

	f.pool.process(f.lease(t, payload))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.created)
	assert.Empty(t, fake.removed)

	got, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", got.Logs, "terminal row untouched")

	pending, inflight, err := f.queue.Depth()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, inflight)
}

// TestNameConflictAdoptsContainer tests redelivery of a live payload:
// the second delivery adopts the container and recovers its logs from
// the workspace log file
func TestNameConflictAdoptsContainer(t *testing.T) {
	fake := &fakeRuntime{
		createErr: fmt.Errorf("container exists: %w", errdefs.ErrAlreadyExists),
		exitCode:  0,
	}
	f := newFixture(t, fake)
	task, payload := f.queuedTask(t, false)

	// Frames the first delivery wrote before the worker died
	require.NoError(t, os.MkdirAll(payload.Workspace, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(payload.Workspace, LogFileName), []byte("first half\n"), 0o644))

	f.pool.process(f.lease(t, payload))

	got, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, got.Status)
	assert.Equal(t, "first half\n", got.Logs)

	fake.mu.Lock()
	started := len(fake.started)
	fake.mu.Unlock()
	assert.Zero(t, started, "adopted container must not be started twice")
	assert.Equal(t, []string{task.ContainerName()}, fake.removedIDs())
}

// TestLiveFramesReachSubscribers tests the tee into the streaming hub
func TestLiveFramesReachSubscribers(t *testing.T) {
	fake := &fakeRuntime{exitCode: 0, output: []string{"frame one\n", "frame two\n"}}
	f := newFixture(t, fake)
	task, payload := f.queuedTask(t, false)

	stream := f.hub.Open(task.ContainerName())
	sub := stream.Subscribe()

	f.pool.process(f.lease(t, payload))

	var frames []string
	for frame := range sub.Frames() {
		frames = append(frames, frame)
	}
	assert.Equal(t, []string{"frame one", "frame two"}, frames)

	// Container exit closed the stream
	_, ok := f.hub.Get(task.ContainerName())
	assert.False(t, ok)
}

// TestLogBlobTruncation tests the bounded accumulator marker
func TestLogBlobTruncation(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	fake := &fakeRuntime{exitCode: 0, output: []string{string(long), "tail marker\n"}}
	f := newFixture(t, fake)
	f.pool.logCap = 256
	task, payload := f.queuedTask(t, false)

	f.pool.process(f.lease(t, payload))

	got, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.True(t, len(got.Logs) <= 256+len(truncationMarker))
	assert.Contains(t, got.Logs, truncationMarker)
	assert.Contains(t, got.Logs, "tail marker")
}

// TestCPUTranslation tests the nano-CPU arithmetic reaching the runtime
func TestCPUTranslation(t *testing.T) {
	payload := &types.JobPayload{
		TaskID:    1,
		TaskType:  types.TaskTypeCompute,
		Image:     "alpine:3",
		CPUCores:  4,
		Workspace: "/tmp/ws",
	}
	spec := containerSpec("user1_task1", payload)
	assert.Equal(t, int64(4e9), spec.NanoCPUs)
	assert.Equal(t, MountPoint, spec.WorkingDir)
	require.Len(t, spec.Mounts, 1)
	assert.Equal(t, "/tmp/ws", spec.Mounts[0].Source)
	assert.False(t, spec.Mounts[0].ReadOnly)
}

// TestStaticPageSpec tests the staticpage payload flavor
func TestStaticPageSpec(t *testing.T) {
	payload := &types.JobPayload{
		TaskID:     2,
		TaskType:   types.TaskTypeStaticPage,
		Image:      "docker.io/library/nginx:alpine",
		Workspace:  "/tmp/ws",
		StaticRoot: "/tmp/ws/extracted",
		HostPort:   8080,
	}
	spec := containerSpec("user1_task2", payload)
	assert.True(t, spec.HostNet)
	assert.Empty(t, spec.Args, "server image keeps its entrypoint")
	require.Len(t, spec.Mounts, 2)
	assert.Equal(t, "/tmp/ws/extracted", spec.Mounts[0].Source)
	assert.True(t, spec.Mounts[0].ReadOnly)
}
