package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/armon/circbuf"

	"github.com/minicloud/minicloud/pkg/events"
	"github.com/minicloud/minicloud/pkg/gpu"
	"github.com/minicloud/minicloud/pkg/log"
	"github.com/minicloud/minicloud/pkg/logstream"
	"github.com/minicloud/minicloud/pkg/metrics"
	"github.com/minicloud/minicloud/pkg/network"
	"github.com/minicloud/minicloud/pkg/queue"
	"github.com/minicloud/minicloud/pkg/runtime"
	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// MountPoint is where the workspace appears inside compute
	// containers
	MountPoint = "/workspaces"

	// LogFileName is the workspace file that mirrors the container's
	// output. It survives redelivery, which is how an adopted
	// container's earlier logs are recovered.
	LogFileName = "container.log"

	// staticSiteRoot is where the static server image expects content
	staticSiteRoot = "/usr/share/nginx/html"

	// truncationMarker prefixes a log blob whose head was dropped by
	// the bounded accumulator
	truncationMarker = "...[log truncated]...\n"

	pollInterval = 3 * time.Second
)

// Config holds worker pool configuration
type Config struct {
	Store   storage.Store
	Queue   *queue.Queue
	Runtime runtime.Runtime
	GPU     *gpu.Controller
	Hub     *logstream.Hub
	Broker  *events.Broker
	Ports   *network.Allocator
	Workers int
	LogCap  int64 // bytes kept by the in-memory accumulator
}

// Pool consumes job payloads from the durable queue and drives each one
// through the container lifecycle: create, start with log tee, wait,
// terminal status, guaranteed cleanup. Workers run payloads in
// parallel; one payload is processed by exactly one worker at a time
// (queue leases enforce that).
type Pool struct {
	store   storage.Store
	queue   *queue.Queue
	runtime runtime.Runtime
	gpu     *gpu.Controller
	hub     *logstream.Hub
	broker  *events.Broker
	ports   *network.Allocator
	workers int
	logCap  int64

	stopCh chan struct{}
	logger zerolog.Logger
}

// NewPool creates a worker pool
func NewPool(cfg *Config) *Pool {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	logCap := cfg.LogCap
	if logCap <= 0 {
		logCap = 1 << 20
	}
	return &Pool{
		store:   cfg.Store,
		queue:   cfg.Queue,
		runtime: cfg.Runtime,
		gpu:     cfg.GPU,
		hub:     cfg.Hub,
		broker:  cfg.Broker,
		ports:   cfg.Ports,
		workers: workers,
		logCap:  logCap,
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("worker"),
	}
}

// Start launches the worker loops
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		go p.loop()
	}
	p.logger.Info().Int("workers", p.workers).Msg("worker pool started")
}

// Stop signals the loops to exit after their current payload
func (p *Pool) Stop() {
	close(p.stopCh)
}

// loop leases payloads until stopped. Between payloads it blocks on
// the queue's wake channel with a poll fallback, since wake tokens
// coalesce.
func (p *Pool) loop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := p.queue.Dequeue()
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to lease job")
		} else if job != nil {
			p.process(job)
			continue
		}

		select {
		case <-p.queue.Notify():
		case <-ticker.C:
		case <-p.stopCh:
			return
		}
	}
}

// process runs one payload to its terminal state. The payload moves
// received → starting → streaming → waited → finalized; only the
// finalized state is observable by clients, through the task row.
func (p *Pool) process(job *storage.Job) {
	payload := job.Payload
	logger := p.logger.With().Int64("task_id", payload.TaskID).Str("image", payload.Image).Logger()

	// Containers run as long as they need to (pages until stopped), so
	// the lease is heartbeated for the whole run. Without this the
	// reaper would redeliver the payload mid-run and a second worker
	// would park in Wait on the same container.
	stopKeepAlive := p.queue.KeepAlive(job)
	defer stopKeepAlive()

	task, err := p.store.GetTask(payload.TaskID)
	if err != nil {
		// Row is gone (deleted between submit and lease); nothing to run.
		logger.Warn().Err(err).Msg("payload without task row dropped")
		p.ack(job)
		return
	}

	// Redelivery guard: a payload whose task is already terminal has
	// been fully processed by a previous delivery.
	if task.Status.Terminal() {
		logger.Info().Str("status", string(task.Status)).Msg("redelivered payload for terminal task, skipping")
		metrics.WorkerJobsTotal.WithLabelValues("duplicate").Inc()
		p.ack(job)
		return
	}

	if task.Status == types.TaskStatusQueued {
		if err := p.store.UpdateTaskStatus(task.ID, types.TaskStatusRunning); err != nil {
			logger.Error().Err(err).Msg("failed to mark task running")
		} else {
			p.publish(events.EventTaskRunning, task, "worker picked up payload")
		}
	}

	exitCode, blob, runErr := p.run(task, payload, logger)

	status := types.TaskStatusCompleted
	switch {
	case runErr != nil:
		status = types.TaskStatusFailed
		metrics.WorkerJobsTotal.WithLabelValues("error").Inc()
	case exitCode != 0:
		status = types.TaskStatusFailed
		metrics.WorkerJobsTotal.WithLabelValues("failed").Inc()
	default:
		metrics.WorkerJobsTotal.WithLabelValues("completed").Inc()
	}

	if err := p.store.FinishTask(task.ID, status, blob, exitCode); err != nil {
		logger.Error().Err(err).Msg("failed to write terminal status")
	} else {
		logger.Info().Str("status", string(status)).Int("exit_code", exitCode).Msg("task finalized")
		if status == types.TaskStatusCompleted {
			p.publish(events.EventTaskCompleted, task, "container exited cleanly")
		} else {
			p.publish(events.EventTaskFailed, task, blobTail(blob))
		}
	}

	p.cleanup(task, payload, logger)
	p.ack(job)
}

// run executes the container lifecycle and returns the exit code and
// the final log blob. Any error is also reflected in the blob as a
// "Worker error:" line so the user-visible failure is always the
// (terminal status, log blob) pair.
func (p *Pool) run(task *types.Task, payload *types.JobPayload, logger zerolog.Logger) (int, string, error) {
	ctx := context.Background()
	name := task.ContainerName()

	if err := os.MkdirAll(payload.Workspace, 0o755); err != nil {
		err = fmt.Errorf("failed to ensure workspace: %w", err)
		return 0, workerError(err), err
	}

	acc, err := circbuf.NewBuffer(p.logCap)
	if err != nil {
		return 0, workerError(err), err
	}

	// Opened append so a redelivered payload's adopted container keeps
	// the frames its first delivery already wrote.
	logFile, err := os.OpenFile(filepath.Join(payload.Workspace, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return 0, workerError(err), err
	}
	defer logFile.Close()

	stream := p.hub.Open(name)
	defer stream.Close()

	tee := io.MultiWriter(acc, logFile, stream)

	adopted := false
	if err := p.runtime.Create(ctx, containerSpec(name, payload)); err != nil {
		if runtime.IsAlreadyExists(err) {
			// Redelivered payload collided with its own container;
			// treat the existing container as this unit of work.
			logger.Warn().Str("container", name).Msg("adopting existing container")
			adopted = true
		} else {
			fmt.Fprintf(tee, "Worker error: %v\n", err)
			return 0, composeBlob(acc), err
		}
	}

	if !adopted {
		if payload.TaskType == types.TaskTypeStaticPage {
			fmt.Fprintf(tee, "serving static page on port %d\n", payload.HostPort)
		}
		if err := p.runtime.Start(ctx, name, tee); err != nil {
			fmt.Fprintf(tee, "Worker error: %v\n", err)
			return 0, composeBlob(acc), err
		}
		logger.Info().Str("container", name).Msg("container started")
	}

	code, err := p.runtime.Wait(ctx, name)
	if err != nil {
		fmt.Fprintf(tee, "Worker error: %v\n", err)
		return 0, composeBlob(acc), err
	}

	if adopted {
		// The accumulator only saw this delivery; the workspace log
		// file has the full history.
		if data, err := os.ReadFile(filepath.Join(payload.Workspace, LogFileName)); err == nil {
			return int(code), capTail(string(data), p.logCap), nil
		}
	}
	return int(code), composeBlob(acc), nil
}

// cleanup is the guaranteed phase: release the GPU slice (waking the
// wait queue), remove the container, return the page's host port.
// Errors here are logged and swallowed; they must not undo the
// terminal status already written.
func (p *Pool) cleanup(task *types.Task, payload *types.JobPayload, logger zerolog.Logger) {
	ctx := context.Background()

	if payload.GPU && p.gpu != nil {
		next, err := p.gpu.Release(task.ID)
		if err != nil {
			logger.Error().Err(err).Msg("gpu release failed")
		} else if next != nil {
			if err := p.queue.Submit(next); err != nil {
				logger.Error().Err(err).Int64("next_task_id", next.TaskID).Msg("failed to dispatch admitted payload")
			}
		}
	}

	if err := p.runtime.Remove(ctx, task.ContainerName()); err != nil {
		logger.Error().Err(err).Msg("container removal failed")
	}

	if payload.TaskType == types.TaskTypeStaticPage && p.ports != nil {
		p.ports.Release(task.ID)
	}
}

func (p *Pool) ack(job *storage.Job) {
	if err := p.queue.Ack(job); err != nil {
		p.logger.Error().Err(err).Uint64("seq", job.Seq).Msg("failed to ack job")
	}
}

func (p *Pool) publish(eventType events.EventType, task *types.Task, msg string) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(events.TaskEvent(eventType, task, msg))
}

// containerSpec translates a payload into a runtime spec
func containerSpec(name string, payload *types.JobPayload) *runtime.Spec {
	spec := &runtime.Spec{
		ID:    name,
		Image: payload.Image,
		Env:   payload.Env,
	}

	if payload.TaskType == types.TaskTypeStaticPage {
		spec.HostNet = true
		spec.Mounts = []runtime.Mount{
			{Source: payload.StaticRoot, Target: staticSiteRoot, ReadOnly: true},
			{Source: filepath.Join(payload.Workspace, "nginx.conf"), Target: "/etc/nginx/conf.d/default.conf", ReadOnly: true},
		}
		return spec
	}

	spec.Args = append(append([]string{}, payload.Command...), payload.Args...)
	spec.WorkingDir = MountPoint
	spec.Mounts = []runtime.Mount{
		{Source: payload.Workspace, Target: MountPoint},
	}
	if payload.CPUCores > 0 {
		spec.NanoCPUs = int64(payload.CPUCores) * 1e9
	}
	spec.GPU = payload.GPU
	return spec
}

// composeBlob renders the accumulator as the terminal log blob,
// marking a dropped head
func composeBlob(acc *circbuf.Buffer) string {
	blob := acc.String()
	if acc.TotalWritten() > acc.Size() {
		return truncationMarker + blob
	}
	return blob
}

// capTail bounds a recovered log file the same way the accumulator
// bounds live output
func capTail(blob string, limit int64) string {
	if int64(len(blob)) <= limit {
		return blob
	}
	return truncationMarker + blob[int64(len(blob))-limit:]
}

func workerError(err error) string {
	return fmt.Sprintf("Worker error: %v\n", err)
}

// blobTail returns the last line of a blob for event messages
func blobTail(blob string) string {
	const max = 200
	if len(blob) > max {
		blob = blob[len(blob)-max:]
	}
	return blob
}
