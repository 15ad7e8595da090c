package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/minicloud/minicloud/pkg/events"
	"github.com/minicloud/minicloud/pkg/gpu"
	"github.com/minicloud/minicloud/pkg/log"
	"github.com/minicloud/minicloud/pkg/network"
	"github.com/minicloud/minicloud/pkg/queue"
	"github.com/minicloud/minicloud/pkg/runtime"
	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/types"
	"github.com/minicloud/minicloud/pkg/worker"
	"github.com/minicloud/minicloud/pkg/workspace"
)

// Config holds manager configuration
type Config struct {
	Store      storage.Store
	Workspaces *workspace.Manager
	GPU        *gpu.Controller
	Queue      *queue.Queue
	Runtime    runtime.Runtime
	Broker     *events.Broker
	Ports      *network.Allocator

	MaxCPU        int
	StaticImage   string
	AdvertiseAddr string
}

// Manager is the front-end side of the control plane: it validates
// requests, owns task rows and workspaces, consults the admission
// controller, and hands payloads to the durable queue. It never runs
// anything itself — once a payload is queued, only the worker touches
// the row again.
type Manager struct {
	store      storage.Store
	workspaces *workspace.Manager
	gpu        *gpu.Controller
	queue      *queue.Queue
	runtime    runtime.Runtime
	broker     *events.Broker
	ports      *network.Allocator

	maxCPU        int
	staticImage   string
	advertiseAddr string

	logger zerolog.Logger
}

// NewManager creates a manager
func NewManager(cfg *Config) *Manager {
	maxCPU := cfg.MaxCPU
	if maxCPU < 1 {
		maxCPU = 1
	}
	return &Manager{
		store:         cfg.Store,
		workspaces:    cfg.Workspaces,
		gpu:           cfg.GPU,
		queue:         cfg.Queue,
		runtime:       cfg.Runtime,
		broker:        cfg.Broker,
		ports:         cfg.Ports,
		maxCPU:        maxCPU,
		staticImage:   cfg.StaticImage,
		advertiseAddr: cfg.AdvertiseAddr,
		logger:        log.WithComponent("manager"),
	}
}

// StartCompute accepts a compute job: creates the task row, the
// workspace, and the payload, then either dispatches it to the worker
// queue or parks it in the GPU wait queue. GPU exhaustion is not an
// error; the caller sees a successfully created task either way.
func (m *Manager) StartCompute(req *types.ComputeTaskRequest, principal *types.Principal) (*types.Task, error) {
	if req.Image == "" {
		return nil, fmt.Errorf("%w: image is required", types.ErrInvalidArgument)
	}

	cpu := req.Resources.CPU
	if cpu < 1 {
		cpu = 1
	}
	if cpu > m.maxCPU {
		cpu = m.maxCPU
	}

	task := &types.Task{
		OwnerID:   principal.ID,
		OwnerName: principal.Name,
		TaskType:  types.TaskTypeCompute,
		Status:    types.TaskStatusPending,
	}
	if err := m.store.CreateTask(task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	m.publish(events.EventTaskCreated, task, "compute job accepted")

	ws := m.workspaces.WorkspaceFor(principal.Name, task.ID)
	if err := m.materializeWorkspace(task, ws); err != nil {
		// The task is accepted but failed; the user sees the terminal
		// status and the OS error in the log blob.
		return m.store.GetTask(task.ID)
	}

	env := make(map[string]string, len(req.Env)+2)
	for k, v := range req.Env {
		env[k] = v
	}
	env["TASK_OUTPUT_DIR"] = worker.MountPoint
	if len(req.Command) == 0 {
		// No command: the image's own entrypoint runs and this tells it
		// where artifacts belong.
		env["OUTPUT_DIR"] = worker.MountPoint
	}

	payload := &types.JobPayload{
		TaskID:    task.ID,
		TaskType:  types.TaskTypeCompute,
		Image:     req.Image,
		Command:   req.Command,
		Args:      req.Args,
		Workspace: ws,
		CPUCores:  cpu,
		GPU:       req.Resources.GPU,
		Env:       env,
	}

	if err := m.store.UpdateTaskStatus(task.ID, types.TaskStatusQueued); err != nil {
		return nil, fmt.Errorf("failed to queue task: %w", err)
	}
	m.publish(events.EventTaskQueued, task, "payload queued")

	if err := m.dispatch(task, payload); err != nil {
		return nil, err
	}
	return m.store.GetTask(task.ID)
}

// dispatch submits the payload or parks it behind the GPU budget
func (m *Manager) dispatch(task *types.Task, payload *types.JobPayload) error {
	if payload.GPU {
		granted, err := m.gpu.TryAcquire(task.ID)
		if err != nil {
			return err
		}
		if !granted {
			return m.gpu.Enqueue(task.ID, payload)
		}
	}
	return m.queue.Submit(payload)
}

// materializeWorkspace creates the task directory and records its
// path. On failure the task is finished failed with the OS error as
// its log; the payload is never enqueued.
func (m *Manager) materializeWorkspace(task *types.Task, ws string) error {
	if err := m.workspaces.Ensure(ws); err != nil {
		m.logger.Error().Err(err).Int64("task_id", task.ID).Msg("workspace creation failed")
		if ferr := m.store.FinishTask(task.ID, types.TaskStatusFailed, err.Error(), 0); ferr != nil {
			m.logger.Error().Err(ferr).Int64("task_id", task.ID).Msg("failed to record workspace failure")
		}
		m.publish(events.EventTaskFailed, task, "workspace creation failed")
		return err
	}
	if err := m.store.SetTaskPath(task.ID, ws); err != nil {
		return err
	}
	task.Path = ws
	return nil
}

// GetTask returns a task owned by the principal. Cross-owner access
// reports not-found rather than forbidden, so task ids do not leak
// existence.
func (m *Manager) GetTask(principal *types.Principal, id int64) (*types.Task, error) {
	task, err := m.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != principal.ID {
		return nil, fmt.Errorf("%w: %d", types.ErrTaskNotFound, id)
	}
	return task, nil
}

// ListTasks returns the principal's tasks
func (m *Manager) ListTasks(principal *types.Principal) ([]*types.Task, error) {
	return m.store.ListTasksByOwner(principal.ID)
}

// Logs returns a task's log text: the live workspace log file while
// the container runs, the stored blob after.
func (m *Manager) Logs(principal *types.Principal, id int64) (string, error) {
	task, err := m.GetTask(principal, id)
	if err != nil {
		return "", err
	}

	if task.Path != "" {
		if data, err := os.ReadFile(filepath.Join(task.Path, worker.LogFileName)); err == nil {
			return string(data), nil
		}
	}
	if task.Logs != "" {
		return task.Logs, nil
	}
	if task.Status.Terminal() {
		return "", nil
	}
	return "", fmt.Errorf("%w: no logs for task %d", types.ErrFileNotFound, id)
}

// ListFiles lists one workspace directory. The client path is resolved
// through the workspace manager's subpath check; escapes fail with
// ErrInvalidPath.
func (m *Manager) ListFiles(principal *types.Principal, id int64, rel string) ([]types.FileNode, error) {
	task, err := m.GetTask(principal, id)
	if err != nil {
		return nil, err
	}
	if task.Path == "" {
		return nil, fmt.Errorf("%w: task %d has no workspace", types.ErrFileNotFound, id)
	}
	dir, err := m.workspaces.EnsureSubpath(task.Path, rel)
	if err != nil {
		return nil, err
	}
	return m.workspaces.ListDir(task.Path, dir)
}

// Download resolves a workspace file for serving and returns its
// absolute path
func (m *Manager) Download(principal *types.Principal, id int64, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: path is required", types.ErrInvalidArgument)
	}
	task, err := m.GetTask(principal, id)
	if err != nil {
		return "", err
	}
	if task.Path == "" {
		return "", fmt.Errorf("%w: task %d has no workspace", types.ErrFileNotFound, id)
	}
	resolved, err := m.workspaces.EnsureSubpath(task.Path, rel)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", types.ErrFileNotFound, rel)
	}
	return resolved, nil
}

// Tree returns the workspace listing two levels deep
func (m *Manager) Tree(principal *types.Principal, id int64) ([]types.FileNode, error) {
	task, err := m.GetTask(principal, id)
	if err != nil {
		return nil, err
	}
	if task.Path == "" {
		return nil, fmt.Errorf("%w: task %d has no workspace", types.ErrFileNotFound, id)
	}
	return m.workspaces.Tree(task.Path, 2)
}

// StopTask kills a task's container by its deterministic name. No
// status is written here; the waiting worker observes the non-zero
// exit code and finalizes the row.
func (m *Manager) StopTask(principal *types.Principal, id int64) error {
	task, err := m.GetTask(principal, id)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("%w: task %d is %s", types.ErrTerminal, id, task.Status)
	}

	if err := m.runtime.Kill(context.Background(), task.ContainerName()); err != nil {
		return fmt.Errorf("failed to stop task %d: %w", id, err)
	}
	m.logger.Info().Int64("task_id", id).Msg("container killed")
	return nil
}

// DeleteTask removes a terminal task: container remnant, workspace,
// then the row. Non-terminal tasks are rejected; stop the run first.
func (m *Manager) DeleteTask(principal *types.Principal, id int64) error {
	task, err := m.GetTask(principal, id)
	if err != nil {
		return err
	}
	if !task.Status.Terminal() {
		return fmt.Errorf("%w: task %d is %s", types.ErrNotTerminal, id, task.Status)
	}

	if err := m.runtime.Remove(context.Background(), task.ContainerName()); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	if m.ports != nil {
		m.ports.Release(task.ID)
	}
	if task.Path != "" {
		if err := m.workspaces.Remove(task.Path); err != nil {
			return err
		}
	}
	if err := m.store.DeleteTask(task.ID); err != nil {
		return err
	}

	m.publish(events.EventTaskDeleted, task, "task deleted")
	m.logger.Info().Int64("task_id", id).Msg("task deleted")
	return nil
}

// IsContainerRunning reports whether a task's container has a live
// process; the log streaming bridge uses it for its "Container not
// running" check
func (m *Manager) IsContainerRunning(task *types.Task) bool {
	running, err := m.runtime.IsRunning(context.Background(), task.ContainerName())
	if err != nil {
		m.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("container liveness check failed")
		return false
	}
	return running
}

func (m *Manager) publish(eventType events.EventType, task *types.Task, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(events.TaskEvent(eventType, task, msg))
}
