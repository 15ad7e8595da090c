package types

import (
	"fmt"
	"time"
)

// TaskType distinguishes the kinds of work a task can carry
type TaskType string

const (
	TaskTypeCompute    TaskType = "compute"
	TaskTypeStaticPage TaskType = "staticpage"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is final. Terminal statuses are
// immutable: the store rejects any write after one is set.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition reports whether moving from s to next follows the
// lifecycle DAG:
//
//	pending → queued → running → {completed, failed}
//
// Failed is additionally reachable from pending (workspace creation
// failure) and queued (worker pickup failure). No transition ever
// leaves a terminal state.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusQueued || next == TaskStatusRunning || next == TaskStatusFailed
	case TaskStatusQueued:
		return next == TaskStatusRunning || next == TaskStatusFailed
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// Task represents a user-submitted unit of work, backed by a store row
// and a per-task workspace directory
type Task struct {
	ID         int64
	OwnerID    int64
	OwnerName  string
	TaskType   TaskType
	Status     TaskStatus
	Logs       string // terminal log blob, written together with the terminal status
	Path       string // absolute workspace directory, set once before leaving pending
	ExitCode   int
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// ContainerName returns the deterministic container id for the task.
// The name is both the lookup key for live log streaming and the
// redelivery guard for the worker: a second delivery of the same
// payload collides on it instead of starting a second container.
func (t *Task) ContainerName() string {
	return fmt.Sprintf("user%d_task%d", t.OwnerID, t.ID)
}

// User represents an account known to the token auth layer
type User struct {
	ID        int64
	Username  string
	Token     string
	CreatedAt time.Time
}

// Principal is the authenticated identity attached to a request by the
// auth middleware. It carries only what the core needs: the owner id
// and the display name used in workspace paths.
type Principal struct {
	ID   int64
	Name string
}

// JobPayload is the transport object handed from the dispatcher to the
// worker, either directly through the worker queue or parked in the
// GPU wait queue until a slice frees up. Field names are the wire
// contract of the run_container_task job.
type JobPayload struct {
	TaskID    int64             `json:"task_id"`
	TaskType  TaskType          `json:"task_type"`
	Image     string            `json:"image"`
	Command   []string          `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Workspace string            `json:"workspace"`
	CPUCores  int               `json:"cpu_cores"`
	GPU       bool              `json:"gpu"`
	Env       map[string]string `json:"env,omitempty"`

	// Static page payloads carry the extracted site root and the host
	// port the server container publishes on.
	StaticRoot string `json:"static_root,omitempty"`
	HostPort   int    `json:"host_port,omitempty"`
}

// ComputeResources carries the requested cpu/gpu share of a compute job
type ComputeResources struct {
	CPU int  `json:"cpu"`
	GPU bool `json:"gpu"`
}

// ComputeTaskRequest is the body of POST /compute/start
type ComputeTaskRequest struct {
	Image     string            `json:"image"`
	Command   []string          `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Resources ComputeResources  `json:"resources"`
}

// TaskResponse is the external view of a task row
type TaskResponse struct {
	ID        int64      `json:"id"`
	TaskType  TaskType   `json:"task_type"`
	Status    TaskStatus `json:"status"`
	Logs      string     `json:"logs,omitempty"`
	Path      string     `json:"path,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UserID    int64      `json:"user_id"`
}

// NewTaskResponse converts a task row to its external view
func NewTaskResponse(t *Task) *TaskResponse {
	return &TaskResponse{
		ID:        t.ID,
		TaskType:  t.TaskType,
		Status:    t.Status,
		Logs:      t.Logs,
		Path:      t.Path,
		CreatedAt: t.CreatedAt,
		UserID:    t.OwnerID,
	}
}

// FileNode describes one entry of a workspace listing
type FileNode struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  *int64 `json:"size,omitempty"` // nil for directories
}

// StaticPageResponse is the body returned by POST /pages/static
type StaticPageResponse struct {
	Task *TaskResponse `json:"task"`
	URL  string        `json:"url"`
}

// CPUStatus is the host CPU portion of a resource snapshot
type CPUStatus struct {
	Percent float64 `json:"percent"`
	Cores   int     `json:"cores"`
}

// MemoryStatus is the host memory portion of a resource snapshot
type MemoryStatus struct {
	TotalMB int64   `json:"total_mb"`
	UsedMB  int64   `json:"used_mb"`
	Percent float64 `json:"percent"`
}

// GPUStatus describes one GPU as seen by the admission registry
type GPUStatus struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	MemoryUsedMB  int64   `json:"memory_used_mb"`
	MemoryTotalMB int64   `json:"memory_total_mb"`
	Load          float64 `json:"load"`
}

// ResourceStatus is one frame of the resource-status stream
type ResourceStatus struct {
	CPU    CPUStatus    `json:"cpu"`
	Memory MemoryStatus `json:"memory"`
	GPU    []GPUStatus  `json:"gpu"`
}

// GPUSnapshot is a consistent point-in-time view of the admission
// registry, read in a single store transaction
type GPUSnapshot struct {
	TotalMB     int64
	SliceMB     int64
	UsedMB      int64
	Allocations map[int64]int64
	QueueDepth  int
}
