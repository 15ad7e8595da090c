package storage

import (
	"time"

	"github.com/minicloud/minicloud/pkg/types"
)

// Job is one unit of work traveling through the durable worker queue.
// Seq is the FIFO position; a reaped job keeps its original Seq so
// redelivery does not reorder it behind newer work.
type Job struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Task       string            `json:"task"`
	Payload    *types.JobPayload `json:"payload"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	LeasedAt   time.Time         `json:"leased_at,omitempty"`
	Attempts   int               `json:"attempts"`
}

// Store is the persistence interface for the control plane. It owns
// four concerns: task rows, user rows, the GPU admission registry, and
// the worker queue. The registry and queue operations are each a
// single transaction; their invariants hold after every call.
type Store interface {
	// Task operations. CreateTask assigns the monotonically increasing
	// id. UpdateTaskStatus enforces the lifecycle DAG and rejects any
	// write after a terminal status.
	CreateTask(task *types.Task) error
	GetTask(id int64) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByOwner(ownerID int64) ([]*types.Task, error)
	SetTaskPath(id int64, path string) error
	UpdateTaskStatus(id int64, next types.TaskStatus) error
	FinishTask(id int64, status types.TaskStatus, logs string, exitCode int) error
	DeleteTask(id int64) error

	// User operations
	CreateUser(user *types.User) error
	GetUser(id int64) (*types.User, error)
	GetUserByName(name string) (*types.User, error)
	GetUserByToken(token string) (*types.User, error)
	ListUsers() ([]*types.User, error)

	// GPU registry operations. TryAcquireGPU and ReleaseGPU are atomic:
	// no reader observes used out of sync with the allocation table.
	// ReleaseGPU reports whether the task actually held a slice, and
	// additionally pops the wait queue head and re-admits it, returning
	// its payload when a slice was granted.
	TryAcquireGPU(taskID, sliceMB, totalMB int64) (bool, error)
	EnqueueGPU(taskID int64, payload *types.JobPayload) error
	ReleaseGPU(taskID, sliceMB, totalMB int64) (bool, *types.JobPayload, error)
	GPUSnapshot(totalMB, sliceMB int64) (*types.GPUSnapshot, error)

	// Worker queue operations. QueueLease moves the FIFO head to the
	// inflight table; QueueAck drops it; QueueExtend refreshes a live
	// lease; QueueReap returns leases started before the cutoff to the
	// pending table in their original positions.
	QueuePush(job *Job) error
	QueueLease() (*Job, error)
	QueueAck(seq uint64) error
	QueueExtend(seq uint64) error
	QueueReap(cutoff time.Time) (int, error)
	QueueDepth() (pending, inflight int, err error)

	Close() error
}
