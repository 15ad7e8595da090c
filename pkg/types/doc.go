/*
Package types defines the core data structures used throughout MiniCloud.

This package contains the fundamental types of the control plane's domain
model: tasks and their lifecycle, job payloads, workspace file nodes, the
GPU registry view, and the request/response shapes of the HTTP surface.
All other packages depend on it; it depends on nothing but the standard
library.

# Core Types

Task lifecycle:
  - Task: a user-submitted unit of work with an integer id, an owner,
    a workspace path, and a status
  - TaskType: compute (run to completion) or staticpage (serve until stopped)
  - TaskStatus: pending, queued, running, completed, failed

Dispatch:
  - JobPayload: the wire object handed from the dispatcher to the worker
    through the durable queue, or parked in the GPU wait queue
  - Principal: the authenticated identity attached to a request
  - User: an account row maintained by the token auth layer

HTTP surface:
  - ComputeTaskRequest / ComputeResources: POST /compute/start body
  - TaskResponse: the external view of a task row
  - FileNode: one entry of a workspace listing
  - StaticPageResponse: POST /pages/static result
  - ResourceStatus (CPUStatus, MemoryStatus, GPUStatus): one frame of the
    resource-status stream

Admission:
  - GPUSnapshot: a consistent view of the GPU registry (budget, usage,
    allocations, queue depth)

# State Machine

Task statuses follow a DAG; the store enforces it on every write:

	pending → queued → running → completed
	   ↓        ↓         ↓
	 failed   failed    failed

Valid transitions:
  - pending → queued (dispatcher handed the payload off)
  - pending → running (direct pickup, no queueing observed)
  - pending → failed (workspace creation failed)
  - queued → running (worker picked the payload up)
  - queued → failed (worker failed before the container existed)
  - running → completed (container exited 0)
  - running → failed (non-zero exit or worker error)

completed and failed are terminal: no transition leaves them, and the
log blob written with them never changes afterwards.

# Container Naming

ContainerName derives the runtime container id from the owner and task
ids:

	task := &types.Task{ID: 42, OwnerID: 7}
	task.ContainerName() // "user7_task42"

The name is load-bearing in two places: the log streaming bridge uses
it to locate a task's live container, and the worker relies on the
resulting name collision to detect a redelivered payload instead of
starting a second container.

# Error Sentinels

Cross-package error conditions are sentinel values checked with
errors.Is:

	task, err := store.GetTask(id)
	if errors.Is(err, types.ErrTaskNotFound) {
		// 404
	}

Wrapping with fmt.Errorf("...: %w", err) preserves the mapping through
intermediate layers. The API layer owns the translation to HTTP status
codes; nothing below it knows about HTTP.

# Serialization

Task, User and GPUSnapshot are storage-internal and marshal with Go
field names. JobPayload and every response type carry explicit JSON
tags: the payload tags are the wire contract of the run_container_task
queue job, and the response tags are the public API shape. Changing
either set is a breaking change.

# Integration Points

This package integrates with:

  - pkg/storage: persists Task and User rows as JSON
  - pkg/gpu: returns GPUSnapshot, stores JobPayload in the wait queue
  - pkg/queue: serializes JobPayload envelopes
  - pkg/manager: builds payloads and converts rows to TaskResponse
  - pkg/worker: drives the Task state machine to terminal
  - pkg/api: decodes requests into and encodes responses from these types
*/
package types
