/*
Package storage provides persistent state management for MiniCloud using BoltDB.

The storage package implements the Store interface with an embedded BoltDB
(bbolt) database. It owns the four persistent concerns of the control plane:
task rows, user rows, the GPU admission registry, and the durable worker
queue. Records are stored as JSON for debuggability; registry and queue
operations run inside single write transactions so their invariants hold
after every call, with no coordination needed from callers.

# Architecture

	┌────────────────────── STORAGE LAYER ──────────────────────┐
	│                                                             │
	│  ┌────────────────────────────────────────────┐            │
	│  │              Store Interface                │            │
	│  │  - Task CRUD + status transitions           │            │
	│  │  - User CRUD + token lookup                 │            │
	│  │  - GPU registry atomics                     │            │
	│  │  - Worker queue (lease/ack/reap)            │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                       │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │              BoltStore                      │            │
	│  │  - Single-file embedded database            │            │
	│  │  - ACID transactions                        │            │
	│  │  - JSON-serialized records                  │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                       │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │              Buckets                        │            │
	│  │  tasks           id → Task JSON             │            │
	│  │  users           id → User JSON             │            │
	│  │  gpu_registry    "used" → decimal counter   │            │
	│  │  gpu_allocations task id → slice MB         │            │
	│  │  gpu_queue       seq → parked payload       │            │
	│  │  queue_pending   seq → Job JSON             │            │
	│  │  queue_inflight  seq → Job JSON (leased)    │            │
	│  └────────────────────────────────────────────┘            │
	└─────────────────────────────────────────────────────────────┘

# Task Rows

Task ids come from the tasks bucket sequence: monotonically increasing,
never reused, assigned inside the CreateTask transaction. Keys are
big-endian 8-byte ids so cursor order matches numeric order.

Status writes go through UpdateTaskStatus and FinishTask, which enforce
the lifecycle DAG:

	pending → queued → running → {completed, failed}

Any transition outside the DAG, including every write after a terminal
status, fails with types.ErrInvalidTransition. FinishTask writes the
terminal status, the log blob and the exit code in one transaction, so
no reader observes a terminal task without its logs. SetTaskPath writes
the workspace path exactly once, while the row is still pending.

# GPU Registry

The registry is the single source of truth for admission decisions:

  - used: decimal counter of outstanding allocation MB
  - allocations: task id → slice size
  - queue: FIFO of parked payloads awaiting a slice

TryAcquireGPU and ReleaseGPU each run in one write transaction, which
is what makes them atomic: the counter and the allocation table move
together or not at all, and no interleaving observes one without the
other. ReleaseGPU also wakes the wait queue head — the release and the
re-admission are the same transaction, so a freed slice cannot be
stolen between them.

Invariants maintained after every operation:

	used == sum(allocations values)
	0 ≤ used ≤ total budget
	no task id in both allocations and queue

Unknown task ids release as no-ops; a wiped registry therefore cannot
break in-flight container exits.

# Worker Queue

The queue provides at-least-once delivery between the dispatcher and
the worker pool:

	QueuePush    → pending (tail, sequence-keyed)
	QueueLease   → moves head pending → inflight, stamps LeasedAt
	QueueAck     → deletes from inflight
	QueueExtend  → re-stamps LeasedAt on a live lease (heartbeat)
	QueueReap    → returns expired leases to pending

A reaped job keeps its original sequence key, so redelivery restores
its original FIFO position instead of sending it to the back. Attempts
counts deliveries; the worker treats a payload for an already-terminal
task as a redelivered duplicate and acks it without work.

# Usage

Opening a store:

	store, err := storage.NewBoltStore("/var/lib/minicloud")
	if err != nil {
		log.Fatal("failed to open store")
	}
	defer store.Close()

Creating and finishing a task:

	task := &types.Task{OwnerID: 7, TaskType: types.TaskTypeCompute, Status: types.TaskStatusPending}
	err := store.CreateTask(task) // assigns task.ID

	err = store.SetTaskPath(task.ID, "/srv/workspaces/alice/task_42")
	err = store.UpdateTaskStatus(task.ID, types.TaskStatusQueued)
	err = store.UpdateTaskStatus(task.ID, types.TaskStatusRunning)
	err = store.FinishTask(task.ID, types.TaskStatusCompleted, logBlob, 0)

Admission round-trip:

	granted, err := store.TryAcquireGPU(task.ID, sliceMB, totalMB)
	if !granted {
		err = store.EnqueueGPU(task.ID, payload)
	}
	// ... container exits ...
	released, next, err := store.ReleaseGPU(task.ID, sliceMB, totalMB)
	if next != nil {
		// admitted payload, submit it to the worker queue
	}

# Consistency Model

BoltDB provides serializable isolation with a single writer. All
multi-step mutations (status transition read-check-write, release and
wake) happen inside one Update transaction. Reads run in View
transactions and may lag a concurrent writer by one commit, which is
harmless for every caller in this codebase.

# Integration Points

This package integrates with:

  - pkg/gpu: drives the registry atomics and owns the admission policy
  - pkg/queue: drives the queue primitives and owns lease timing
  - pkg/manager: task and user rows
  - pkg/worker: terminal transitions and the redelivery guard
  - pkg/stats: GPUSnapshot for the resource-status stream
*/
package storage
