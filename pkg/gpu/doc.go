/*
Package gpu implements the GPU slice admission controller.

The gpu package decides which tasks may hold a slice of the finite GPU
budget and in what order waiting tasks are admitted. It is a thin policy
layer over the storage registry: the store provides the atomic
primitives, this package provides the budget, the FIFO wake-up chain,
logging, and lifecycle events.

# Model

The budget is TOTAL_VRAM_MB (default 8192) divided into fixed slices of
SLICE_MB (default 2048). A job requests exactly zero or one slice:

	try_acquire(task) → true   slice reserved, dispatch immediately
	try_acquire(task) → false  park the payload with enqueue(task, payload)
	release(task)     → next   slice returned; head of the queue admitted,
	                           its payload returned for dispatch

Admission is FIFO: a task enqueued at time t is admitted no later than
any task enqueued after t. There is no priority, no aging, and no
preemption.

# Atomicity

Every operation maps to a single store transaction. TryAcquire moves
the used counter and the allocation entry together. Release returns the
slice and re-admits the queue head in the same transaction, so a freed
slice cannot be stolen by a concurrent TryAcquire between the two
steps. GPU exhaustion is a normal outcome, not an error: the caller
sees (false, nil) and parks the payload.

Release tolerates unknown task ids. If the registry is wiped while
containers run, their exits still call Release, which releases nothing
but still wakes the queue.

# Usage

	ctrl := gpu.NewController(store, cfg.TotalVRAM.MB(), cfg.GPUSlice.MB(), broker)

	granted, err := ctrl.TryAcquire(task.ID)
	if err != nil {
		return err
	}
	if granted {
		queue.Submit(payload)
	} else {
		ctrl.Enqueue(task.ID, payload)
	}

	// in the worker's cleanup phase:
	if next, err := ctrl.Release(task.ID); err == nil && next != nil {
		queue.Submit(next)
	}

# Integration Points

This package integrates with:

  - pkg/storage: TryAcquireGPU / EnqueueGPU / ReleaseGPU / GPUSnapshot
  - pkg/manager: the dispatcher's admission decision
  - pkg/worker: Release in the guaranteed-cleanup phase
  - pkg/events: gpu.acquired / gpu.queued / gpu.released
  - pkg/stats: Snapshot feeds the gpu[] portion of resource status
*/
package gpu
