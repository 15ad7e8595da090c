/*
Package worker executes job payloads as containers.

The worker pool is the background half of the control plane. The
dispatcher never runs anything itself; it persists a payload in the
durable queue and returns. Workers lease payloads from that queue and
drive each one through the full container lifecycle, ending with the
at-most-once terminal status write that is the only lifecycle signal
clients ever see.

# Per-Payload Algorithm

 1. Read the task row. A terminal task means the payload was
    redelivered after completion: ack and no-op.
 2. Move the task queued → running.
 3. Ensure the workspace exists, then create the container under its
    deterministic name user<owner>_task<id>. A name conflict means a
    redelivered payload collided with its own container — adopt it.
 4. Start the container with stdout and stderr teed three ways: a
    bounded in-memory accumulator, the workspace container.log file,
    and the live streaming hub.
 5. Wait for exit and read the exit code.
 6. Write the terminal status and the final log blob in one store
    transaction: completed on exit 0, failed otherwise. Any worker-side
    failure also lands in the blob as a "Worker error:" line.
 7. Guaranteed cleanup: release the GPU slice (dispatching the payload
    the release admitted, if any), force-remove the container, return a
    static page's host port. Cleanup errors are logged and swallowed —
    they never undo the terminal status.

A payload moves received → starting → streaming → waited → finalized;
only finalized is externally observable, through the task row.

# Log Handling

The accumulator is a circular buffer (default 1 MiB): the blob persists
the tail of unbounded output with a truncation marker when the head was
dropped. container.log is opened append-mode, so the logs an adopted
container wrote during its first delivery survive and become the
recovered blob. Frames dropped after a stream error are gone; nothing
is re-fetched.

# Concurrency

Workers run payloads in parallel; the queue's lease protocol guarantees
one payload is held by at most one worker at a time, and lease reaping
redelivers work lost to a crashed worker. The pool has no cancellation
channel — stopping an in-flight container is an out-of-band kill by
name, which the waiting worker observes as a non-zero exit code.

# Integration Points

This package integrates with:

  - pkg/queue: lease, ack, wake channel
  - pkg/runtime: the container lifecycle
  - pkg/storage: the redelivery guard read and the terminal write
  - pkg/gpu: slice release and wait-queue wake-up
  - pkg/logstream: live frame fan-out
  - pkg/network: host port release for static pages
  - pkg/events: task.running / task.completed / task.failed
*/
package worker
