/*
Package runtime provides container lifecycle management via containerd.

The runtime package is the only place that talks to the container
runtime. It exposes a small Runtime interface — create, start with
attached output, wait, kill, force-remove, liveness — and a
ContainerdRuntime implementation over the containerd client. The worker
drives a container through its whole life with it; the task operations
use kill and remove for stop and delete.

# Container Spec

A Spec carries everything one job needs:

  - deterministic id user<owner>_task<id> (redelivery guard and the log
    bridge's lookup key)
  - image reference, pulled on first use
  - process args (command ++ args); empty keeps the image entrypoint
  - env rendered as KEY=VALUE pairs in stable order
  - bind mounts: the workspace at /workspaces read-write, or a static
    page's extracted root read-only
  - CPU limit as nano-CPUs, translated to a CFS quota over a fixed
    100ms period — the same arithmetic Docker applies
  - an optional single GPU device with compute and utility capabilities
    through the containerd nvidia hook
  - optional host network namespace sharing for static page servers

# Log Attachment

Start wires the process stdout and stderr to a caller-supplied writer
through cio streams. The worker passes a tee of its bounded in-memory
accumulator, the workspace container.log file, and the live streaming
hub, so one attachment feeds persistence and subscribers alike.

# Failure Tolerance

Kill and Remove tolerate absence at every step: a missing container, a
missing process, an already-exited process are all fine. Remove's only
job is that the container is gone afterwards. Create surfaces name
conflicts as errors satisfying IsAlreadyExists so a redelivered payload
can adopt the container it collided with.

# Integration Points

This package integrates with:

  - pkg/worker: the per-payload container lifecycle
  - pkg/manager: Kill for stop, Remove for delete, IsRunning for the
    log streaming bridge
  - containerd: namespace "minicloud" keeps MiniCloud containers apart
    from other tenants of the same daemon
*/
package runtime
