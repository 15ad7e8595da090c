/*
Package manager implements the front-end side of the control plane.

The manager is the dispatcher of the system: it validates job requests,
owns task rows and workspaces, makes the admission decision, and hands
payloads to the durable queue. It is deliberately short-lived per
request — once a payload is queued, the manager never touches that row
again; the worker owns it to its terminal state.

# Compute Dispatch

StartCompute runs the acceptance sequence in order: clamp the requested
CPU to the configured maximum, create the pending task row (the row
assigns the id), materialize the workspace and record its path, build
the payload with TASK_OUTPUT_DIR (and OUTPUT_DIR when no command was
given) pointing at the in-container mount point, move the row to
queued, then dispatch.

A GPU request consults the admission controller: a granted slice means
immediate submission to the worker queue, an exhausted budget means the
payload parks in the FIFO wait queue. Both look identical to the
caller — resource exhaustion is not an error, the task was accepted and
will run when a slice frees.

Workspace creation failure is the one acceptance-phase failure after
row creation: the task finishes failed with the OS error as its log and
nothing is enqueued.

# Task Operations

Reads and mutations are all owner-scoped. Cross-owner access reports
not-found, never forbidden, so task ids do not leak existence. Every
client-supplied file path resolves through the workspace manager's
subpath check before any disk access.

Stop is an out-of-band kill by deterministic container name; no status
is written — the waiting worker observes the non-zero exit and
finalizes. Delete is terminal-only and removes container remnant,
workspace, and row, in that order.

# Static Pages

CreateStaticPage extracts an uploaded .zip or .tar.gz into the task
workspace (traversal-checked member by member), locates index.html
(root, then single top-level directory, then recursive walk), reserves
a host port, renders the server config, and queues a staticpage payload
for the same worker machinery compute jobs use. Unsupported extensions
and archives without an index are rejected; the page stays running
until stopped or deleted.

# Users

Accounts carry a uuid bearer token minted at creation; Authenticate
resolves tokens to principals for the API layer. Password auth is
outside the core.

# Integration Points

This package integrates with:

  - pkg/storage: task, user rows
  - pkg/workspace: directory lifecycle and path safety
  - pkg/gpu: the admission decision
  - pkg/queue: payload handoff to the worker pool
  - pkg/runtime: kill (stop), remove (delete), liveness (log bridge)
  - pkg/network: host port reservation for pages
  - pkg/events: task lifecycle events
*/
package manager
