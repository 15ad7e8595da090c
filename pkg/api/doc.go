/*
Package api serves the HTTP and websocket surface of the control plane.

The server is a thin translation layer: gorilla/mux routing, bearer
token auth, JSON in and out, and a single error-mapping function that
turns core sentinel errors into status codes. All decisions live behind
the manager; nothing in this package touches the store, the queue, or
the runtime directly.

# Routes

Compute and file access:

	POST   /compute/start               submit a compute job
	GET    /compute/tasks               list the caller's tasks
	GET    /compute/{id}/files?path=    list one workspace directory
	GET    /compute/{id}/download?path= download a workspace file
	GET    /compute/{id}/tree           workspace listing, two levels
	POST   /compute/{id}/stop           kill a running container
	DELETE /compute/{id}                delete a terminal task

Status and pages:

	GET  /status/task/{id}        one task
	GET  /status/tasks            list (alias of /compute/tasks)
	GET  /status/logs/{id}        log text, live file or stored blob
	POST /pages/static            publish a static site archive
	GET  /metrics                 Prometheus metrics (unauthenticated)
	GET  /healthz                 liveness probe (unauthenticated)

Websockets:

	GET /status/ws/logs/{id}          live container log frames
	GET /status/ws/resource_status    periodic resource snapshots

# Auth

Every route except /metrics and /healthz requires Authorization:
Bearer <token>; websocket clients may pass ?token= instead since
browsers cannot set headers on the upgrade request. The middleware
resolves the token to a principal and stores it in the request
context; an unknown token is 401 before any handler runs.

# Error Mapping

Handlers return core errors untranslated and writeError maps them:
invalid path, argument, or archive is 400; unauthenticated is 401;
task or file not found is 404 (cross-owner access included, so ids do
not leak existence); terminal-state conflicts are 409. Anything else
is a 500 whose detail stays in the server log.

# Log Bridge

The log websocket upgrades first and then resolves, so the client
always gets a readable message: "Task not found" for a missing or
foreign task id, "Container not running" when no live stream exists
under the task's container name. A live stream is subscribed and its
frames forwarded one text message each until the container exits or
the client disconnects; slow readers miss frames rather than stalling
the worker's log pump.
*/
package api
