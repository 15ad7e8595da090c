/*
Package logstream bridges running containers to live log subscribers.

The logstream package is the in-process half of the log streaming
bridge. The worker opens one Stream per container (keyed by the
deterministic container name) and includes it in the tee attached to
the container's stdout and stderr; websocket handlers look the stream
up by name and subscribe. Frames flow from the runtime to every
subscriber in emission order.

# Delivery Semantics

Per subscriber, frames arrive in the order the container emitted them.
Delivery is best-effort: a subscriber that cannot keep up misses frames
instead of stalling the worker's log pump, the accumulator, or other
subscribers. Frames are trimmed UTF-8 with invalid bytes replaced.

Subscriber disconnect cancels only that subscription. Container exit
closes the stream, which closes every subscriber's channel — the signal
a websocket handler uses to hang up.

# Integration Points

This package integrates with:

  - pkg/worker: opens, feeds, and closes streams
  - pkg/api: the /status/ws/logs/{task_id} handler subscribes
*/
package logstream
