/*
Package queue implements the durable worker queue.

The queue package is the handoff between the request-handling front end
and the background worker pool. The dispatcher submits a JobPayload; the
payload is persisted before Submit returns; a worker leases the head,
runs the container to completion, and acks. Nothing about a request
thread blocks on container work.

# Delivery Semantics

At-least-once. A leased job sits in an inflight table stamped with its
lease time. If the worker acks, the job is gone. If the worker dies or
wedges, the reaper notices the expired lease and returns the job to the
pending queue — in its original FIFO position, since the job keeps its
sequence key for life.

Containers have no runtime bound, so a healthy worker heartbeats its
lease with KeepAlive for as long as the payload runs; only a worker
that stops extending (crashed, wedged) loses the job to the reaper.

Exactly-once is explicitly not attempted. The worker makes redelivery
harmless instead: it reads the task row first and acks terminal tasks
without touching the runtime, and container creation collides on the
deterministic container name for anything in between.

# Shape

	Submit(payload)  persist at tail, wake a worker
	Dequeue()        lease the head, nil when empty
	Ack(job)         drop from inflight
	KeepAlive(job)   heartbeat the lease until the stop func is called
	Notify()         wake channel (coalescing, one token per event)
	Start()/Stop()   lease reaper loop

The named job is always run_container_task; its arguments are exactly
the JobPayload fields. Queue depth (pending, inflight) is exposed for
the metrics collector.

# Worker Loop Pattern

	for {
		select {
		case <-q.Notify():
		case <-ticker.C:
		case <-stopCh:
			return
		}
		for {
			job, err := q.Dequeue()
			if err != nil || job == nil {
				break
			}
			process(job)
			q.Ack(job)
		}
	}

The periodic tick matters: notify tokens coalesce, and reaped jobs may
arrive while every worker is busy.

# Integration Points

This package integrates with:

  - pkg/storage: QueuePush / QueueLease / QueueAck / QueueExtend / QueueReap
  - pkg/manager: the dispatcher submits payloads
  - pkg/worker: the pool consumes and acks
  - pkg/gpu: payloads admitted by Release are submitted here
*/
package queue
