package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minicloud/minicloud/pkg/log"
	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/types"
	"github.com/rs/zerolog"
)

// TaskRunContainer is the named job carried by the queue. Its
// arguments are exactly the JobPayload fields.
const TaskRunContainer = "run_container_task"

// Queue is the durable handoff between the dispatcher and the worker
// pool. Payloads are persisted before Submit returns; a worker leases
// the head, processes it, and acks. Leases that outlive their holder
// (a crashed or wedged worker) are reaped back into the pending queue,
// giving at-least-once delivery.
type Queue struct {
	store  storage.Store
	lease  time.Duration
	notify chan struct{}
	stopCh chan struct{}
	logger zerolog.Logger
}

// New creates a queue with the given lease timeout
func New(store storage.Store, lease time.Duration) *Queue {
	return &Queue{
		store:  store,
		lease:  lease,
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("queue"),
	}
}

// Start launches the lease reaper loop
func (q *Queue) Start() {
	go q.reapLoop()
}

// Stop stops the reaper
func (q *Queue) Stop() {
	close(q.stopCh)
}

// Submit persists a payload as a run_container_task job at the tail of
// the queue and wakes one waiting worker
func (q *Queue) Submit(payload *types.JobPayload) error {
	job := &storage.Job{
		ID:      uuid.New().String(),
		Task:    TaskRunContainer,
		Payload: payload,
	}
	if err := q.store.QueuePush(job); err != nil {
		return fmt.Errorf("failed to submit payload: %w", err)
	}

	q.logger.Info().
		Int64("task_id", payload.TaskID).
		Str("job_id", job.ID).
		Str("image", payload.Image).
		Msg("payload submitted")

	q.wake()
	return nil
}

// Dequeue leases the queue head. Returns nil when the queue is empty;
// callers block on Notify between attempts.
func (q *Queue) Dequeue() (*storage.Job, error) {
	job, err := q.store.QueueLease()
	if err != nil {
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}
	if job != nil && job.Attempts > 1 {
		q.logger.Warn().
			Int64("task_id", job.Payload.TaskID).
			Int("attempts", job.Attempts).
			Msg("redelivering job")
	}
	return job, nil
}

// Ack drops a finished job from the inflight table
func (q *Queue) Ack(job *storage.Job) error {
	if err := q.store.QueueAck(job.Seq); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Extend refreshes the lease on an inflight job
func (q *Queue) Extend(job *storage.Job) error {
	if err := q.store.QueueExtend(job.Seq); err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	return nil
}

// KeepAlive refreshes the job's lease at half the lease interval until
// the returned stop function is called. Workers hold one for the whole
// time a payload is processed: containers have no implicit runtime
// bound, so a lease that only lives LeaseTimeout would be reaped and
// redelivered mid-run. Stop is idempotent; extending a job that was
// just acked is a no-op.
func (q *Queue) KeepAlive(job *storage.Job) func() {
	stopCh := make(chan struct{})
	go func() {
		interval := q.lease / 2
		if interval < 5*time.Millisecond {
			interval = 5 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := q.Extend(job); err != nil {
					q.logger.Error().Err(err).
						Uint64("seq", job.Seq).
						Int64("task_id", job.Payload.TaskID).
						Msg("lease heartbeat failed")
				}
			case <-stopCh:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stopCh) }) }
}

// Notify returns the wake channel. One token is sent per Submit and
// per reap round that recovered jobs; receivers should still poll
// periodically since tokens coalesce.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Depth reports the pending and inflight counts
func (q *Queue) Depth() (pending, inflight int, err error) {
	return q.store.QueueDepth()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) reapLoop() {
	interval := q.lease / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reaped, err := q.store.QueueReap(time.Now().Add(-q.lease))
			if err != nil {
				q.logger.Error().Err(err).Msg("lease reap failed")
				continue
			}
			if reaped > 0 {
				q.logger.Warn().
					Int("jobs", reaped).
					Msg("expired leases returned to queue")
				q.wake()
			}
		case <-q.stopCh:
			return
		}
	}
}
