package gpu

import (
	"fmt"

	"github.com/minicloud/minicloud/pkg/events"
	"github.com/minicloud/minicloud/pkg/log"
	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/types"
	"github.com/rs/zerolog"
)

// Controller enforces the GPU slice budget with FIFO fairness among
// waiting tasks. It is the only sanctioned accessor of the registry;
// all mutations go through the store's single-transaction operations,
// so the slice invariant holds after every call regardless of how many
// dispatchers and workers run concurrently.
type Controller struct {
	store   storage.Store
	totalMB int64
	sliceMB int64
	broker  *events.Broker
	logger  zerolog.Logger
}

// NewController creates an admission controller over the given budget.
// A job requests exactly one slice.
func NewController(store storage.Store, totalMB, sliceMB int64, broker *events.Broker) *Controller {
	return &Controller{
		store:   store,
		totalMB: totalMB,
		sliceMB: sliceMB,
		broker:  broker,
		logger:  log.WithComponent("gpu"),
	}
}

// SliceMB returns the slice size in MB
func (c *Controller) SliceMB() int64 {
	return c.sliceMB
}

// TotalMB returns the budget in MB
func (c *Controller) TotalMB() int64 {
	return c.totalMB
}

// TryAcquire reserves one slice for the task. Returns false when the
// budget is exhausted; that is not an error, the caller parks the
// payload with Enqueue instead.
func (c *Controller) TryAcquire(taskID int64) (bool, error) {
	granted, err := c.store.TryAcquireGPU(taskID, c.sliceMB, c.totalMB)
	if err != nil {
		return false, fmt.Errorf("failed to acquire gpu slice: %w", err)
	}

	if granted {
		c.logger.Info().
			Int64("task_id", taskID).
			Int64("slice_mb", c.sliceMB).
			Msg("gpu slice acquired")
		c.publish(events.EventGPUAcquired, taskID, "slice acquired")
	} else {
		c.logger.Debug().
			Int64("task_id", taskID).
			Msg("gpu budget exhausted")
	}
	return granted, nil
}

// Enqueue parks a payload at the tail of the wait queue. Callers must
// not enqueue the same task twice.
func (c *Controller) Enqueue(taskID int64, payload *types.JobPayload) error {
	if err := c.store.EnqueueGPU(taskID, payload); err != nil {
		return fmt.Errorf("failed to enqueue gpu task: %w", err)
	}

	c.logger.Info().
		Int64("task_id", taskID).
		Msg("payload parked in gpu wait queue")
	c.publish(events.EventGPUQueued, taskID, "waiting for slice")
	return nil
}

// Release returns the task's slice to the budget and admits the head
// of the wait queue when a slice now fits. The admitted payload is
// returned for immediate dispatch; nil means nobody was waiting (or
// the budget no longer fits a slice). Unknown task ids release
// nothing; the call is still safe and still wakes the queue.
func (c *Controller) Release(taskID int64) (*types.JobPayload, error) {
	released, next, err := c.store.ReleaseGPU(taskID, c.sliceMB, c.totalMB)
	if err != nil {
		return nil, fmt.Errorf("failed to release gpu slice: %w", err)
	}

	// Only an actual release belongs in the audit trail; the unknown-id
	// no-op path still wakes the queue but held nothing.
	if released {
		c.logger.Info().
			Int64("task_id", taskID).
			Msg("gpu slice released")
		c.publish(events.EventGPUReleased, taskID, "slice released")
	}

	if next != nil {
		c.logger.Info().
			Int64("task_id", next.TaskID).
			Msg("parked payload admitted")
		c.publish(events.EventGPUAcquired, next.TaskID, "admitted from wait queue")
	}
	return next, nil
}

// Snapshot returns a consistent view of the registry
func (c *Controller) Snapshot() (*types.GPUSnapshot, error) {
	snap, err := c.store.GPUSnapshot(c.totalMB, c.sliceMB)
	if err != nil {
		return nil, fmt.Errorf("failed to read gpu registry: %w", err)
	}
	return snap, nil
}

func (c *Controller) publish(eventType events.EventType, taskID int64, msg string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		Type:    eventType,
		TaskID:  taskID,
		Message: msg,
	})
}
