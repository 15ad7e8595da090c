package metrics

import (
	"time"

	"github.com/minicloud/minicloud/pkg/gpu"
	"github.com/minicloud/minicloud/pkg/queue"
	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/types"
)

// Collector periodically samples the store, the admission registry and
// the worker queue into the package-level gauges
type Collector struct {
	store  storage.Store
	gpu    *gpu.Controller
	queue  *queue.Queue
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store, ctrl *gpu.Controller, q *queue.Queue) *Collector {
	return &Collector{
		store:  store,
		gpu:    ctrl,
		queue:  q,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTaskMetrics()
	c.collectGPUMetrics()
	c.collectQueueMetrics()
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.store.ListTasks()
	if err != nil {
		return
	}

	counts := make(map[types.TaskType]map[types.TaskStatus]int)
	for _, task := range tasks {
		if counts[task.TaskType] == nil {
			counts[task.TaskType] = make(map[types.TaskStatus]int)
		}
		counts[task.TaskType][task.Status]++
	}

	for taskType, statuses := range counts {
		for status, count := range statuses {
			TasksTotal.WithLabelValues(string(taskType), string(status)).Set(float64(count))
		}
	}
}

func (c *Collector) collectGPUMetrics() {
	snap, err := c.gpu.Snapshot()
	if err != nil {
		return
	}

	GPUUsedMB.Set(float64(snap.UsedMB))
	GPUTotalMB.Set(float64(snap.TotalMB))
	GPUQueueDepth.Set(float64(snap.QueueDepth))
}

func (c *Collector) collectQueueMetrics() {
	pending, inflight, err := c.queue.Depth()
	if err != nil {
		return
	}

	QueuePending.Set(float64(pending))
	QueueInflight.Set(float64(inflight))
}
