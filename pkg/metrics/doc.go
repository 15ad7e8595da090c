/*
Package metrics provides Prometheus observability for the control
plane.

Collectors are package-level variables registered at init, written from
the code paths they measure: the API middleware counts requests and
observes latencies, the worker counts payload outcomes, the streaming
handlers gauge connected subscribers. The Collector samples everything
that is better pulled than pushed — task counts by status, the GPU
registry, the worker queue depths — on a 15 second tick.

Everything is exposed on GET /metrics through the standard promhttp
handler.

# Metric Inventory

	minicloud_tasks_total{type,status}        task rows by lifecycle state
	minicloud_worker_jobs_total{result}       completed | failed | error | duplicate
	minicloud_gpu_used_mb                     outstanding slice allocations
	minicloud_gpu_total_mb                    configured budget
	minicloud_gpu_queue_depth                 parked payloads
	minicloud_queue_pending                   jobs waiting for a worker
	minicloud_queue_inflight                  jobs under lease
	minicloud_api_requests_total{method,status}
	minicloud_api_request_duration_seconds{method}
	minicloud_log_subscribers                 live websocket log subscribers

# Integration Points

This package integrates with:

  - pkg/api: request metrics middleware and the /metrics route
  - pkg/worker: payload outcome counter
  - pkg/storage, pkg/gpu, pkg/queue: sampled by the Collector
*/
package metrics
