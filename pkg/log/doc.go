/*
Package log provides structured logging for MiniCloud using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

MiniCloud's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                    │           │
	│  │  - Zerolog instance                         │           │
	│  │  - Initialized via log.Init()               │           │
	│  │  - Thread-safe for concurrent use           │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                     │           │
	│  │  - Level: debug/info/warn/error             │           │
	│  │  - Format: JSON or console (human)          │           │
	│  │  - Output: stdout, file, or custom writer   │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Context Loggers                     │           │
	│  │  - WithComponent("worker")                  │           │
	│  │  - WithTaskID(42)                           │           │
	│  │  - WithUserID(7)                            │           │
	│  │  - WithContainer("user7_task42")            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Log Output                       │           │
	│  │                                              │          │
	│  │  JSON Format:                               │           │
	│  │  {                                           │          │
	│  │    "level": "info",                         │           │
	│  │    "component": "worker",                   │           │
	│  │    "task_id": 42,                           │           │
	│  │    "time": "2026-08-24T10:30:00Z",          │           │
	│  │    "message": "container started"           │           │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │           │
	│  │  10:30AM INF container started component=worker │       │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all MiniCloud packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithTaskID: Add task id context (integer, matches the row id)
  - WithUserID: Add owner id context
  - WithContainer: Add deterministic container name context

# Usage

Initializing the Logger:

	import "github.com/minicloud/minicloud/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("admission registry initialized")
	log.Warn("GPU budget exhausted, parking payload")
	log.Error("failed to connect to containerd")
	log.Fatal("cannot start without data directory") // Exits process

Structured Logging:

	log.Logger.Info().
		Int64("task_id", task.ID).
		Str("image", payload.Image).
		Int("cpu_cores", payload.CPUCores).
		Msg("dispatching payload")

Component Loggers:

	logger := log.WithComponent("dispatcher")
	logger.Info().Msg("payload submitted")
	// Output: {"component":"dispatcher","message":"payload submitted",...}

	taskLog := log.WithTaskID(42)
	taskLog.Error().Err(err).Msg("container create failed")

Error Logging:

	if err := runtime.PullImage(ctx, image); err != nil {
		log.Logger.Error().
			Err(err).
			Str("image", image).
			Msg("image pull failed")
	}

# Best Practices

Log at boundaries: dispatch decisions, admission grants and releases,
worker state changes, terminal transitions, and cleanup failures. The
container's own output never goes through this package; it flows through
the log tee into the task's log blob and the streaming hub.

Use Info for lifecycle events, Debug for per-frame or per-request detail,
Warn for swallowed cleanup errors, Error for failures that mark a task
failed, and Fatal only during process startup.

# Integration Points

This package integrates with:

  - cmd/minicloud: initializes the logger from flags before anything else
  - pkg/api: access-log middleware writes one Info line per request
  - pkg/worker: per-payload child loggers via WithTaskID
  - pkg/gpu, pkg/queue, pkg/manager: component loggers

# See Also

  - pkg/logstream for container output fan-out (a different concern)
  - pkg/metrics for quantitative observability
*/
package log
