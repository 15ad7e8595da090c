/*
Package events provides an in-memory event broker for MiniCloud's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting task
lifecycle and admission events to interested subscribers. It supports
asynchronous event delivery with bounded buffers, enabling loose coupling
between the dispatcher, the worker pool, and observers such as the metrics
collector.

# Architecture

MiniCloud's event system provides non-blocking pub/sub messaging with
buffered channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐           │
	│  │              Event Broker                   │           │
	│  │  - In-memory message bus                    │           │
	│  │  - Topic-agnostic (all events broadcast)    │           │
	│  │  - Non-blocking publish                     │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          Event Distribution                 │           │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │           │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Event Types                       │           │
	│  │                                              │          │
	│  │  Task Events:                               │           │
	│  │    - task.created                           │           │
	│  │    - task.queued                            │           │
	│  │    - task.running                           │           │
	│  │    - task.completed                         │           │
	│  │    - task.failed                            │           │
	│  │    - task.deleted                           │           │
	│  │                                              │          │
	│  │  Admission Events:                          │           │
	│  │    - gpu.acquired                           │           │
	│  │    - gpu.queued                             │           │
	│  │    - gpu.released                           │           │
	│  │                                              │          │
	│  │  Page Events:                               │           │
	│  │    - page.published                         │           │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Delivery Semantics

Publish never blocks the caller. Events flow through a buffered channel
into the broadcast loop, which offers each event to every subscriber
with a non-blocking send: a subscriber whose buffer is full misses that
event. The broker is a telemetry surface, not a durable queue — the
worker handoff uses pkg/queue, which persists payloads.

Ordering is preserved per publisher as long as buffers do not overflow.
Subscribers must drain their channel promptly or accept gaps.

# Usage

Creating and starting a broker:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Publishing:

	broker.Publish(events.TaskEvent(events.EventTaskCompleted, task, "exit 0"))

	broker.Publish(&events.Event{
		Type:    events.EventGPUReleased,
		TaskID:  task.ID,
		Message: "slice returned to budget",
	})

Subscribing:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Printf("[%s] task %d: %s\n", event.Type, event.TaskID, event.Message)
	}

# Integration Points

This package integrates with:

  - pkg/manager: publishes task.created / task.queued / task.deleted /
    page.published
  - pkg/gpu: publishes gpu.acquired / gpu.queued / gpu.released
  - pkg/worker: publishes task.running and the terminal events
  - pkg/metrics: a subscriber counts terminal transitions
*/
package events
