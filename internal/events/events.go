// Package events provides an event system for worker pool lifecycle notifications.
package events

import (
	"fmt"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStarted is emitted when a worker goroutine begins consuming the queue
	EventWorkerStarted EventType = "worker_started"
	// EventJobPanicked is emitted when a job panics and the worker recovers from it
	EventJobPanicked EventType = "job_panicked"
	// EventWorkerTerminated is emitted when a worker exits after its terminate message
	EventWorkerTerminated EventType = "worker_terminated"
	// EventWorkerDisconnected is emitted when a worker exits because the queue
	// was closed without a terminate message
	EventWorkerDisconnected EventType = "worker_disconnected"
	// EventPoolClosed is emitted once every worker has been joined
	EventPoolClosed EventType = "pool_closed"
)

// Event represents a worker pool event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  int       `json:"worker_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// NewWorkerEvent creates a lifecycle event for a single worker
func NewWorkerEvent(eventType EventType, workerID int) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		WorkerID:  workerID,
	}
}

// NewJobPanickedEvent creates an event for a recovered job panic
func NewJobPanickedEvent(workerID int, recovered any, elapsed time.Duration) Event {
	return Event{
		Type:      EventJobPanicked,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Data: EventData{
			Error:    fmt.Sprint(recovered),
			Duration: elapsed.String(),
		},
	}
}

// NewPoolClosedEvent creates the final event of a pool shutdown.
// WorkerID is -1 because the event is not tied to a worker.
func NewPoolClosedEvent(size int, elapsed time.Duration) Event {
	return Event{
		Type:      EventPoolClosed,
		Timestamp: time.Now(),
		WorkerID:  -1,
		Data: EventData{
			Duration: elapsed.String(),
			Size:     size,
		},
	}
}
