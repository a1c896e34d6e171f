// Package events provides an event system for worker lifecycle notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStarted is emitted when the supervisor spawns a worker
	EventWorkerStarted EventType = "worker_started"
	// EventWorkerTerminated is emitted when a worker leaves its loop
	EventWorkerTerminated EventType = "worker_terminated"
	// EventSample is emitted for every count read by a sampler
	EventSample EventType = "sample"
)

// Event represents a worker lifecycle event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	WorkerID  string    `json:"worker_id"`
	Role      string    `json:"role"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
	Count  int64  `json:"count,omitempty"`
}

// NewWorkerStartedEvent creates a worker started event
func NewWorkerStartedEvent(runID, workerID, role string) Event {
	return Event{
		Type:      EventWorkerStarted,
		Timestamp: time.Now(),
		RunID:     runID,
		WorkerID:  workerID,
		Role:      role,
	}
}

// NewWorkerTerminatedEvent creates a worker terminated event
func NewWorkerTerminatedEvent(runID, workerID, role, reason string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventWorkerTerminated,
		Timestamp: time.Now(),
		RunID:     runID,
		WorkerID:  workerID,
		Role:      role,
		Data: EventData{
			Reason: reason,
			Error:  errMsg,
		},
	}
}

// NewSampleEvent creates a sample event
func NewSampleEvent(runID, workerID string, count int64) Event {
	return Event{
		Type:      EventSample,
		Timestamp: time.Now(),
		RunID:     runID,
		WorkerID:  workerID,
		Role:      "sampler",
		Data: EventData{
			Count: count,
		},
	}
}
