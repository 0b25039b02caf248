package model

import "time"

// EventKind enumerates the task lifecycle events the event bus carries.
type EventKind string

const (
	EventCreated               EventKind = "created"
	EventCompleted             EventKind = "completed"
	EventFailed                EventKind = "failed"
	EventCancelled             EventKind = "cancelled"
	EventStatusChanged         EventKind = "status_changed"
	EventAssigned              EventKind = "assigned"
	EventDeadlineApproaching   EventKind = "deadline_approaching"
	EventOverdue               EventKind = "overdue"
	EventMilestoneReached      EventKind = "milestone_reached"
	EventErrorThresholdExceeded EventKind = "error_threshold_exceeded"
)

// Event is an immutable task lifecycle event.
type Event struct {
	Kind          EventKind      `json:"kind"`
	TaskID        string         `json:"task_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Data          map[string]any `json:"data,omitempty"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Field resolves a dotted path against the event's own fields and its Data
// map, used by the condition evaluator. Supported top-level names: "kind",
// "task_id", "source", "correlation_id", and "data.<key>" / bare "<key>"
// which both resolve against Data.
func (e Event) Field(path string) (any, bool) {
	switch path {
	case "kind", "event_type":
		return string(e.Kind), true
	case "task_id":
		return e.TaskID, true
	case "source":
		return e.Source, true
	case "correlation_id":
		return e.CorrelationID, true
	}
	key := path
	if len(path) > 5 && path[:5] == "data." {
		key = path[5:]
	}
	if e.Data == nil {
		return nil, false
	}
	v, ok := e.Data[key]
	return v, ok
}
