package history

import (
	"context"
	"time"
)

// EventType defines the kind of run event.
type EventType string

const (
	// EventCompleted is emitted when a run reached the verification phase.
	EventCompleted EventType = "completed"
	// EventAborted is emitted when a run stopped early with an error.
	EventAborted EventType = "aborted"
)

// Record is the flattened result of one restart run.
type Record struct {
	Service          string    `json:"service"`
	Outcome          string    `json:"outcome"`
	PID              int       `json:"pid"`
	Count            int       `json:"count"`
	InitialPID       int       `json:"initial_pid"`
	ForceKilled      bool      `json:"force_killed"`
	RotatorSignalled bool      `json:"rotator_signalled"`
	AutoRestarted    bool      `json:"auto_restarted"`
	UpIssued         bool      `json:"up_issued"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Error            string    `json:"error,omitempty"`
}

// DurationMillis is the run wall time in milliseconds.
func (r Record) DurationMillis() int64 {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt).Milliseconds()
}

// Event represents a finished run to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Run        Record    `json:"run"`
}

// NewEvent wraps rec, classifying it by whether it carries an error.
func NewEvent(rec Record) Event {
	typ := EventCompleted
	if rec.Error != "" {
		typ = EventAborted
	}
	at := rec.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}
	return Event{Type: typ, OccurredAt: at.UTC(), Run: rec}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
