package history

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEventClassifiesByError(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	rec := Record{Service: "dbus-modbus-client", Outcome: "success", PID: 42, Count: 1, StartedAt: start, FinishedAt: start.Add(3 * time.Second)}

	e := NewEvent(rec)
	if e.Type != EventCompleted {
		t.Fatalf("type = %s, want %s", e.Type, EventCompleted)
	}
	if !e.OccurredAt.Equal(rec.FinishedAt) || e.OccurredAt.Location() != time.UTC {
		t.Fatalf("occurred_at = %v, want %v in UTC", e.OccurredAt, rec.FinishedAt)
	}
	if got := e.Run.DurationMillis(); got != 3000 {
		t.Fatalf("duration = %d, want 3000", got)
	}

	rec.Outcome = "fatal"
	rec.Error = "process survived SIGKILL"
	if e := NewEvent(rec); e.Type != EventAborted {
		t.Fatalf("type = %s, want %s", e.Type, EventAborted)
	}
}

func TestNewEventWithoutFinishTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	e := NewEvent(Record{Service: "x"})
	if e.OccurredAt.Before(before) {
		t.Fatalf("occurred_at %v should default to now", e.OccurredAt)
	}
	if e.Run.DurationMillis() != 0 {
		t.Fatalf("duration should be 0 for unfinished record")
	}
}

func TestEventJSONFieldNames(t *testing.T) {
	b, err := json.Marshal(NewEvent(Record{Service: "svc", Outcome: "duplicate", Count: 2, FinishedAt: time.Now()}))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	run, ok := m["run"].(map[string]any)
	if !ok {
		t.Fatalf("missing run in payload: %s", b)
	}
	if run["service"] != "svc" || run["outcome"] != "duplicate" {
		t.Fatalf("unexpected run payload: %v", run)
	}
	if _, ok := run["error"]; ok {
		t.Fatalf("error should be omitted when empty: %v", run)
	}
}
