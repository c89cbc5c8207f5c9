package subscriber

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/TechSanzo/chaturbate/pkg/bus"
)

func ev(id string, ts time.Time) *bus.Event {
	return &bus.Event{
		ID:        id,
		Kind:      bus.KindMessageCreated,
		StreamID:  "s1",
		Payload:   json.RawMessage(`{}`),
		Timestamp: ts,
	}
}

func ids(events []*bus.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestEventLogOrdersByTimestampThenID(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := NewEventLog()

	// Arrivals out of order, including a timestamp tie broken by id.
	log.Add(ev("c", base.Add(2*time.Second)))
	log.Add(ev("b", base.Add(time.Second)))
	log.Add(ev("a", base.Add(time.Second)))
	log.Add(ev("d", base))

	got := ids(log.Events())
	want := []string{"d", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestEventLogDropsDuplicates(t *testing.T) {
	base := time.Now().UTC()
	log := NewEventLog()

	if !log.Add(ev("a", base)) {
		t.Fatal("first add reported duplicate")
	}
	if log.Add(ev("a", base.Add(time.Second))) {
		t.Fatal("duplicate id accepted")
	}
	if log.Len() != 1 {
		t.Fatalf("len = %d, want 1", log.Len())
	}
}

func TestEventLogReset(t *testing.T) {
	log := NewEventLog()
	log.Add(ev("a", time.Now()))
	log.Reset()

	if log.Len() != 0 {
		t.Fatalf("len after reset = %d, want 0", log.Len())
	}
	if !log.Add(ev("a", time.Now())) {
		t.Fatal("reset did not clear the seen set")
	}
}
