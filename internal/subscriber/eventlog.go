package subscriber

import (
	"sort"
	"sync"

	"github.com/TechSanzo/chaturbate/pkg/bus"
)

// EventLog is an append-mostly ordered record of the events seen on a
// stream's channels. Events are kept in (timestamp, id) order so that
// late arrivals slot into place, and duplicate deliveries of the same
// event id are dropped.
type EventLog struct {
	mu     sync.RWMutex
	events []*bus.Event
	seen   map[string]struct{}
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{seen: make(map[string]struct{})}
}

// Add inserts an event in order. It reports whether the event was new;
// a duplicate id leaves the log untouched.
func (l *EventLog) Add(ev *bus.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.seen[ev.ID]; dup {
		return false
	}
	l.seen[ev.ID] = struct{}{}

	idx := sort.Search(len(l.events), func(i int) bool {
		return !before(l.events[i], ev)
	})
	l.events = append(l.events, nil)
	copy(l.events[idx+1:], l.events[idx:])
	l.events[idx] = ev
	return true
}

// Events returns the log contents in order. The slice is a copy; the
// events themselves are shared and must not be mutated.
func (l *EventLog) Events() []*bus.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*bus.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of distinct events recorded.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Reset drops all recorded events, e.g. when switching streams.
func (l *EventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	l.seen = make(map[string]struct{})
}

// before implements the (timestamp, id) total order used for inserts.
func before(a, b *bus.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}
