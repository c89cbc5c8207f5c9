package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the envelope for everything published on the bus. ID is the
// id of the underlying entity (message, tip, stream) so consumers can
// deduplicate redeliveries; ordering within a channel follows the
// server-assigned (Timestamp, ID) pair.
type Event struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	StreamID  string          `json:"stream_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(id, kind, streamID string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        id,
		Kind:      kind,
		StreamID:  streamID,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the event bus. Subscribe returns
// only after the driver has acknowledged the subscription; events
// published afterwards are guaranteed to be delivered on the returned
// channel in commit order for that channel. The context bounds the
// subscribe call only: once Subscribe returns, delivery continues until
// Unsubscribe or Close, and the returned channel closes on teardown.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// Bus combines Publisher and Subscriber interfaces.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
