package bus

import (
	"context"
	"sync"
)

// memorySub is one subscriber of a channel. Teardown never closes ch
// directly: it closes done, waits for in-flight sends to drain, and
// only then closes ch, so a publish parked on a full buffer can never
// hit a closed channel.
type memorySub struct {
	ch   chan *Event
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
}

// send delivers the event, blocking on a full buffer until the
// subscriber drains, the subscription tears down, or the context ends.
func (s *memorySub) send(ctx context.Context, event *Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.senders.Add(1)
	s.mu.Unlock()
	defer s.senders.Done()

	select {
	case s.ch <- event:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close tears the subscription down. ch is closed asynchronously once
// every in-flight send has returned.
func (s *memorySub) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	go func() {
		s.senders.Wait()
		close(s.ch)
	}()
}

// MemoryBus is an in-process Bus used by tests and single-node
// deployments. Fan-out preserves publish order per channel.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

// NewMemoryBus creates a new in-memory Bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string][]*memorySub),
	}
}

// Publish delivers the event to every open subscriber of the channel.
// Delivery blocks on slow subscribers rather than dropping.
func (m *MemoryBus) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.RLock()
	targets := make([]*memorySub, len(m.subs[channel]))
	copy(targets, m.subs[channel])
	m.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.send(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel. The subscription is
// active as soon as Subscribe returns and lives until Unsubscribe or
// Close; the context bounds only the call itself.
func (m *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySub{
		ch:   make(chan *Event, 100),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], sub)
	m.mu.Unlock()

	return sub.ch, nil
}

// Unsubscribe removes all subscribers of the channel. Their event
// channels close once any in-flight deliveries finish.
func (m *MemoryBus) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	subs := m.subs[channel]
	delete(m.subs, channel)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return nil
}

// Close closes every subscription.
func (m *MemoryBus) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	all := m.subs
	m.subs = make(map[string][]*memorySub)
	m.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.close()
		}
	}
	return nil
}
