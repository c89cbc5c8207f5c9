package subscriber

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/pkg/bus"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

// State is the lifecycle state of a stream subscription.
type State int

const (
	StateClosed State = iota
	StateSubscribing
	StateOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Gap marks a window during which events may have been missed, emitted
// after a reconnect. Consumers should refetch history past At.
type Gap struct {
	StreamID string
	At       time.Time
}

// Config holds subscription tunables.
type Config struct {
	// MaxEventsPerSecond caps the delivery rate on the merged channel.
	// Excess events are delayed, never dropped.
	MaxEventsPerSecond int
	// MaxReconnects bounds the reconnect attempts after the transport
	// drops; once exhausted the subscription closes.
	MaxReconnects int
	// ReconnectBackoff is the base delay before the first reconnect
	// attempt; it doubles per attempt.
	ReconnectBackoff time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxEventsPerSecond: 10,
		MaxReconnects:      5,
		ReconnectBackoff:   500 * time.Millisecond,
	}
}

// Subscription follows one stream's channels (messages, tips, state)
// through a single merged, ordered, rate-paced event feed. A
// Subscription serves one stream at a time; Open fails while a previous
// stream is still attached.
type Subscription struct {
	bus bus.Subscriber
	cfg Config
	log *EventLog

	mu       sync.Mutex
	state    State
	streamID string
	cancel   context.CancelFunc
	done     chan struct{}

	out  chan *bus.Event
	gaps chan Gap
}

// New creates an idle subscription.
func New(b bus.Subscriber, cfg Config) *Subscription {
	if cfg.MaxEventsPerSecond <= 0 {
		cfg.MaxEventsPerSecond = DefaultConfig().MaxEventsPerSecond
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = DefaultConfig().MaxReconnects
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultConfig().ReconnectBackoff
	}
	return &Subscription{
		bus:  b,
		cfg:  cfg,
		log:  NewEventLog(),
		gaps: make(chan Gap, 4),
	}
}

// Open attaches the subscription to a stream. It subscribes the
// messages, tips, and state channels and returns only once every
// subscription has been acknowledged, so an event published after Open
// returns cannot be missed. A partial failure tears down whatever was
// established before returning the error.
func (s *Subscription) Open(ctx context.Context, streamID string) (<-chan *bus.Event, error) {
	s.mu.Lock()
	if s.state != StateClosed {
		prev := s.streamID
		s.mu.Unlock()
		return nil, &domain.ConflictError{
			Resource: "subscription",
			Reason:   fmt.Sprintf("still attached to stream %s", prev),
		}
	}
	s.state = StateSubscribing
	s.streamID = streamID
	s.mu.Unlock()

	sources, err := s.attach(ctx, streamID)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.streamID = ""
		s.mu.Unlock()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	out := make(chan *bus.Event, s.cfg.MaxEventsPerSecond)
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateOpen
	s.cancel = cancel
	s.done = done
	s.out = out
	s.log.Reset()
	s.mu.Unlock()

	go s.run(runCtx, streamID, sources, out, done)
	return out, nil
}

// Close detaches from the current stream. Safe to call repeatedly and
// while closed; it returns once the drain goroutine has stopped.
func (s *Subscription) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	streamID := s.streamID
	cancel := s.cancel
	done := s.done
	s.state = StateClosed
	s.streamID = ""
	s.cancel = nil
	s.done = nil
	s.out = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, ch := range streamChannels(streamID) {
		if err := s.bus.Unsubscribe(ctx, ch); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldChannel, ch).Msg("failed to unsubscribe channel")
		}
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamID returns the attached stream, or "" when closed.
func (s *Subscription) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// Gaps delivers a marker after each reconnect; events published during
// the outage may be missing from the feed.
func (s *Subscription) Gaps() <-chan Gap {
	return s.gaps
}

// Log exposes the ordered, deduplicated record of delivered events.
func (s *Subscription) Log() *EventLog {
	return s.log
}

func streamChannels(streamID string) []string {
	return []string{
		bus.MessagesChannel(streamID),
		bus.TipsChannel(streamID),
		bus.StateChannel(streamID),
	}
}

// attach subscribes all three channels, unwinding on partial failure.
func (s *Subscription) attach(ctx context.Context, streamID string) ([]<-chan *bus.Event, error) {
	channels := streamChannels(streamID)
	sources := make([]<-chan *bus.Event, 0, len(channels))

	for i, ch := range channels {
		src, err := s.bus.Subscribe(ctx, ch)
		if err != nil {
			for _, established := range channels[:i] {
				if uerr := s.bus.Unsubscribe(ctx, established); uerr != nil {
					log.Ctx(ctx).Warn().Err(uerr).Str(log.FieldChannel, established).Msg("failed to unwind partial subscription")
				}
			}
			return nil, &domain.TransportError{Op: "subscribe " + ch, Err: err}
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// run is the drain goroutine: it merges the channel sources into one
// paced feed, reconnecting with backoff when the transport drops.
func (s *Subscription) run(ctx context.Context, streamID string, sources []<-chan *bus.Event, out chan<- *bus.Event, done chan struct{}) {
	defer close(done)
	defer close(out)

	interval := time.Second / time.Duration(s.cfg.MaxEventsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		dropped := s.drain(ctx, sources, out, ticker)
		if !dropped {
			return
		}

		var err error
		sources, err = s.reconnect(ctx, streamID)
		if err != nil {
			log.L().Error().Err(err).Str(log.FieldStreamID, streamID).Msg("subscription lost, reconnect attempts exhausted")
			s.mu.Lock()
			if s.streamID == streamID {
				s.state = StateClosed
				s.streamID = ""
				s.cancel = nil
				s.done = nil
				s.out = nil
			}
			s.mu.Unlock()
			return
		}

		select {
		case s.gaps <- Gap{StreamID: streamID, At: time.Now().UTC()}:
		default:
		}
	}
}

// drain fans the sources into out until the context ends (returns
// false) or the transport drops a source (returns true). Delivery is
// paced to the configured rate; a full consumer delays events rather
// than losing them.
func (s *Subscription) drain(ctx context.Context, sources []<-chan *bus.Event, out chan<- *bus.Event, ticker *time.Ticker) bool {
	merged := make(chan *bus.Event)
	lost := make(chan struct{}, len(sources))

	var wg sync.WaitGroup
	forwardCtx, stopForward := context.WithCancel(ctx)
	defer stopForward()

	for _, src := range sources {
		wg.Add(1)
		go func(src <-chan *bus.Event) {
			defer wg.Done()
			for {
				select {
				case <-forwardCtx.Done():
					return
				case ev, ok := <-src:
					if !ok {
						lost <- struct{}{}
						return
					}
					select {
					case merged <- ev:
					case <-forwardCtx.Done():
						return
					}
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-lost:
			return true
		case ev, ok := <-merged:
			if !ok {
				return false
			}
			if !s.log.Add(ev) {
				continue
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return false
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return false
			}
		}
	}
}

// reconnect retries attach with doubling backoff up to the configured
// bound.
func (s *Subscription) reconnect(ctx context.Context, streamID string) ([]<-chan *bus.Event, error) {
	backoff := s.cfg.ReconnectBackoff
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		log.L().Info().
			Str(log.FieldStreamID, streamID).
			Int("attempt", attempt).
			Msg("reconnecting stream subscription")

		sources, err := s.attach(ctx, streamID)
		if err == nil {
			return sources, nil
		}
		lastErr = err
		backoff *= 2
	}

	return nil, lastErr
}
