package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/TechSanzo/chaturbate/internal/subscriber"
	"github.com/TechSanzo/chaturbate/pkg/bus"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

// Bridge connects bus subscriptions to the hub: one subscription per
// stream with local watchers, reference-counted so the subscription
// closes when the last watcher leaves.
type Bridge struct {
	bus bus.Subscriber
	hub *Hub
	cfg subscriber.Config

	mu      sync.Mutex
	streams map[string]*bridgeStream
}

type bridgeStream struct {
	sub  *subscriber.Subscription
	refs int
}

// NewBridge creates a bridge.
func NewBridge(b bus.Subscriber, h *Hub, cfg subscriber.Config) *Bridge {
	return &Bridge{
		bus:     b,
		hub:     h,
		cfg:     cfg,
		streams: make(map[string]*bridgeStream),
	}
}

// Acquire ensures events for a stream flow into the hub, opening the
// subscription on the first watcher.
func (b *Bridge) Acquire(ctx context.Context, streamID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bs, ok := b.streams[streamID]; ok {
		bs.refs++
		return nil
	}

	sub := subscriber.New(b.bus, b.cfg)
	events, err := sub.Open(ctx, streamID)
	if err != nil {
		return err
	}

	b.streams[streamID] = &bridgeStream{sub: sub, refs: 1}
	go b.pump(streamID, sub, events)
	return nil
}

// Release drops one watcher reference, closing the subscription when
// none remain.
func (b *Bridge) Release(ctx context.Context, streamID string) {
	b.mu.Lock()
	bs, ok := b.streams[streamID]
	if !ok {
		b.mu.Unlock()
		return
	}
	bs.refs--
	if bs.refs > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.streams, streamID)
	b.mu.Unlock()

	if err := bs.sub.Close(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldStreamID, streamID).Msg("failed to close stream subscription")
	}
}

// Close tears down every subscription.
func (b *Bridge) Close(ctx context.Context) {
	b.mu.Lock()
	streams := b.streams
	b.streams = make(map[string]*bridgeStream)
	b.mu.Unlock()

	for streamID, bs := range streams {
		if err := bs.sub.Close(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldStreamID, streamID).Msg("failed to close stream subscription")
		}
	}
}

// pump forwards subscription events and gap markers to the hub until
// the subscription closes.
func (b *Bridge) pump(streamID string, sub *subscriber.Subscription, events <-chan *bus.Event) {
	gaps := sub.Gaps()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.L().Error().Err(err).Str(log.FieldStreamID, streamID).Msg("failed to encode event for fan-out")
				continue
			}
			b.hub.BroadcastRawToStream(streamID, data, "")

		case gap := <-gaps:
			// Tell watchers to refetch history; events during the
			// outage may be missing.
			payload, _ := json.Marshal(map[string]interface{}{
				"kind":      "gap",
				"stream_id": gap.StreamID,
				"at":        gap.At.Format(time.RFC3339Nano),
			})
			b.hub.BroadcastRawToStream(streamID, payload, "")
		}
	}
}
