package subscriber

import (
	"context"
	"testing"
	"time"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/pkg/bus"
)

func testConfig() Config {
	return Config{
		MaxEventsPerSecond: 1000,
		MaxReconnects:      5,
		ReconnectBackoff:   10 * time.Millisecond,
	}
}

func publish(t *testing.T, b bus.Publisher, channel, id, kind string) {
	t.Helper()
	event, err := bus.NewEvent(id, kind, "s1", map[string]string{"id": id})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := b.Publish(context.Background(), channel, event); err != nil {
		t.Fatalf("publish %s: %v", id, err)
	}
}

func waitEvent(t *testing.T, ch <-chan *bus.Event) *bus.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestOpenMergesAllChannels(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	sub := New(memBus, testConfig())
	ctx := context.Background()

	events, err := sub.Open(ctx, "s1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close(ctx)

	if sub.State() != StateOpen {
		t.Fatalf("state = %v, want open", sub.State())
	}

	publish(t, memBus, bus.MessagesChannel("s1"), "m1", bus.KindMessageCreated)
	publish(t, memBus, bus.TipsChannel("s1"), "t1", bus.KindTipSent)
	publish(t, memBus, bus.StateChannel("s1"), "s1", bus.KindStreamUpdated)

	got := map[string]bool{}
	for i := 0; i < 3; i++ {
		got[waitEvent(t, events).ID] = true
	}
	for _, id := range []string{"m1", "t1", "s1"} {
		if !got[id] {
			t.Errorf("event %s not delivered", id)
		}
	}
	if sub.Log().Len() != 3 {
		t.Errorf("log len = %d, want 3", sub.Log().Len())
	}
}

func TestOpenWhileOpenConflicts(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	sub := New(memBus, testConfig())
	ctx := context.Background()

	if _, err := sub.Open(ctx, "s1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close(ctx)

	if _, err := sub.Open(ctx, "s2"); !domain.IsConflict(err) {
		t.Fatalf("second open err = %v, want ConflictError", err)
	}
}

func TestCloseIsIdempotentAndReopens(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	sub := New(memBus, testConfig())
	ctx := context.Background()

	if _, err := sub.Open(ctx, "s1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := sub.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if sub.State() != StateClosed {
		t.Fatalf("state = %v, want closed", sub.State())
	}

	// A closed subscription can follow another stream.
	events, err := sub.Open(ctx, "s2")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer sub.Close(ctx)

	publish(t, memBus, bus.MessagesChannel("s2"), "m1", bus.KindMessageCreated)
	if ev := waitEvent(t, events); ev.ID != "m1" {
		t.Errorf("event id = %s, want m1", ev.ID)
	}
}

func TestDuplicateDeliveriesDropped(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	sub := New(memBus, testConfig())
	ctx := context.Background()

	events, err := sub.Open(ctx, "s1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close(ctx)

	publish(t, memBus, bus.MessagesChannel("s1"), "m1", bus.KindMessageCreated)
	publish(t, memBus, bus.MessagesChannel("s1"), "m1", bus.KindMessageCreated)
	publish(t, memBus, bus.MessagesChannel("s1"), "m2", bus.KindMessageCreated)

	first := waitEvent(t, events)
	second := waitEvent(t, events)
	if first.ID != "m1" || second.ID != "m2" {
		t.Errorf("delivered %s, %s; want m1, m2 with the duplicate dropped", first.ID, second.ID)
	}
	if sub.Log().Len() != 2 {
		t.Errorf("log len = %d, want 2", sub.Log().Len())
	}
}

func TestReconnectSignalsGap(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	sub := New(memBus, testConfig())
	ctx := context.Background()

	events, err := sub.Open(ctx, "s1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close(ctx)

	publish(t, memBus, bus.MessagesChannel("s1"), "m1", bus.KindMessageCreated)
	waitEvent(t, events)

	// Drop the transport out from under the subscription.
	if err := memBus.Unsubscribe(ctx, bus.MessagesChannel("s1")); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	select {
	case gap := <-sub.Gaps():
		if gap.StreamID != "s1" {
			t.Errorf("gap stream = %s, want s1", gap.StreamID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gap marker")
	}

	// Events published after the reconnect still arrive.
	publish(t, memBus, bus.MessagesChannel("s1"), "m2", bus.KindMessageCreated)
	if ev := waitEvent(t, events); ev.ID != "m2" {
		t.Errorf("post-reconnect event = %s, want m2", ev.ID)
	}
}

func TestOpenContextBoundsOnlyTheOpen(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	sub := New(memBus, testConfig())

	openCtx, cancel := context.WithCancel(context.Background())
	events, err := sub.Open(openCtx, "s1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close(context.Background())

	// Cancelling the open context after Open returns, the way a request
	// context dies once its handler hands off to the pumps, must not
	// drop the subscription.
	cancel()
	time.Sleep(50 * time.Millisecond)

	publish(t, memBus, bus.MessagesChannel("s1"), "m1", bus.KindMessageCreated)
	if ev := waitEvent(t, events); ev.ID != "m1" {
		t.Errorf("event id = %s, want m1", ev.ID)
	}

	select {
	case gap := <-sub.Gaps():
		t.Fatalf("gap %+v after open-context cancel, want none", gap)
	default:
	}
	if sub.State() != StateOpen {
		t.Fatalf("state = %v, want open", sub.State())
	}
}

func TestDeliveryIsPacedNotDropped(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()

	cfg := testConfig()
	cfg.MaxEventsPerSecond = 20
	sub := New(memBus, cfg)
	ctx := context.Background()

	events, err := sub.Open(ctx, "s1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close(ctx)

	// Burst well past the per-second ceiling; every event must still
	// arrive.
	const n = 30
	for i := 0; i < n; i++ {
		publish(t, memBus, bus.MessagesChannel("s1"), string(rune('a'+i%26))+string(rune('0'+i/26)), bus.KindMessageCreated)
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		waitEvent(t, events)
	}
	elapsed := time.Since(start)

	if sub.Log().Len() != n {
		t.Errorf("log len = %d, want %d", sub.Log().Len(), n)
	}
	// 30 events at 20/s cannot finish much faster than a second.
	if elapsed < time.Second {
		t.Errorf("burst drained in %v, want pacing to stretch it past 1s", elapsed)
	}
}
