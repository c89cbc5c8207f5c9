package bus

import (
	"context"
	"testing"
	"time"
)

func mustEvent(t *testing.T, id, kind, streamID string) *Event {
	t.Helper()
	ev, err := NewEvent(id, kind, streamID, map[string]string{"id": id})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	return ev
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, MessagesChannel("s1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := b.Publish(ctx, MessagesChannel("s1"), mustEvent(t, id, KindMessageCreated, "s1")); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		select {
		case ev := <-ch:
			if ev.ID != want {
				t.Fatalf("got %s, want %s", ev.ID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestMemoryBusChannelsAreIsolated(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	s1, err := b.Subscribe(ctx, MessagesChannel("s1"))
	if err != nil {
		t.Fatalf("subscribe s1: %v", err)
	}
	s2, err := b.Subscribe(ctx, MessagesChannel("s2"))
	if err != nil {
		t.Fatalf("subscribe s2: %v", err)
	}

	if err := b.Publish(ctx, MessagesChannel("s2"), mustEvent(t, "x", KindMessageCreated, "s2")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-s2:
		if ev.StreamID != "s2" {
			t.Fatalf("stream id = %s, want s2", ev.StreamID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out on s2")
	}

	select {
	case ev := <-s1:
		t.Fatalf("s1 received foreign event %+v", ev)
	default:
	}
}

func TestMemoryBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, TipsChannel("s1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Unsubscribe(ctx, TipsChannel("s1")); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received event after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing to a channel with no subscribers is a no-op.
	if err := b.Publish(ctx, TipsChannel("s1"), mustEvent(t, "a", KindTipSent, "s1")); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
}

func TestMemoryBusSubscriptionOutlivesSubscribeContext(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, StateChannel("s1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The context bounds the subscribe call only; cancelling it must
	// not tear the subscription down.
	cancel()

	if err := b.Publish(context.Background(), StateChannel("s1"), mustEvent(t, "a", KindStreamUpdated, "s1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed after subscribe context cancel")
		}
		if ev.ID != "a" {
			t.Fatalf("event id = %s, want a", ev.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered after subscribe context cancel")
	}
}

func TestMemoryBusPublishRacingTeardown(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, MessagesChannel("s1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Fill the subscriber's buffer so the next publish parks on the send.
	for i := 0; i < 100; i++ {
		if err := b.Publish(ctx, MessagesChannel("s1"), mustEvent(t, "fill", KindMessageCreated, "s1")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	published := make(chan error, 1)
	go func() {
		published <- b.Publish(ctx, MessagesChannel("s1"), mustEvent(t, "parked", KindMessageCreated, "s1"))
	}()

	// Let the publish park, then tear the subscription down under it.
	time.Sleep(50 * time.Millisecond)
	if err := b.Unsubscribe(ctx, MessagesChannel("s1")); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	select {
	case err := <-published:
		if err != nil {
			t.Fatalf("parked publish returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("parked publish did not return after unsubscribe")
	}

	// The buffered events drain, then the channel closes.
	drained := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if drained < 100 {
					t.Fatalf("channel closed after %d events, want at least 100", drained)
				}
				return
			}
			drained++
		case <-time.After(time.Second):
			t.Fatal("channel did not close after unsubscribe")
		}
	}
}

func TestChannelNames(t *testing.T) {
	if got := MessagesChannel("abc"); got != "stream:abc:messages" {
		t.Errorf("messages channel = %s", got)
	}
	if got := TipsChannel("abc"); got != "stream:abc:tips" {
		t.Errorf("tips channel = %s", got)
	}
	if got := StateChannel("abc"); got != "stream:abc:state" {
		t.Errorf("state channel = %s", got)
	}
}
