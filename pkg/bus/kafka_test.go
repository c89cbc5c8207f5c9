package bus

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestChannelToTopicAndKey(t *testing.T) {
	cases := []struct {
		channel string
		topic   string
		key     string
		wantErr bool
	}{
		{"stream:S123:messages", "stream-messages", "S123", false},
		{"stream:S123:tips", "stream-tips", "S123", false},
		{"stream:S123:state", "stream-state", "S123", false},
		{"bogus", "", "", true},
		{"stream:S123", "", "", true},
	}
	for _, tc := range cases {
		topic, key, err := channelToTopicAndKey(tc.channel)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: want error", tc.channel)
			}
			continue
		}
		if err != nil || topic != tc.topic || key != tc.key {
			t.Errorf("%s: got (%s, %s, %v), want (%s, %s)", tc.channel, topic, key, err, tc.topic, tc.key)
		}
	}
}

func TestKafkaSubscribeWaitsForAssignment(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a real consumer handle")
	}

	// No broker behind this address, so the group rebalance never
	// assigns partitions; Subscribe must hold until the context bound
	// rather than returning an unassigned consumer.
	b := &KafkaBus{
		subscriptions: make(map[string]*kafkaSubscription),
		config:        KafkaConfig{Brokers: "127.0.0.1:9", GroupID: "bus-test"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.Subscribe(ctx, MessagesChannel("s1"))
	if err == nil {
		t.Fatal("subscribe succeeded without a partition assignment")
	}
	if !strings.Contains(err.Error(), "no partition assignment") {
		t.Fatalf("err = %v, want assignment wait failure", err)
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Fatalf("subscribe returned after %v, want it to hold for the context bound", time.Since(start))
	}

	if len(b.subscriptions) != 0 {
		t.Fatalf("failed subscribe left %d subscriptions registered", len(b.subscriptions))
	}
}
