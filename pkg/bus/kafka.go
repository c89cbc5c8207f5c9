package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/TechSanzo/chaturbate/pkg/log"
)

// channelToTopicAndKey converts a channel name to a Kafka topic and
// message key.
//
//	"stream:S123:messages" → topic: "stream-messages", key: "S123"
//	"stream:S123:tips"     → topic: "stream-tips",     key: "S123"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	// Expected format: stream:{streamID}:{family}
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "stream" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return "stream-" + parts[2], parts[1], nil
}

// kafkaSubscription tracks a single consumer subscription. done closes
// when the poll loop has exited, after which the consumer is safe to
// close.
type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	return s.consumer.Close()
}

// KafkaBus implements Bus using Apache Kafka. Messages are keyed by
// stream id, so per-stream ordering is preserved within a topic.
type KafkaBus struct {
	producer      *kafka.Producer
	subscriptions map[string]*kafkaSubscription
	config        KafkaConfig
	mu            sync.Mutex
	doneCh        chan struct{}
}

// NewKafkaBus creates a new Kafka-backed Bus.
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	b := &KafkaBus{
		producer:      p,
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
		doneCh:        make(chan struct{}),
	}

	go b.deliveryReportHandler()

	if err := b.ensureTopics(); err != nil {
		log.L().Warn().Err(err).Msg("failed to ensure kafka topics (may already exist)")
	}

	return b, nil
}

// ensureTopics creates the fixed topics if they don't exist.
func (b *KafkaBus) ensureTopics() error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": b.config.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := b.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topics := []kafka.TopicSpecification{
		{Topic: "stream-messages", NumPartitions: partitions, ReplicationFactor: 1},
		{Topic: "stream-tips", NumPartitions: partitions, ReplicationFactor: 1},
		{Topic: "stream-state", NumPartitions: partitions, ReplicationFactor: 1},
	}

	results, err := admin.CreateTopics(ctx, topics)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			log.L().Warn().Str("topic", r.Topic).Msg(r.Error.String())
		}
	}

	return nil
}

// deliveryReportHandler processes delivery reports from the producer.
func (b *KafkaBus) deliveryReportHandler() {
	for e := range b.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			log.L().Error().Err(ev.TopicPartition.Error).Msg("kafka bus delivery failed")
		}
	}
	close(b.doneCh)
}

// Publish publishes an event to the channel's Kafka topic.
func (b *KafkaBus) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = b.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Subscribe subscribes to a channel, filtering the topic by stream id.
// It returns only once the group rebalance has assigned partitions to
// this consumer, so an event produced after Subscribe returns cannot
// land before the consumer is reading. The context bounds that
// assignment wait; the subscription itself lives until Unsubscribe or
// Close.
func (b *KafkaBus) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, streamID, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}

	b.mu.Lock()
	existing := b.subscriptions[channel]
	delete(b.subscriptions, channel)
	b.mu.Unlock()
	if existing != nil {
		existing.stop()
	}

	groupID := b.config.GroupID
	if groupID == "" {
		groupID = "bus-default"
	}
	consumerGroupID := fmt.Sprintf("%s-%s", groupID, sanitizeGroupID(channel))

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       b.config.Brokers,
		"group.id":                consumerGroupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	// The rebalance callback fires from the poll loop; it signals once
	// partitions are assigned so Subscribe can hold its ack guarantee.
	assigned := make(chan struct{}, 1)
	rebalance := func(consumer *kafka.Consumer, event kafka.Event) error {
		switch e := event.(type) {
		case kafka.AssignedPartitions:
			if err := consumer.Assign(e.Partitions); err != nil {
				return err
			}
			select {
			case assigned <- struct{}{}:
			default:
			}
		case kafka.RevokedPartitions:
			return consumer.Unassign()
		}
		return nil
	}

	if err := c.Subscribe(topic, rebalance); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	eventCh := make(chan *Event, 100)
	sub := &kafkaSubscription{consumer: c, cancel: cancel, done: make(chan struct{})}

	go b.consumeMessages(subCtx, sub, eventCh, streamID)

	select {
	case <-assigned:
	case <-ctx.Done():
		sub.stop()
		return nil, fmt.Errorf("subscribe to topic %s: no partition assignment: %w", topic, ctx.Err())
	}

	b.mu.Lock()
	b.subscriptions[channel] = sub
	b.mu.Unlock()

	return eventCh, nil
}

// consumeMessages polls Kafka and forwards matching events. Rebalance
// callbacks registered on the consumer fire from this loop.
func (b *KafkaBus) consumeMessages(ctx context.Context, sub *kafkaSubscription, eventCh chan<- *Event, streamID string) {
	defer close(sub.done)
	defer close(eventCh)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := sub.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if streamID != "" && string(e.Key) != streamID {
				continue
			}

			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				log.L().Warn().Err(err).Msg("kafka bus: failed to unmarshal event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			}

		case kafka.Error:
			log.L().Error().Err(e).Bool("fatal", e.IsFatal()).Msg("kafka bus error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// Unsubscribe unsubscribes from a channel.
func (b *KafkaBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	sub, ok := b.subscriptions[channel]
	if ok {
		delete(b.subscriptions, channel)
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.stop(); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}

// Close closes all subscriptions and the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	subs := make([]*kafkaSubscription, 0, len(b.subscriptions))
	for key, sub := range b.subscriptions {
		subs = append(subs, sub)
		delete(b.subscriptions, key)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	b.producer.Flush(5000)
	b.producer.Close()
	<-b.doneCh

	return nil
}

// sanitizeGroupID replaces characters not suitable for Kafka group IDs.
var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
