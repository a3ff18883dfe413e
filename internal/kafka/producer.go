package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"io.eduverse/notifysync/internal/domain"
)

// Event names carried in PushEvent.Event.
const (
	EventPush    = "push"
	EventDismiss = "dismiss"
)

// PushEvent is the JSON value of every record the producer writes.
type PushEvent struct {
	Event      string       `json:"event"`
	Tag        string       `json:"tag"`
	Push       *domain.Push `json:"push,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// Producer publishes pushes to a Kafka topic so other devices or services
// can display them. It satisfies application.Pusher.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer creates a Producer writing to topic on the given brokers.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, err
	}
	return &Producer{client: client, topic: topic}, nil
}

func (p *Producer) Push(ctx context.Context, push domain.Push) error {
	return p.produce(ctx, PushEvent{Event: EventPush, Tag: push.Tag, Push: &push, OccurredAt: time.Now().UTC()})
}

func (p *Producer) Dismiss(ctx context.Context, tag string) error {
	return p.produce(ctx, PushEvent{Event: EventDismiss, Tag: tag, OccurredAt: time.Now().UTC()})
}

func (p *Producer) produce(ctx context.Context, ev PushEvent) error {
	rec, err := NewRecord(p.topic, ev)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s event: %w", ev.Event, err)
	}

	log.Debug().
		Str("topic", p.topic).
		Str("event", ev.Event).
		Str("tag", ev.Tag).
		Msg("push event produced")
	return nil
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close() {
	p.client.Close()
	log.Info().Msg("kafka producer stopped")
}

// NewRecord encodes ev as a record keyed by its tag, so every event of one
// notification lands on the same partition.
func NewRecord(topic string, ev PushEvent) (*kgo.Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode push event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(ev.Tag),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event", Value: []byte(ev.Event)},
		},
	}, nil
}
