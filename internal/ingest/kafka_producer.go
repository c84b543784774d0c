package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/campusride/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes offer change events keyed by offer id, so every
// change of one offer lands on the same partition in order.
type KafkaProducer struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaProducer) Name() string { return "kafka" }

// Handle publishes one event. It satisfies dispatch.Sink.
func (k *KafkaProducer) Handle(ctx context.Context, ev models.OfferEvent) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.Offer.ID),
		Value:   b,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(ev.Type)}},
		Time:    ev.At,
	})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// DecodeEvent parses a message produced by KafkaProducer.
func DecodeEvent(m kafka.Message) (models.OfferEvent, error) {
	var ev models.OfferEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, err
	}
	if ev.Offer.ID == "" {
		return ev, fmt.Errorf("event %q has no offer id", ev.ID)
	}
	return ev, nil
}
