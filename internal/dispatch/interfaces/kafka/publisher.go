// Package kafka bridges dispatch lifecycle events onto a Kafka topic for
// downstream consumers (attendance pipelines, fleet dashboards).
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"terminal-cloud/internal/eventing"
)

// Bridge forwards bus events to Kafka as JSON envelopes keyed by device
// serial, so one device's events land in one partition, in order.
type Bridge struct {
	writer *kafka.Writer
	logger *log.Logger
}

// NewBridge constructs a bridge writing to the given brokers and topic.
func NewBridge(brokers []string, topic string, logger *log.Logger) (*Bridge, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka bridge: no brokers")
	}
	if topic == "" {
		return nil, errors.New("kafka bridge: empty topic")
	}
	if logger == nil {
		return nil, errors.New("kafka bridge: nil logger")
	}
	return &Bridge{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
		logger: logger,
	}, nil
}

// Attach subscribes the bridge to the given event types on the bus.
func (b *Bridge) Attach(bus eventing.Subscriber, eventTypes ...string) {
	for _, eventType := range eventTypes {
		bus.Subscribe(eventType, b.handle)
	}
}

func (b *Bridge) handle(ctx context.Context, event any) error {
	env, ok := eventing.EnvelopeFromContext(ctx)
	if !ok {
		built, err := eventing.BuildEnvelope(event, eventing.MetaFromContext(ctx))
		if err != nil {
			return err
		}
		env = built
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(env.DeviceSN),
		Value: value,
		Time:  env.OccurredAt,
	}); err != nil {
		// The bus must never stall on a broker outage; drop and log.
		b.logger.Printf("kafka bridge: write %s: %v", env.EventType, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (b *Bridge) Close() error {
	return b.writer.Close()
}
