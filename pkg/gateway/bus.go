package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/TrTueTah/ventidole-core/pkg/model"
)

// Publisher pushes fan-out events onto the event bus.
type Publisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// KafkaPublisher writes events to the shared chat-events topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event model.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Value: value,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// EventConsumer reads the event bus and hands every event to the hub.
// Each gateway instance uses a unique consumer group so every instance
// sees every event and routes it to its own local connections.
type EventConsumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewEventConsumer(brokers []string, topic string, logger *slog.Logger) *EventConsumer {
	return &EventConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     fmt.Sprintf("gateway-%d", time.Now().UnixNano()),
			StartOffset: kafka.LastOffset,
			MinBytes:    10e3,
			MaxBytes:    10e6,
		}),
		logger: logger,
	}
}

func (c *EventConsumer) Run(ctx context.Context, handle func(model.Event)) {
	defer c.reader.Close()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("event consumer read failed", "err", err)
			time.Sleep(time.Second)
			continue
		}

		var event model.Event
		if err := json.Unmarshal(m.Value, &event); err != nil {
			c.logger.Error("malformed event on bus", "err", err)
			continue
		}
		handle(event)
	}
}
