// Package messaging publishes order lifecycle events for downstream
// consumers. Publishing is best-effort and never blocks the pipeline.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LifecycleEvent mirrors the status stream payload on the broker.
type LifecycleEvent struct {
	OrderID   string                 `json:"orderId"`
	Status    string                 `json:"status"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Publisher delivers lifecycle events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, event LifecycleEvent)
	Close() error
}

// NopPublisher drops every event. Used when messaging is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LifecycleEvent) {}
func (NopPublisher) Close() error                            { return nil }

// KafkaPublisher writes lifecycle events to one kafka topic, keyed by
// order id so per-order ordering survives partitioning.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher over the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		},
		logger: logger,
	}
}

// Publish enqueues the event. Failures are logged and dropped.
func (p *KafkaPublisher) Publish(ctx context.Context, event LifecycleEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("encoding lifecycle event", zap.Error(err))
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
	})
	if err != nil {
		p.logger.Warn("publishing lifecycle event",
			zap.String("orderId", event.OrderID),
			zap.String("status", event.Status),
			zap.Error(err))
	}
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
