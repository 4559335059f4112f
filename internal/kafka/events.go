package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ghibli-go/internal/imtypes"
)

// EventPublisher 发布转换事件。
type EventPublisher interface {
	Publish(ctx context.Context, event imtypes.ConversionEvent) error
}

// topicPublisher 把事件编码为 JSON 写入固定 topic, 以事件 ID 作为 key。
type topicPublisher struct {
	producer MessageProducer
	topic    string
}

// NewEventPublisher wraps a MessageProducer so conversion events are
// JSON-encoded and sent to topic.
func NewEventPublisher(producer MessageProducer, topic string) EventPublisher {
	return &topicPublisher{producer: producer, topic: topic}
}

func (p *topicPublisher) Publish(ctx context.Context, event imtypes.ConversionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	return p.producer.SendMessage(ctx, p.topic, []byte(event.ID), payload)
}

// NopPublisher 在 Kafka 未启用时使用。
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, imtypes.ConversionEvent) error { return nil }
