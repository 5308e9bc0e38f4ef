package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/models"
)

// FulfillmentEventProducer publishes order outcomes for the chat layer to
// consume. Messages are keyed by order id so outcomes for one order stay in
// partition order.
type FulfillmentEventProducer struct {
	writer *kafka.Writer
	topic  string
	log    *zap.Logger
}

func NewFulfillmentEventProducer(brokers []string, topic string, log *zap.Logger) *FulfillmentEventProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("kafka producer initialized",
		zap.String("topic", topic),
		zap.Strings("brokers", brokers))
	return &FulfillmentEventProducer{writer: w, topic: topic, log: log}
}

func (p *FulfillmentEventProducer) Publish(ctx context.Context, event models.FulfillmentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to publish fulfillment event",
			zap.String("order_id", event.OrderID),
			zap.String("type", event.Type),
			zap.Error(err))
		return err
	}

	p.log.Info("fulfillment event published",
		zap.String("order_id", event.OrderID),
		zap.String("type", event.Type))
	return nil
}

func (p *FulfillmentEventProducer) Close() {
	_ = p.writer.Close()
	p.log.Info("kafka producer closed")
}
