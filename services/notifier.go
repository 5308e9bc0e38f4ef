package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/models"
)

// EventPublisher is anything that can carry a fulfillment event out of the
// service. Kafka and SNS both satisfy it.
type EventPublisher interface {
	Publish(ctx context.Context, event models.FulfillmentEvent) error
}

// Notifier tells the chat layer what happened to an order. Publishing is
// best-effort on every channel: the order state in Postgres is the source of
// truth, notifications only accelerate the user finding out.
type Notifier interface {
	OrderFulfilled(ctx context.Context, order *models.Order, sub *models.Subscription)
	OrderFailed(ctx context.Context, order *models.Order)
	OrderUnderReview(ctx context.Context, order *models.Order, reason string)
}

type fulfillmentNotifier struct {
	publishers []EventPublisher
	log        *zap.Logger
}

func NewNotifier(log *zap.Logger, publishers ...EventPublisher) Notifier {
	return &fulfillmentNotifier{publishers: publishers, log: log}
}

func (n *fulfillmentNotifier) OrderFulfilled(ctx context.Context, order *models.Order, sub *models.Subscription) {
	event := models.FulfillmentEvent{
		Type:            models.FulfillmentOrderFulfilled,
		OrderID:         order.ID.String(),
		UserID:          order.UserID,
		PlanID:          order.PlanID,
		ValidUntil:      sub.ValidUntil,
		SubscriptionURL: sub.SubscriptionURL,
		Timestamp:       time.Now().UTC(),
	}
	n.publish(ctx, event)
}

func (n *fulfillmentNotifier) OrderFailed(ctx context.Context, order *models.Order) {
	event := models.FulfillmentEvent{
		Type:      models.FulfillmentOrderFailed,
		OrderID:   order.ID.String(),
		UserID:    order.UserID,
		PlanID:    order.PlanID,
		Timestamp: time.Now().UTC(),
	}
	n.publish(ctx, event)
}

func (n *fulfillmentNotifier) OrderUnderReview(ctx context.Context, order *models.Order, reason string) {
	event := models.FulfillmentEvent{
		Type:      models.FulfillmentOrderUnderReview,
		OrderID:   order.ID.String(),
		UserID:    order.UserID,
		PlanID:    order.PlanID,
		Timestamp: time.Now().UTC(),
	}
	n.log.Warn("order flagged for review",
		zap.String("order_id", order.ID.String()),
		zap.String("reason", reason))
	n.publish(ctx, event)
}

func (n *fulfillmentNotifier) publish(ctx context.Context, event models.FulfillmentEvent) {
	for _, p := range n.publishers {
		if err := p.Publish(ctx, event); err != nil {
			n.log.Error("fulfillment event publish failed",
				zap.String("order_id", event.OrderID),
				zap.String("type", event.Type),
				zap.Error(err))
		}
	}
}
