package models

import "time"

// EventStatus is the canonical payment outcome across all providers.
type EventStatus string

const (
	EventSucceeded EventStatus = "succeeded"
	EventFailed    EventStatus = "failed"
	EventPending   EventStatus = "pending"
)

// PaymentEvent is the normalized form of a verified provider webhook. It is
// ephemeral: adapters produce it, the reconciler consumes it, and only the
// WebhookEvent audit row outlives the request.
type PaymentEvent struct {
	Provider    Provider
	ExternalRef string
	Status      EventStatus
	// AmountMinor is the paid amount in the smallest unit of Currency,
	// normalized from whatever representation the provider uses.
	AmountMinor int64
	Currency    string
	// RawPayloadHash is the SHA-256 of the raw body, used for replay detection.
	RawPayloadHash string
	RawPayload     []byte
	ReceivedAt     time.Time
}

// FulfillmentEvent is what the chat layer consumes from Kafka/SNS when an
// order reaches a user-visible outcome.
type FulfillmentEvent struct {
	Type       string    `json:"type"` // order_fulfilled | order_failed | order_under_review
	OrderID    string    `json:"order_id"`
	UserID     int64     `json:"user_id"`
	PlanID     string    `json:"plan_id"`
	ValidUntil time.Time `json:"valid_until,omitempty"`
	// SubscriptionURL is the panel config link, present on fulfillment only.
	SubscriptionURL string    `json:"subscription_url,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	FulfillmentOrderFulfilled   = "order_fulfilled"
	FulfillmentOrderFailed      = "order_failed"
	FulfillmentOrderUnderReview = "order_under_review"
)
