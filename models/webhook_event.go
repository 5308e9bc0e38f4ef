package models

import (
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventDuplicate WebhookEventStatus = "duplicate"
	WebhookEventOrphaned  WebhookEventStatus = "orphaned"
	WebhookEventConflict  WebhookEventStatus = "conflict"
	WebhookEventMismatch  WebhookEventStatus = "mismatched_amount"
	WebhookEventIgnored   WebhookEventStatus = "ignored"
)

// WebhookEvent is the durable record of every verified inbound webhook.
// It serves three purposes: the provider gets its 200 only after the event is
// persisted, replays are detected by (provider, external_ref, payload_hash),
// and orphaned/conflicting deliveries are kept for manual reconciliation.
type WebhookEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Provider    Provider  `gorm:"type:varchar(20);not null;uniqueIndex:idx_webhook_events_replay"`
	ExternalRef string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_events_replay"`
	PayloadHash string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_webhook_events_replay"`
	EventStatus EventStatus        `gorm:"type:varchar(20);not null"`
	Status      WebhookEventStatus `gorm:"type:varchar(20);not null;index"`
	AmountMinor int64              `gorm:"not null"`
	Currency    string             `gorm:"type:varchar(10);not null"`
	RawPayload  string             `gorm:"type:jsonb"`
	Note        *string            `gorm:"type:varchar(255)"`
	ReceivedAt  time.Time          `gorm:"not null"`
	CreatedAt   time.Time          `gorm:"autoCreateTime"`
}
