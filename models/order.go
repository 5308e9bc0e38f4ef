package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies the payment gateway an order was routed through.
type Provider string

const (
	ProviderCard         Provider = "card"
	ProviderCrypto       Provider = "crypto"
	ProviderSubscription Provider = "subscription"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderCard, ProviderCrypto, ProviderSubscription:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "created"
	// awaiting_payment: invoice issued, external ref recorded, waiting for the webhook.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// provisioning: payment confirmed and the order claimed by exactly one
	// worker; target window persisted, panel call in flight.
	OrderStatusProvisioning OrderStatus = "provisioning"
	// provisioning_failed: payment collected but the panel call failed; the
	// retry job re-drives these.
	OrderStatusProvisioningFailed OrderStatus = "provisioning_failed"
	OrderStatusFulfilled          OrderStatus = "fulfilled"
	OrderStatusFailed             OrderStatus = "failed"
	OrderStatusExpired            OrderStatus = "expired"
)

// Terminal reports whether no further payment event may change the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

// Order is the persistent record of a purchase attempt. Orders are never
// deleted; they double as the audit trail for reconciliation.
type Order struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      int64     `gorm:"not null;index"`
	PlanID      string    `gorm:"type:varchar(32);not null"`
	Provider    Provider  `gorm:"type:varchar(20);not null;uniqueIndex:idx_orders_provider_ref"`
	ExternalRef *string   `gorm:"type:varchar(255);uniqueIndex:idx_orders_provider_ref"`
	// AmountMinor is the expected charge in the smallest currency unit.
	AmountMinor int64       `gorm:"not null"`
	Currency    string      `gorm:"type:varchar(10);not null"`
	Status      OrderStatus `gorm:"type:varchar(20);not null;default:'created';index"`
	Description string      `gorm:"type:varchar(255)"`
	PaymentURL  *string     `gorm:"type:varchar(1024)"`
	// ReviewReason is set when the order needs operator attention
	// (mismatched amount, conflicting replay, exhausted provisioning retries).
	ReviewReason *string `gorm:"type:varchar(255)"`
	// TargetValidFrom/Until are persisted before the panel call so a
	// crash-and-retry recomputes the same window, never a doubled one.
	TargetValidFrom   *time.Time
	TargetValidUntil  *time.Time
	ProvisionAttempts int `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}
