package models

import "time"

// Subscription is the single access window a user holds on the remote panel.
// One row per user; extensions only ever move valid_until forward.
type Subscription struct {
	UserID int64 `gorm:"primaryKey"`
	// PanelIdentity is the opaque id the panel assigned on first provisioning.
	PanelIdentity string `gorm:"type:varchar(64);not null"`
	// SubscriptionURL is the config link the panel hands out; shown to the user.
	SubscriptionURL string    `gorm:"type:varchar(1024)"`
	PlanID          string    `gorm:"type:varchar(32);not null"`
	ValidFrom       time.Time `gorm:"not null"`
	ValidUntil      time.Time `gorm:"not null;index"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// Active reports whether the subscription covers the given instant.
func (s *Subscription) Active(now time.Time) bool {
	return s != nil && now.Before(s.ValidUntil)
}
