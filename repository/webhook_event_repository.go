package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/onlyold1/rtg-shop/models"
)

// WebhookEventRepository is the durable inbound-event log. The unique
// (provider, external_ref, payload_hash) index is what makes identical
// replays detectable: a second insert of the same payload fails with
// gorm.ErrDuplicatedKey.
type WebhookEventRepository interface {
	Record(ctx context.Context, event *models.WebhookEvent) error
	ListByRef(ctx context.Context, provider models.Provider, externalRef string) ([]models.WebhookEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.WebhookEventStatus, note *string) error
}

type gormWebhookEventRepo struct {
	db *gorm.DB
}

func NewGormWebhookEventRepo(db *gorm.DB) WebhookEventRepository {
	return &gormWebhookEventRepo{db: db}
}

func (r *gormWebhookEventRepo) Record(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *gormWebhookEventRepo) ListByRef(ctx context.Context, provider models.Provider, externalRef string) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_ref = ?", provider, externalRef).
		Order("received_at ASC").
		Find(&events).Error
	return events, err
}

func (r *gormWebhookEventRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.WebhookEventStatus, note *string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status": status,
			"note":   note,
		}).Error
}
