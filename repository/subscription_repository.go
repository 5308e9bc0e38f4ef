package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/onlyold1/rtg-shop/models"
)

// SubscriptionRepository persists the one-per-user access window.
type SubscriptionRepository interface {
	Get(ctx context.Context, userID int64) (*models.Subscription, error)
	// ExtendWindow creates the subscription on first fulfillment or extends
	// it on later ones. valid_until never moves backwards, so replayed or
	// out-of-order fulfillments cannot shorten access.
	ExtendWindow(ctx context.Context, sub *models.Subscription) error
	// ListActive returns subscriptions still valid at now; used by the
	// panel drift check.
	ListActive(ctx context.Context, now time.Time) ([]models.Subscription, error)
}

type gormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) SubscriptionRepository {
	return &gormSubscriptionRepo{db: db}
}

func (r *gormSubscriptionRepo) Get(ctx context.Context, userID int64) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormSubscriptionRepo) ExtendWindow(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"panel_identity":   sub.PanelIdentity,
			"subscription_url": sub.SubscriptionURL,
			"plan_id":          sub.PlanID,
			"valid_until":      gorm.Expr("GREATEST(subscriptions.valid_until, ?)", sub.ValidUntil),
			"updated_at":       gorm.Expr("NOW()"),
		}),
	}).Create(sub).Error
}

func (r *gormSubscriptionRepo) ListActive(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Where("valid_until > ?", now).Find(&subs).Error
	return subs, err
}
