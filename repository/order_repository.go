package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/onlyold1/rtg-shop/models"
)

// OrderRepository persists orders and owns every status transition after
// creation. Transitions are conditional updates keyed on the current status,
// so the exactly-once guarantees hold across concurrent webhook deliveries
// and across process instances.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByProviderRef(ctx context.Context, provider models.Provider, externalRef string) (*models.Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Order, error)

	// AttachExternalRef moves created -> awaiting_payment, recording the
	// provider-assigned transaction id and the payment URL.
	AttachExternalRef(ctx context.Context, id uuid.UUID, externalRef string, paymentURL *string) error

	// ClaimForProvisioning is the single atomic awaiting_payment ->
	// provisioning transition. It computes the target window inside the
	// claim, serialized per user, so concurrent claims for distinct orders
	// stack on top of each other instead of sharing a base. The window is
	// persisted in the same update; the claim succeeding means this caller,
	// and nobody else, fulfills the order.
	ClaimForProvisioning(ctx context.Context, id uuid.UUID, userID int64, window time.Duration) (validFrom, validUntil time.Time, claimed bool, err error)

	// ReclaimForRetry moves provisioning_failed (or a provisioning row
	// stuck since before stuckBefore, i.e. a crashed worker) back into
	// provisioning without touching the stored target window.
	ReclaimForRetry(ctx context.Context, id uuid.UUID, stuckBefore time.Time) (bool, error)

	// MarkFulfilled commits provisioning -> fulfilled.
	MarkFulfilled(ctx context.Context, id uuid.UUID) error
	// MarkProvisioningFailed records a failed panel call and bumps the
	// attempt counter.
	MarkProvisioningFailed(ctx context.Context, id uuid.UUID, reason string) error
	// MarkFailed moves awaiting_payment -> failed on a failed payment event.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// FlagForReview records an operator-attention reason without changing
	// the order status.
	FlagForReview(ctx context.Context, id uuid.UUID, reason string) error

	// ExpireStale moves created and awaiting_payment orders older than
	// cutoff to expired and returns how many were reclaimed.
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)

	// ListRetryable returns provisioning_failed orders under the attempt
	// bound plus provisioning orders untouched since stuckBefore.
	ListRetryable(ctx context.Context, maxAttempts int, stuckBefore time.Time) ([]models.Order, error)
}

type gormOrderRepo struct {
	db *gorm.DB
}

func NewGormOrderRepo(db *gorm.DB) OrderRepository {
	return &gormOrderRepo{db: db}
}

func (r *gormOrderRepo) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *gormOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderRepo) GetByProviderRef(ctx context.Context, provider models.Provider, externalRef string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_ref = ?", provider, externalRef).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *gormOrderRepo) AttachExternalRef(ctx context.Context, id uuid.UUID, externalRef string, paymentURL *string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusCreated).
		Updates(map[string]interface{}{
			"external_ref": externalRef,
			"payment_url":  paymentURL,
			"status":       models.OrderStatusAwaitingPayment,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormOrderRepo) ClaimForProvisioning(ctx context.Context, id uuid.UUID, userID int64, window time.Duration) (time.Time, time.Time, bool, error) {
	var validFrom, validUntil time.Time
	var claimed bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Per-user advisory lock: concurrent claims for the same user
		// compute their windows one at a time, so each stacks on top of
		// whatever the previous one scheduled.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", userID).Error; err != nil {
			return err
		}

		base := time.Now().UTC()
		var sub models.Subscription
		if err := tx.First(&sub, "user_id = ?", userID).Error; err == nil {
			if sub.ValidUntil.After(base) {
				base = sub.ValidUntil
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Windows already handed to in-flight claims count too: their
		// orders are paid and will extend the subscription eventually.
		var inflight sql.NullTime
		if err := tx.Model(&models.Order{}).
			Where("user_id = ? AND status IN ?", userID,
				[]models.OrderStatus{models.OrderStatusProvisioning, models.OrderStatusProvisioningFailed}).
			Select("MAX(target_valid_until)").
			Scan(&inflight).Error; err != nil {
			return err
		}
		if inflight.Valid && inflight.Time.After(base) {
			base = inflight.Time
		}

		validFrom, validUntil = base, base.Add(window)

		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", id, models.OrderStatusAwaitingPayment).
			Updates(map[string]interface{}{
				"status":             models.OrderStatusProvisioning,
				"target_valid_from":  validFrom,
				"target_valid_until": validUntil,
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	return validFrom, validUntil, claimed, err
}

func (r *gormOrderRepo) ReclaimForRetry(ctx context.Context, id uuid.UUID, stuckBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND (status = ? OR (status = ? AND updated_at < ?))",
			id, models.OrderStatusProvisioningFailed, models.OrderStatusProvisioning, stuckBefore).
		Update("status", models.OrderStatusProvisioning)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormOrderRepo) MarkFulfilled(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusProvisioning).
		Updates(map[string]interface{}{
			"status":        models.OrderStatusFulfilled,
			"review_reason": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormOrderRepo) MarkProvisioningFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusProvisioning).
		Updates(map[string]interface{}{
			"status":             models.OrderStatusProvisioningFailed,
			"review_reason":      reason,
			"provision_attempts": gorm.Expr("provision_attempts + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormOrderRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusAwaitingPayment).
		Update("status", models.OrderStatusFailed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormOrderRepo) FlagForReview(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("review_reason", reason).Error
}

func (r *gormOrderRepo) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("status IN ? AND updated_at < ?",
			[]models.OrderStatus{models.OrderStatusCreated, models.OrderStatusAwaitingPayment}, cutoff).
		Update("status", models.OrderStatusExpired)
	return res.RowsAffected, res.Error
}

func (r *gormOrderRepo) ListRetryable(ctx context.Context, maxAttempts int, stuckBefore time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("(status = ? AND provision_attempts < ?) OR (status = ? AND updated_at < ?)",
			models.OrderStatusProvisioningFailed, maxAttempts, models.OrderStatusProvisioning, stuckBefore).
		Order("updated_at ASC").
		Find(&orders).Error
	return orders, err
}
