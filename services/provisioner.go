package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/models"
	"github.com/onlyold1/rtg-shop/repository"
)

// Provisioner drives the panel call for claimed orders and retries the ones
// that failed. It always works from the target window persisted on the order
// at claim time, so a crash between the panel call and the commit never
// computes a second, longer window.
type Provisioner struct {
	orders      repository.OrderRepository
	subs        repository.SubscriptionRepository
	panel       PanelClient
	notifier    Notifier
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	log         *zap.Logger
	now         func() time.Time
}

func NewProvisioner(
	orders repository.OrderRepository,
	subs repository.SubscriptionRepository,
	panel PanelClient,
	notifier Notifier,
	maxAttempts int,
	baseBackoff, maxBackoff time.Duration,
	log *zap.Logger,
) *Provisioner {
	return &Provisioner{
		orders:      orders,
		subs:        subs,
		panel:       panel,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Provision fulfills one order already in provisioning status. The order
// must carry its target window; orders claimed through ClaimForProvisioning
// always do.
func (p *Provisioner) Provision(ctx context.Context, order *models.Order) error {
	if order.TargetValidFrom == nil || order.TargetValidUntil == nil {
		return fmt.Errorf("order %s claimed without a target window", order.ID)
	}

	access, err := p.panel.EnsureAccess(ctx, order.UserID, *order.TargetValidUntil)
	if err != nil {
		return p.recordFailure(ctx, order, err)
	}

	sub := &models.Subscription{
		UserID:          order.UserID,
		PanelIdentity:   access.Identity,
		SubscriptionURL: access.SubscriptionURL,
		PlanID:          order.PlanID,
		ValidFrom:       *order.TargetValidFrom,
		ValidUntil:      *order.TargetValidUntil,
	}
	if err := p.subs.ExtendWindow(ctx, sub); err != nil {
		return p.recordFailure(ctx, order, err)
	}

	if err := p.orders.MarkFulfilled(ctx, order.ID); err != nil {
		// Losing the provisioning status here means another worker already
		// committed; the panel state is idempotent either way.
		p.log.Warn("fulfillment commit lost the claim",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
		return nil
	}

	p.log.Info("order fulfilled",
		zap.String("order_id", order.ID.String()),
		zap.Int64("user_id", order.UserID),
		zap.Time("valid_until", sub.ValidUntil))
	p.notifier.OrderFulfilled(ctx, order, sub)
	return nil
}

func (p *Provisioner) recordFailure(ctx context.Context, order *models.Order, cause error) error {
	p.log.Error("provisioning failed",
		zap.String("order_id", order.ID.String()),
		zap.Int("attempts", order.ProvisionAttempts+1),
		zap.Error(cause))

	if err := p.orders.MarkProvisioningFailed(ctx, order.ID, cause.Error()); err != nil {
		p.log.Error("failed to record provisioning failure",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
	}
	if order.ProvisionAttempts+1 >= p.maxAttempts {
		p.notifier.OrderUnderReview(ctx, order, "provisioning retries exhausted")
	}
	return cause
}

// RetryFailed re-drives provisioning_failed orders whose backoff has elapsed
// and reclaims provisioning rows abandoned by a crashed worker. Run
// periodically.
func (p *Provisioner) RetryFailed(ctx context.Context) {
	now := p.now()
	stuckBefore := now.Add(-p.maxBackoff)

	orders, err := p.orders.ListRetryable(ctx, p.maxAttempts, stuckBefore)
	if err != nil {
		p.log.Error("failed to list retryable orders", zap.Error(err))
		return
	}

	for i := range orders {
		order := orders[i]
		if order.Status == models.OrderStatusProvisioningFailed &&
			now.Before(order.UpdatedAt.Add(p.backoff(order.ProvisionAttempts))) {
			continue
		}

		claimed, err := p.orders.ReclaimForRetry(ctx, order.ID, stuckBefore)
		if err != nil {
			p.log.Error("failed to reclaim order for retry",
				zap.String("order_id", order.ID.String()),
				zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		order.Status = models.OrderStatusProvisioning
		if err := p.Provision(ctx, &order); err != nil {
			p.log.Warn("provisioning retry failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err))
		}
	}
}

func (p *Provisioner) backoff(attempts int) time.Duration {
	d := p.baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.maxBackoff {
			return p.maxBackoff
		}
	}
	if d > p.maxBackoff {
		return p.maxBackoff
	}
	return d
}
