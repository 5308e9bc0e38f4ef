package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/repository"
)

// Sweeper owns the periodic maintenance passes: expiring unpaid orders and
// checking the panel for drift against the local subscription records.
type Sweeper struct {
	orders   repository.OrderRepository
	subs     repository.SubscriptionRepository
	panel    PanelClient
	orderTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewSweeper(
	orders repository.OrderRepository,
	subs repository.SubscriptionRepository,
	panel PanelClient,
	orderTTL time.Duration,
	log *zap.Logger,
) *Sweeper {
	return &Sweeper{
		orders:   orders,
		subs:     subs,
		panel:    panel,
		orderTTL: orderTTL,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ExpireStaleOrders closes orders that never saw a payment within the TTL.
// Expired is terminal: a late success webhook on one of these lands in
// manual review rather than silently resurrecting the order.
func (s *Sweeper) ExpireStaleOrders(ctx context.Context) {
	cutoff := s.now().Add(-s.orderTTL)
	count, err := s.orders.ExpireStale(ctx, cutoff)
	if err != nil {
		s.log.Error("order expiry sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.log.Info("expired stale orders", zap.Int64("count", count))
	}
}

// CheckPanelDrift compares every active local subscription against the
// panel. Drift is only reported; the local record is the billing truth and
// the panel the enforcement truth, and reconciling them is an operator call.
func (s *Sweeper) CheckPanelDrift(ctx context.Context) {
	subs, err := s.subs.ListActive(ctx, s.now())
	if err != nil {
		s.log.Error("drift check failed to list subscriptions", zap.Error(err))
		return
	}

	var drifted int
	for i := range subs {
		sub := subs[i]
		access, err := s.panel.FetchAccess(ctx, sub.UserID)
		if err != nil {
			s.log.Warn("drift check panel lookup failed",
				zap.Int64("user_id", sub.UserID),
				zap.Error(err))
			continue
		}
		if access == nil {
			drifted++
			s.log.Warn("subscription has no panel account",
				zap.Int64("user_id", sub.UserID),
				zap.Time("valid_until", sub.ValidUntil))
			continue
		}
		if access.ExpireAt.Before(sub.ValidUntil.Add(-time.Minute)) {
			drifted++
			s.log.Warn("panel expiry behind local subscription",
				zap.Int64("user_id", sub.UserID),
				zap.Time("panel_expire_at", access.ExpireAt),
				zap.Time("valid_until", sub.ValidUntil))
		}
	}
	if drifted > 0 {
		s.log.Warn("panel drift detected", zap.Int("subscriptions", drifted))
	}
}
