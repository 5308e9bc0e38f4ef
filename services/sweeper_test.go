package services

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/models"
)

func TestSweeperExpiresStaleOrders(t *testing.T) {
	orders := newMockOrderRepo()
	sweeper := NewSweeper(orders, newMockSubRepo(), newMockPanelClient(), time.Hour, zap.NewNop())

	ref := "tx-stale"
	stale := &models.Order{
		UserID: 1, PlanID: "1m", Provider: models.ProviderCard,
		ExternalRef: &ref, AmountMinor: 100000, Currency: "RUB",
		Status: models.OrderStatusAwaitingPayment, UpdatedAt: time.Now().Add(-2 * time.Hour),
	}
	orders.put(stale)

	ref2 := "tx-fresh"
	fresh := &models.Order{
		UserID: 2, PlanID: "1m", Provider: models.ProviderCard,
		ExternalRef: &ref2, AmountMinor: 100000, Currency: "RUB",
		Status: models.OrderStatusAwaitingPayment, UpdatedAt: time.Now(),
	}
	orders.put(fresh)

	ref3 := "tx-fulfilled"
	done := &models.Order{
		UserID: 3, PlanID: "1m", Provider: models.ProviderCard,
		ExternalRef: &ref3, AmountMinor: 100000, Currency: "RUB",
		Status: models.OrderStatusFulfilled, UpdatedAt: time.Now().Add(-3 * time.Hour),
	}
	orders.put(done)

	sweeper.ExpireStaleOrders(context.Background())

	if got := orders.get(stale.ID); got.Status != models.OrderStatusExpired {
		t.Errorf("stale order: expected expired, got %s", got.Status)
	}
	if got := orders.get(fresh.ID); got.Status != models.OrderStatusAwaitingPayment {
		t.Errorf("fresh order: expected awaiting_payment, got %s", got.Status)
	}
	if got := orders.get(done.ID); got.Status != models.OrderStatusFulfilled {
		t.Errorf("fulfilled order: expected fulfilled, got %s", got.Status)
	}
}

func TestSweeperDriftCheckSurvivesPanelErrors(t *testing.T) {
	subs := newMockSubRepo()
	panel := newMockPanelClient()
	sweeper := NewSweeper(newMockOrderRepo(), subs, panel, time.Hour, zap.NewNop())

	subs.subs[42] = &models.Subscription{
		UserID: 42, PanelIdentity: "panel-42", PlanID: "1m",
		ValidFrom:  time.Now().Add(-24 * time.Hour),
		ValidUntil: time.Now().Add(24 * time.Hour),
	}

	// No panel account for user 42: drift is logged, nothing mutates.
	sweeper.CheckPanelDrift(context.Background())

	sub, err := subs.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("subscription must survive the drift check: %v", err)
	}
	if !sub.ValidUntil.After(time.Now()) {
		t.Error("drift check must not shorten the local window")
	}
	if panel.fetchCalls != 1 {
		t.Errorf("expected 1 panel lookup, got %d", panel.fetchCalls)
	}
}
