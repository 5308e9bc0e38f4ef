package services

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/models"
)

func newProvisionerFixture() (*Provisioner, *mockOrderRepo, *mockSubRepo, *mockPanelClient, *mockNotifier) {
	orders := newMockOrderRepo()
	subs := newMockSubRepo()
	panel := newMockPanelClient()
	notifier := &mockNotifier{}
	p := NewProvisioner(orders, subs, panel, notifier, 3, time.Millisecond, time.Minute, zap.NewNop())
	return p, orders, subs, panel, notifier
}

func claimedOrder(orders *mockOrderRepo, attempts int, status models.OrderStatus, updatedAt time.Time) *models.Order {
	ref := "tx-1"
	from := time.Now().UTC()
	until := from.Add(90 * 24 * time.Hour)
	order := &models.Order{
		UserID:            42,
		PlanID:            "3m",
		Provider:          models.ProviderCard,
		ExternalRef:       &ref,
		AmountMinor:       270000,
		Currency:          "RUB",
		Status:            status,
		TargetValidFrom:   &from,
		TargetValidUntil:  &until,
		ProvisionAttempts: attempts,
		UpdatedAt:         updatedAt,
	}
	orders.put(order)
	return order
}

func TestProvisionerRetriesToSuccess(t *testing.T) {
	p, orders, subs, panel, _ := newProvisionerFixture()
	panel.failures = 2

	order := claimedOrder(orders, 0, models.OrderStatusProvisioning, time.Now())
	if err := p.Provision(context.Background(), order); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	if got := orders.get(order.ID); got.Status != models.OrderStatusProvisioningFailed {
		t.Fatalf("expected provisioning_failed, got %s", got.Status)
	}

	// Backoff is a millisecond in tests; two drains get through the second
	// failure and then succeed.
	time.Sleep(5 * time.Millisecond)
	p.RetryFailed(context.Background())
	time.Sleep(5 * time.Millisecond)
	p.RetryFailed(context.Background())

	got := orders.get(order.ID)
	if got.Status != models.OrderStatusFulfilled {
		t.Errorf("expected fulfilled after retries, got %s", got.Status)
	}
	sub, err := subs.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected subscription, got %v", err)
	}
	if !sub.ValidUntil.Equal(*got.TargetValidUntil) {
		t.Errorf("subscription window %v does not match stored target %v", sub.ValidUntil, *got.TargetValidUntil)
	}
}

func TestProvisionerRecoversStuckClaim(t *testing.T) {
	p, orders, subs, _, _ := newProvisionerFixture()

	// A worker crashed mid-provisioning two hours ago. The stored target
	// window must be reused, not recomputed.
	stale := time.Now().Add(-2 * time.Hour)
	order := claimedOrder(orders, 0, models.OrderStatusProvisioning, stale)
	storedUntil := *orders.get(order.ID).TargetValidUntil

	p.RetryFailed(context.Background())

	got := orders.get(order.ID)
	if got.Status != models.OrderStatusFulfilled {
		t.Fatalf("expected fulfilled, got %s", got.Status)
	}
	sub, err := subs.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected subscription, got %v", err)
	}
	if !sub.ValidUntil.Equal(storedUntil) {
		t.Errorf("expected window from stored target %v, got %v", storedUntil, sub.ValidUntil)
	}
}

func TestProvisionerDoesNotTouchFreshClaims(t *testing.T) {
	p, orders, _, panel, _ := newProvisionerFixture()

	// Another worker claimed this order moments ago; it is not stuck.
	order := claimedOrder(orders, 0, models.OrderStatusProvisioning, time.Now())
	p.RetryFailed(context.Background())

	if got := orders.get(order.ID); got.Status != models.OrderStatusProvisioning {
		t.Errorf("fresh claim must be left alone, got %s", got.Status)
	}
	if panel.calls() != 0 {
		t.Errorf("expected no panel calls, got %d", panel.calls())
	}
}

func TestProvisionerEscalatesAfterMaxAttempts(t *testing.T) {
	p, orders, _, panel, notifier := newProvisionerFixture()
	panel.failures = 10

	order := claimedOrder(orders, 2, models.OrderStatusProvisioning, time.Now())
	if err := p.Provision(context.Background(), order); err == nil {
		t.Fatal("expected failure")
	}

	got := orders.get(order.ID)
	if got.ProvisionAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", got.ProvisionAttempts)
	}
	if len(notifier.review) != 1 {
		t.Errorf("expected escalation to review, got %d notifications", len(notifier.review))
	}

	// Exhausted orders drop out of the retry list.
	p.RetryFailed(context.Background())
	if got := orders.get(order.ID); got.ProvisionAttempts != 3 {
		t.Errorf("exhausted order retried anyway: %d attempts", got.ProvisionAttempts)
	}
}

func TestProvisionerBackoffGrowth(t *testing.T) {
	p := &Provisioner{baseBackoff: 30 * time.Second, maxBackoff: 15 * time.Minute}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{10, 15 * time.Minute},
	}
	for _, tc := range cases {
		if got := p.backoff(tc.attempts); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}
