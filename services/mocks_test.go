package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/onlyold1/rtg-shop/models"
)

// In-memory repositories with the same atomicity semantics as the Postgres
// ones: conditional transitions mutate under one lock, so claim races behave
// the way RowsAffected checks do.

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	subs   *mockSubRepo
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func (r *mockOrderRepo) put(order *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	cp := *order
	r.orders[order.ID] = &cp
}

func (r *mockOrderRepo) get(id uuid.UUID) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.orders[id]
	return &cp
}

func (r *mockOrderRepo) Create(ctx context.Context, order *models.Order) error {
	r.put(order)
	return nil
}

func (r *mockOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *order
	return &cp, nil
}

func (r *mockOrderRepo) GetByProviderRef(ctx context.Context, provider models.Provider, externalRef string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.Provider == provider && order.ExternalRef != nil && *order.ExternalRef == externalRef {
			cp := *order
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockOrderRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (r *mockOrderRepo) AttachExternalRef(ctx context.Context, id uuid.UUID, externalRef string, paymentURL *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok || order.Status != models.OrderStatusCreated {
		return gorm.ErrRecordNotFound
	}
	order.ExternalRef = &externalRef
	order.PaymentURL = paymentURL
	order.Status = models.OrderStatusAwaitingPayment
	order.UpdatedAt = time.Now()
	return nil
}

func (r *mockOrderRepo) ClaimForProvisioning(ctx context.Context, id uuid.UUID, userID int64, window time.Duration) (time.Time, time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok || order.Status != models.OrderStatusAwaitingPayment {
		return time.Time{}, time.Time{}, false, nil
	}

	// Same base computation as the Postgres claim: current subscription end,
	// then any window already promised to an in-flight claim for this user.
	base := time.Now().UTC()
	if r.subs != nil {
		if sub, err := r.subs.Get(ctx, userID); err == nil && sub.ValidUntil.After(base) {
			base = sub.ValidUntil
		}
	}
	for _, other := range r.orders {
		if other.UserID != userID || other.TargetValidUntil == nil {
			continue
		}
		if (other.Status == models.OrderStatusProvisioning || other.Status == models.OrderStatusProvisioningFailed) &&
			other.TargetValidUntil.After(base) {
			base = *other.TargetValidUntil
		}
	}

	validFrom, validUntil := base, base.Add(window)
	order.Status = models.OrderStatusProvisioning
	order.TargetValidFrom = &validFrom
	order.TargetValidUntil = &validUntil
	order.UpdatedAt = time.Now()
	return validFrom, validUntil, true, nil
}

func (r *mockOrderRepo) ReclaimForRetry(ctx context.Context, id uuid.UUID, stuckBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return false, nil
	}
	if order.Status == models.OrderStatusProvisioningFailed ||
		(order.Status == models.OrderStatusProvisioning && order.UpdatedAt.Before(stuckBefore)) {
		order.Status = models.OrderStatusProvisioning
		order.UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (r *mockOrderRepo) MarkFulfilled(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok || order.Status != models.OrderStatusProvisioning {
		return gorm.ErrRecordNotFound
	}
	order.Status = models.OrderStatusFulfilled
	order.ReviewReason = nil
	order.UpdatedAt = time.Now()
	return nil
}

func (r *mockOrderRepo) MarkProvisioningFailed(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok || order.Status != models.OrderStatusProvisioning {
		return gorm.ErrRecordNotFound
	}
	order.Status = models.OrderStatusProvisioningFailed
	order.ReviewReason = &reason
	order.ProvisionAttempts++
	order.UpdatedAt = time.Now()
	return nil
}

func (r *mockOrderRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok || order.Status != models.OrderStatusAwaitingPayment {
		return gorm.ErrRecordNotFound
	}
	order.Status = models.OrderStatusFailed
	order.UpdatedAt = time.Now()
	return nil
}

func (r *mockOrderRepo) FlagForReview(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	order.ReviewReason = &reason
	return nil
}

func (r *mockOrderRepo) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, order := range r.orders {
		if (order.Status == models.OrderStatusCreated || order.Status == models.OrderStatusAwaitingPayment) &&
			order.UpdatedAt.Before(cutoff) {
			order.Status = models.OrderStatusExpired
			count++
		}
	}
	return count, nil
}

func (r *mockOrderRepo) ListRetryable(ctx context.Context, maxAttempts int, stuckBefore time.Time) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, order := range r.orders {
		if order.Status == models.OrderStatusProvisioningFailed && order.ProvisionAttempts < maxAttempts {
			out = append(out, *order)
		}
		if order.Status == models.OrderStatusProvisioning && order.UpdatedAt.Before(stuckBefore) {
			out = append(out, *order)
		}
	}
	return out, nil
}

type replayKey struct {
	provider    models.Provider
	externalRef string
	payloadHash string
}

type mockEventRepo struct {
	mu     sync.Mutex
	events map[replayKey]*models.WebhookEvent
	byID   map[uuid.UUID]*models.WebhookEvent
}

func newMockEventRepo() *mockEventRepo {
	return &mockEventRepo{
		events: make(map[replayKey]*models.WebhookEvent),
		byID:   make(map[uuid.UUID]*models.WebhookEvent),
	}
}

func (r *mockEventRepo) Record(ctx context.Context, event *models.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := replayKey{event.Provider, event.ExternalRef, event.PayloadHash}
	if _, exists := r.events[key]; exists {
		return gorm.ErrDuplicatedKey
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	cp := *event
	r.events[key] = &cp
	r.byID[event.ID] = &cp
	return nil
}

func (r *mockEventRepo) ListByRef(ctx context.Context, provider models.Provider, externalRef string) ([]models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookEvent
	for _, event := range r.byID {
		if event.Provider == provider && event.ExternalRef == externalRef {
			out = append(out, *event)
		}
	}
	return out, nil
}

func (r *mockEventRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.WebhookEventStatus, note *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	event.Status = status
	event.Note = note
	return nil
}

func (r *mockEventRepo) statusOf(id uuid.UUID) models.WebhookEventStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event, ok := r.byID[id]; ok {
		return event.Status
	}
	return ""
}

type mockSubRepo struct {
	mu   sync.Mutex
	subs map[int64]*models.Subscription
}

func newMockSubRepo() *mockSubRepo {
	return &mockSubRepo{subs: make(map[int64]*models.Subscription)}
}

func (r *mockSubRepo) Get(ctx context.Context, userID int64) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *mockSubRepo) ExtendWindow(ctx context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.subs[sub.UserID]
	if !ok {
		cp := *sub
		r.subs[sub.UserID] = &cp
		return nil
	}
	existing.PanelIdentity = sub.PanelIdentity
	existing.SubscriptionURL = sub.SubscriptionURL
	existing.PlanID = sub.PlanID
	if sub.ValidUntil.After(existing.ValidUntil) {
		existing.ValidUntil = sub.ValidUntil
	}
	return nil
}

func (r *mockSubRepo) ListActive(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.ValidUntil.After(now) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

type mockPanelClient struct {
	mu          sync.Mutex
	ensureCalls int
	fetchCalls  int
	failures    int
	accounts    map[int64]*PanelAccess
}

func newMockPanelClient() *mockPanelClient {
	return &mockPanelClient{accounts: make(map[int64]*PanelAccess)}
}

func (p *mockPanelClient) EnsureAccess(ctx context.Context, userID int64, validUntil time.Time) (*PanelAccess, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureCalls++
	if p.failures > 0 {
		p.failures--
		return nil, context.DeadlineExceeded
	}
	access, ok := p.accounts[userID]
	if !ok {
		access = &PanelAccess{
			Identity:        uuid.New().String(),
			SubscriptionURL: "https://panel.example/sub/" + uuid.New().String(),
		}
		p.accounts[userID] = access
	}
	if validUntil.After(access.ExpireAt) {
		access.ExpireAt = validUntil
	}
	cp := *access
	return &cp, nil
}

func (p *mockPanelClient) FetchAccess(ctx context.Context, userID int64) (*PanelAccess, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchCalls++
	access, ok := p.accounts[userID]
	if !ok {
		return nil, nil
	}
	cp := *access
	return &cp, nil
}

func (p *mockPanelClient) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureCalls
}

type mockNotifier struct {
	mu        sync.Mutex
	fulfilled []string
	failed    []string
	review    []string
}

func (n *mockNotifier) OrderFulfilled(ctx context.Context, order *models.Order, sub *models.Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fulfilled = append(n.fulfilled, order.ID.String())
}

func (n *mockNotifier) OrderFailed(ctx context.Context, order *models.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, order.ID.String())
}

func (n *mockNotifier) OrderUnderReview(ctx context.Context, order *models.Order, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.review = append(n.review, order.ID.String())
}

func (n *mockNotifier) fulfilledCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.fulfilled)
}
