package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/apperrors"
	"github.com/onlyold1/rtg-shop/gateways"
	"github.com/onlyold1/rtg-shop/models"
	"github.com/onlyold1/rtg-shop/repository"
)

// CheckoutService creates orders and issues payment invoices for them. The
// order is persisted before the gateway call, so a gateway timeout can never
// leave a paid-for invoice with no order behind it.
type CheckoutService struct {
	orders   repository.OrderRepository
	subs     repository.SubscriptionRepository
	gateways gateways.Registry
	plans    PlanResolver
	log      *zap.Logger
}

func NewCheckoutService(
	orders repository.OrderRepository,
	subs repository.SubscriptionRepository,
	registry gateways.Registry,
	plans PlanResolver,
	log *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		orders:   orders,
		subs:     subs,
		gateways: registry,
		plans:    plans,
		log:      log,
	}
}

func (s *CheckoutService) CreateOrder(ctx context.Context, userID int64, planID string, provider models.Provider) (*models.Order, error) {
	plan, ok := s.plans(planID)
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrUnknownPlan, fmt.Errorf("plan %q", planID))
	}
	gateway, ok := s.gateways.Get(provider)
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrUnsupportedProvider, fmt.Errorf("provider %q", provider))
	}

	order := &models.Order{
		UserID:      userID,
		PlanID:      plan.ID,
		Provider:    provider,
		AmountMinor: plan.AmountMinor,
		Currency:    plan.Currency,
		Status:      models.OrderStatusCreated,
		Description: fmt.Sprintf("%d day access", plan.Days),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}

	invoice, err := gateway.CreateInvoice(ctx, gateways.InvoiceRequest{
		OrderID:     order.ID,
		UserID:      userID,
		PlanID:      plan.ID,
		AmountMinor: plan.AmountMinor,
		Currency:    plan.Currency,
		Description: order.Description,
	})
	if err != nil {
		// The order stays in created; the expiry sweep reclaims it.
		s.log.Error("invoice creation failed",
			zap.String("order_id", order.ID.String()),
			zap.String("provider", string(provider)),
			zap.Error(err))
		return nil, fmt.Errorf("creating invoice: %w", err)
	}

	if err := s.orders.AttachExternalRef(ctx, order.ID, invoice.ExternalRef, &invoice.PaymentURL); err != nil {
		return nil, fmt.Errorf("attaching external ref: %w", err)
	}

	order.Status = models.OrderStatusAwaitingPayment
	order.ExternalRef = &invoice.ExternalRef
	order.PaymentURL = &invoice.PaymentURL

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.Int64("user_id", userID),
		zap.String("plan_id", plan.ID),
		zap.String("provider", string(provider)))
	return order, nil
}

func (s *CheckoutService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *CheckoutService) ListOrders(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.orders.ListByUser(ctx, userID, limit)
}

func (s *CheckoutService) GetSubscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	return s.subs.Get(ctx, userID)
}
