package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/onlyold1/rtg-shop/apperrors"
	"github.com/onlyold1/rtg-shop/models"
	"github.com/onlyold1/rtg-shop/repository"
)

// PlanResolver looks up a configured plan by id.
type PlanResolver func(id string) (models.Plan, bool)

// Reconciler matches verified payment events to orders and drives the order
// state machine. Every decision rests on two database primitives: the unique
// webhook-event index for replay detection and the conditional status update
// for exactly-once claiming. The reconciler itself holds no locks and no
// state, so any number of instances can process events concurrently.
type Reconciler struct {
	orders      repository.OrderRepository
	events      repository.WebhookEventRepository
	provisioner *Provisioner
	notifier    Notifier
	plans       PlanResolver
	log         *zap.Logger
}

func NewReconciler(
	orders repository.OrderRepository,
	events repository.WebhookEventRepository,
	provisioner *Provisioner,
	notifier Notifier,
	plans PlanResolver,
	log *zap.Logger,
) *Reconciler {
	return &Reconciler{
		orders:      orders,
		events:      events,
		provisioner: provisioner,
		notifier:    notifier,
		plans:       plans,
		log:         log,
	}
}

// Process reconciles one payment event. A nil return (and most sentinel
// returns) means the webhook must be acknowledged with 200: the event is
// durably recorded and the provider has nothing left to deliver. Only
// storage failures bubble up as retryable errors.
func (r *Reconciler) Process(ctx context.Context, event *models.PaymentEvent) error {
	record := &models.WebhookEvent{
		Provider:    event.Provider,
		ExternalRef: event.ExternalRef,
		PayloadHash: event.RawPayloadHash,
		EventStatus: event.Status,
		Status:      models.WebhookEventProcessed,
		AmountMinor: event.AmountMinor,
		Currency:    event.Currency,
		RawPayload:  string(event.RawPayload),
		ReceivedAt:  event.ReceivedAt,
	}
	if err := r.events.Record(ctx, record); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Byte-identical replay. Already fully processed; nothing to do.
			r.log.Info("replayed webhook ignored",
				zap.String("provider", string(event.Provider)),
				zap.String("external_ref", event.ExternalRef))
			return nil
		}
		return fmt.Errorf("recording webhook event: %w", err)
	}

	order, err := r.orders.GetByProviderRef(ctx, event.Provider, event.ExternalRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return r.settle(ctx, record, models.WebhookEventOrphaned,
				"no order for external ref", apperrors.ErrOrphanedEvent)
		}
		return fmt.Errorf("loading order: %w", err)
	}

	switch event.Status {
	case models.EventPending:
		return r.settle(ctx, record, models.WebhookEventIgnored, "pending acknowledged", nil)
	case models.EventSucceeded:
		return r.reconcileSuccess(ctx, record, order, event)
	case models.EventFailed:
		return r.reconcileFailure(ctx, record, order)
	default:
		return r.settle(ctx, record, models.WebhookEventIgnored,
			fmt.Sprintf("unknown event status %s", event.Status), nil)
	}
}

func (r *Reconciler) reconcileSuccess(ctx context.Context, record *models.WebhookEvent, order *models.Order, event *models.PaymentEvent) error {
	switch order.Status {
	case models.OrderStatusFulfilled:
		// Identical replays never get here (the payload-hash index catches
		// them), so this body says something new about an order we already
		// closed. An operator decides what.
		if err := r.orders.FlagForReview(ctx, order.ID, "differing success event on fulfilled order"); err != nil {
			return err
		}
		r.notifier.OrderUnderReview(ctx, order, "differing success event on fulfilled order")
		return r.settle(ctx, record, models.WebhookEventConflict,
			"differing success event on fulfilled order", apperrors.ErrConflictingEvent)
	case models.OrderStatusFailed, models.OrderStatusExpired:
		// A success after the order was closed as failed or expired is a
		// genuine conflict. Money may have moved; an operator decides.
		if err := r.orders.FlagForReview(ctx, order.ID,
			fmt.Sprintf("success event on %s order", order.Status)); err != nil {
			return err
		}
		r.notifier.OrderUnderReview(ctx, order, "success event on closed order")
		return r.settle(ctx, record, models.WebhookEventConflict,
			fmt.Sprintf("order already %s", order.Status), apperrors.ErrConflictingEvent)
	case models.OrderStatusProvisioning, models.OrderStatusProvisioningFailed:
		// Payment already acknowledged; fulfillment is in flight or queued
		// for retry.
		return r.settle(ctx, record, models.WebhookEventDuplicate, "order already claimed", nil)
	}

	if event.AmountMinor != order.AmountMinor || event.Currency != order.Currency {
		note := fmt.Sprintf("expected %d %s, got %d %s",
			order.AmountMinor, order.Currency, event.AmountMinor, event.Currency)
		if err := r.orders.FlagForReview(ctx, order.ID, note); err != nil {
			return err
		}
		r.notifier.OrderUnderReview(ctx, order, note)
		return r.settle(ctx, record, models.WebhookEventMismatch, note, apperrors.ErrMismatchedAmount)
	}

	plan, ok := r.plans(order.PlanID)
	if !ok {
		note := fmt.Sprintf("unknown plan %s", order.PlanID)
		if err := r.orders.FlagForReview(ctx, order.ID, note); err != nil {
			return err
		}
		r.notifier.OrderUnderReview(ctx, order, note)
		return r.settle(ctx, record, models.WebhookEventConflict, note, apperrors.ErrConflictingEvent)
	}

	validFrom, validUntil, claimed, err := r.orders.ClaimForProvisioning(ctx, order.ID, order.UserID, plan.Duration())
	if err != nil {
		return fmt.Errorf("claiming order: %w", err)
	}
	if !claimed {
		// A concurrent delivery won the claim between our load and the
		// update. Its worker fulfills; this delivery is a duplicate.
		return r.settle(ctx, record, models.WebhookEventDuplicate, "lost claim race", nil)
	}

	order.Status = models.OrderStatusProvisioning
	order.TargetValidFrom = &validFrom
	order.TargetValidUntil = &validUntil

	// The claim is durable, so the webhook is acknowledged even when the
	// panel call fails here; the retry job re-drives it.
	if err := r.provisioner.Provision(ctx, order); err != nil {
		r.log.Warn("provisioning deferred to retry job",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
	}
	return nil
}

func (r *Reconciler) reconcileFailure(ctx context.Context, record *models.WebhookEvent, order *models.Order) error {
	switch order.Status {
	case models.OrderStatusFailed, models.OrderStatusExpired:
		return r.settle(ctx, record, models.WebhookEventDuplicate,
			fmt.Sprintf("order already %s", order.Status), nil)
	case models.OrderStatusFulfilled, models.OrderStatusProvisioning, models.OrderStatusProvisioningFailed:
		// Payment was confirmed earlier; a failure arriving now contradicts
		// the money we acted on.
		if err := r.orders.FlagForReview(ctx, order.ID, "failure event after confirmed payment"); err != nil {
			return err
		}
		r.notifier.OrderUnderReview(ctx, order, "failure event after confirmed payment")
		return r.settle(ctx, record, models.WebhookEventConflict,
			"failure after confirmed payment", apperrors.ErrConflictingEvent)
	}

	if err := r.orders.MarkFailed(ctx, order.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Raced with a concurrent success claim; treat as duplicate and
			// let that path finish.
			return r.settle(ctx, record, models.WebhookEventDuplicate, "lost race to success claim", nil)
		}
		return fmt.Errorf("marking order failed: %w", err)
	}

	r.log.Info("order failed",
		zap.String("order_id", order.ID.String()),
		zap.String("external_ref", record.ExternalRef))
	r.notifier.OrderFailed(ctx, order)
	return nil
}

// settle records the final disposition of the webhook event and returns the
// caller-facing sentinel, which maps to a 200 acknowledgment.
func (r *Reconciler) settle(ctx context.Context, record *models.WebhookEvent, status models.WebhookEventStatus, note string, sentinel *apperrors.Error) error {
	if err := r.events.UpdateStatus(ctx, record.ID, status, &note); err != nil {
		r.log.Error("failed to settle webhook event",
			zap.String("event_id", record.ID.String()),
			zap.Error(err))
	}
	if sentinel != nil {
		return apperrors.Wrap(sentinel, errors.New(note))
	}
	return nil
}
