package adapters

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/onlyold1/rtg-shop/apperrors"
	"github.com/onlyold1/rtg-shop/models"
)

// SubscriptionAdapter handles the subscription gateway's signed events. The
// library does the timestamped-signature verification; we only map the event
// types we care about onto payment outcomes.
type SubscriptionAdapter struct {
	endpointSecret string
}

func NewSubscriptionAdapter(endpointSecret string) *SubscriptionAdapter {
	return &SubscriptionAdapter{endpointSecret: endpointSecret}
}

func (a *SubscriptionAdapter) Provider() models.Provider {
	return models.ProviderSubscription
}

func (a *SubscriptionAdapter) Parse(header http.Header, body []byte) (*models.PaymentEvent, error) {
	// The account's webhook API version usually differs from the one the SDK
	// is pinned to; that skew is not an authenticity failure, so it must not
	// reject the event.
	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), a.endpointSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) ||
			errors.Is(err, webhook.ErrInvalidHeader) {
			return nil, apperrors.Wrap(apperrors.ErrInvalidSignature, err)
		}
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, err)
	}

	var status models.EventStatus
	switch event.Type {
	case "checkout.session.completed":
		status = models.EventSucceeded
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		status = models.EventFailed
	default:
		return nil, apperrors.Wrap(apperrors.ErrUnsupportedEventType,
			fmt.Errorf("subscription event %q", event.Type))
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, err)
	}
	if session.ID == "" {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, fmt.Errorf("missing session id"))
	}

	// AmountTotal is already in minor units.
	currency := strings.ToUpper(string(session.Currency))

	return &models.PaymentEvent{
		Provider:       models.ProviderSubscription,
		ExternalRef:    session.ID,
		Status:         status,
		AmountMinor:    session.AmountTotal,
		Currency:       currency,
		RawPayloadHash: PayloadHash(body),
		RawPayload:     body,
		ReceivedAt:     time.Now().UTC(),
	}, nil
}
