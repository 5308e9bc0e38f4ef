package gateways

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"

	"github.com/onlyold1/rtg-shop/models"
)

// SubscriptionGateway creates hosted checkout sessions. The session id is
// the external reference the signed webhooks carry.
type SubscriptionGateway struct {
	returnURL string
}

func NewSubscriptionGateway(secretKey, returnURL string) *SubscriptionGateway {
	stripe.Key = secretKey
	return &SubscriptionGateway{returnURL: returnURL}
}

func (g *SubscriptionGateway) Provider() models.Provider {
	return models.ProviderSubscription
}

func (g *SubscriptionGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.OrderID.String()),
		SuccessURL:        stripe.String(g.returnURL),
		CancelURL:         stripe.String(g.returnURL),
	}
	params.Context = ctx

	s, err := session.New(params)
	if err != nil {
		return nil, err
	}
	return &Invoice{ExternalRef: s.ID, PaymentURL: s.URL}, nil
}
