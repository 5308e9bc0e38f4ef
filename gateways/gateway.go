package gateways

import (
	"context"

	"github.com/google/uuid"

	"github.com/onlyold1/rtg-shop/models"
)

// InvoiceRequest is what checkout asks a gateway to collect.
type InvoiceRequest struct {
	OrderID     uuid.UUID
	UserID      int64
	PlanID      string
	AmountMinor int64
	Currency    string
	Description string
}

// Invoice is the gateway's answer: the reference its webhooks will carry and
// the URL the user pays at.
type Invoice struct {
	ExternalRef string
	PaymentURL  string
}

// Gateway creates payment invoices with one provider.
type Gateway interface {
	Provider() models.Provider
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}

// Registry maps providers to their gateway clients.
type Registry map[models.Provider]Gateway

func NewRegistry(gateways ...Gateway) Registry {
	reg := make(Registry, len(gateways))
	for _, g := range gateways {
		reg[g.Provider()] = g
	}
	return reg
}

func (r Registry) Get(p models.Provider) (Gateway, bool) {
	g, ok := r[p]
	return g, ok
}
