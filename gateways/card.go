package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/adapters"
	"github.com/onlyold1/rtg-shop/models"
)

// cardPaymentMethod selects the gateway's card rail.
const cardPaymentMethod = 2

// CardGateway creates card transactions. The transaction id is generated on
// our side and echoed back in the webhook, which is what lets the webhook be
// matched to the order without a lookup call.
type CardGateway struct {
	baseURL    string
	merchantID string
	secret     string
	returnURL  string
	client     *http.Client
	log        *zap.Logger
}

func NewCardGateway(baseURL, merchantID, secret, returnURL string, log *zap.Logger) *CardGateway {
	return &CardGateway{
		baseURL:    baseURL,
		merchantID: merchantID,
		secret:     secret,
		returnURL:  returnURL,
		client:     &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

func (g *CardGateway) Provider() models.Provider {
	return models.ProviderCard
}

type cardTransactionRequest struct {
	PaymentMethod  int                `json:"paymentMethod"`
	ID             string             `json:"id"`
	PaymentDetails cardPaymentDetails `json:"paymentDetails"`
	Description    string             `json:"description"`
	Return         string             `json:"return"`
	FailedURL      string             `json:"failedUrl"`
	Payload        string             `json:"payload"`
}

type cardPaymentDetails struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

type cardTransactionResponse struct {
	Redirect string `json:"redirect"`
}

func (g *CardGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	txID := uuid.New().String()

	payload := cardTransactionRequest{
		PaymentMethod: cardPaymentMethod,
		ID:            txID,
		PaymentDetails: cardPaymentDetails{
			Amount:   json.Number(adapters.MajorUnits(req.AmountMinor, req.Currency).String()),
			Currency: req.Currency,
		},
		Description: req.Description,
		Return:      g.returnURL,
		FailedURL:   g.returnURL,
		Payload:     req.OrderID.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transaction/process", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-MerchantId", g.merchantID)
	httpReq.Header.Set("X-Secret", g.secret)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("card gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		g.log.Warn("card gateway rejected transaction",
			zap.Int("status", resp.StatusCode),
			zap.String("order_id", req.OrderID.String()))
		return nil, fmt.Errorf("card gateway returned %d", resp.StatusCode)
	}

	var result cardTransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("card gateway response: %w", err)
	}
	if result.Redirect == "" {
		return nil, fmt.Errorf("card gateway returned no redirect url")
	}

	return &Invoice{ExternalRef: txID, PaymentURL: result.Redirect}, nil
}
