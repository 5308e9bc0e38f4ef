package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/adapters"
	"github.com/onlyold1/rtg-shop/models"
)

// CryptoGateway creates invoices payable in crypto. Plans priced in fiat get
// fiat-denominated invoices; a plan priced directly in the configured asset
// (e.g. USDT) gets an asset-denominated one, so webhook amounts always compare
// against the order in the order's own currency. The gateway assigns the
// invoice id, so that id becomes the order's external reference.
type CryptoGateway struct {
	baseURL  string
	apiToken string
	asset    string
	client   *http.Client
	log      *zap.Logger
}

func NewCryptoGateway(baseURL, apiToken, asset string, log *zap.Logger) *CryptoGateway {
	return &CryptoGateway{
		baseURL:  baseURL,
		apiToken: apiToken,
		asset:    asset,
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

func (g *CryptoGateway) Provider() models.Provider {
	return models.ProviderCrypto
}

type cryptoInvoiceRequest struct {
	CurrencyType string `json:"currency_type"`
	Fiat         string `json:"fiat,omitempty"`
	Asset        string `json:"asset,omitempty"`
	Amount       string `json:"amount"`
	Description  string `json:"description"`
	Payload      string `json:"payload"`
}

type cryptoInvoiceResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		InvoiceID     int64  `json:"invoice_id"`
		BotInvoiceURL string `json:"bot_invoice_url"`
	} `json:"result"`
}

func (g *CryptoGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	payload := cryptoInvoiceRequest{
		CurrencyType: "fiat",
		Fiat:         req.Currency,
		Amount:       adapters.MajorUnits(req.AmountMinor, req.Currency).String(),
		Description:  req.Description,
		Payload:      req.OrderID.String(),
	}
	if strings.EqualFold(req.Currency, g.asset) {
		payload.CurrencyType = "crypto"
		payload.Fiat = ""
		payload.Asset = g.asset
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/createInvoice", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Crypto-Pay-API-Token", g.apiToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("crypto gateway request: %w", err)
	}
	defer resp.Body.Close()

	var result cryptoInvoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("crypto gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !result.OK {
		g.log.Warn("crypto gateway rejected invoice",
			zap.Int("status", resp.StatusCode),
			zap.String("order_id", req.OrderID.String()))
		return nil, fmt.Errorf("crypto gateway returned %d", resp.StatusCode)
	}
	if result.Result.InvoiceID == 0 || result.Result.BotInvoiceURL == "" {
		return nil, fmt.Errorf("crypto gateway returned incomplete invoice")
	}

	return &Invoice{
		ExternalRef: strconv.FormatInt(result.Result.InvoiceID, 10),
		PaymentURL:  result.Result.BotInvoiceURL,
	}, nil
}
