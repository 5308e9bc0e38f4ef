package adapters

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onlyold1/rtg-shop/apperrors"
	"github.com/onlyold1/rtg-shop/models"
)

// CryptoAdapter handles the crypto gateway's webhooks. Authenticity is an
// HMAC-SHA256 of the raw body, keyed with SHA-256 of the API token, carried
// in the Crypto-Pay-API-Signature header.
type CryptoAdapter struct {
	signingKey []byte
}

func NewCryptoAdapter(apiToken string) *CryptoAdapter {
	key := sha256.Sum256([]byte(apiToken))
	return &CryptoAdapter{signingKey: key[:]}
}

func (a *CryptoAdapter) Provider() models.Provider {
	return models.ProviderCrypto
}

type cryptoUpdate struct {
	UpdateID   int64           `json:"update_id"`
	UpdateType string          `json:"update_type"`
	Payload    json.RawMessage `json:"payload"`
}

type cryptoInvoice struct {
	InvoiceID    int64  `json:"invoice_id"`
	Status       string `json:"status"`
	CurrencyType string `json:"currency_type"`
	Asset        string `json:"asset"`
	Fiat         string `json:"fiat"`
	Amount       string `json:"amount"`
}

func (a *CryptoAdapter) Parse(header http.Header, body []byte) (*models.PaymentEvent, error) {
	if err := a.verify(header.Get("Crypto-Pay-API-Signature"), body); err != nil {
		return nil, err
	}

	var update cryptoUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, err)
	}

	// The gateway only webhooks paid invoices; anything else it may add
	// later is authentic but irrelevant.
	if update.UpdateType != "invoice_paid" {
		return nil, apperrors.Wrap(apperrors.ErrUnsupportedEventType,
			fmt.Errorf("crypto update_type %q", update.UpdateType))
	}

	var invoice cryptoInvoice
	if err := json.Unmarshal(update.Payload, &invoice); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, err)
	}
	if invoice.InvoiceID == 0 {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, fmt.Errorf("missing invoice_id"))
	}
	if invoice.Status != "paid" {
		return nil, apperrors.Wrap(apperrors.ErrUnsupportedEventType,
			fmt.Errorf("invoice status %q in invoice_paid update", invoice.Status))
	}

	// Fiat-denominated invoices report the fiat amount; crypto-denominated
	// ones report the asset amount.
	currency := strings.ToUpper(invoice.Asset)
	if invoice.CurrencyType == "fiat" {
		currency = strings.ToUpper(invoice.Fiat)
	}
	if currency == "" {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, fmt.Errorf("missing currency"))
	}

	amount, err := decimal.NewFromString(invoice.Amount)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, fmt.Errorf("bad amount %q: %w", invoice.Amount, err))
	}
	amountMinor, err := minorUnits(amount, currency)
	if err != nil {
		return nil, err
	}

	return &models.PaymentEvent{
		Provider:       models.ProviderCrypto,
		ExternalRef:    strconv.FormatInt(invoice.InvoiceID, 10),
		Status:         models.EventSucceeded,
		AmountMinor:    amountMinor,
		Currency:       currency,
		RawPayloadHash: PayloadHash(body),
		RawPayload:     body,
		ReceivedAt:     time.Now().UTC(),
	}, nil
}

func (a *CryptoAdapter) verify(signature string, body []byte) error {
	if signature == "" {
		return apperrors.Wrap(apperrors.ErrInvalidSignature, fmt.Errorf("missing signature header"))
	}
	mac := hmac.New(sha256.New, a.signingKey)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return apperrors.Wrap(apperrors.ErrInvalidSignature, fmt.Errorf("signature mismatch"))
	}
	return nil
}
