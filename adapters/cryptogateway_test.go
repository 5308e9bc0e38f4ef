package adapters

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/onlyold1/rtg-shop/apperrors"
	"github.com/onlyold1/rtg-shop/models"
)

func signCryptoBody(apiToken string, body []byte) string {
	key := sha256.Sum256([]byte(apiToken))
	mac := hmac.New(sha256.New, key[:])
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func cryptoHeaders(signature string) http.Header {
	h := http.Header{}
	h.Set("Crypto-Pay-API-Signature", signature)
	return h
}

func TestCryptoAdapterParsePaidFiatInvoice(t *testing.T) {
	adapter := NewCryptoAdapter("token-abc")
	body := []byte(`{"update_id":1,"update_type":"invoice_paid","payload":{"invoice_id":555,"status":"paid","currency_type":"fiat","fiat":"RUB","amount":"2700"}}`)

	event, err := adapter.Parse(cryptoHeaders(signCryptoBody("token-abc", body)), body)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if event.Provider != models.ProviderCrypto {
		t.Errorf("expected provider crypto, got %s", event.Provider)
	}
	if event.ExternalRef != "555" {
		t.Errorf("expected external ref 555, got %s", event.ExternalRef)
	}
	if event.Status != models.EventSucceeded {
		t.Errorf("expected succeeded, got %s", event.Status)
	}
	if event.AmountMinor != 270000 {
		t.Errorf("expected 270000 minor units, got %d", event.AmountMinor)
	}
	if event.Currency != "RUB" {
		t.Errorf("expected RUB, got %s", event.Currency)
	}
}

func TestCryptoAdapterParsePaidCryptoInvoice(t *testing.T) {
	adapter := NewCryptoAdapter("token-abc")
	body := []byte(`{"update_id":2,"update_type":"invoice_paid","payload":{"invoice_id":556,"status":"paid","currency_type":"crypto","asset":"USDT","amount":"12.5"}}`)

	event, err := adapter.Parse(cryptoHeaders(signCryptoBody("token-abc", body)), body)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if event.Currency != "USDT" {
		t.Errorf("expected USDT, got %s", event.Currency)
	}
	// USDT has six decimal places.
	if event.AmountMinor != 12500000 {
		t.Errorf("expected 12500000 minor units, got %d", event.AmountMinor)
	}
}

func TestCryptoAdapterRejectsBadSignature(t *testing.T) {
	adapter := NewCryptoAdapter("token-abc")
	body := []byte(`{"update_id":1,"update_type":"invoice_paid","payload":{"invoice_id":1,"status":"paid","currency_type":"fiat","fiat":"RUB","amount":"100"}}`)

	cases := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong key", signCryptoBody("other-token", body)},
		{"tampered body", signCryptoBody("token-abc", []byte(`{"update_id":9}`))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := adapter.Parse(cryptoHeaders(tc.signature), body)
			if !errors.Is(err, apperrors.ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestCryptoAdapterIgnoresOtherUpdateTypes(t *testing.T) {
	adapter := NewCryptoAdapter("token-abc")
	body := []byte(`{"update_id":3,"update_type":"invoice_expired","payload":{"invoice_id":557,"status":"expired"}}`)

	_, err := adapter.Parse(cryptoHeaders(signCryptoBody("token-abc", body)), body)
	if !errors.Is(err, apperrors.ErrUnsupportedEventType) {
		t.Errorf("expected ErrUnsupportedEventType, got %v", err)
	}
}

func TestCryptoAdapterRejectsMalformedPayload(t *testing.T) {
	adapter := NewCryptoAdapter("token-abc")

	cases := []struct {
		name string
		body string
	}{
		{"not json", `garbage`},
		{"missing invoice id", `{"update_id":4,"update_type":"invoice_paid","payload":{"status":"paid","currency_type":"fiat","fiat":"RUB","amount":"100"}}`},
		{"missing currency", `{"update_id":5,"update_type":"invoice_paid","payload":{"invoice_id":9,"status":"paid","amount":"100"}}`},
		{"bad amount", `{"update_id":6,"update_type":"invoice_paid","payload":{"invoice_id":9,"status":"paid","currency_type":"fiat","fiat":"RUB","amount":"abc"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := []byte(tc.body)
			_, err := adapter.Parse(cryptoHeaders(signCryptoBody("token-abc", body)), body)
			if !errors.Is(err, apperrors.ErrMalformedPayload) {
				t.Errorf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}
