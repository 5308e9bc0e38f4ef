package adapters

import (
	"crypto/subtle"
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

// Card gateway transaction statuses. The gateway reports them either as
// numeric codes or as upper-case strings, depending on the event source.
const (
	cardStatusPending   = "PENDING"
	cardStatusConfirmed = "CONFIRMED"
	cardStatusExpired   = "EXPIRED"
	cardStatusCanceled  = "CANCELED"
	cardStatusFailed    = "FAILED"
)

var cardStatusCodes = map[int]string{
	1:  cardStatusPending,
	7:  cardStatusConfirmed,
	8:  cardStatusExpired,
	9:  cardStatusCanceled,
	10: cardStatusFailed,
}

// CardAdapter handles the card gateway's merchant-header authenticated
// callbacks: every request must carry the merchant id and the shared secret.
type CardAdapter struct {
	merchantID string
	secret     string
}

func NewCardAdapter(merchantID, secret string) *CardAdapter {
	return &CardAdapter{merchantID: merchantID, secret: secret}
}

func (a *CardAdapter) Provider() models.Provider {
	return models.ProviderCard
}

type cardWebhookPayload struct {
	ID       string          `json:"id"`
	Status   json.RawMessage `json:"status"`
	Amount   json.Number     `json:"amount"`
	Currency string          `json:"currency"`
}

func (a *CardAdapter) Parse(header http.Header, body []byte) (*models.PaymentEvent, error) {
	if a.merchantID == "" || a.secret == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidSignature, fmt.Errorf("card gateway credentials not configured"))
	}

	gotMerchant := header.Get("X-MerchantId")
	gotSecret := header.Get("X-Secret")
	merchantOK := subtle.ConstantTimeCompare([]byte(gotMerchant), []byte(a.merchantID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(gotSecret), []byte(a.secret)) == 1
	if !merchantOK || !secretOK {
		return nil, apperrors.Wrap(apperrors.ErrInvalidSignature, fmt.Errorf("merchant header mismatch"))
	}

	var payload cardWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, err)
	}
	if payload.ID == "" {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, fmt.Errorf("missing transaction id"))
	}

	status, err := normalizeCardStatus(payload.Status)
	if err != nil {
		return nil, err
	}

	var eventStatus models.EventStatus
	switch status {
	case cardStatusConfirmed:
		eventStatus = models.EventSucceeded
	case cardStatusCanceled, cardStatusFailed, cardStatusExpired:
		eventStatus = models.EventFailed
	case cardStatusPending:
		eventStatus = models.EventPending
	default:
		return nil, apperrors.Wrap(apperrors.ErrUnsupportedEventType, fmt.Errorf("card status %q", status))
	}

	currency := strings.ToUpper(payload.Currency)
	if currency == "" {
		currency = "RUB"
	}

	amount, err := decimal.NewFromString(payload.Amount.String())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, fmt.Errorf("bad amount %q: %w", payload.Amount.String(), err))
	}
	amountMinor, err := minorUnits(amount, currency)
	if err != nil {
		return nil, err
	}

	return &models.PaymentEvent{
		Provider:       models.ProviderCard,
		ExternalRef:    payload.ID,
		Status:         eventStatus,
		AmountMinor:    amountMinor,
		Currency:       currency,
		RawPayloadHash: PayloadHash(body),
		RawPayload:     body,
		ReceivedAt:     time.Now().UTC(),
	}, nil
}

// normalizeCardStatus accepts the status as a number, a numeric string, or
// an upper-case word.
func normalizeCardStatus(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", apperrors.Wrap(apperrors.ErrMalformedPayload, fmt.Errorf("missing status"))
	}

	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		if status, ok := cardStatusCodes[code]; ok {
			return status, nil
		}
		return "", apperrors.Wrap(apperrors.ErrUnsupportedEventType, fmt.Errorf("card status code %d", code))
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", apperrors.Wrap(apperrors.ErrMalformedPayload, fmt.Errorf("unreadable status %s", raw))
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if code, err := strconv.Atoi(s); err == nil {
		if status, ok := cardStatusCodes[code]; ok {
			return status, nil
		}
		return "", apperrors.Wrap(apperrors.ErrUnsupportedEventType, fmt.Errorf("card status code %d", code))
	}
	return s, nil
}
