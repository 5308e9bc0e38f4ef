package adapters

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/onlyold1/rtg-shop/apperrors"
	"github.com/onlyold1/rtg-shop/models"
)

// Adapter verifies and normalizes one provider's webhook payloads.
// Verification runs before any business field is read; an adapter never
// touches the stores. A (nil, ErrUnsupportedEventType) return means the
// delivery is authentic but irrelevant and must be acknowledged with 200.
type Adapter interface {
	Provider() models.Provider
	Parse(header http.Header, body []byte) (*models.PaymentEvent, error)
}

// Registry is the closed set of adapters, keyed by provider.
type Registry map[models.Provider]Adapter

func NewRegistry(adapters ...Adapter) Registry {
	reg := make(Registry, len(adapters))
	for _, a := range adapters {
		reg[a.Provider()] = a
	}
	return reg
}

func (r Registry) Get(p models.Provider) (Adapter, bool) {
	a, ok := r[p]
	return a, ok
}

// PayloadHash is the replay-detection key: SHA-256 of the raw body.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// currencyExponents maps currency codes to their minor-unit exponent.
// Anything not listed uses two decimal places.
var currencyExponents = map[string]int32{
	"JPY":  0,
	"USDT": 6,
	"TON":  9,
	"BTC":  8,
	"ETH":  8,
}

func exponent(currency string) int32 {
	if exp, ok := currencyExponents[currency]; ok {
		return exp
	}
	return 2
}

// MajorUnits renders a minor-unit amount in whole currency units, for
// gateways that want "27.00" rather than 2700.
func MajorUnits(amountMinor int64, currency string) decimal.Decimal {
	return decimal.New(amountMinor, -exponent(currency))
}

// minorUnits converts a decimal provider amount into the smallest unit of
// the currency. Sub-minor fractions mean the payload is malformed: no
// provider legitimately reports half a kopeck.
func minorUnits(amount decimal.Decimal, currency string) (int64, error) {
	shifted := amount.Shift(exponent(currency))
	if !shifted.IsInteger() {
		return 0, apperrors.Wrap(apperrors.ErrMalformedPayload,
			fmt.Errorf("amount %s has sub-minor precision for %s", amount.String(), currency))
	}
	return shifted.IntPart(), nil
}
