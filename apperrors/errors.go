package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an application error carrying the HTTP status webhook handlers
// answer with. Reconciliation-level errors intentionally map to 200: the
// provider must stop retrying once the event is durably recorded, even when
// the event itself needs manual review.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes sentinel comparison work across Wrap copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == e.Message && t.Code == e.Code
}

func New(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Wrap returns a copy of the sentinel with the cause attached.
func Wrap(sentinel *Error, err error) *Error {
	return &Error{Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

// Adapter-level errors: the payload never reaches the reconciler.
var (
	ErrInvalidSignature = New(http.StatusUnauthorized, "invalid signature", nil)
	ErrMalformedPayload = New(http.StatusBadRequest, "malformed payload", nil)
	// ErrUnsupportedEventType is not a delivery failure: the webhook is
	// acknowledged with 200 so the provider stops retrying, it just yields
	// no payment event.
	ErrUnsupportedEventType = New(http.StatusOK, "unsupported event type", nil)
)

// Checkout-level errors.
var (
	ErrUnknownPlan         = New(http.StatusBadRequest, "unknown plan", nil)
	ErrUnsupportedProvider = New(http.StatusBadRequest, "unsupported provider", nil)
)

// Reconciliation-level errors: recorded for manual review, never auto-resolved.
var (
	ErrOrphanedEvent    = New(http.StatusOK, "orphaned event", nil)
	ErrMismatchedAmount = New(http.StatusOK, "mismatched amount", nil)
	ErrConflictingEvent = New(http.StatusOK, "conflicting event", nil)
)

// ErrProvisioningFailed is transient: retried with backoff up to a bound,
// then escalated to operator review.
var ErrProvisioningFailed = New(http.StatusServiceUnavailable, "provisioning failed", nil)

// HTTPStatus maps any error to the response code a webhook handler should
// return. Unknown errors are 500 so the provider retries later.
func HTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
