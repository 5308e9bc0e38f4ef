package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/adapters"
	"github.com/onlyold1/rtg-shop/apperrors"
	"github.com/onlyold1/rtg-shop/models"
)

// maxWebhookBody bounds what a webhook sender can make us buffer.
const maxWebhookBody = 1 << 20

// EventProcessor reconciles a verified payment event against the stores.
type EventProcessor interface {
	Process(ctx context.Context, event *models.PaymentEvent) error
}

type WebhookController struct {
	Adapters   adapters.Registry
	Reconciler EventProcessor
	Logger     *zap.Logger
}

// Handle receives one provider webhook. The response code is the contract
// with the provider: 401/400 mean the delivery was rejected before being
// recorded, 200 means it is durably recorded and must not be retried, 5xx
// asks for a retry.
func (wc *WebhookController) Handle(c *gin.Context) {
	provider := models.Provider(c.Param("provider"))
	adapter, ok := wc.Adapters.Get(provider)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	event, err := adapter.Parse(c.Request.Header, body)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnsupportedEventType) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		wc.Logger.Warn("webhook rejected",
			zap.String("provider", string(provider)),
			zap.Error(err))
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	if err := wc.Reconciler.Process(c.Request.Context(), event); err != nil {
		status := apperrors.HTTPStatus(err)
		if status == http.StatusOK {
			// Orphaned, mismatched or conflicting: recorded for review, the
			// provider is done delivering.
			c.JSON(http.StatusOK, gin.H{"status": "accepted"})
			return
		}
		wc.Logger.Error("webhook processing failed",
			zap.String("provider", string(provider)),
			zap.String("external_ref", event.ExternalRef),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
