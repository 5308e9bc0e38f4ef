package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/onlyold1/rtg-shop/middleware"
	"github.com/onlyold1/rtg-shop/services"
)

type SubscriptionController struct {
	Checkout *services.CheckoutService
	Logger   *zap.Logger
}

// Me reports the caller's current access window. A user with no subscription
// row gets active=false rather than a 404: for the chat layer "never bought"
// and "expired long ago" render the same way.
func (sc *SubscriptionController) Me(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token carries no user"})
		return
	}

	sub, err := sc.Checkout.GetSubscription(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{"active": false})
			return
		}
		sc.Logger.Error("failed to load subscription",
			zap.Int64("user_id", userID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load subscription"})
		return
	}

	now := time.Now().UTC()
	resp := gin.H{
		"active":      sub.Active(now),
		"plan_id":     sub.PlanID,
		"valid_from":  sub.ValidFrom,
		"valid_until": sub.ValidUntil,
	}
	if sub.Active(now) {
		resp["subscription_url"] = sub.SubscriptionURL
	}
	c.JSON(http.StatusOK, resp)
}
