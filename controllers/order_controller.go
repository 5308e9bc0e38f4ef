package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/onlyold1/rtg-shop/apperrors"
	"github.com/onlyold1/rtg-shop/middleware"
	"github.com/onlyold1/rtg-shop/models"
	"github.com/onlyold1/rtg-shop/services"
)

type OrderController struct {
	Checkout *services.CheckoutService
	Logger   *zap.Logger
}

type orderResponse struct {
	ID          string     `json:"id"`
	PlanID      string     `json:"plan_id"`
	Provider    string     `json:"provider"`
	AmountMinor int64      `json:"amount_minor"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	PaymentURL  *string    `json:"payment_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
}

func toOrderResponse(order *models.Order) orderResponse {
	return orderResponse{
		ID:          order.ID.String(),
		PlanID:      order.PlanID,
		Provider:    string(order.Provider),
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Status:      string(order.Status),
		PaymentURL:  order.PaymentURL,
		CreatedAt:   order.CreatedAt,
		ValidUntil:  order.TargetValidUntil,
	}
}

func (oc *OrderController) CreateOrder(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token carries no user"})
		return
	}

	var req struct {
		PlanID   string `json:"plan_id" binding:"required"`
		Provider string `json:"provider" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := oc.Checkout.CreateOrder(c.Request.Context(), userID, req.PlanID, models.Provider(req.Provider))
	if err != nil {
		status := apperrors.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			oc.Logger.Error("order creation failed",
				zap.Int64("user_id", userID),
				zap.Error(err))
			c.JSON(status, gin.H{"error": "failed to create order"})
			return
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toOrderResponse(order))
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := oc.Checkout.GetOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load order"})
		return
	}

	if userID, ok := middleware.UserID(c); ok && order.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (oc *OrderController) ListOrders(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token carries no user"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	orders, err := oc.Checkout.ListOrders(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}
