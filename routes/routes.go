package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/onlyold1/rtg-shop/controllers"
	"github.com/onlyold1/rtg-shop/middleware"
)

func Register(
	r *gin.Engine,
	wc *controllers.WebhookController,
	oc *controllers.OrderController,
	sc *controllers.SubscriptionController,
	jwtSecret string,
) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Webhooks authenticate per provider (signatures, shared secrets), not
	// with our service tokens.
	webhooks := r.Group("/webhooks")
	webhooks.Use(middleware.RateLimit(rate.Every(time.Second/20), 40))
	webhooks.POST("/:provider", wc.Handle)

	api := r.Group("/")
	api.Use(middleware.ServiceAuth(jwtSecret))
	api.POST("/orders", oc.CreateOrder)
	api.GET("/orders", oc.ListOrders)
	api.GET("/orders/:id", oc.GetOrder)
	api.GET("/subscriptions/me", sc.Me)
}
