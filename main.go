package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/adapters"
	awspkg "github.com/onlyold1/rtg-shop/aws"
	"github.com/onlyold1/rtg-shop/config"
	"github.com/onlyold1/rtg-shop/controllers"
	"github.com/onlyold1/rtg-shop/database"
	"github.com/onlyold1/rtg-shop/gateways"
	"github.com/onlyold1/rtg-shop/kafka"
	"github.com/onlyold1/rtg-shop/logger"
	"github.com/onlyold1/rtg-shop/models"
	"github.com/onlyold1/rtg-shop/repository"
	"github.com/onlyold1/rtg-shop/routes"
	"github.com/onlyold1/rtg-shop/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	zapLogger, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer zapLogger.Sync()

	db, err := database.ConnectPostgres(zapLogger,
		&models.Order{},
		&models.Subscription{},
		&models.WebhookEvent{},
	)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	orderRepo := repository.NewGormOrderRepo(db)
	subRepo := repository.NewGormSubscriptionRepo(db)
	eventRepo := repository.NewGormWebhookEventRepo(db)

	producer := kafka.NewFulfillmentEventProducer(cfg.KafkaBrokers, cfg.FulfillmentTopic, zapLogger)
	defer producer.Close()

	publishers := []services.EventPublisher{producer}
	if cfg.FulfillmentSNSTopic != "" {
		snsPublisher, err := awspkg.NewSNSPublisher(context.Background(), cfg.FulfillmentSNSTopic)
		if err != nil {
			zapLogger.Warn("sns publisher disabled", zap.Error(err))
		} else {
			publishers = append(publishers, snsPublisher)
		}
	}
	notifier := services.NewNotifier(zapLogger, publishers...)

	panelClient := services.NewPanelClient(cfg.PanelBaseURL, cfg.PanelAPIToken, cfg.PanelTimeout, zapLogger)

	provisioner := services.NewProvisioner(
		orderRepo, subRepo, panelClient, notifier,
		cfg.ProvisionMaxAttempts, cfg.ProvisionBaseBackoff, cfg.ProvisionMaxBackoff,
		zapLogger,
	)
	reconciler := services.NewReconciler(
		orderRepo, eventRepo, provisioner, notifier, cfg.Plan, zapLogger,
	)

	gatewayRegistry := gateways.NewRegistry(
		gateways.NewCardGateway(cfg.CardBaseURL, cfg.CardMerchantID, cfg.CardSecret, cfg.CardReturnURL, zapLogger),
		gateways.NewCryptoGateway(cfg.CryptoBaseURL, cfg.CryptoAPIToken, cfg.CryptoAsset, zapLogger),
		gateways.NewSubscriptionGateway(cfg.StripeSecretKey, cfg.CheckoutURL),
	)
	checkout := services.NewCheckoutService(orderRepo, subRepo, gatewayRegistry, cfg.Plan, zapLogger)

	adapterRegistry := adapters.NewRegistry(
		adapters.NewCardAdapter(cfg.CardMerchantID, cfg.CardSecret),
		adapters.NewCryptoAdapter(cfg.CryptoAPIToken),
		adapters.NewSubscriptionAdapter(cfg.StripeWebhookKey),
	)

	sweeper := services.NewSweeper(orderRepo, subRepo, panelClient, cfg.OrderTTL, zapLogger)

	scheduler := cron.New()
	scheduler.AddFunc(every(cfg.SweepInterval), func() {
		sweeper.ExpireStaleOrders(context.Background())
	})
	scheduler.AddFunc(every(cfg.ProvisionBaseBackoff), func() {
		provisioner.RetryFailed(context.Background())
	})
	scheduler.AddFunc(every(cfg.DriftCheckInterval), func() {
		sweeper.CheckPanelDrift(context.Background())
	})
	scheduler.Start()
	defer scheduler.Stop()

	// Drain whatever a previous instance left behind before taking traffic.
	go provisioner.RetryFailed(context.Background())

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestLogger(zapLogger))

	routes.Register(r,
		&controllers.WebhookController{Adapters: adapterRegistry, Reconciler: reconciler, Logger: zapLogger},
		&controllers.OrderController{Checkout: checkout, Logger: zapLogger},
		&controllers.SubscriptionController{Checkout: checkout, Logger: zapLogger},
		cfg.ServiceJWTSecret,
	)

	zapLogger.Info("fulfillment service running", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		zapLogger.Fatal("server failed", zap.Error(err))
	}
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}
