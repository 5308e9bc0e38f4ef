package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/onlyold1/rtg-shop/models"
)

// Config is the immutable service configuration, built once at startup and
// passed to each component at construction.
type Config struct {
	Port string
	Env  string

	// Card gateway (merchant-header authenticated).
	CardMerchantID string
	CardSecret     string
	CardBaseURL    string
	CardReturnURL  string

	// Crypto gateway (HMAC-signed webhooks).
	CryptoAPIToken string
	CryptoBaseURL  string
	CryptoAsset    string

	// Subscription-billing gateway (Stripe signed webhooks).
	StripeSecretKey  string
	StripeWebhookKey string
	CheckoutURL      string

	// Remote access panel.
	PanelBaseURL  string
	PanelAPIToken string
	PanelTimeout  time.Duration

	// Notifications.
	KafkaBrokers        []string
	FulfillmentTopic    string
	FulfillmentSNSTopic string

	// Service auth for the chat-layer API.
	ServiceJWTSecret string

	// Reconciliation tuning.
	OrderTTL             time.Duration
	SweepInterval        time.Duration
	ProvisionMaxAttempts int
	ProvisionBaseBackoff time.Duration
	ProvisionMaxBackoff  time.Duration
	DriftCheckInterval   time.Duration

	Plans []models.Plan
}

func Load() (*Config, error) {
	// Missing .env is fine in containers; real env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("APP_ENV", "development"),

		CardMerchantID: os.Getenv("CARD_MERCHANT_ID"),
		CardSecret:     os.Getenv("CARD_API_SECRET"),
		CardBaseURL:    getEnv("CARD_BASE_URL", "https://app.platega.io"),
		CardReturnURL:  os.Getenv("CARD_RETURN_URL"),

		CryptoAPIToken: os.Getenv("CRYPTO_API_TOKEN"),
		CryptoBaseURL:  getEnv("CRYPTO_BASE_URL", "https://pay.crypt.bot/api"),
		CryptoAsset:    getEnv("CRYPTO_ASSET", "USDT"),

		StripeSecretKey:  os.Getenv("STRIPE_API_KEY"),
		StripeWebhookKey: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutURL:      os.Getenv("CHECKOUT_RETURN_URL"),

		PanelBaseURL:  os.Getenv("PANEL_BASE_URL"),
		PanelAPIToken: os.Getenv("PANEL_API_TOKEN"),
		PanelTimeout:  getDuration("PANEL_TIMEOUT", 15*time.Second),

		KafkaBrokers:        strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		FulfillmentTopic:    getEnv("FULFILLMENT_TOPIC", "fulfillment-events"),
		FulfillmentSNSTopic: os.Getenv("FULFILLMENT_SNS_TOPIC_ARN"),

		ServiceJWTSecret: os.Getenv("SERVICE_JWT_SECRET"),

		OrderTTL:             getDuration("ORDER_TTL", time.Hour),
		SweepInterval:        getDuration("SWEEP_INTERVAL", time.Minute),
		ProvisionMaxAttempts: getInt("PROVISION_MAX_ATTEMPTS", 5),
		ProvisionBaseBackoff: getDuration("PROVISION_BASE_BACKOFF", 30*time.Second),
		ProvisionMaxBackoff:  getDuration("PROVISION_MAX_BACKOFF", 15*time.Minute),
		DriftCheckInterval:   getDuration("DRIFT_CHECK_INTERVAL", time.Hour),
	}

	plans, err := parsePlans(getEnv("PLANS", "1m:30:100000:RUB,3m:90:270000:RUB,6m:180:500000:RUB"))
	if err != nil {
		return nil, fmt.Errorf("invalid PLANS: %w", err)
	}
	cfg.Plans = plans

	if cfg.PanelBaseURL == "" || cfg.PanelAPIToken == "" {
		return nil, fmt.Errorf("missing required environment variables: PANEL_BASE_URL, PANEL_API_TOKEN")
	}

	return cfg, nil
}

// Plan returns the configured plan by id.
func (c *Config) Plan(id string) (models.Plan, bool) {
	for _, p := range c.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return models.Plan{}, false
}

// parsePlans reads "id:days:amountMinor:currency" tuples joined by commas.
func parsePlans(raw string) ([]models.Plan, error) {
	var plans []models.Plan
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("plan entry %q: want id:days:amount:currency", entry)
		}
		days, err := strconv.Atoi(parts[1])
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("plan entry %q: bad days", entry)
		}
		amount, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("plan entry %q: bad amount", entry)
		}
		plans = append(plans, models.Plan{
			ID:          parts[0],
			Days:        days,
			AmountMinor: amount,
			Currency:    strings.ToUpper(parts[3]),
		})
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("no plans configured")
	}
	return plans, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
