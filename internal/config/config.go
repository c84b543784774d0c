package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Every external collaborator is optional; leaving its variable unset keeps
// the server on in-memory or disabled implementations.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	SyncTimeout     time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisOfferPrefix string
	Idempotency      bool

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	StripeAPIKey   string
	WalletCurrency string

	PricingBaseFare float64
	PricingPerKm    float64
	PricingTraffic  float64
	PricingDemand   float64

	AdvisoryEndpoint string

	WebhookURL   string
	WebhookToken string

	LogLevel      string
	RunMigrations bool
}

// ConsumerConfig drives cmd/consumer.
type ConsumerConfig struct {
	MetricsAddr      string
	KafkaBrokers     []string
	KafkaTopic       string
	KafkaGroup       string
	RedisAddr        string
	RedisPassword    string
	RedisOfferPrefix string
	LogLevel         string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		SyncTimeout:      3 * time.Second,
		RedisOfferPrefix: "offer:",
		Idempotency:      true,
		KafkaTopic:       "ride-offers",
		WalletCurrency:   "ngn",
		PricingBaseFare:  200,
		PricingPerKm:     50,
		PricingTraffic:   1.2,
		PricingDemand:    1.0,
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SyncTimeout, "SYNC_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisOfferPrefix, "REDIS_OFFER_PREFIX")
	setBoolFromEnv(&cfg.Idempotency, "IDEMPOTENCY", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.WalletCurrency, "WALLET_CURRENCY")

	setFloatFromEnv(&cfg.PricingBaseFare, "PRICING_BASE_FARE", &errs)
	setFloatFromEnv(&cfg.PricingPerKm, "PRICING_PER_KM", &errs)
	setFloatFromEnv(&cfg.PricingTraffic, "PRICING_TRAFFIC", &errs)
	setFloatFromEnv(&cfg.PricingDemand, "PRICING_DEMAND", &errs)

	cfg.AdvisoryEndpoint = strings.TrimSpace(os.Getenv("ADVISORY_ENDPOINT"))
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
	cfg.WebhookToken = os.Getenv("WEBHOOK_TOKEN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.PricingBaseFare < 0 || cfg.PricingPerKm < 0 {
		errs = append(errs, fmt.Errorf("PRICING_BASE_FARE and PRICING_PER_KM must be >= 0"))
	}
	if cfg.PricingTraffic <= 0 || cfg.PricingDemand <= 0 {
		errs = append(errs, fmt.Errorf("PRICING_TRAFFIC and PRICING_DEMAND must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:      ":2112",
		KafkaBrokers:     []string{"localhost:9092"},
		KafkaTopic:       "ride-offers",
		KafkaGroup:       "campusride-offer-mirror",
		RedisAddr:        "localhost:6379",
		RedisOfferPrefix: "offer:",
		LogLevel:         "info",
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisOfferPrefix, "REDIS_OFFER_PREFIX")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, errors.New("KAFKA_BROKERS must name at least one broker")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			*errs = append(*errs, fmt.Errorf("invalid %s: %q is not a finite number", key, v))
			return
		}
		*target = f
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
