package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// Negotiation knobs. The defaults mirror the product behavior:
	// $5 minimum ride price, $10 driver offering floor, 10% platform fee,
	// 1s simulated counterparty latency.
	MinRidePrice    float64
	OfferFloor      float64
	PlatformFeeRate float64
	ResponseDelay   time.Duration
	NotificationCap int
	DefaultSpeedMps float64
	ETACacheTTL     time.Duration

	InitialRiderBalance  float64
	InitialDriverBalance float64
	PlatformAccount      string

	StripeKey string

	// Optional HTTP push endpoint mirrored on every broadcast so clients
	// without an open WebSocket still receive notifications.
	PushEndpoint string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		KafkaTopic:      "ride-events",

		MinRidePrice:    5,
		OfferFloor:      10,
		PlatformFeeRate: 0.10,
		ResponseDelay:   time.Second,
		NotificationCap: 10,
		DefaultSpeedMps: 10,
		ETACacheTTL:     30 * time.Second,

		InitialRiderBalance:  50,
		InitialDriverBalance: 20,
		PlatformAccount:      "platform",

		LogLevel: "info",
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

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.MinRidePrice, "MIN_RIDE_PRICE", &errs)
	setFloatFromEnv(&cfg.OfferFloor, "DRIVER_OFFER_FLOOR", &errs)
	setFloatFromEnv(&cfg.PlatformFeeRate, "PLATFORM_FEE_RATE", &errs)
	setDurationFromEnv(&cfg.ResponseDelay, "RESPONSE_DELAY", &errs)
	setIntFromEnv(&cfg.NotificationCap, "NOTIFICATION_CAP", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)
	setFloatFromEnv(&cfg.InitialRiderBalance, "INITIAL_RIDER_BALANCE", &errs)
	setFloatFromEnv(&cfg.InitialDriverBalance, "INITIAL_DRIVER_BALANCE", &errs)
	setStringFromEnv(&cfg.PlatformAccount, "PLATFORM_ACCOUNT")

	cfg.StripeKey = os.Getenv("STRIPE_API_KEY")
	cfg.PushEndpoint = strings.TrimSpace(os.Getenv("PUSH_ENDPOINT"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MinRidePrice <= 0 {
		errs = append(errs, fmt.Errorf("MIN_RIDE_PRICE must be > 0"))
	}
	if cfg.PlatformFeeRate < 0 || cfg.PlatformFeeRate >= 1 {
		errs = append(errs, fmt.Errorf("PLATFORM_FEE_RATE must be in [0,1)"))
	}
	if cfg.NotificationCap <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFICATION_CAP must be > 0"))
	}

	return cfg, errors.Join(errs...)
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
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
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
