package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/mpesa"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
)

// API is the configuration of cmd/api.
type API struct {
	RunLocal bool
	HTTPAddr string
	LogLevel string

	// OrdersTable and AttemptsTable are empty when running locally against
	// in-memory stores.
	OrdersTable   string
	AttemptsTable string
	AttemptTTL    time.Duration

	CallbackQueueURL string
	NotifyQueueURL   string
	MetricsNamespace string

	Poll  payments.PollerConfig
	MPesa mpesa.Config
}

// Worker is the configuration of cmd/worker.
type Worker struct {
	RunLocal     bool
	LogLevel     string
	OrdersTable  string
	LocalSQSBody string
}

// LoadAPI reads the API configuration from the environment.
func LoadAPI() (API, error) {
	cfg := API{
		HTTPAddr:         optionalString("HTTP_ADDR", ":8080"),
		LogLevel:         optionalString("LOG_LEVEL", "info"),
		OrdersTable:      optionalString("ORDERS_TABLE", ""),
		AttemptsTable:    optionalString("ATTEMPTS_TABLE", ""),
		CallbackQueueURL: optionalString("CALLBACK_QUEUE_URL", ""),
		NotifyQueueURL:   optionalString("NOTIFY_QUEUE_URL", ""),
		MetricsNamespace: optionalString("METRICS_NAMESPACE", "MealPay"),
		AttemptTTL:       10 * time.Minute,
		Poll: payments.PollerConfig{
			Interval:    payments.DefaultPollInterval,
			MaxAttempts: payments.DefaultMaxAttempts,
		},
	}

	var err error
	if cfg.RunLocal, err = optionalBool("RUN_LOCAL"); err != nil {
		return cfg, err
	}
	if !cfg.RunLocal && cfg.OrdersTable == "" {
		return cfg, fmt.Errorf("ORDERS_TABLE is required unless RUN_LOCAL=true")
	}

	if d, err := optionalDuration("POLL_INTERVAL"); err != nil {
		return cfg, err
	} else if d != nil {
		cfg.Poll.Interval = *d
	}
	if n, err := optionalInt("POLL_MAX_ATTEMPTS"); err != nil {
		return cfg, err
	} else if n != nil {
		cfg.Poll.MaxAttempts = *n
	}
	if d, err := optionalDuration("ATTEMPT_TTL"); err != nil {
		return cfg, err
	} else if d != nil {
		cfg.AttemptTTL = *d
	}

	if cfg.MPesa, err = loadMPesa(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWorker reads the worker configuration from the environment.
func LoadWorker() (Worker, error) {
	cfg := Worker{
		LogLevel:     optionalString("LOG_LEVEL", "info"),
		LocalSQSBody: optionalString("LOCAL_SQS_BODY", ""),
	}
	var err error
	if cfg.RunLocal, err = optionalBool("RUN_LOCAL"); err != nil {
		return cfg, err
	}
	if cfg.OrdersTable, err = requiredString("ORDERS_TABLE"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadMPesa() (mpesa.Config, error) {
	var (
		cfg mpesa.Config
		err error
	)
	if cfg.BaseURL, err = requiredString("MPESA_BASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.Token, err = requiredString("MPESA_API_TOKEN"); err != nil {
		return cfg, err
	}
	if cfg.ShortCode, err = requiredString("MPESA_SHORTCODE"); err != nil {
		return cfg, err
	}
	if cfg.Passkey, err = requiredString("MPESA_PASSKEY"); err != nil {
		return cfg, err
	}
	if cfg.CallbackURL, err = requiredString("MPESA_CALLBACK_URL"); err != nil {
		return cfg, err
	}
	if d, err := optionalDuration("MPESA_TIMEOUT"); err != nil {
		return cfg, err
	} else if d != nil {
		cfg.Timeout = *d
	}
	if raw := strings.TrimSpace(os.Getenv("MPESA_RPS")); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return cfg, fmt.Errorf("MPESA_RPS: %w", err)
		}
		if rps < 0 {
			return cfg, fmt.Errorf("MPESA_RPS must be >= 0")
		}
		cfg.RequestsPerSecond = rps
	}
	return cfg, nil
}

func optionalString(name, def string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return def
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val <= 0 {
		return nil, fmt.Errorf("%s must be > 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 1 {
		return nil, fmt.Errorf("%s must be >= 1", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}
