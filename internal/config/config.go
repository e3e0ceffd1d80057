package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	Provider           string
	RedisURL           string
	CORSAllowedOrigins []string

	StripeAPIKey        string
	StripeWebhookSecret string
	PayPalAPIKey        string
	PayPalWebhookSecret string
	SquareAPIKey        string
	SquareWebhookSecret string
	SquareNotifyURL     string
	MockWebhookSecret   string

	ProviderTimeout time.Duration
	WebhookTTL      time.Duration
	IdempotencyTTL  time.Duration

	MockMinLatency       time.Duration
	MockMaxLatency       time.Duration
	MockDeclineRate      float64
	MockInsufficientRate float64
	MockAuthRequiredRate float64

	WebhookRateLimit       int
	WebhookRateLimitWindow time.Duration

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	TracingEnabled   bool
	OTLPEndpoint     string
	TraceSampleRatio float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		Provider:           strings.ToLower(valueOrDefault(k.String("PAYMENT_PROVIDER"), "mock")),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		StripeAPIKey:        k.String("STRIPE_API_KEY"),
		StripeWebhookSecret: k.String("STRIPE_WEBHOOK_SECRET"),
		PayPalAPIKey:        k.String("PAYPAL_API_KEY"),
		PayPalWebhookSecret: k.String("PAYPAL_WEBHOOK_SECRET"),
		SquareAPIKey:        k.String("SQUARE_API_KEY"),
		SquareWebhookSecret: k.String("SQUARE_WEBHOOK_SECRET"),
		SquareNotifyURL:     k.String("SQUARE_NOTIFICATION_URL"),
		MockWebhookSecret:   valueOrDefault(k.String("MOCK_WEBHOOK_SECRET"), "mock-webhook-secret"),

		ProviderTimeout: parseDuration(k.String("PROVIDER_TIMEOUT"), "30s"),
		WebhookTTL:      parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "15m"),

		MockMinLatency:       parseDuration(k.String("MOCK_MIN_LATENCY"), "1500ms"),
		MockMaxLatency:       parseDuration(k.String("MOCK_MAX_LATENCY"), "3500ms"),
		MockDeclineRate:      parseFloat(k.String("MOCK_DECLINE_RATE"), 0.05),
		MockInsufficientRate: parseFloat(k.String("MOCK_INSUFFICIENT_RATE"), 0.03),
		MockAuthRequiredRate: parseFloat(k.String("MOCK_AUTH_REQUIRED_RATE"), 0.02),

		WebhookRateLimit:       parseInt(k.String("WEBHOOK_RATE_LIMIT"), 120),
		WebhookRateLimitWindow: parseDuration(k.String("WEBHOOK_RATE_LIMIT_WINDOW"), "1m"),

		LogFormat:        valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("LOG_LEVEL"), "info"),
		MetricsNamespace: valueOrDefault(k.String("METRICS_NAMESPACE"), "payment_core"),
		TracingEnabled:   parseBool(k.String("TRACING_ENABLED")),
		OTLPEndpoint:     k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio: parseFloat(k.String("TRACE_SAMPLE_RATIO"), 0.1),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "mock":
	case "stripe":
		if c.StripeAPIKey == "" {
			return errors.New("STRIPE_API_KEY is required when PAYMENT_PROVIDER=stripe")
		}
		if c.StripeWebhookSecret == "" {
			return errors.New("STRIPE_WEBHOOK_SECRET is required when PAYMENT_PROVIDER=stripe")
		}
	case "paypal":
		if c.PayPalAPIKey == "" {
			return errors.New("PAYPAL_API_KEY is required when PAYMENT_PROVIDER=paypal")
		}
		if c.PayPalWebhookSecret == "" {
			return errors.New("PAYPAL_WEBHOOK_SECRET is required when PAYMENT_PROVIDER=paypal")
		}
	case "square":
		if c.SquareAPIKey == "" {
			return errors.New("SQUARE_API_KEY is required when PAYMENT_PROVIDER=square")
		}
		if c.SquareWebhookSecret == "" {
			return errors.New("SQUARE_WEBHOOK_SECRET is required when PAYMENT_PROVIDER=square")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q", c.Provider)
	}

	if c.MockMaxLatency < c.MockMinLatency {
		return errors.New("MOCK_MAX_LATENCY must be >= MOCK_MIN_LATENCY")
	}
	total := c.MockDeclineRate + c.MockInsufficientRate + c.MockAuthRequiredRate
	if c.MockDeclineRate < 0 || c.MockInsufficientRate < 0 || c.MockAuthRequiredRate < 0 || total > 1 {
		return errors.New("mock outcome rates must be non-negative and sum to at most 1")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseFloat(value string, fallback float64) float64 {
	base := strings.TrimSpace(value)
	if base == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(base, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseInt(value string, fallback int) int {
	base := strings.TrimSpace(value)
	if base == "" {
		return fallback
	}
	n, err := strconv.Atoi(base)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
