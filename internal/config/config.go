package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the process configuration, read from the environment with an
// optional .env file underneath.
type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string
	LogLevel    string
	LogFile     string

	StoreBackend string
	RedisURL     string
	RedisPrefix  string

	KafkaBrokers []string
	KafkaTopic   string

	StripeAPIKey        string
	StripeWebhookSecret string

	RedirectGatewayURL     string
	RedirectGatewayKey     string
	RedirectGatewayTimeout time.Duration

	MaxAttempts     int
	ProviderTimeout time.Duration
	PollInterval    time.Duration
	PollTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RoutingFile points at a YAML route table; empty means the built-in one.
	RoutingFile string
}

// Load reads configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup. Tests pass a map-backed lookup.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}

	cfg := &Config{
		ServiceName: e.str("SERVICE_NAME", "payment-orchestrator"),
		Env:         e.str("ENV", "dev"),
		HTTPAddr:    e.str("HTTP_ADDR", ":"+e.str("PORT", "8080")),
		LogLevel:    e.str("LOG_LEVEL", "info"),
		LogFile:     e.str("LOG_FILE", ""),

		StoreBackend: strings.ToLower(e.str("STORE_BACKEND", StoreMemory)),
		RedisURL:     e.str("REDIS_URL", ""),
		RedisPrefix:  e.str("REDIS_PREFIX", "payments"),

		KafkaBrokers: e.list("KAFKA_BROKERS"),
		KafkaTopic:   e.str("KAFKA_TOPIC", "payment-events"),

		StripeAPIKey:        e.str("STRIPE_API_KEY", ""),
		StripeWebhookSecret: e.str("STRIPE_WEBHOOK_SECRET", ""),

		RedirectGatewayURL:     e.str("REDIRECT_GATEWAY_URL", ""),
		RedirectGatewayKey:     e.str("REDIRECT_GATEWAY_KEY", ""),
		RedirectGatewayTimeout: e.duration("REDIRECT_GATEWAY_TIMEOUT", 10*time.Second),

		MaxAttempts:     e.integer("MAX_ATTEMPTS", 5),
		ProviderTimeout: e.duration("PROVIDER_TIMEOUT", 10*time.Second),
		PollInterval:    e.duration("POLL_INTERVAL", 3*time.Second),
		PollTimeout:     e.duration("POLL_TIMEOUT", 10*time.Minute),
		ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),

		RoutingFile: e.str("ROUTING_FILE", ""),
	}
	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.RedirectGatewayKey != "" && c.RedirectGatewayURL == "" {
		missing = append(missing, "REDIRECT_GATEWAY_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.MaxAttempts <= 0 {
		return errors.New("config: MAX_ATTEMPTS must be positive")
	}
	if c.PollInterval >= c.PollTimeout {
		return errors.New("config: POLL_INTERVAL must be shorter than POLL_TIMEOUT")
	}
	return nil
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return n
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	if d <= 0 {
		e.errs = append(e.errs, fmt.Errorf("config: %s must be positive", key))
		return fallback
	}
	return d
}

func (e *env) list(key string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
