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
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-laundry/internal/pricing"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Window is a count-per-duration limit such as "10/1m".
type Window struct {
	Max    int
	Period time.Duration
}

// Breaker configures a circuit breaker guarding an outbound dependency.
type Breaker struct {
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// Observability toggles logging, metrics and tracing.
type Observability struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	TracingEnabled   bool
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	StorageDriver      string
	DatabaseURL        string
	MigrateOnStart     bool
	RedisURL           string
	RabbitMQURL        string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	AccessTokenTTL     time.Duration
	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	Pricing           pricing.Policy
	StrictTransitions bool
	LockTTL           time.Duration
	LockRetryBackoff  time.Duration
	IdempotencyTTL    time.Duration
	UserStatsCacheTTL time.Duration

	PromoValidateLimit Window
	OrderCreateRate    string

	QueuePrefix      string
	QueueConcurrency int
	QueueMaxAttempts int
	NotifyExchange   string
	CircuitNotify    Breaker

	Obs Observability
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	defaults := pricing.DefaultPolicy()
	policy := pricing.Policy{
		FreeDeliveryAbove: parseMoney(k.String("PRICING_FREE_DELIVERY_ABOVE"), defaults.FreeDeliveryAbove, "PRICING_FREE_DELIVERY_ABOVE", collect),
		DeliveryFee:       parseMoney(k.String("PRICING_DELIVERY_FEE"), defaults.DeliveryFee, "PRICING_DELIVERY_FEE", collect),
		ExpressCharge:     parseMoney(k.String("PRICING_EXPRESS_CHARGE"), defaults.ExpressCharge, "PRICING_EXPRESS_CHARGE", collect),
		TaxRate:           defaults.TaxRate,
	}
	if raw := strings.TrimSpace(k.String("PRICING_TAX_RATE")); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			collect(fmt.Errorf("PRICING_TAX_RATE must be a fraction between 0 and 1, got %q", raw))
		} else {
			policy.TaxRate = rate
		}
	}

	promoLimit, err := parseWindow(valueOrDefault(k.String("RATE_LIMIT_PROMO_VALIDATE"), "10/1m"))
	collect(err)

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		StorageDriver:      strings.ToLower(valueOrDefault(k.String("STORAGE_DRIVER"), StoragePostgres)),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START"), false),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		RabbitMQURL:        strings.TrimSpace(k.String("RABBITMQ_URL")),
		JWTSecret:          strings.TrimSpace(k.String("JWT_SECRET")),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "backend-laundry"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "laundry-frontend"),
		AccessTokenTTL:     parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("REQUEST_BODY_LIMIT_BYTES"), 1<<20)),

		Pricing:           policy,
		StrictTransitions: parseBool(k.String("ORDER_STRICT_TRANSITIONS"), false),
		LockTTL:           parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff:  parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		UserStatsCacheTTL: parseDuration(k.String("USER_STATS_CACHE_TTL"), "5m"),

		PromoValidateLimit: promoLimit,
		OrderCreateRate:    valueOrDefault(k.String("RATE_LIMIT_ORDER_CREATE"), "20-M"),

		QueuePrefix:      valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "laundry:queue"),
		QueueConcurrency: parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueMaxAttempts: parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
		NotifyExchange:   valueOrDefault(k.String("NOTIFY_EXCHANGE"), "order_status_fanout"),
		CircuitNotify: Breaker{
			MinRequests:  parseInt(k.String("CIRCUIT_NOTIFY_MIN_REQUESTS"), 5),
			FailureRatio: parseFloat(k.String("CIRCUIT_NOTIFY_FAILURE_RATIO"), 0.5),
			OpenFor:      parseDuration(k.String("CIRCUIT_NOTIFY_OPEN_FOR"), "30s"),
		},

		Obs: Observability{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "laundry"),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}

	switch cfg.StorageDriver {
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			collect(errors.New("DATABASE_URL is required for the postgres storage driver"))
		}
	case StorageMemory:
	default:
		collect(fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.StorageDriver))
	}
	if cfg.JWTSecret == "" {
		collect(errors.New("JWT_SECRET is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
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

// UsesPostgres reports whether repositories are backed by the database.
func (c *Config) UsesPostgres() bool { return c.StorageDriver == StoragePostgres }

func parseWindow(value string) (Window, error) {
	maxPart, periodPart, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return Window{}, fmt.Errorf("rate window %q must look like 10/1m", value)
	}
	max, err := strconv.Atoi(strings.TrimSpace(maxPart))
	if err != nil || max <= 0 {
		return Window{}, fmt.Errorf("rate window %q: invalid count", value)
	}
	period, err := time.ParseDuration(strings.TrimSpace(periodPart))
	if err != nil || period <= 0 {
		return Window{}, fmt.Errorf("rate window %q: invalid period", value)
	}
	return Window{Max: max, Period: period}, nil
}

func parseMoney(value string, fallback pricing.Money, key string, collect func(error)) pricing.Money {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || v < 0 {
		collect(fmt.Errorf("%s must be a non-negative amount in paise, got %q", key, value))
		return fallback
	}
	return v
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
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
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

func parseInt(value string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return v
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return v
	}
	return fallback
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
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
