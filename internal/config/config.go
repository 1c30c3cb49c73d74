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
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MigrateOnStart     bool
	MaxBodyBytes       int64
	EnableHSTS         bool

	Obs ObsConfig

	QuoteTTL           time.Duration
	QuotePurgeInterval time.Duration
	QuotePurgeGrace    time.Duration
	CarrierTimeout     time.Duration
	CarrierConcurrency int
	AutoQuote          bool
	StoreCacheTTL      time.Duration
	IdempotencyTTL     time.Duration
	LockTTL            time.Duration

	QuoteRateLimitMax    int
	QuoteRateLimitWindow time.Duration

	RatesAPIURL     string
	RatesAPIKey     string
	RatesAPICarrier string

	FlatRateBase  int64
	FlatRatePerKg int64

	// TableRateTiers is a comma separated list of maxGrams:amount pairs.
	TableRateTiers     string
	TableRateCountries []string

	Circuit CircuitConfig
	Retry   RetryConfig
}

// ObsConfig configures logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnableTracing    bool
	OTLPEndpoint     string
	SamplingRatio    float64
	MetricsBucketsMS string
	EnablePprof      bool
	PprofUser        string
	PprofPass        string
}

// CircuitConfig tunes the carrier circuit breaker.
type CircuitConfig struct {
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// RetryConfig tunes retries of outbound carrier calls.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
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
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),
		MaxBodyBytes:       int64(parseInt(k.String("MAX_BODY_BYTES"), 1<<20)),
		EnableHSTS:         parseBool(k.String("SECURITY_ENABLE_HSTS")),
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko_checkout"),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING")),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 0.1),
			MetricsBucketsMS: strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
			EnablePprof:      parseBool(k.String("OBS_ENABLE_PPROF")),
			PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
		},
		QuoteTTL:             parseDuration(k.String("QUOTE_TTL"), "30m"),
		QuotePurgeInterval:   parseDuration(k.String("QUOTE_PURGE_INTERVAL"), "15m"),
		QuotePurgeGrace:      parseDuration(k.String("QUOTE_PURGE_GRACE"), "1h"),
		CarrierTimeout:       parseDuration(k.String("CARRIER_TIMEOUT"), "5s"),
		CarrierConcurrency:   parseInt(k.String("CARRIER_CONCURRENCY"), 4),
		AutoQuote:            parseBool(k.String("AUTO_QUOTE")),
		StoreCacheTTL:        parseDuration(k.String("STORE_CACHE_TTL"), "5m"),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:              parseDuration(k.String("LOCK_TTL"), "2m"),
		QuoteRateLimitMax:    parseInt(k.String("QUOTE_RATE_LIMIT_MAX"), 60),
		QuoteRateLimitWindow: parseDuration(k.String("QUOTE_RATE_LIMIT_WINDOW"), "1m"),
		RatesAPIURL:          strings.TrimSpace(k.String("RATES_API_URL")),
		RatesAPIKey:          strings.TrimSpace(k.String("RATES_API_KEY")),
		RatesAPICarrier:      valueOrDefault(k.String("RATES_API_CARRIER"), "rates-api"),
		TableRateTiers:       strings.TrimSpace(k.String("TABLE_RATE_TIERS")),
		TableRateCountries:   splitAndTrim(k.String("TABLE_RATE_COUNTRIES")),
		FlatRateBase:         int64(parseInt(k.String("FLAT_RATE_BASE"), 1500)),
		FlatRatePerKg:        int64(parseInt(k.String("FLAT_RATE_PER_KG"), 500)),
		Circuit: CircuitConfig{
			MinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
			FailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
			OpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		},
		Retry: RetryConfig{
			MaxAttempts: parseInt(k.String("RETRY_MAX_ATTEMPTS"), 2),
			BaseBackoff: parseDuration(k.String("RETRY_BASE_BACKOFF"), "100ms"),
			Jitter:      parseFloat(k.String("RETRY_JITTER"), 0.2),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.Obs.SamplingRatio < 0 || cfg.Obs.SamplingRatio > 1 {
		return nil, fmt.Errorf("OBS_TRACING_SAMPLING_RATIO must be within [0,1], got %v", cfg.Obs.SamplingRatio)
	}
	if cfg.QuoteTTL <= 0 {
		return nil, errors.New("QUOTE_TTL must be positive")
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

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
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
