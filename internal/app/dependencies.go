package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-checkout/internal/cache"
	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/lock"
	"github.com/noah-isme/toko-checkout/internal/merchant"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/repo"
	"github.com/noah-isme/toko-checkout/internal/resilience"
	"github.com/noah-isme/toko-checkout/internal/shipping"
	"github.com/noah-isme/toko-checkout/internal/voucher"
)

// Dependencies holds the services shared by the API and the worker.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Validator *validator.Validate
	Locker    lock.Locker
	Events    *events.Bus
	Shipping  *shipping.Engine
	Checkout  *checkout.Service
	Ledger    *payment.Ledger

	// CarrierBreaker guards the remote rating API.
	CarrierBreaker *resilience.Breaker
}

// Open connects Postgres and Redis and assembles the checkout services.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) (*Dependencies, error) {
	if cfg.MigrateOnStart {
		if err := repo.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		logger.Info().Msg("migrations applied")
	}

	pool, err := openPool(ctx, cfg.DatabaseURL, appName)
	if err != nil {
		return nil, err
	}
	rdb, err := openRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		DB:        pool,
		Redis:     rdb,
		Validator: common.NewValidator(),
		Locker:    lock.Locker{R: rdb},
	}
	deps.Events = &events.Bus{Store: repo.NewEvents(pool), Notifiers: []events.Notifier{events.LogNotifier{}}}

	carrierClient := CarrierClient(cfg, logger)
	deps.CarrierBreaker = carrierClient.Breaker
	engine, err := NewShippingEngine(cfg, repo.NewQuotes(pool), carrierClient)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Shipping = engine

	storeCache := cache.NewJSON(rdb, cfg.StoreCacheTTL)
	stores := repo.NewStores(pool)
	prices := repo.NewPricing(pool)
	deps.Checkout = &checkout.Service{
		Stores:    merchant.CachedDirectory{Next: stores, Cache: storeCache},
		Zones:     merchant.Zones{Source: stores, Cache: storeCache},
		Prices:    &pricing.Calculator{Prices: prices},
		Tax:       &pricing.TaxResolver{Rules: prices},
		Vouchers:  &voucher.Service{Source: repo.NewVouchers(pool)},
		Quotes:    engine,
		Events:    deps.Events,
		AutoQuote: cfg.AutoQuote,
	}
	deps.Ledger = &payment.Ledger{Repo: repo.NewLedger(pool), Events: deps.Events}
	return deps, nil
}

// Close releases the connections opened by Open.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// PingDB implements health.Checker.
func (d *Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if d.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DB.Ping(ctx)
}

// PingRedis implements health.Checker.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

func openPool(ctx context.Context, url, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func openRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// CarrierClient builds the retrying, breaker-guarded client used by the remote rating carrier.
func CarrierClient(cfg *config.Config, logger zerolog.Logger) resilience.HTTPClient {
	breaker := resilience.NewBreaker(cfg.Circuit.MinRequests, cfg.Circuit.FailureRatio, cfg.Circuit.OpenFor).
		WithTarget("carrier:" + cfg.RatesAPICarrier).
		WithLogger(logger)
	return resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     breaker,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Jitter:      cfg.Retry.Jitter,
		Timeout:     cfg.CarrierTimeout,
	}
}

// NewShippingEngine registers the configured carriers. The flat rate carrier is
// always available; the table and remote carriers are added when configured.
func NewShippingEngine(cfg *config.Config, quotes shipping.QuoteStore, client shipping.Doer) (*shipping.Engine, error) {
	engine := &shipping.Engine{
		Quotes:      quotes,
		Timeout:     cfg.CarrierTimeout,
		TTL:         cfg.QuoteTTL,
		Concurrency: cfg.CarrierConcurrency,
	}
	engine.Register(shipping.FlatRate{Code: "flat", Base: cfg.FlatRateBase, PerKilo: cfg.FlatRatePerKg})

	if cfg.TableRateTiers != "" {
		tiers, err := ParseWeightTiers(cfg.TableRateTiers)
		if err != nil {
			return nil, err
		}
		engine.Register(shipping.TableRate{Code: "table", Tiers: tiers, Countries: cfg.TableRateCountries})
	}
	if cfg.RatesAPIURL != "" {
		engine.Register(shipping.HTTPCarrier{
			Code:    cfg.RatesAPICarrier,
			BaseURL: cfg.RatesAPIURL,
			APIKey:  cfg.RatesAPIKey,
			Client:  client,
		})
	}
	return engine, nil
}

// ParseWeightTiers parses "maxGrams:amount" pairs, e.g. "500:900,2000:1500".
func ParseWeightTiers(value string) ([]shipping.WeightTier, error) {
	var tiers []shipping.WeightTier
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		grams, amount, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("table rate tier %q: want maxGrams:amount", part)
		}
		g, err := strconv.ParseInt(strings.TrimSpace(grams), 10, 64)
		if err != nil || g <= 0 {
			return nil, fmt.Errorf("table rate tier %q: invalid weight", part)
		}
		a, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil || a < 0 {
			return nil, fmt.Errorf("table rate tier %q: invalid amount", part)
		}
		tiers = append(tiers, shipping.WeightTier{MaxWeightGrams: g, Amount: a})
	}
	if len(tiers) == 0 {
		return nil, errors.New("table rate tiers are empty")
	}
	return tiers, nil
}
