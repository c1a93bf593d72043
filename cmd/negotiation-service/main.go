package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/internal/api"
	"github.com/Checker-Finance/negotiation/internal/catalog"
	"github.com/Checker-Finance/negotiation/internal/clock"
	"github.com/Checker-Finance/negotiation/internal/identity"
	"github.com/Checker-Finance/negotiation/internal/jobs"
	"github.com/Checker-Finance/negotiation/internal/legacy"
	"github.com/Checker-Finance/negotiation/internal/negotiation"
	"github.com/Checker-Finance/negotiation/internal/pricing"
	"github.com/Checker-Finance/negotiation/internal/publisher"
	"github.com/Checker-Finance/negotiation/internal/query"
	"github.com/Checker-Finance/negotiation/internal/rabbitmq"
	"github.com/Checker-Finance/negotiation/internal/rate"
	internalsecrets "github.com/Checker-Finance/negotiation/internal/secrets"
	"github.com/Checker-Finance/negotiation/internal/store"
	"github.com/Checker-Finance/negotiation/pkg/cache"
	"github.com/Checker-Finance/negotiation/pkg/config"
	"github.com/Checker-Finance/negotiation/pkg/eventbus"
	"github.com/Checker-Finance/negotiation/pkg/logger"
	"github.com/Checker-Finance/negotiation/pkg/model"
	"github.com/Checker-Finance/negotiation/pkg/secrets"
	"github.com/Checker-Finance/negotiation/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infof("starting [%s]...", cfg.ServiceName)

	siblingPolicy, err := negotiation.ParseSiblingPolicy(cfg.SiblingPolicy)
	if err != nil {
		logg.Fatalw("invalid SIBLING_POLICY", "error", err)
	}
	pricingOrder, err := pricing.ParseOrder(cfg.PricingOrder)
	if err != nil {
		logg.Fatalw("invalid PRICING_ORDER", "error", err)
	}

	health := map[string]api.HealthChecker{}

	// --- Store ---
	var (
		st store.Store
		pg *store.PostgresStore
	)
	switch cfg.StoreBackend {
	case "postgres":
		dsn := cfg.DatabaseURL
		if cfg.DatabaseSecret != "" {
			dsn = resolveDSN(ctx, cfg)
		}
		logg.Info("connection to DSN: ", utils.MaskDSN(dsn))

		if cfg.MigrateOnStart {
			if err := store.Migrate(dsn, logger.Named("migrate")); err != nil {
				logg.Fatalw("failed to migrate schema", "error", err)
			}
		}
		pg, err = store.NewPostgres(ctx, dsn, store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, logger.Named("store"))
		if err != nil {
			logg.Fatalw("failed to init store", "error", err)
		}
		st = pg
	case "memory":
		logg.Warn("using in-memory store; records are lost on restart")
		st = store.NewMemory(logger.Named("store"))
	default:
		logg.Fatalw("unknown STORE_BACKEND", "backend", cfg.StoreBackend)
	}
	health["store"] = st

	// --- Reference numbers ---
	var refs store.ReferenceGenerator = store.NewMemoryReferences()
	var redisRefs *store.RedisReferences
	if cfg.RedisAddr != "" {
		redisRefs, err = store.NewRedisReferences(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass)
		if err != nil {
			logg.Fatalw("failed to connect to redis", "error", err, "addr", cfg.RedisAddr)
		}
		refs = redisRefs
		health["redis"] = redisRefs
	}

	// --- Event bus and transports ---
	bus := eventbus.New(func(ev model.NegotiationEvent) string { return string(ev.Type) }, logger.Named("eventbus"))

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err := publisher.New(nc, cfg.NATSSubjectPrefix, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		bus.Subscribe("*", pub.Handle)
		health["nats"] = api.HealthFunc(func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nc.FlushTimeout(time.Second)
		})
	}

	var relay *rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		relay, err = rabbitmq.NewPublisher(cfg.RabbitMQURL, bus, cfg.RabbitMQTopics, logger.Named("rabbitmq"))
		if err != nil {
			logg.Fatalw("failed to init rabbitmq relay", "error", err, "url", utils.MaskURL(cfg.RabbitMQURL))
		}
	}

	if cfg.LegacySync {
		if pg == nil {
			logg.Fatal("LEGACY_SYNC requires STORE_BACKEND=postgres")
		}
		legacy.NewAcceptedOfferWriter(pg.PG, logger.Named("legacy"), cfg.ServiceName).Subscribe(bus)
	}

	// --- Catalog ---
	var cat negotiation.Catalog
	if cfg.CatalogBaseURL != "" {
		cat = catalog.New(catalog.Config{
			BaseURL:  cfg.CatalogBaseURL,
			CacheTTL: cfg.CatalogCacheTTL,
			Timeout:  cfg.CatalogTimeout,
			RetryMax: 2,
		}, nil, logger.Named("catalog"))
	}

	// --- Negotiation core ---
	clk := clock.System{}
	coord := negotiation.New(st, refs, bus, cat, negotiation.Options{
		SiblingPolicy:       siblingPolicy,
		DefaultValidityDays: cfg.DefaultBidValidityDays,
		Calculator:          pricing.Calculator{Order: pricingOrder},
		Clock:               clk,
	}, logger.Named("negotiation"))
	reads := query.New(st, coord, logger.Named("query"))

	// --- Expiry sweeper ---
	sweeper := jobs.NewExpirySweeper(logger.Named("jobs"), st, coord, clk, jobs.SweeperConfig{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
		Timeout:   cfg.SweepTimeout,
	})
	go sweeper.Start(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
		Immutable:    true,
	})
	app.Use(recover.New())

	bidLimiter := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.BidRatePerSecond,
		Burst:             cfg.BidRateBurst,
	})
	go bidLimiter.StartPruner(ctx, time.Minute)
	handler := api.NewHandler(logger.Named("api"), coord, reads, identity.NewHeaderResolver(), bidLimiter)
	api.RegisterRoutes(app, handler, health)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("["+cfg.ServiceName+"] running",
		"env", cfg.Env,
		"store", cfg.StoreBackend,
		"sibling_policy", siblingPolicy,
		"sweep_interval", cfg.SweepInterval)

	<-ctx.Done()
	logg.Infof("shutting down [%s]...", cfg.ServiceName)

	sweeper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := bus.Wait(shutdownCtx); err != nil {
		logg.Warnw("eventbus.drain_timeout", "error", err)
	}
	if relay != nil {
		if err := relay.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if redisRefs != nil {
		if err := redisRefs.Close(); err != nil {
			logg.Warnw("redis.close_failed", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}

// resolveDSN reads the database DSN from AWS Secrets Manager.
func resolveDSN(ctx context.Context, cfg *config.Config) string {
	provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		logger.L().Fatal("failed to create AWS Secrets Manager provider", zap.Error(err))
	}
	resolver := internalsecrets.NewAWSResolver(
		logger.Named("secrets"),
		cfg.Env,
		cfg.ServiceName,
		provider,
		cache.New[string](cfg.SecretCacheTTL),
	)
	dsn, err := resolver.Resolve(ctx, cfg.DatabaseSecret, internalsecrets.ParseDSN)
	if err != nil {
		logger.L().Fatal("failed to resolve database secret",
			zap.String("secret", resolver.SecretName(cfg.DatabaseSecret)),
			zap.Error(err))
	}
	return dsn
}
