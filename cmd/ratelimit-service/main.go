package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"isectech/ratelimit-service/config"
	deliveryhttp "isectech/ratelimit-service/delivery/http"
	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
	"isectech/ratelimit-service/infrastructure/database/postgres"
	"isectech/ratelimit-service/infrastructure/limits"
	"isectech/ratelimit-service/infrastructure/messaging"
	"isectech/ratelimit-service/infrastructure/monitoring"
	"isectech/ratelimit-service/infrastructure/store"
	"isectech/ratelimit-service/pkg/logging"
	"isectech/ratelimit-service/usecase"
)

const (
	ServiceName = "ratelimit-service"
	Version     = "1.0.0"
)

// Application wires all components of the rate limit service
type Application struct {
	config *config.Config
	logger *logging.Logger

	redisClient *redis.Client
	db          *sqlx.DB
	redisStore  *store.RedisStore
	provider    *limits.Provider
	metrics     *monitoring.Collector
	events      service.EventPublisher
	httpServer  *deliveryhttp.HTTPServer
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		app.logger.Error("Application terminated with error", zap.Error(err))
		app.Close()
		os.Exit(1)
	}

	app.Close()
	app.logger.Info("Application stopped successfully")
}

// NewApplication creates and wires a new application instance
func NewApplication() (*Application, error) {
	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	logger.Info("Starting rate limit service",
		zap.String("service", ServiceName),
		zap.String("version", Version),
		zap.String("environment", cfg.Service.Environment))

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initialize(); err != nil {
		return nil, err
	}
	app.watchRules(loader)
	return app, nil
}

// watchRules hot-reloads the rule table when the config file changes.
// An invalid table is rejected and the previous snapshot stays active.
func (app *Application) watchRules(loader *config.Loader) {
	loader.Watch(
		func(cfg *config.Config) {
			if err := app.provider.Load(cfg.Rules); err != nil {
				app.metrics.RuleReloadsTotal.WithLabelValues("rejected").Inc()
				app.logger.Error("Rule table reload rejected", zap.Error(err))
				return
			}
			app.metrics.RuleReloadsTotal.WithLabelValues("ok").Inc()
			app.metrics.RuleTableVersion.Set(float64(app.provider.Version()))
			app.logger.Info("Rule table reloaded",
				zap.Int64("version", app.provider.Version()),
				zap.Int("rules", len(cfg.Rules)))
		},
		func(err error) {
			app.metrics.RuleReloadsTotal.WithLabelValues("rejected").Inc()
			app.logger.Error("Config reload rejected", zap.Error(err))
		},
	)
}

func (app *Application) initialize() error {
	cfg := app.config

	app.redisClient = redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	})

	// a failed ping is logged, not fatal: the fail policy governs
	// behavior while the store is unreachable
	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	defer cancel()
	if err := app.redisClient.Ping(pingCtx).Err(); err != nil {
		app.logger.Warn("Redis unreachable at startup",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("fail_policy", cfg.Pipeline.FailPolicy),
			zap.Error(err))
	}

	behaviorParams := service.BehaviorParams{
		Increment: cfg.Behavior.Increment,
		Ceiling:   cfg.Behavior.Ceiling,
		HalfLife:  cfg.Behavior.HalfLife,
	}
	app.redisStore = store.NewRedisStore(app.redisClient, behaviorParams, app.logger)

	provider, err := limits.NewProvider(cfg.Rules, app.logger)
	if err != nil {
		return fmt.Errorf("load rule table: %w", err)
	}
	app.provider = provider

	app.metrics = monitoring.NewCollector("ratelimit")
	app.metrics.RuleTableVersion.Set(float64(provider.Version()))

	var audit service.AuditRepository
	var auditReader deliveryhttp.AuditReader
	if cfg.Database.Enabled {
		db, err := postgres.Connect(cfg.Database.DatabaseConfig)
		if err != nil {
			return fmt.Errorf("connect audit database: %w", err)
		}
		app.db = db
		repo := postgres.NewAuditRepository(db)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
		audit = repo
		auditReader = repo
	} else {
		audit = logAuditRepository{logger: app.logger}
	}

	if cfg.Kafka.Enabled {
		app.events = messaging.NewKafkaPublisher(cfg.Kafka.KafkaPublisherConfig, app.logger)
	} else {
		app.events = messaging.NewNopPublisher()
	}

	resolver := usecase.NewKeyResolver()
	engine := usecase.NewCounterEngine(app.redisStore, app.logger)
	burst := usecase.NewBurstGuard(app.redisStore, app.logger)
	adaptive := usecase.NewAdaptiveAdjuster(app.redisStore, cfg.Adaptive, app.logger)

	pipeline := usecase.NewPipeline(resolver, engine, burst, adaptive,
		provider, app.redisStore, app.events, app.metrics, app.logger, cfg.Pipeline)

	admin := usecase.NewAdminService(provider, engine, adaptive,
		app.redisStore, app.redisStore, app.redisStore,
		audit, app.events, app.metrics, app.logger, cfg.Admin)

	ratelimitMiddleware := deliveryhttp.NewRateLimitMiddleware(pipeline, app.logger)
	adminHandler := deliveryhttp.NewAdminHandler(admin, app.logger)
	if auditReader != nil {
		adminHandler = adminHandler.WithAuditLog(auditReader)
	}
	adminAuth := deliveryhttp.NewAdminAuthMiddleware(
		[]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, app.logger)

	checkers := []deliveryhttp.HealthChecker{
		deliveryhttp.HealthCheckFunc{
			ComponentName: "redis",
			Check:         app.redisStore.Ping,
		},
	}
	if app.db != nil {
		checkers = append(checkers, deliveryhttp.HealthCheckFunc{
			ComponentName: "postgres",
			Check: func(ctx context.Context) error {
				return postgres.HealthCheck(ctx, app.db)
			},
		})
	}

	app.httpServer = deliveryhttp.NewHTTPServer(
		ratelimitMiddleware, adminHandler, adminAuth,
		app.metrics, checkers, cfg.HTTP, app.logger)

	return nil
}

// Run starts the HTTP server and blocks until shutdown
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return app.httpServer.Start()
	})

	group.Go(func() error {
		<-ctx.Done()
		app.logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			app.config.Service.ShutdownTimeout)
		defer cancel()
		return app.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// Close releases held connections
func (app *Application) Close() {
	if app.events != nil {
		if err := app.events.Close(); err != nil {
			app.logger.Warn("Failed to close event publisher", zap.Error(err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn("Failed to close audit database", zap.Error(err))
		}
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	app.logger.Sync()
}

// logAuditRepository records admin events to the service log when no
// audit database is configured.
type logAuditRepository struct {
	logger *logging.Logger
}

func (r logAuditRepository) LogAdminEvent(_ context.Context, record *entity.AuditRecord) error {
	r.logger.LogAuditEvent(record.Actor, record.Action, record.TargetIdentity,
		zap.String("category", record.Category),
		zap.String("source_ip", record.SourceIP),
		zap.String("request_id", record.RequestID))
	return nil
}
