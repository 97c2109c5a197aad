package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/hostelsync-api/api/swagger"
	"github.com/noah-isme/hostelsync-api/internal/authz"
	"github.com/noah-isme/hostelsync-api/internal/handler"
	"github.com/noah-isme/hostelsync-api/internal/middleware"
	"github.com/noah-isme/hostelsync-api/internal/repository"
	"github.com/noah-isme/hostelsync-api/internal/service"
	"github.com/noah-isme/hostelsync-api/pkg/cache"
	"github.com/noah-isme/hostelsync-api/pkg/config"
	"github.com/noah-isme/hostelsync-api/pkg/database"
	"github.com/noah-isme/hostelsync-api/pkg/events"
	"github.com/noah-isme/hostelsync-api/pkg/export"
	"github.com/noah-isme/hostelsync-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/hostelsync-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/hostelsync-api/pkg/middleware/requestid"
)

// @title HostelSync Transport API
// @version 1.0.0
// @description Route catalog, seat booking and passenger manifests for hostel transport.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	// Redis backs the catalog cache, idempotency keys and rate limiting.
	// Without it the ledger still works; those features are switched off.
	var rdb *redis.Client
	if client, err := cache.NewRedis(ctx, cfg.Redis); err != nil {
		logr.Warn("redis unavailable; cache, idempotency and rate limiting disabled", zap.Error(err))
	} else {
		rdb = client
	}
	cacheRepo := repository.NewCacheRepository(rdb, logr)
	defer cacheRepo.Close() //nolint:errcheck

	policy, err := authz.NewPolicy(ctx)
	if err != nil {
		return err
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	publisher, err := events.NewPublisher(cfg.Events, logr)
	if err != nil {
		return err
	}
	dispatcher := events.NewDispatcher(publisher, events.DispatcherConfig{
		Workers: cfg.Events.Workers,
		Retries: cfg.Events.Retries,
		Observe: metricsSvc.RecordEventDelivery,
		Logger:  logr,
	})
	// Stopped by the deferred Stop, after the server has drained.
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	users := repository.NewUserRepository(db)
	schedules := repository.NewScheduleRepository(db)
	bookings := repository.NewBookingRepository(db)
	routes := repository.NewRouteRepository(db)
	vehicles := repository.NewVehicleRepository(db)
	audits := repository.NewAuditRepository(db)

	txManager := repository.NewTxManager(db)
	location := cfg.Ledger.Location()
	ledger := service.NewLedgerService(schedules, bookings, txManager, dispatcher, metricsSvc, service.LedgerConfig{
		Location:         location,
		StorageTimeout:   cfg.Ledger.StorageTimeout,
		ReadRetries:      cfg.Ledger.ReadRetries,
		ReadRetryBackoff: cfg.Ledger.ReadRetryBackoff,
	}, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled && rdb != nil)
	scheduleSvc := service.NewScheduleService(schedules, routes, vehicles, bookings, txManager, cacheSvc, validate, logr)
	manifestSvc := service.NewManifestService(schedules, bookings, export.NewCSVExporter(), export.NewPDFExporter(), location, logr)
	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	deps := handler.Dependencies{
		Bookings:          handler.NewBookingHandler(ledger, validate),
		Schedules:         handler.NewScheduleHandler(scheduleSvc),
		Manifests:         handler.NewManifestHandler(manifestSvc),
		Metrics:           handler.NewMetricsHandler(metricsSvc, checks),
		Tokens:            authSvc,
		Principals:        policy,
		Audit:             audits,
		IdempotencyConfig: middleware.IdempotencyConfig{TTL: cfg.Idempotency.TTL, LockTTL: cfg.Idempotency.LockTTL},
		RateLimitPrefix:   cfg.RateLimit.Prefix,
		Logger:            logr,
	}
	if cfg.Env != config.EnvProduction {
		deps.Auth = handler.NewAuthHandler(authSvc)
	}
	if rdb != nil && cfg.Idempotency.Enabled {
		deps.Idempotency = cacheRepo
	}
	if rdb != nil && cfg.RateLimit.Enabled {
		deps.Limiter = cache.NewTokenBucket(rdb, cache.BucketConfig{
			Capacity:       cfg.RateLimit.Capacity,
			RefillTokens:   cfg.RateLimit.RefillTokens,
			RefillInterval: cfg.RateLimit.RefillInterval,
			TTL:            cfg.RateLimit.TTL,
		})
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	handler.RegisterRoutes(r, cfg.APIPrefix, deps)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("events", dispatcher.Sink()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
