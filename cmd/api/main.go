// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arkkgraphics/lucia-backend/internal/admin"
	"github.com/arkkgraphics/lucia-backend/internal/auth"
	"github.com/arkkgraphics/lucia-backend/internal/billing"
	"github.com/arkkgraphics/lucia-backend/internal/config"
	"github.com/arkkgraphics/lucia-backend/internal/core"
	"github.com/arkkgraphics/lucia-backend/internal/entitlement"
	"github.com/arkkgraphics/lucia-backend/internal/health"
	"github.com/arkkgraphics/lucia-backend/internal/middleware"
	"github.com/arkkgraphics/lucia-backend/internal/profile"
	"github.com/arkkgraphics/lucia-backend/internal/quota"
	"github.com/arkkgraphics/lucia-backend/internal/relay"
	"github.com/arkkgraphics/lucia-backend/internal/server"
)

const (
	drainDelay = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	logger.Info("token verifier initialized",
		"jwks_url", cfg.Auth.JWKSEndpoint(),
		"issuer", cfg.Auth.Issuer,
	)

	aliases := entitlement.DefaultAliases()
	resolver := entitlement.NewResolver(aliases)

	profileRepo := profile.NewRepository(db.DB)

	quotaSvc := quota.NewService(profileRepo, resolver)
	quotaHandler := quota.NewHandler(quotaSvc)

	billingSvc := billing.NewService(cfg.Stripe, aliases, profileRepo)
	billingProcessor := billing.NewProcessor(cfg.Stripe, profileRepo, aliases)
	billingHandler := billing.NewHandler(
		billingSvc,
		billingProcessor,
		cfg.Stripe.WebhookSecret,
	)

	relayClient := relay.NewClient(cfg.Gateway)
	relayHandler := relay.NewHandler(quotaSvc, relayClient, cfg.Gateway)

	healthHandler := health.NewHandler(db, redis)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerMinute(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
			),
			FailOpen: true,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	authenticator := middleware.Authenticator(verifier)
	optionalAuth := middleware.OptionalAuth(verifier)
	adminOnly := middleware.RequireAdminUID(cfg.Auth.IsAdmin)

	billingHandler.RegisterRoutes(router, optionalAuth)

	chatLimiter := middleware.TieredRateLimiter(
		redis.Client,
		middleware.DefaultTiers,
		quotaSvc.TierOf,
	)

	router.Route("/v1", func(r chi.Router) {
		quotaHandler.RegisterRoutes(r, authenticator)
		relayHandler.RegisterRoutes(r, authenticator, chatLimiter)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
