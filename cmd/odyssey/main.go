package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-iam/internal/audit/http"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/principals"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.StoreTimeout)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, authority cache and invalidation disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: cfg.TokenSecret,
		Issuer: cfg.TokenIssuer,
		TTL:    cfg.TokenTTL,
		Leeway: cfg.TokenLeeway,
	})
	if err != nil {
		logger.Error("init token service", slog.Any("error", err))
		os.Exit(1)
	}

	store := users.NewService(users.NewRepository(dbpool), cfg.StoreTimeout, logger)
	resolver := authorityResolver(ctx, cfg, redisClient, logger)

	authz := rbac.NewAuthorizer(rbac.NewCatalog(dbpool), logger)
	rbacMiddleware := rbac.Middleware{Authorizer: authz, Logger: logger}

	auditLogger := shared.NewAuditLogger(dbpool)
	authService := auth.NewService(store, tokens, resolver, auditLogger, metrics, logger)
	authHandler := auth.NewHandler(logger, authService, tokens, rbacMiddleware, metrics, cfg.LoginRateLimit)

	redisOpts := cfg.Redis().Asynq()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Authenticator:     auth.NewGateway(tokens, store, resolver, logger, metrics),
		AuthHandler:       authHandler,
		PrincipalsHandler: principals.NewHandler(logger, store, resolver, authz, jobClient),
		AuditHandler:      audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware),
		JobHandler:        jobs.NewHandler(inspector, logger),
		RBACMiddleware:    rbacMiddleware,
		Metrics:           metrics,
		AccessLog:         !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// authorityResolver returns a cached resolver kept coherent over Redis pub/sub,
// or a plain resolver when caching is disabled or Redis is down.
func authorityResolver(ctx context.Context, cfg *app.Config, client *redis.Client, logger *slog.Logger) rbac.AuthorityResolver {
	if cfg.AuthzCacheSize <= 0 || client == nil {
		return rbac.NewResolver()
	}
	authorityCache, err := rbac.NewAuthorityCache(cfg.AuthzCacheSize)
	if err != nil {
		logger.Warn("authority cache disabled", slog.Any("error", err))
		return rbac.NewResolver()
	}
	invalidator := rbac.NewInvalidator(client, cfg.AuthzInvalidationChannel, logger)
	if err := invalidator.Listen(ctx, authorityCache); err != nil {
		logger.Warn("authority cache disabled", slog.Any("error", err))
		return rbac.NewResolver()
	}
	return rbac.NewCachedResolver(nil, authorityCache)
}
