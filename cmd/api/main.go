package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/api/dto"
	httptransport "github.com/spec-kit/account-service/internal/api/http"
	"github.com/spec-kit/account-service/internal/api/http/handlers"
	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/cache"
	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/observability"
	"github.com/spec-kit/account-service/internal/persistence"
	"github.com/spec-kit/account-service/internal/repository"
	"github.com/spec-kit/account-service/internal/service"
	"github.com/spec-kit/account-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var (
		userRepo  repository.UserRepository
		tokenRepo repository.TokenRepository
		roleRepo  repository.RoleRepository
	)
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		pool := pg.PoolHandle()
		userRepo = repository.NewUserRepository(pool)
		tokenRepo = repository.NewTokenRepository(pool)
		roleRepo = repository.NewRoleRepository(pool)
	} else {
		store := repository.NewMemoryStore()
		userRepo, tokenRepo, roleRepo = store.Users, store.Tokens, store.Roles
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	revokedCache := cache.NewNoopRevokedTokenCache()
	if redis.Enabled() {
		revokedCache = cache.NewRedisRevokedTokenCache(redis.Client, cfg.App.Name+":revoked", cfg.Auth.RefreshTokenTTL())
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger, cfg.Audit))

	tokenMgr := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL(), cfg.Auth.RefreshTokenTTL())
	queryService := service.NewUserQueryService(userRepo, roleRepo)
	commandService := service.NewUserCommandService(service.UserCommandDependencies{
		UserRepo:   userRepo,
		Query:      queryService,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	tokenService := service.NewTokenService(service.TokenDependencies{
		TokenRepo:    tokenRepo,
		Generator:    tokenMgr,
		RevokedCache: revokedCache,
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		Logger:       logger,
	})
	authService := service.NewAuthService(service.AuthDependencies{
		Query:        queryService,
		Commands:     commandService,
		Tokens:       tokenService,
		TokenManager: tokenMgr,
		Hasher:       auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Logger:       logger,
	})
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), queryService)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
		"postgres": pg,
		"redis":    redis,
	})
	usersHandler := handlers.NewUsersHandler(authService, queryService, commandService, dto.ValidationRules{
		MinPasswordLength:  cfg.Auth.MinPasswordLength,
		DefaultPhoneRegion: cfg.Auth.DefaultPhoneRegion,
	})

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Users:          usersHandler,
		Metrics:        handlers.MetricsHandler(metrics),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
