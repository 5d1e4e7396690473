package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/helmsman-admin/helmsman/internal/app"
	"github.com/helmsman-admin/helmsman/internal/audit"
	"github.com/helmsman-admin/helmsman/internal/authz"
	"github.com/helmsman-admin/helmsman/internal/menus"
	"github.com/helmsman-admin/helmsman/internal/observability"
	"github.com/helmsman-admin/helmsman/internal/permissions"
	"github.com/helmsman-admin/helmsman/internal/platform/cache"
	"github.com/helmsman-admin/helmsman/internal/platform/db"
	"github.com/helmsman-admin/helmsman/internal/roles"
	"github.com/helmsman-admin/helmsman/internal/users"
	"github.com/helmsman-admin/helmsman/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	authzCache := authz.NewRedisCache(redisClient, cfg.CacheTTL)
	userRepo := users.NewRepository(pool)
	invalidator := authz.NewInvalidator(authzCache, userRepo)
	recorder := audit.NewRecorder(pool)

	roleRepo := roles.NewRepository(pool)
	resolver := authz.NewResolver(roleRepo, authzCache, logger)
	resolver.SetMetrics(metrics)
	authzMiddleware := authz.Middleware{Resolver: resolver, Logger: logger}

	permissionRepo := permissions.NewRepository(pool)
	permissionService := permissions.NewService(permissionRepo, invalidator, logger)
	permissionsHandler := permissions.NewHandler(logger, permissionService, authzMiddleware)

	roleService := roles.NewService(roleRepo, invalidator, recorder, logger)
	rolesHandler := roles.NewHandler(logger, roleService, authzMiddleware)

	menuRepo := menus.NewRepository(pool)
	menuService := menus.NewService(menuRepo, invalidator, authzCache, recorder, logger)
	menusHandler := menus.NewHandler(logger, menuService, authzMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		PermissionsHandler: permissionsHandler,
		RolesHandler:       rolesHandler,
		MenusHandler:       menusHandler,
		JobHandler:         jobHandler,
		Pool:               pool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
