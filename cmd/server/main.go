// Package main is the entry point for the conteo API server: the count
// coordination service spanning the central store and every branch ERP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"conteo/internal/branch"
	"conteo/internal/domain"
	"conteo/internal/domain/counts"
	"conteo/internal/domain/requests"
	"conteo/internal/domain/stock"
	"conteo/internal/infrastructure/cache"
	foliosvc "conteo/internal/infrastructure/folio"
	v1 "conteo/internal/infrastructure/http/v1"
	"conteo/internal/infrastructure/storage/postgres"
	"conteo/internal/infrastructure/storage/postgres/count_repo"
	"conteo/internal/infrastructure/storage/postgres/request_repo"
	"conteo/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting conteo server")

	// --- Local store ---
	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txManager := postgres.NewTxManager(pool)

	// --- Repositories ---
	countRepo := count_repo.New(txManager)
	requestRepo := request_repo.New(txManager)
	specialLines := postgres.NewSpecialLineRepo(txManager)
	branchConfigs := postgres.NewBranchConfigRepo(txManager)
	settings := postgres.NewSettingsRepo(txManager, log)
	auditLog := postgres.NewAuditLog(txManager, log)
	folios := foliosvc.NewService(txManager)

	// --- Events: transactional outbox + relay ---
	events := postgres.NewOutboxPublisher(txManager)
	relay := postgres.NewOutboxRelay(pool, 100, 5*time.Second,
		func(ctx context.Context, event domain.Event) error {
			// Delivery target is log-only until an external consumer exists.
			log.WithContext(ctx).Infow("event dispatched",
				"type", event.Type, "entity", event.Entity, "id", event.ID)
			return nil
		}, log)

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	go relay.Run(relayCtx)

	// --- Branch connection registry ---
	registryCfg := branch.DefaultRegistryConfig()
	if n := getEnvInt("BRANCH_POOL_MAX", 0); n > 0 {
		registryCfg.DefaultPoolMax = n
	}
	if d := getEnvDuration("BRANCH_QUERY_TIMEOUT", 0); d > 0 {
		registryCfg.QueryTimeout = d
	}
	registry := branch.NewRegistry(registryCfg, log)
	defer registry.CloseAll()

	configs, err := branchConfigs.List(ctx)
	if err != nil {
		log.Fatalw("failed to load branch connections", "error", err)
	}
	registry.InitializeBranches(ctx, configs)

	// --- Stock layer with cache ---
	stockCache := cache.New(log)
	cacheCtx, stopCache := context.WithCancel(ctx)
	defer stopCache()
	stockCache.Start(cacheCtx)
	defer stockCache.Stop()

	stockService := stock.NewService(registry, stockCache, log)

	// --- Domain services ---
	notifier := domain.LogNotifier{Log: log}

	countsCfg := counts.DefaultConfig()
	if n := getEnvInt("COUNT_MAX_ITEMS", 0); n > 0 {
		countsCfg.MaxItems = n
	}
	countService := counts.NewService(
		countRepo, stockService, folios, txManager,
		settings, notifier, auditLog, events, specialLines,
		countsCfg, log,
	)
	requestService := requests.NewService(
		requestRepo, countService, folios, txManager,
		settings, notifier, auditLog, events, log,
	)
	countService.SetRequestCreator(requestService)

	// --- HTTP server (ops surface) ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:     pool,
		Registry: registry,
		Cache:    stockCache,
		Stock:    stockService,
		Logger:   log,
	})

	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
