package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"MemberSend/internal/api"
	"MemberSend/internal/config"
	"MemberSend/internal/db"
	"MemberSend/internal/dedup"
	"MemberSend/internal/dispatch"
	"MemberSend/internal/email"
	"MemberSend/internal/events"
	"MemberSend/internal/memstore"
	"MemberSend/internal/metrics"
	"MemberSend/internal/progress"
	"MemberSend/internal/quota"
	"MemberSend/internal/worker"
)

// appStore is everything the server needs from a store backend.
type appStore interface {
	api.Store
	dispatch.Store
	events.Store
	quota.TenantStore
}

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	plans, err := quota.LoadPlans(cfg.PlansFile)
	if err != nil {
		logger.Fatal("failed to load plans", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Store
	// ------------------------------------------------
	var store appStore

	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		store = memstore.New()
	default:
		pg, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	}

	// ------------------------------------------------
	// Dedup + Progress
	// ------------------------------------------------
	var (
		gate    dedup.Gate
		tracker progress.Tracker
	)

	switch cfg.CacheBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid redis url", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}

		gate = dedup.NewRedisGate(rdb, cfg.DedupCooldown, logger)
		tracker = progress.NewRedisTracker(rdb, cfg.ProgressRetention)
	default:
		gate = dedup.NewMemoryGate(cfg.DedupCooldown, cfg.DedupCapacity, logger)
		tracker = progress.NewMemoryTracker(cfg.ProgressRetention)
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Plan Channel (shared by API + workers)
	// ------------------------------------------------
	plansQueue := make(chan *dispatch.Plan, cfg.QueueSize)

	// ------------------------------------------------
	// Email Transport
	// ------------------------------------------------
	transport, err := email.NewTransport(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("email transport setup failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Rate Limiter (one send per interval, process-wide)
	// ------------------------------------------------
	limiter := rate.NewLimiter(rate.Every(cfg.SendInterval), 1)

	// ------------------------------------------------
	// Dispatch
	// ------------------------------------------------
	ledger := quota.NewLedger(store, plans, logger)

	coordinator := dispatch.NewCoordinator(
		store,
		ledger,
		tracker,
		transport,
		limiter,
		plansQueue,
		dispatch.Options{
			PlatformDomain:  cfg.PlatformMailDomain,
			CustomLocalPart: cfg.CustomSenderLocalPart,
			SendTimeout:     cfg.SendTimeout,
		},
		logger,
	)

	if cfg.RecoverAbandoned {
		if err := coordinator.Recover(ctx); err != nil {
			logger.Fatal("campaign recovery failed", zap.Error(err))
		}
	}

	// ------------------------------------------------
	// Worker Pool
	// ------------------------------------------------
	var wg sync.WaitGroup

	worker.StartPool(
		ctx,
		&wg,
		cfg.WorkerCount,
		plansQueue,
		coordinator,
		logger,
	)

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Store:         store,
		Dispatcher:    coordinator,
		Quota:         ledger,
		Progress:      tracker,
		Events:        events.NewIngestor(store, logger),
		Dedup:         gate,
		WebhookSecret: cfg.WebhookSecret,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
		MaxImportRows: cfg.ImportMaxRows,
		Log:           logger,
	}

	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET not set, provider events will be rejected")
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           api.SetupRoutes(apiHandler, []byte(cfg.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Stop accepting new sends before closing the queue
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	coordinator.Close()

	// Workers fail whatever is still queued and exit
	wg.Wait()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
