package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"docvault/internal/backend"
	"docvault/internal/config"
	"docvault/internal/database"
	"docvault/internal/database/migration"
	"docvault/internal/eventbus"
	handlers "docvault/internal/http/handler"
	"docvault/internal/http/middleware"
	"docvault/internal/logger"
	"docvault/internal/metrics"
	"docvault/internal/model"
	"docvault/internal/otel"
	"docvault/internal/repository/postgres"
	"docvault/internal/service"
	"docvault/internal/storage"
	"docvault/internal/syncer"
	"docvault/internal/vault"
)

const (
	primaryBackend   = "primary"
	secondaryBackend = "secondary"
	localBackend     = "local"

	shutdownTimeout = 30 * time.Second
	verifierTimeout = 30 * time.Second
)

// @title Document Vault API
// @version 1.0
// @BasePath /
func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("docvault stopped", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// Postgres is optional: without it documents, the queue and lock records
	// live in process memory only.
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	switch {
	case errors.Is(err, database.ErrNotConfigured):
		log.Warn("database not configured, running without persistence")
	case err != nil:
		return fmt.Errorf("connect database: %w", err)
	default:
		defer db.Close()
		if cfg.Database.AutoMigrate {
			if err := migration.EnsureMigrated(ctx, db, log); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
	}

	clk := clock.WallClock

	cache := eventbus.NewCache(cfg.Events.CacheSize, cfg.Events.CacheTTL)
	busOpts := []eventbus.Option{
		eventbus.WithCache(cache),
		eventbus.WithBuffer(cfg.Events.SubscriberBuffer),
		eventbus.WithClock(clk),
		eventbus.WithLogger(log),
		eventbus.WithMetrics(m),
	}
	if cfg.Events.RelayURL != "" {
		relay, err := eventbus.NewRelay(cfg.Events.RelayURL, clk, cfg.Events.RelayBackoff, log, m)
		if err != nil {
			return fmt.Errorf("create event relay: %w", err)
		}
		busOpts = append(busOpts, eventbus.WithSink(relay))
		go relay.Run(ctx)
	}
	bus := eventbus.New(busOpts...)
	defer bus.Close()

	engine, err := newSyncEngine(cfg, db, clk, bus, log, m)
	if err != nil {
		return err
	}
	if err := engine.Restore(ctx); err != nil {
		return err
	}
	engine.Start(ctx)
	defer engine.Stop()

	vaultOpts := []vault.Option{
		vault.WithClock(clk),
		vault.WithLogger(log),
		vault.WithMetrics(m),
		vault.WithPublisher(bus),
		vault.WithResolver(vault.NewResolver(vault.DefaultPolicies())),
	}
	if db != nil {
		vaultOpts = append(vaultOpts, vault.WithRepository(postgres.NewLockRecordPostgres(db)))
	}
	if cfg.Verification.ProviderURL != "" {
		provider := vault.NewHTTPProvider(cfg.Verification.ProviderURL, verifierTimeout)
		vaultOpts = append(vaultOpts, vault.WithVerifier(provider, cfg.Verification.Attempts, cfg.Verification.Delay))
	}
	vaultEngine := vault.New(engine, vaultOpts...)
	if err := vaultEngine.Restore(ctx); err != nil {
		return err
	}

	bus.Subscribe(model.EventWildcard, func(e model.Event) {
		log.Debug("event", zap.String("type", string(e.Type)), zap.String("subject", e.Subject))
	})

	docSvc := service.NewDocumentService(engine, vaultEngine)
	vaultSvc := service.NewVaultService(vaultEngine, engine)

	promMiddleware, err := middleware.NewPrometheusMiddleware(registry)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    100 << 20,
	})
	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(promMiddleware.Handler())

	handlers.RegisterRoutes(app, handlers.Services{
		DB:        db,
		Documents: docSvc,
		Vault:     vaultSvc,
		Gatherer:  registry,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info("http server listening", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Warn("http shutdown failed", zap.Error(err))
	}
	return nil
}

// newSyncEngine builds the adapters from what is configured: the MinIO
// object store as primary, the Postgres metadata index as secondary and the
// local fallback cache, which is always present.
func newSyncEngine(cfg *config.AppConfig, db *sql.DB, clk clock.Clock, bus *eventbus.Bus, log *zap.Logger, m *metrics.Metrics) (*syncer.Engine, error) {
	var adapters []backend.Adapter

	if cfg.MinIO.Endpoint != "" {
		objStore, err := storage.NewMinIO(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		adapters = append(adapters, backend.NewObjectStore(primaryBackend, objStore))
	} else {
		log.Warn("object storage not configured, primary backend disabled")
	}

	opts := []syncer.Option{
		syncer.WithClock(clk),
		syncer.WithLogger(log),
		syncer.WithMetrics(m),
		syncer.WithPublisher(bus),
	}
	if db != nil {
		docRepo := postgres.NewDocumentPostgres(db)
		adapters = append(adapters, backend.NewMetadata(secondaryBackend, docRepo, db))
		opts = append(opts,
			syncer.WithDocumentRepository(docRepo),
			syncer.WithQueueRepository(postgres.NewSyncQueuePostgres(db)),
		)
	}

	fallback, err := storage.NewLocal(cfg.Local.FallbackDir)
	if err != nil {
		return nil, fmt.Errorf("init local fallback: %w", err)
	}
	adapters = append(adapters, backend.NewLocalCache(localBackend, fallback))

	spool, err := storage.NewLocal(cfg.Local.SpoolDir)
	if err != nil {
		return nil, fmt.Errorf("init spool: %w", err)
	}

	engine, err := syncer.New(cfg.Sync, adapters, spool, opts...)
	if err != nil {
		return nil, fmt.Errorf("init sync engine: %w", err)
	}
	return engine, nil
}
