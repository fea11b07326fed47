package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/message-oven/internal/api"
	"github.com/LeventeLantos/message-oven/internal/client"
	"github.com/LeventeLantos/message-oven/internal/config"
	"github.com/LeventeLantos/message-oven/internal/notify"
	"github.com/LeventeLantos/message-oven/internal/repo"
	"github.com/LeventeLantos/message-oven/internal/scheduler"
	"github.com/LeventeLantos/message-oven/internal/service"
	"github.com/LeventeLantos/message-oven/internal/template"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("message oven exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	pub, closePub, err := openPublisher(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closePub()

	registry := service.NewRegistry(store, pub,
		service.WithRegistryLogger(logger),
		service.WithStopPhrase(cfg.Oven.StopPhrase),
	)
	if err := registry.Load(ctx); err != nil {
		return err
	}

	meta := client.NewMetaClient(cfg.Provider.BaseURL, cfg.Provider.Timeout, cfg.Provider.RatePerSec)
	dispatcher := service.NewDispatcher(meta, template.NewBuilder(cfg.Provider.CountryPrefix), logger)
	oven := service.NewOven(registry, dispatcher, service.WithOvenLogger(logger))

	sched, err := scheduler.New(cfg.Scheduler.Interval, oven.Tick, scheduler.WithLogger(logger))
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.Deps{
		Scheduler: sched,
		Registry:  registry,
		Oven:      oven,
		Campaigns: service.NewCampaigns(meta, logger),
		Provider:  meta,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(handler)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("message oven starting",
			"addr", cfg.Server.Address,
			"driver", cfg.Database.Driver,
			"interval", cfg.Scheduler.Interval.String(),
			"redis", cfg.Redis.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		sched.Stop()
		oven.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	sched.Stop()
	// Cycles already started are allowed to finish.
	oven.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("message oven stopped")
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (repo.AccountRepository, func(), error) {
	var (
		db      *sql.DB
		dialect repo.Dialect
		err     error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		return repo.NewMemoryAccountRepo(), func() {}, nil
	case config.DriverSQLite:
		db, err = repo.OpenSQLite(ctx, cfg.SQLitePath)
		dialect = repo.SQLite
	default:
		db, err = repo.OpenPostgres(ctx, cfg.PostgresURL)
		dialect = repo.Postgres
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	store := repo.NewSQLAccountRepo(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
	}
	return store, func() { _ = db.Close() }, nil
}

func openPublisher(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (notify.Publisher, func(), error) {
	if !cfg.Enabled {
		logger.Info("redis not configured, state notifications disabled")
		return notify.Nop{}, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return notify.NewRedisPublisher(rdb, cfg.Channel, cfg.TTL), func() { _ = rdb.Close() }, nil
}

// loggingMiddleware writes one access log line per request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
