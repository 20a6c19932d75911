package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/categorizer/internal/config"
	"github.com/JonMunkholm/categorizer/internal/core"
	"github.com/JonMunkholm/categorizer/internal/logging"
	"github.com/JonMunkholm/categorizer/internal/store"
	"github.com/JonMunkholm/categorizer/internal/vocab"
	"github.com/JonMunkholm/categorizer/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	v, err := loadVocabulary(cfg.Vocabulary.Path)
	if err != nil {
		slog.Error("failed to load vocabulary", "path", cfg.Vocabulary.Path, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store opened", "driver", cfg.Store.Driver)

	service := core.NewService(st, v, core.Options{
		AutoGenerate:         cfg.Engine.AutoGenerate,
		SampleSize:           cfg.Engine.SampleSize,
		BatchSize:            cfg.Engine.BatchSize,
		Workers:              cfg.Engine.Workers,
		SchemaCacheSize:      cfg.Cache.SchemaSize,
		TemplateCacheSize:    cfg.Cache.TemplateSize,
		CacheTTL:             cfg.Cache.TTL,
		MaxConcurrentBatches: cfg.Batch.MaxConcurrent,
		BatchWait:            cfg.Batch.MaxWaitTime,
	}, slog.Default())

	stats := service.Stats()
	slog.Info("service ready",
		"industries", stats.Industries,
		"adapters", stats.Adapters,
		"auto_generate", stats.AutoGenerate,
	)

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then wait for running batches
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		status := service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("waiting for batches to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("batches did not complete in time", "error", err)
			} else {
				slog.Info("all batches completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
}

// loadVocabulary reads the vocabulary file, or the built-in one when path
// is empty.
func loadVocabulary(path string) (*vocab.Vocabulary, error) {
	if path == "" {
		return vocab.Default()
	}
	return vocab.Load(path)
}

// openStore opens the configured store. PostgreSQL gets a pool tuned from
// the config; other drivers go through store.Open.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if !strings.EqualFold(cfg.Driver, store.DriverPostgres) {
		return store.Open(ctx, cfg.Driver, cfg.DSN)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	// The store owns the pool from here on, including on error.
	st, err := store.NewPostgresFromPool(ctx, pool)
	if err != nil {
		return nil, err
	}
	return st, nil
}
