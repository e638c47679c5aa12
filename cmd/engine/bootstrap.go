package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"perpetual-engine/internal/eod"
	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/storage"
	"perpetual-engine/internal/store"
	"perpetual-engine/internal/trace"
	"perpetual-engine/internal/tradelog"
)

// initializeSystem loads .env and sets up the logger and tracer.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs gzips journal files older than TRADER_LOG_RETENTION_DAYS.
func compressOldLogs(ctx context.Context, journal *tradelog.Journal) {
	v := os.Getenv("TRADER_LOG_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn(ctx, "Ignoring TRADER_LOG_RETENTION_DAYS", "value", v, "error", err)
		return
	}
	op := logger.StartOperation(ctx, "tradelog.compress", "retention_days", n)
	if err := journal.CompressOlder(n); err != nil {
		op.EndWithError(err)
		return
	}
	op.End()
}

// initializeSinks returns the persistence sinks in delivery order. The
// journal must come before the EOD sink so a closing day's report sees all
// of its trades. st is nil when storage is disabled.
func initializeSinks(ctx context.Context, cfg *store.Config) ([]interfaces.EventSink, *storage.Store, error) {
	dir := tradelog.Dir()
	journal := tradelog.New(dir, cfg.Location())
	compressOldLogs(ctx, journal)

	sinks := []interfaces.EventSink{
		journal,
		eod.NewSink(eod.NewSummarizer(journal, dir)),
	}

	if !cfg.Storage.Enabled {
		logger.Info(ctx, "SQLite storage disabled")
		return sinks, nil, nil
	}
	op := logger.StartOperation(ctx, "storage.open", "path", cfg.Storage.Path)
	st, err := storage.Open(ctx, cfg.Storage.Path)
	if err != nil {
		op.EndWithError(err)
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	op.End()
	return append(sinks, st), st, nil
}
