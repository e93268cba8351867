// Package app assembles apisentry's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joshsymonds/apisentry/internal/acquire"
	"github.com/joshsymonds/apisentry/internal/config"
	"github.com/joshsymonds/apisentry/internal/database"
	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/scanner"
	"github.com/joshsymonds/apisentry/internal/store"
	"github.com/joshsymonds/apisentry/internal/telemetry"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

// App holds the wired components behind every command.
type App struct {
	Config   *config.Config
	Logger   logger.Logger
	DB       *database.DB
	Scans    *scanner.Orchestrator
	Store    *store.Store
	Importer *ingest.Importer
	Reader   *acquire.Reader
	closers  []func(context.Context) error
}

// NewLogger builds the logger selected by the logging section.
func NewLogger(cfg config.LoggingConfig) (logger.Logger, error) {
	switch strings.ToLower(cfg.Backend) {
	case "zap":
		format := cfg.Format
		if format == "text" {
			format = "console"
		}
		return logger.NewZapLogger(cfg.Level, format)
	case "", "slog":
		return logger.NewLogger(strings.EqualFold(cfg.Level, "debug"), cfg.Format), nil
	default:
		return nil, fmt.Errorf("unknown logging backend %q", cfg.Backend)
	}
}

// New opens the repository and wires the store, orchestrator, importer and
// input reader. Close releases everything New acquired.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	log, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(log)

	a := &App{Config: cfg, Logger: log}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	dialect, err := database.ParseDialect(cfg.Database.Driver)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	db, err := database.Open(dialect, cfg.Database.DSN,
		database.WithMaxConnections(cfg.Database.MaxConnections),
		database.WithBusyTimeout(cfg.Database.BusyTimeout),
		database.WithLogger(log.With("component", "database")),
	)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	opts := []scanner.Option{
		scanner.WithTimeout(cfg.Scan.Timeout),
		scanner.WithRateLimit(cfg.Scan.RateLimit, cfg.Scan.Burst),
	}
	if strings.EqualFold(cfg.Scan.Lock.Backend, "redis") {
		r := cfg.Scan.Lock.Redis
		client := scanner.NewRedisClient(r.Addr, r.Password, r.DB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = a.Close(ctx)
			return nil, fmt.Errorf("connecting to redis at %s: %w", r.Addr, err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		opts = append(opts, scanner.WithLease(scanner.NewRedisLease(client, r.Prefix)))
	}

	engine := scanner.NewPassiveEngineWithLogger(db, scanner.DefaultChecks(cfg.Scan.Passive.SensitiveKeywords), log)
	a.Scans = scanner.NewOrchestratorWithLogger(engine, log, opts...)

	transitions, err := cfg.Transitions()
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.Store = store.NewWithLogger(db, a.Scans, log, store.WithTransitions(transitions))
	a.Importer = ingest.NewImporterWithLogger(a.Store, cfg.Import.Concurrency, log)

	readerOpts := []acquire.Option{
		acquire.WithMaxBytes(cfg.Import.MaxBytes),
		acquire.WithLogger(log),
	}
	if len(cfg.Import.AllowedDirs) > 0 {
		readerOpts = append(readerOpts, acquire.WithAllowedDirs(cfg.Import.AllowedDirs...))
	}
	if cfg.Import.S3.Region != "" || cfg.Import.S3.Endpoint != "" {
		readerOpts = append(readerOpts, acquire.WithS3Endpoint(cfg.Import.S3.Region, cfg.Import.S3.Endpoint))
	}
	a.Reader = acquire.NewReader(readerOpts...)

	log.Debug("Application ready",
		"driver", string(dialect),
		"lock", cfg.Scan.Lock.Backend,
		"telemetry", cfg.Telemetry.Enabled)
	return a, nil
}

// Close releases resources in reverse acquisition order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
