package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rpattn/fleetquery/internal/config"
	"github.com/rpattn/fleetquery/internal/credentials"
	"github.com/rpattn/fleetquery/internal/db"
	"github.com/rpattn/fleetquery/internal/documentstore"
	"github.com/rpattn/fleetquery/internal/executor"
	"github.com/rpattn/fleetquery/internal/export"
	"github.com/rpattn/fleetquery/internal/logstream"
	"github.com/rpattn/fleetquery/internal/metrics"
	"github.com/rpattn/fleetquery/internal/orchestrator"
	"github.com/rpattn/fleetquery/internal/reports"
	"github.com/rpattn/fleetquery/internal/repository"
	"github.com/rpattn/fleetquery/internal/shard"
	"github.com/rpattn/fleetquery/internal/templates"
)

// app holds the wired collaborators shared by every command.
type app struct {
	cfg       config.Config
	directory *shard.Directory
	catalog   *templates.Catalog
	logs      *logstream.Stream
	metrics   *metrics.Metrics
	orch      *orchestrator.Orchestrator
	exporter  *export.Service
	uploader  *documentstore.Uploader
	history   repository.ExecutionHistoryRepository
	reports   *reports.Runner

	historyConn *db.Connection
}

type appOptions struct {
	withHistory bool
	withUploads bool
}

func newApp(ctx context.Context, configPath string, opts appOptions) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	directory, err := shard.NewDefault(cfg.SQL.Servers)
	if err != nil {
		return nil, fmt.Errorf("build shard directory: %w", err)
	}

	a := &app{
		cfg:       cfg,
		directory: directory,
		catalog:   templates.DefaultCatalog(),
		metrics:   metrics.New(),
	}

	a.logs = logstream.New(
		logstream.WithRetention(cfg.Logs.Retention),
		logstream.WithSchedule(cfg.Logs.CleanupSchedule),
		logstream.WithCleanupHook(func(maxAge time.Duration) {
			if removed := a.orch.Sweep(maxAge); removed > 0 {
				log.Printf("[fleetquery] evicted %d cached result(s)", removed)
			}
		}),
	)

	resolver := credentials.NewResolver(cfg.SQL.Servers, credentials.WithSecondaryMarker(cfg.SQL.SecondaryMarker))
	exec := executor.New(db.NewMultiDialer(), resolver,
		executor.WithCommandTimeout(cfg.SQL.DefaultTimeout),
		executor.WithConnectTimeout(cfg.SQL.ConnectionTimeout),
		executor.WithDefaultDatabase(cfg.SQL.DefaultDatabase),
		executor.WithTLS(cfg.SQL.Encrypt, cfg.SQL.TrustServerCertificate),
		executor.WithProgressLogger(a.logs),
	)
	engine := templates.NewEngine(directory)

	orchOpts := []orchestrator.Option{
		orchestrator.WithMaxConcurrency(cfg.SQL.MaxConcurrentQueries),
		orchestrator.WithExpander(engine),
		orchestrator.WithTemplates(a.catalog),
		orchestrator.WithProgressLogger(a.logs),
		orchestrator.WithObserver(a.metrics),
	}
	if opts.withHistory && cfg.History.Enabled {
		if err := a.openHistory(ctx); err != nil {
			return nil, err
		}
		orchOpts = append(orchOpts, orchestrator.WithHistory(a.history))
	}
	a.orch = orchestrator.New(exec, directory, orchOpts...)
	a.exporter = export.NewService(a.orch)

	var runnerOpts []reports.Option
	if opts.withUploads {
		uploader, err := documentstore.New(ctx, cfg.DocumentStore)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.uploader = uploader
		runnerOpts = append(runnerOpts, reports.WithUpload(a.exporter, uploader))
	}
	a.reports = reports.NewRunner(a.catalog, directory, engine, a.orch, runnerOpts...)

	return a, nil
}

func (a *app) openHistory(ctx context.Context) error {
	if err := db.RunMigrations(a.cfg.History.Database); err != nil {
		return fmt.Errorf("migrate history database: %w", err)
	}
	conn, err := db.NewConnection(ctx, a.cfg.History.Database)
	if err != nil {
		return fmt.Errorf("connect history database: %w", err)
	}
	a.historyConn = conn
	a.history = repository.NewExecutionHistoryRepository(conn.Pool)
	log.Printf("[fleetquery] execution history enabled (%s:%d/%s)", a.cfg.History.Database.Host, a.cfg.History.Database.Port, a.cfg.History.Database.DBName)
	return nil
}

func (a *app) Close() {
	if a.historyConn != nil {
		a.historyConn.Close()
	}
}
