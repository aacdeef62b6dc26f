package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"velu/internal/agent"
	"velu/internal/config"
	"velu/internal/logging"
	"velu/internal/messaging/inproc"
	"velu/internal/metrics"
	"velu/internal/modelrouter"
	"velu/internal/orchestrator"
	"velu/internal/policy"
	"velu/internal/proc"
	"velu/internal/statelog"
	sqlitestore "velu/internal/store/sqlite"
	"velu/internal/telemetry"
)

// app holds the wired process. close releases it in reverse order.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *sqlitestore.Store
	bus      *inproc.Bus
	registry *prometheus.Registry
	orch     *orchestrator.Service
	shutdown telemetry.ShutdownFunc
}

func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.workspace != "" {
		cfg.Orchestrator.Workspace = flags.workspace
	}
	if flags.dbPath != "" {
		cfg.Store.DBPath = flags.dbPath
	}
	if flags.stateLog != "" {
		cfg.Orchestrator.StateLog = flags.stateLog
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	a.shutdown, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	a.store, err = sqlitestore.Open(cfg.Store.DBPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := a.store.Migrate(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	reg, err := agent.NewDefaultRegistry(agent.Deps{
		Workspace:    cfg.Orchestrator.Workspace,
		AllowedRoots: cfg.Orchestrator.AllowedRoots,
		Jobs:         a.store,
		Runner:       proc.Exec{},
		Tester: agent.TesterConfig{
			Command:     cfg.Tester.Command,
			ConfigFiles: cfg.Tester.ConfigFiles,
			DefaultArgs: cfg.Tester.DefaultArgs,
			Timeout:     time.Duration(cfg.Tester.TimeoutSeconds) * time.Second,
		},
		Git: agent.GitConfig{
			GitDir:      cfg.Git.GitDir,
			WorkTree:    cfg.Git.WorkTree,
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
		},
		Logger: logger.Named("agent"),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build handler registry: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.bus = inproc.New(256)
	a.orch = orchestrator.New(orchestrator.Deps{
		Registry:  reg,
		Policy:    policy.New(a.store, cfg.Policy.DenyTasks),
		Router:    modelrouter.New(nil),
		Events:    statelog.New(cfg.Orchestrator.StateLog),
		Jobs:      a.store,
		Bus:       a.bus,
		Metrics:   metrics.New(a.registry),
		Tracer:    otel.GetTracerProvider(),
		Workspace: cfg.Orchestrator.Workspace,
		Logger:    logger.Named("orchestrator"),
	})
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close sqlite store", zap.Error(err))
		}
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("shutdown telemetry", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
