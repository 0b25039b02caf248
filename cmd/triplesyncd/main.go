// Command triplesyncd runs the task orchestration core's daemon: the sync
// coordinator (C5), the background service manager with its four services
// (C10/C11), and the auto-append rule engine (C9) wired to the event bus
// (C7) — grounded on the teacher's cmd/task-orchestrator/main.go flag-parse-
// then-wire-then-run shape and cmd/cobra_cli.go's signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/triplesync/core/internal/bootstrap"
	"github.com/triplesync/core/internal/config"
	"github.com/triplesync/core/internal/events"
	"github.com/triplesync/core/internal/graph"
	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/model"
	"github.com/triplesync/core/internal/rules"
	"github.com/triplesync/core/internal/svcmgr"
	"github.com/triplesync/core/internal/svcmgr/services"
	"github.com/triplesync/core/internal/syncsvc"
)

func main() {
	configPath := flag.String("config", "", "Path to tsyncd.yaml (defaults to ./tsyncd.yaml or $HOME/tsyncd.yaml)")
	logLevel := flag.String("log-level", "", "Override the configured log level (debug|info|warn|error)")
	flag.Parse()

	var opts []config.Option
	if *configPath != "" {
		opts = append(opts, config.WithFile(*configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "triplesyncd: load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).With("triplesyncd")

	tasks, vec, graphStore, err := bootstrap.OpenStores(cfg, logger)
	if err != nil {
		logger.Error("open stores: %v", err)
		os.Exit(1)
	}

	coord := syncsvc.New(syncsvc.Config{
		BatchSize:        cfg.SyncBatchSize,
		BatchWindow:      cfg.SyncBatchTimeout(),
		MaxRetries:       cfg.MaxRetries,
		MaxContentLength: cfg.EmbeddingMaxContentLength,
	}, tasks, vec, graphStore, logger.With("sync-coordinator"))

	analyzer := graph.NewAnalyzer(graphStore)

	bus := events.New(events.DefaultHistorySize, events.DefaultQueueSize, logger.With("event-bus"))
	registry := rules.NewRegistry(rules.NewEvaluator())
	engine := rules.NewEngine(registry, rules.NewEvaluator(), tasks, nil, logger.With("rule-engine"))
	engine.SubscribeAll(bus)

	manager := svcmgr.New(svcmgr.Config{
		WorkerCount: cfg.WorkerCount,
		MaxRetries:  cfg.MaxRetries,
	}, logger.With("service-manager"), nil)

	manager.Register(services.NewEmbeddingService(coord))
	manager.Register(services.NewIncrementalSyncService(coord))
	manager.Register(services.NewCycleDetectionService(analyzer, tasks, logger.With("cycle-detection")))

	indexOpt, err := services.NewIndexOptimizationService(tasks, vec, graphStore, logger.With("index-optimization"),
		cronSpecForHours(cfg.OptimizeIntervalHours), cfg.OptimizeLargeChangeThreshold,
		func(ctx context.Context) {
			manager.Enqueue(&model.ServiceOperation{
				Service:   model.ServiceIndexOptimize,
				OpKind:    services.OpOptimizeIndices,
				CreatedAt: time.Now(),
				Priority:  model.ServicePriorityLow,
			})
		})
	if err != nil {
		logger.Error("init index optimization service: %v", err)
		os.Exit(1)
	}
	manager.Register(indexOpt)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus.Start(ctx)
	manager.Start(ctx)
	coord.Start(ctx)

	logger.Info("triplesyncd started: workers=%d batch_size=%d", cfg.WorkerCount, cfg.SyncBatchSize)
	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight work")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), svcmgr.DefaultShutdownGrace)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("service manager shutdown: %v", err)
	}
	coord.Stop()
	bus.Stop()
	logger.Info("triplesyncd stopped")
}

func cronSpecForHours(hours int) string {
	if hours <= 0 {
		hours = 6
	}
	return fmt.Sprintf("0 */%d * * *", hours)
}

