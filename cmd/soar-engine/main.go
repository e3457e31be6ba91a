// Package main is the entry point for the SOAR engine: event consumer,
// trigger engine, playbook workers, correlators and operator API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"watchtower-soar/internal/action"
	"watchtower-soar/internal/api"
	"watchtower-soar/internal/binding"
	"watchtower-soar/internal/config"
	"watchtower-soar/internal/correlation"
	"watchtower-soar/internal/dedup"
	apperrors "watchtower-soar/internal/errors"
	"watchtower-soar/internal/eventlog"
	"watchtower-soar/internal/jobqueue"
	"watchtower-soar/internal/metrics"
	"watchtower-soar/internal/playbook"
	"watchtower-soar/internal/schema"
	"watchtower-soar/internal/storage"
	"watchtower-soar/internal/trigger"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		configPath  string
	)
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&configPath, "config", "", "Path to config file (overrides SOAR_CONFIG_PATH)")
	flag.Parse()

	if showVersion {
		fmt.Printf("soar-engine %s\n", version)
		os.Exit(0)
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	apperrors.SetProductionMode(cfg.Logging.Production)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"brokers", cfg.EventLog.Brokers,
		"storage_enabled", cfg.Storage.Enabled,
		"correlation_enabled", cfg.Correlation.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bindings and playbooks
	validator := schema.NewValidator()
	registry, err := binding.NewRegistry(binding.NewMemoryStore(), validator)
	if err != nil {
		slog.Error("failed to create binding registry", "error", err)
		os.Exit(1)
	}

	playbooks := playbook.NewStore()
	if cfg.Playbooks.Dir != "" {
		n, err := playbooks.LoadDir(cfg.Playbooks.Dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Warn("playbook directory missing, starting with none", "dir", cfg.Playbooks.Dir)
			} else {
				slog.Error("failed to load playbooks", "dir", cfg.Playbooks.Dir, "error", err)
				os.Exit(1)
			}
		} else {
			slog.Info("playbooks loaded", "dir", cfg.Playbooks.Dir, "count", n)
		}
	}

	// Redis backs both the firing guard and the job queue.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Dedup.Addr,
		Password: cfg.Dedup.Password,
		DB:       cfg.Dedup.DB,
		PoolSize: cfg.Dedup.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "addr", cfg.Dedup.Addr, "error", err)
		os.Exit(1)
	}
	guard := dedup.NewRedisStoreFromClient(rdb, cfg.Dedup.TTL, logger)

	var archiver jobqueue.Archiver
	if cfg.Archive.Enabled {
		s3arc, err := jobqueue.NewS3Archiver(ctx, &cfg.Archive.S3, logger)
		if err != nil {
			slog.Error("failed to create dead-job archiver", "error", err)
			os.Exit(1)
		}
		archiver = s3arc
		slog.Info("dead-job archival enabled", "bucket", cfg.Archive.S3.Bucket)
	}

	queue, err := jobqueue.New(rdb, &cfg.JobQueue, archiver, logger)
	if err != nil {
		slog.Error("failed to create job queue", "error", err)
		os.Exit(1)
	}
	if n, err := queue.RecoverInFlight(ctx); err != nil {
		slog.Error("in-flight recovery failed", "error", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Info("recovered stranded jobs", "count", n)
	}
	go queue.RunPromoter(ctx)

	// Storage-backed collaborators
	var (
		chClient   *storage.Client
		alertStore *storage.AlertStore
		execStore  *storage.ExecutionStore
		suggStore  *storage.SuggestionStore
	)
	if cfg.Storage.Enabled {
		chClient, err = storage.NewClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		if err := storage.NewMigrator(chClient, logger).Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		alertStore = storage.NewAlertStore(chClient)
		execStore = storage.NewExecutionStore(chClient)
		suggStore = storage.NewSuggestionStore(chClient)
		slog.Info("storage initialized", "hosts", cfg.Storage.ClickHouse.Hosts)
	}

	// Action catalog
	actions := action.NewRegistry()
	actions.Register(action.NewNotifyAction(&action.LogSender{Logger: logger}, "soc-alerts", logger))
	actions.Register(action.NewWebhookAction(30*time.Second, logger))
	actions.Register(action.NewTicketAction(&action.SequentialIDGen{}, logger))
	actions.Register(action.NewBlockIPAction(action.NewMemoryBlocklist(), logger))
	if alertStore != nil {
		actions.Register(action.NewTagAlertAction(alertStore, logger))
		actions.Register(action.NewEnrichAction(alertStore, logger))
	}
	slog.Info("action catalog ready", "actions", actions.IDs())

	var sink playbook.ExecutionSink = logOnlySink{logger: logger}
	if execStore != nil {
		sink = execStore
	}
	executor := playbook.NewExecutor(playbooks, actions, sink, 30*time.Second, logger)

	engine, err := trigger.New(&cfg.Trigger, registry, guard, queue, executor, logger)
	if err != nil {
		slog.Error("failed to create trigger engine", "error", err)
		os.Exit(1)
	}
	if err := engine.Start(ctx); err != nil {
		slog.Error("failed to start trigger engine", "error", err)
		os.Exit(1)
	}

	consumer, err := eventlog.NewConsumer(&cfg.EventLog, engine.HandleEvent, logger)
	if err != nil {
		slog.Error("failed to create event consumer", "error", err)
		os.Exit(1)
	}
	if err := consumer.Start(ctx); err != nil {
		slog.Error("failed to start event consumer", "error", err)
		os.Exit(1)
	}

	// Correlators need the alert store for lookback.
	var coordinator *correlation.Coordinator
	if cfg.Correlation.Enabled && alertStore != nil {
		temporal := correlation.NewTemporalCorrelator(&cfg.Correlation.Temporal, logger)
		graph := correlation.NewGraphCorrelator(&cfg.Correlation.Graph, logger)
		coordinator, err = correlation.NewCoordinator(
			&cfg.Correlation.Coordinator, temporal, graph,
			alertStore, alertStore, suggStore, logger)
		if err != nil {
			slog.Error("failed to create correlation coordinator", "error", err)
			os.Exit(1)
		}
		coordinator.Start(ctx)
	} else if cfg.Correlation.Enabled {
		slog.Warn("correlation requires storage, coordinator disabled")
	}

	// Operator API
	mux := http.NewServeMux()
	var (
		execLister api.ExecutionLister
		suggLister api.SuggestionLister
	)
	if execStore != nil {
		execLister = execStore
		suggLister = suggStore
	}
	api.NewServer(registry, execLister, suggLister).RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("starting API server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Stop the intake first so no new jobs arrive, then drain workers.
	if err := consumer.Stop(); err != nil {
		slog.Error("consumer stop error", "error", err)
	}
	engine.Stop()
	if coordinator != nil {
		coordinator.Stop()
	}
	cancel()

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}
	if err := guard.Close(); err != nil {
		slog.Error("redis close error", "error", err)
	}

	stats := consumer.Stats()
	slog.Info("shutdown complete",
		"events_consumed", stats["consumed"],
		"events_dead_lettered", stats["dead_letters"],
	)
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// logOnlySink records executions to the log when storage is disabled.
type logOnlySink struct {
	logger *slog.Logger
}

func (s logOnlySink) RecordExecution(_ context.Context, exec *playbook.Execution) error {
	s.logger.Info("execution finished",
		"execution_id", exec.ID,
		"playbook_id", exec.PlaybookID,
		"status", exec.Status,
		"steps", len(exec.Results))
	return nil
}
