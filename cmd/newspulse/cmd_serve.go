package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/newspulse/internal/analysis"
	"github.com/user/newspulse/internal/cache"
	"github.com/user/newspulse/internal/dedup"
	"github.com/user/newspulse/internal/fanout"
	"github.com/user/newspulse/internal/guard"
	"github.com/user/newspulse/internal/ingest"
	"github.com/user/newspulse/internal/notify"
	"github.com/user/newspulse/internal/scheduler"
	"github.com/user/newspulse/internal/source"
	"github.com/user/newspulse/internal/store"
	"github.com/user/newspulse/internal/stream"
	"github.com/user/newspulse/internal/timeseries"
	"github.com/user/newspulse/internal/types"
)

var serveMemory bool

func init() {
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "run with in-memory storage and transport (no Postgres/Kafka)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the newspulse daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// pipelineStore is the storage surface the daemon wires together.
type pipelineStore interface {
	types.DedupStore
	types.ItemStore
	types.ResultStore
	types.BucketStore
	types.GuardStore
	types.CacheStore
	types.SourceConfigStore
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var st pipelineStore
	if serveMemory {
		st = store.NewMemory()
		slog.Warn("running with in-memory storage, state is lost on exit")
	} else {
		pg, err := store.NewPostgres(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		st = pg
	}

	// Fanout transport
	var publisher fanout.Publisher
	var consumer fanout.Consumer
	if !serveMemory && len(cfg.Kafka.Brokers) > 0 {
		kafka, err := fanout.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Group)
		if err != nil {
			return fmt.Errorf("connect to kafka: %w", err)
		}
		defer kafka.Close()
		publisher, consumer = kafka, kafka
		slog.Info("kafka fanout enabled", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.Group)
	} else {
		bus := fanout.NewMemory(0)
		publisher, consumer = bus, bus
		slog.Warn("using in-process fanout (no kafka brokers configured)")
	}

	// Source adapters
	registry := source.NewRegistry()
	registry.Register(source.NewRSSAdapter(nil))
	registry.Register(source.NewAPIAdapter(nil))
	registry.Register(source.NewHTMLAdapter(nil))

	// Guarded ingestion
	g := guard.New(st, guard.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown.Std(),
		QuotaWindow:      cfg.Quota.Window.Std(),
		QuotaLimit:       cfg.Quota.Limit,
	})
	coordinator := ingest.NewCoordinator(st, registry, g, dedup.New(st), st, publisher, ingest.CoordinatorConfig{
		PoolSize:     cfg.Ingest.PoolSize,
		BatchSize:    cfg.Ingest.BatchSize,
		CycleBudget:  cfg.Ingest.CycleBudget.Std(),
		FetchTimeout: cfg.Ingest.FetchTimeout.Std(),
	})
	sweeper := ingest.NewSweeper(st, publisher, ingest.SweeperConfig{
		StaleAfter: cfg.Sweeper.StaleAfter.Std(),
		BatchSize:  cfg.Sweeper.BatchSize,
	})

	// Notifier
	var notifier types.Notifier
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		notifier = tg
		slog.Info("telegram notifier enabled")
	} else {
		slog.Warn("telegram notifier disabled (no token)")
	}

	// Analysis
	scorer, err := analysis.NewHTTPScorer(analysis.ScorerConfig{
		Endpoint:       cfg.Scoring.Endpoint,
		APIKey:         cfg.Scoring.APIKey,
		Model:          cfg.Scoring.Model,
		MaxInputTokens: cfg.Scoring.MaxInputTokens,
		Timeout:        cfg.Scoring.Timeout.Std(),
	})
	if err != nil {
		return fmt.Errorf("create scorer: %w", err)
	}
	aggregator := timeseries.NewAggregator(st)
	analysisConsumer := analysis.NewConsumer(st, st, scorer, aggregator, notifier, analysis.ConsumerConfig{
		Workers: cfg.Analysis.Workers,
	})
	go func() {
		if err := analysisConsumer.Run(ctx, consumer); err != nil && ctx.Err() == nil {
			slog.Error("analysis consumer stopped", "error", err)
		}
	}()

	// Query path
	cacheManager := cache.New(st, timeseries.NewFetcher(aggregator), cache.Config{
		ProcessTTL:        cfg.Cache.ProcessTTL.Std(),
		EntryTTL:          cfg.Cache.EntryTTL.Std(),
		CoverageThreshold: cfg.Cache.CoverageThreshold,
	})
	defer cacheManager.Flush()

	dispatcher := stream.New(st, stream.Config{
		PollInterval:      cfg.Stream.PollInterval.Std(),
		HeartbeatInterval: cfg.Stream.HeartbeatInterval.Std(),
		IdleTimeout:       cfg.Stream.IdleTimeout.Std(),
		MaxPerIP:          cfg.Stream.MaxPerIP,
	})

	// Scheduler
	sched := scheduler.New(ctx)
	if err := sched.Add(scheduler.Job{
		Name:     "ingest-cycle",
		Schedule: cfg.Ingest.Cron,
		Run: func(ctx context.Context) {
			if err := coordinator.RunCycle(ctx); err != nil {
				slog.Error("scheduled ingest cycle failed", "error", err)
			}
		},
	}); err != nil {
		return fmt.Errorf("schedule ingest cycle: %w", err)
	}
	if err := sched.Add(scheduler.Job{
		Name:     "stale-sweep",
		Schedule: cfg.Sweeper.Cron,
		Run: func(ctx context.Context) {
			if _, err := sweeper.Sweep(ctx); err != nil {
				slog.Error("scheduled sweep failed", "error", err)
			}
		},
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := stream.NewServer(dispatcher, cacheManager, coordinator, sweeper)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: srv,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("newspulse started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"listen", cfg.HTTP.Listen,
		"memory_mode", serveMemory,
		"scoring_model", cfg.Scoring.Model,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
