package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/newspulse/internal/config"
	"github.com/user/newspulse/internal/dedup"
	"github.com/user/newspulse/internal/fanout"
	"github.com/user/newspulse/internal/guard"
	"github.com/user/newspulse/internal/ingest"
	"github.com/user/newspulse/internal/source"
	"github.com/user/newspulse/internal/store"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion cycle and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx := cmd.Context()
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer pg.Close()

		publisher, closePublisher, err := openPublisher(cfg)
		if err != nil {
			return err
		}
		defer closePublisher()

		registry := source.NewRegistry()
		registry.Register(source.NewRSSAdapter(nil))
		registry.Register(source.NewAPIAdapter(nil))
		registry.Register(source.NewHTMLAdapter(nil))

		g := guard.New(pg, guard.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown.Std(),
			QuotaWindow:      cfg.Quota.Window.Std(),
			QuotaLimit:       cfg.Quota.Limit,
		})
		coordinator := ingest.NewCoordinator(pg, registry, g, dedup.New(pg), pg, publisher, ingest.CoordinatorConfig{
			PoolSize:     cfg.Ingest.PoolSize,
			BatchSize:    cfg.Ingest.BatchSize,
			CycleBudget:  cfg.Ingest.CycleBudget.Std(),
			FetchTimeout: cfg.Ingest.FetchTimeout.Std(),
		})

		if err := coordinator.RunCycle(ctx); err != nil {
			return fmt.Errorf("ingest cycle: %w", err)
		}
		fmt.Fprintln(os.Stdout, "Ingest cycle completed.")
		return nil
	},
}

func openPostgres(ctx context.Context, cfg *config.Config) (*store.Postgres, error) {
	pg, err := store.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return pg, nil
}

// openPublisher returns the Kafka publisher when brokers are configured,
// otherwise an in-process bus. Without Kafka, one-shot commands leave
// published work for the daemon's sweeper to recover.
func openPublisher(cfg *config.Config) (fanout.Publisher, func(), error) {
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := fanout.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Group)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to kafka: %w", err)
		}
		return kafka, kafka.Close, nil
	}
	slog.Warn("no kafka brokers configured; admitted items stay pending until the daemon sweeps them")
	return fanout.NewMemory(0), func() {}, nil
}
