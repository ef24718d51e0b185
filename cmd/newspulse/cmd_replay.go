package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/newspulse/internal/ingest"
)

func init() {
	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish stale pending items and exit",
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

		sweeper := ingest.NewSweeper(pg, publisher, ingest.SweeperConfig{
			StaleAfter: cfg.Sweeper.StaleAfter.Std(),
			BatchSize:  cfg.Sweeper.BatchSize,
		})
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Republished %d stale items.\n", n)
		return nil
	},
}
