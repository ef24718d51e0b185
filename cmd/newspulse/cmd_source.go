package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/newspulse/internal/types"
)

var (
	sourceKind     string
	sourceEndpoint string
	sourceInterval time.Duration
	sourceOptions  []string
	sourceDisabled bool
)

func init() {
	sourceAddCmd.Flags().StringVar(&sourceKind, "kind", "rss", "source kind: rss, api, or html")
	sourceAddCmd.Flags().StringVar(&sourceEndpoint, "endpoint", "", "feed or API URL (required)")
	sourceAddCmd.Flags().DurationVar(&sourceInterval, "interval", 5*time.Minute, "base poll interval")
	sourceAddCmd.Flags().StringArrayVar(&sourceOptions, "option", nil, "adapter option as key=value (repeatable)")
	sourceAddCmd.Flags().BoolVar(&sourceDisabled, "disabled", false, "register the source without polling it")
	sourceAddCmd.MarkFlagRequired("endpoint")

	sourceCmd.AddCommand(sourceAddCmd, sourceListCmd)
	rootCmd.AddCommand(sourceCmd)
}

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage news sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <source-id>",
	Short: "Add or update a news source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		kind := types.SourceKind(sourceKind)
		switch kind {
		case types.SourceKindRSS, types.SourceKindAPI, types.SourceKindHTML:
		default:
			return fmt.Errorf("unknown kind %q (want rss, api, or html)", sourceKind)
		}

		options := map[string]string{}
		for _, raw := range sourceOptions {
			key, value, ok := strings.Cut(raw, "=")
			if !ok {
				return fmt.Errorf("invalid option %q (want key=value)", raw)
			}
			options[key] = value
		}

		ctx := cmd.Context()
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer pg.Close()

		err = pg.UpsertSource(ctx, &types.SourceConfig{
			SourceID:     types.SourceID(args[0]),
			Kind:         kind,
			Endpoint:     sourceEndpoint,
			PollInterval: sourceInterval,
			Enabled:      !sourceDisabled,
			NextPollAt:   time.Now().UTC(),
			Options:      options,
		})
		if err != nil {
			return fmt.Errorf("save source: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Saved source %s (%s, every %s).\n", args[0], kind, sourceInterval)
		return nil
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
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

		sources, err := pg.ListSources(ctx)
		if err != nil {
			return fmt.Errorf("list sources: %w", err)
		}
		if len(sources) == 0 {
			fmt.Fprintln(os.Stdout, "No sources configured.")
			return nil
		}
		for _, src := range sources {
			state := "enabled"
			if !src.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s\tevery %s\t%s\n",
				src.SourceID, src.Kind, src.Endpoint, src.PollInterval, state)
		}
		return nil
	},
}
