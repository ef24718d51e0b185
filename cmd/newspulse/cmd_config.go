package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		redacted := *cfg
		if redacted.Scoring.APIKey != "" {
			redacted.Scoring.APIKey = "***"
		}
		if redacted.Telegram.Token != "" {
			redacted.Telegram.Token = "***"
		}
		if redacted.Database.DSN != "" {
			redacted.Database.DSN = "***"
		}
		out, err := yaml.Marshal(&redacted)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		os.Stdout.Write(out)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(os.Stdout, cfgPath)
		return nil
	},
}
