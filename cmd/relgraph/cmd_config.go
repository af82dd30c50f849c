package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/relgraph/internal/report"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and print the relationship thresholds",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database:   %s\n", cfg.ResolvedDBPath())
	fmt.Fprintf(out, "Embedding:  %s\n", describeProvider(cfg.Embedding.Provider, cfg.Embedding.Model))
	fmt.Fprintf(out, "Verifier:   %s\n\n", describeProvider(cfg.Chat.Provider, cfg.Chat.Model))
	printTables(cmd, report.Thresholds(policy, mode))
	return nil
}

func describeProvider(provider, model string) string {
	if provider == "" {
		return "not configured"
	}
	if model == "" {
		return provider
	}
	return provider + " / " + model
}
