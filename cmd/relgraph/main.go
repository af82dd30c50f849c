// relgraph extracts company relationships from SEC filings into a graph of
// fact and candidate edges.
//
// Usage:
//
//	relgraph extract --company=<cik> [--force] <filing>...
//	relgraph extract --jobs=<jobs.yaml>
//	relgraph reconcile [--dry-run] [--type=SUPPLIER] [--batch-size=500]
//	relgraph registry import <entities.yaml|json|xlsx> [--no-embed]
//	relgraph judge --company=<cik> --type=COMPETITOR --mention=<text> <sentence>
//	relgraph eval <reviewed.csv> [--sample=N]
//	relgraph edges [--company=<cik>] [--kind=LABEL] [--list]
//	relgraph config check
//	relgraph serve [--addr=:8080]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/relgraph/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	v       = newViper()
	logFile io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "relgraph",
	Short: "Extract business relationships from SEC filings",
	Long: "relgraph finds competitor, customer, supplier and partner mentions in\n" +
		"10-K filings, resolves them to known companies and keeps a graph of\n" +
		"confidence-tiered edges consistent as thresholds change.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE:  setupLogging,
	PersistentPostRunE: closeLogging,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "Config file (YAML or JSON)")
	f.String("db", "", "SQLite database path (overrides config)")
	f.String("log-level", "info", "Log level: debug, info, warn, error")
	f.String("log-format", "text", "Log format: text or json")
	f.String("log-file", "", "Write logs to a rotating file instead of stderr")
	f.String("format", "text", "Output format: text or markdown")
	for _, name := range []string{"config", "db", "log-level", "log-format", "log-file", "format"} {
		_ = v.BindPFlag(name, f.Lookup(name))
	}

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(judgeCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(edgesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

// newViper binds RELGRAPH_* environment variables. Flag values take
// precedence over the environment, which takes precedence over the
// config file.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RELGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("format", "text")
	v.SetDefault("addr", ":8080")
	return v
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}
	var w io.Writer = cmd.ErrOrStderr()
	if path := v.GetString("log-file"); path != "" {
		f := logging.File(path, logging.DefaultFileOptions())
		logFile, w = f, f
	}
	logging.Init(level, v.GetString("log-format"), w)
	return nil
}

func closeLogging(*cobra.Command, []string) error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
