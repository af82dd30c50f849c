package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/relgraph"
	"github.com/brunobiangulo/relgraph/internal/report"
	"github.com/brunobiangulo/relgraph/llm"
)

// providerKeys maps providers to the well-known API key variables used when
// no key is configured.
var providerKeys = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"groq":       "GROQ_API_KEY",
	"xai":        "XAI_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// loadConfig reads the config file, if any, and applies flag and
// RELGRAPH_* overrides.
func loadConfig(v *viper.Viper) (relgraph.Config, error) {
	cfg := relgraph.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		var err error
		if cfg, err = relgraph.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	if db := v.GetString("db"); db != "" {
		cfg.DBPath = db
	}
	if p := v.GetString("registry"); p != "" {
		cfg.RegistryPath = p
	}
	if n := v.GetInt("concurrency"); n > 0 {
		cfg.Concurrency = n
	}
	overrideLLM(v, "chat", &cfg.Chat)
	overrideLLM(v, "embedding", &cfg.Embedding)
	return cfg, cfg.Validate()
}

// overrideLLM applies <prefix>.provider, .model, .base-url and .api-key,
// e.g. RELGRAPH_CHAT_API_KEY.
func overrideLLM(v *viper.Viper, prefix string, c *llm.Config) {
	if s := v.GetString(prefix + ".provider"); s != "" {
		c.Provider = s
	}
	if s := v.GetString(prefix + ".model"); s != "" {
		c.Model = s
	}
	if s := v.GetString(prefix + ".base-url"); s != "" {
		c.BaseURL = s
	}
	if s := v.GetString(prefix + ".api-key"); s != "" {
		c.APIKey = s
	}
	if c.APIKey == "" {
		if env, ok := providerKeys[c.Provider]; ok {
			c.APIKey = os.Getenv(env)
		}
	}
}

func openEngine() (relgraph.Engine, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	eng, err := relgraph.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return eng, nil
}

func outputMode() (report.Mode, error) {
	return report.ParseMode(v.GetString("format"))
}

// printTables writes non-empty tables separated by blank lines.
func printTables(cmd *cobra.Command, tables ...string) {
	out := cmd.OutOrStdout()
	first := true
	for _, t := range tables {
		if t == "" {
			continue
		}
		if !first {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, t)
		first = false
	}
}
