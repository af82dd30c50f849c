package relgraph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/relgraph/chunker"
	"github.com/brunobiangulo/relgraph/confidence"
	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/llm"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/resolve"
	"github.com/brunobiangulo/relgraph/verify"
)

// Config holds all configuration for the relgraph engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.relgraph/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name" mapstructure:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.relgraph/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir" mapstructure:"storage_dir"`

	// RegistryPath is an optional YAML, JSON or XLSX entity file merged into
	// the stored registry at startup.
	RegistryPath string `json:"registry_path" yaml:"registry_path" mapstructure:"registry_path"`

	// LLM providers. Chat backs Tier 4 verification and Embedding backs the
	// similarity signal and semantic resolution. Either may be left empty.
	Chat      llm.Config `json:"chat" yaml:"chat" mapstructure:"chat"`
	Embedding llm.Config `json:"embedding" yaml:"embedding" mapstructure:"embedding"`

	// Embedding dimensions (must match model)
	EmbeddingDim   int     `json:"embedding_dim" yaml:"embedding_dim" mapstructure:"embedding_dim"`
	EmbeddingRPS   float64 `json:"embedding_rps" yaml:"embedding_rps" mapstructure:"embedding_rps"`
	EmbeddingBurst int     `json:"embedding_burst" yaml:"embedding_burst" mapstructure:"embedding_burst"`

	// Chunking splits long business descriptions before embedding.
	Chunking chunker.Config `json:"chunking" yaml:"chunking" mapstructure:"chunking"`

	// Relationships holds thresholds keyed by fact edge label, e.g.
	// HAS_COMPETITOR. Every relationship type must be present.
	Relationships map[string]confidence.Thresholds `json:"relationships" yaml:"relationships" mapstructure:"relationships"`

	Decision   decision.Config  `json:"decision" yaml:"decision" mapstructure:"decision"`
	Resolver   resolve.Options  `json:"resolver" yaml:"resolver" mapstructure:"resolver"`
	Verifier   verify.Options   `json:"verifier" yaml:"verifier" mapstructure:"verifier"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction" mapstructure:"extraction"`

	// Filing pipeline
	Concurrency   int           `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
	FilingTimeout time.Duration `json:"filing_timeout" yaml:"filing_timeout" mapstructure:"filing_timeout"`

	ReconcileBatchSize int `json:"reconcile_batch_size" yaml:"reconcile_batch_size" mapstructure:"reconcile_batch_size"`
}

// ExtractionConfig controls candidate extraction.
type ExtractionConfig struct {
	// KeywordScan adds capitalised phrases, tickers and quoted names from
	// relationship sentences to the trigger-based candidates.
	KeywordScan bool `json:"keyword_scan" yaml:"keyword_scan" mapstructure:"keyword_scan"`
	// SectionsOnly restricts extraction to 10-K Items 1 and 1A when found.
	SectionsOnly    bool     `json:"sections_only" yaml:"sections_only" mapstructure:"sections_only"`
	TickerBlocklist []string `json:"ticker_blocklist,omitempty" yaml:"ticker_blocklist,omitempty" mapstructure:"ticker_blocklist"`
	NameBlocklist   []string `json:"name_blocklist,omitempty" yaml:"name_blocklist,omitempty" mapstructure:"name_blocklist"`
}

// DefaultConfig returns a Config with the calibrated thresholds and local
// Ollama embeddings. No chat provider is configured, so Tier 4 is skipped
// until one is set.
func DefaultConfig() Config {
	rel := make(map[string]confidence.Thresholds)
	for label, t := range confidence.DefaultThresholds() {
		rel[string(label)] = t
	}
	// Tier 1 shares the resolver's generic words unless decision.generic_words
	// is set.
	dec := decision.DefaultConfig()
	dec.GenericWords = nil
	return Config{
		DBName:     "relgraph",
		StorageDir: "home",
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim:       768,
		EmbeddingRPS:       10,
		EmbeddingBurst:     10,
		Chunking:           chunker.Config{MaxTokens: 7000, Overlap: 200},
		Relationships:      rel,
		Decision:           dec,
		Resolver:           resolve.DefaultOptions(),
		Verifier:           verify.DefaultOptions(),
		Extraction:         ExtractionConfig{SectionsOnly: true},
		Concurrency:        4,
		FilingTimeout:      10 * time.Minute,
		ReconcileBatchSize: 500,
	}
}

// LoadConfig reads a YAML or JSON file over DefaultConfig. Relationship
// entries in the file replace the defaults label by label.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: decoding %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// Policy validates the relationship thresholds and builds the policy. Keys
// must be fact labels.
func (c *Config) Policy() (*confidence.Policy, error) {
	thresholds := make(map[relation.Label]confidence.Thresholds, len(c.Relationships))
	var unknown []string
	for key, t := range c.Relationships {
		label := relation.Label(strings.ToUpper(strings.TrimSpace(key)))
		typ, conf, err := relation.ParseLabel(label)
		if err != nil || conf != relation.High {
			unknown = append(unknown, key)
			continue
		}
		thresholds[typ.Label()] = t
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown relationship labels: %s", ErrInvalidConfig, strings.Join(unknown, ", "))
	}
	p, err := confidence.NewPolicy(thresholds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

// Validate performs every startup check New would make, without opening the
// store or contacting providers.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	if c.EmbeddingDim < 0 {
		errs = append(errs, fmt.Errorf("%w: embedding_dim must not be negative", ErrInvalidConfig))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("%w: concurrency must not be negative", ErrInvalidConfig))
	}
	if c.ReconcileBatchSize < 0 {
		errs = append(errs, fmt.Errorf("%w: reconcile_batch_size must not be negative", ErrInvalidConfig))
	}
	if c.Resolver.FuzzyFloor > 1 || c.Resolver.SemanticFloor > 1 {
		errs = append(errs, fmt.Errorf("%w: resolver floors must be at most 1", ErrInvalidConfig))
	}
	if c.Verifier.MinConfidence < 0 || c.Verifier.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("%w: verifier min_confidence must be in [0, 1]", ErrInvalidConfig))
	}
	switch c.StorageDir {
	case "", "home", "local", "cwd":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown storage_dir %q", ErrInvalidConfig, c.StorageDir))
	}
	return errors.Join(errs...)
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "relgraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".relgraph", name+".db")
	}
}

// ResolvedDBPath returns the database path New will open.
func (c *Config) ResolvedDBPath() string {
	return c.resolveDBPath()
}
