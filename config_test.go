package relgraph

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brunobiangulo/relgraph/relation"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Relationships) != len(relation.All()) {
		t.Errorf("default relationships = %d, want %d", len(cfg.Relationships), len(relation.All()))
	}
	if cfg.Decision.GenericWords != nil {
		t.Errorf("decision generic words = %v, want nil so Tier 1 inherits the resolver list", cfg.Decision.GenericWords)
	}
}

func TestPolicyRejectsBadLabels(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name: "candidate label as key",
			mutate: func(c *Config) {
				c.Relationships["CANDIDATE_SUPPLIER"] = c.Relationships["HAS_SUPPLIER"]
			},
			want: "CANDIDATE_SUPPLIER",
		},
		{
			name: "internal tag as key",
			mutate: func(c *Config) {
				c.Relationships["supplier"] = c.Relationships["HAS_SUPPLIER"]
			},
			want: "supplier",
		},
		{
			name:   "missing type",
			mutate: func(c *Config) { delete(c.Relationships, "HAS_PARTNER") },
			want:   "HAS_PARTNER",
		},
		{
			name: "inverted band",
			mutate: func(c *Config) {
				th := c.Relationships["HAS_CUSTOMER"]
				th.Medium, th.High = th.High, th.Medium
				c.Relationships["HAS_CUSTOMER"] = th
			},
			want: "HAS_CUSTOMER",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := cfg.Policy()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Policy() err = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestPolicyAcceptsLowercaseLabels(t *testing.T) {
	cfg := DefaultConfig()
	th := cfg.Relationships["HAS_COMPETITOR"]
	delete(cfg.Relationships, "HAS_COMPETITOR")
	cfg.Relationships["has_competitor"] = th
	if _, err := cfg.Policy(); err != nil {
		t.Fatalf("Policy() = %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = -1
	cfg.StorageDir = "cloud"
	cfg.Verifier.MinConfidence = 2
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"concurrency", "storage_dir", "min_confidence"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relgraph.yaml")
	data := `
db_path: /tmp/graph.db
concurrency: 8
filing_timeout: 90s
chat:
  provider: anthropic
  model: claude-3-5-haiku-20241022
relationships:
  HAS_COMPETITOR:
    high_threshold: 0.40
    medium_threshold: 0.20
extraction:
  keyword_scan: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBPath != "/tmp/graph.db" || cfg.Concurrency != 8 || cfg.FilingTimeout != 90*time.Second {
		t.Errorf("scalar fields not loaded: %+v", cfg)
	}
	if cfg.Chat.Provider != "anthropic" {
		t.Errorf("chat provider = %q", cfg.Chat.Provider)
	}
	if !cfg.Extraction.KeywordScan || !cfg.Extraction.SectionsOnly {
		t.Errorf("extraction = %+v, want keyword scan on and default sections_only kept", cfg.Extraction)
	}
	if got := cfg.Relationships["HAS_COMPETITOR"]; got.High != 0.40 || got.Medium != 0.20 {
		t.Errorf("competitor thresholds = %+v", got)
	}
	if got := cfg.Relationships["HAS_SUPPLIER"]; !got.RequireTier4 {
		t.Errorf("supplier defaults lost: %+v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("concurrency: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestResolveDBPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit path", Config{DBPath: "/data/x.db", DBName: "ignored"}, "/data/x.db"},
		{"local", Config{DBName: "filings", StorageDir: "local"}, "filings.db"},
		{"cwd alias", Config{DBName: "filings", StorageDir: "cwd"}, "filings.db"},
		{"home", Config{DBName: "filings", StorageDir: "home"}, filepath.Join(home, ".relgraph", "filings.db")},
		{"defaults", Config{}, filepath.Join(home, ".relgraph", "relgraph.db")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolvedDBPath(); got != tt.want {
				t.Errorf("ResolvedDBPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
