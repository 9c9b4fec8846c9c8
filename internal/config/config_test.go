package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/omdb-search-client/pkg/logging"
	"github.com/Sternrassler/omdb-search-client/pkg/omdb"
	"github.com/Sternrassler/omdb-search-client/pkg/pagination"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("OMDB_API_KEY", "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := DefaultConfig()
	if cfg.API.BaseURL != want.API.BaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.API.BaseURL, want.API.BaseURL)
	}
	if cfg.API.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.API.Timeout)
	}
	if cfg.Search.Policy != "demand" {
		t.Errorf("Policy = %q, want demand", cfg.Search.Policy)
	}
	if cfg.Search.EagerDelay != 500*time.Millisecond {
		t.Errorf("EagerDelay = %v, want 500ms", cfg.Search.EagerDelay)
	}
	if cfg.Search.LowWaterRows != 15 {
		t.Errorf("LowWaterRows = %d, want 15", cfg.Search.LowWaterRows)
	}
	if !cfg.Poster.Coalesce {
		t.Error("Coalesce should default to true")
	}
	if cfg.Poster.FailureTTL != 0 || cfg.Poster.MaxEntries != 0 {
		t.Errorf("poster defaults = %+v", cfg.Poster)
	}
	if cfg.Quota.DailyLimit != 1000 {
		t.Errorf("DailyLimit = %d, want 1000", cfg.Quota.DailyLimit)
	}
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
api:
  key: filekey
  timeout: 5s
search:
  policy: eager
  eager_delay: 250ms
poster:
  coalesce: false
  max_entries: 64
logging:
  level: DEBUG
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Key != "filekey" {
		t.Errorf("Key = %q, want filekey", cfg.API.Key)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.API.Timeout)
	}
	if cfg.Search.Policy != "eager" || cfg.Search.EagerDelay != 250*time.Millisecond {
		t.Errorf("search = %+v", cfg.Search)
	}
	if cfg.Poster.Coalesce || cfg.Poster.MaxEntries != 64 {
		t.Errorf("poster = %+v", cfg.Poster)
	}
	// untouched keys keep their defaults
	if cfg.Search.LowWaterRows != 15 {
		t.Errorf("LowWaterRows = %d, want 15", cfg.Search.LowWaterRows)
	}
	if got := cfg.Log().Level; got != logging.LevelDebug {
		t.Errorf("Log().Level = %q, want debug", got)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "api:\n  key: filekey\n")
	t.Setenv("OMDB_API_KEY", "envkey")
	t.Setenv("OMDB_SEARCH_LOW_WATER_ROWS", "4")
	t.Setenv("OMDB_SEARCH_FEED_LIMIT", "64")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Key != "envkey" {
		t.Errorf("Key = %q, want envkey", cfg.API.Key)
	}
	if cfg.Search.LowWaterRows != 4 {
		t.Errorf("LowWaterRows = %d, want 4", cfg.Search.LowWaterRows)
	}
	if cfg.Session().Search.FeedLimit != 64 {
		t.Errorf("FeedLimit = %d, want 64", cfg.Session().Search.FeedLimit)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.API.Key = "k"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing_key", func(c *Config) { c.API.Key = "" }, "api key is required"},
		{"bad_policy", func(c *Config) { c.Search.Policy = "greedy" }, "search.policy"},
		{"zero_retries", func(c *Config) { c.API.MaxRetries = 0 }, "max_retries"},
		{"negative_low_water", func(c *Config) { c.Search.LowWaterRows = -1 }, "low_water_rows"},
		{"negative_feed_limit", func(c *Config) { c.Search.FeedLimit = -1 }, "feed_limit"},
		{"negative_max_entries", func(c *Config) { c.Poster.MaxEntries = -1 }, "max_entries"},
		{"negative_failure_ttl", func(c *Config) { c.Poster.FailureTTL = -time.Second }, "failure_ttl"},
		{"quota_without_limit", func(c *Config) {
			c.Quota.RedisAddr = "localhost:6379"
			c.Quota.DailyLimit = 0
		}, "daily_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuilders(t *testing.T) {
	c := DefaultConfig()
	c.API.Key = "k"
	c.API.MaxRetries = 5
	c.Search.Policy = "eager"
	c.Poster.MaxEntries = 10

	oc := c.OMDb(nil)
	if oc.APIKey != "k" || oc.Retry.MaxAttempts != 5 || oc.Quota != nil {
		t.Errorf("OMDb() = %+v", oc)
	}
	if oc.BaseURL != omdb.DefaultBaseURL {
		t.Errorf("BaseURL = %q", oc.BaseURL)
	}

	sc := c.Session()
	if sc.Search.Engine.Policy != pagination.PolicyEager {
		t.Errorf("Policy = %q, want eager", sc.Search.Engine.Policy)
	}
	if sc.Posters.MaxEntries != 10 || !sc.Posters.Coalesce {
		t.Errorf("Posters = %+v", sc.Posters)
	}

	if qc := c.QuotaTracker(); qc.DailyLimit != 1000 || qc.Window != 24*time.Hour {
		t.Errorf("QuotaTracker() = %+v", qc)
	}
}
