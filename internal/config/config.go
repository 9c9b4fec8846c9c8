// Package config loads the application configuration from a YAML file and
// OMDB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/omdb-search-client/pkg/logging"
	"github.com/Sternrassler/omdb-search-client/pkg/omdb"
	"github.com/Sternrassler/omdb-search-client/pkg/pagination"
	"github.com/Sternrassler/omdb-search-client/pkg/poster"
	"github.com/Sternrassler/omdb-search-client/pkg/quota"
	"github.com/Sternrassler/omdb-search-client/pkg/search"
	"github.com/Sternrassler/omdb-search-client/pkg/session"
)

// EnvPrefix is the prefix of every environment override (OMDB_API_KEY, ...).
const EnvPrefix = "OMDB"

// Config holds all application configuration
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Search  SearchConfig  `mapstructure:"search"`
	Poster  PosterConfig  `mapstructure:"poster"`
	Quota   QuotaConfig   `mapstructure:"quota"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig holds OMDb endpoint configuration
type APIConfig struct {
	Key            string        `mapstructure:"key"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// SearchConfig holds pagination and coordinator settings
type SearchConfig struct {
	Policy       string        `mapstructure:"policy"` // "demand" or "eager"
	EagerDelay   time.Duration `mapstructure:"eager_delay"`
	PageTimeout  time.Duration `mapstructure:"page_timeout"`
	LowWaterRows int           `mapstructure:"low_water_rows"`
	FeedLimit    int           `mapstructure:"feed_limit"` // 0 = unbounded
}

// PosterConfig holds poster cache settings
type PosterConfig struct {
	Coalesce     bool          `mapstructure:"coalesce"`
	FailureTTL   time.Duration `mapstructure:"failure_ttl"`
	MaxEntries   int           `mapstructure:"max_entries"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// QuotaConfig holds the shared request budget settings. An empty RedisAddr
// disables quota tracking.
type QuotaConfig struct {
	RedisAddr  string `mapstructure:"redis_addr"`
	DailyLimit int    `mapstructure:"daily_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig holds the Prometheus listener configuration. An empty Addr
// disables the listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	retry := omdb.DefaultRetryConfig()
	engine := pagination.DefaultConfig()
	posters := poster.DefaultConfig()
	return &Config{
		API: APIConfig{
			BaseURL:        omdb.DefaultBaseURL,
			Timeout:        30 * time.Second,
			MaxRetries:     retry.MaxAttempts,
			InitialBackoff: retry.InitialBackoff,
			MaxBackoff:     retry.MaxBackoff,
		},
		Search: SearchConfig{
			Policy:       string(engine.Policy),
			EagerDelay:   engine.EagerDelay,
			PageTimeout:  engine.PageTimeout,
			LowWaterRows: search.DefaultConfig().LowWaterRows,
			FeedLimit:    search.DefaultConfig().FeedLimit,
		},
		Poster: PosterConfig{
			Coalesce:     posters.Coalesce,
			FailureTTL:   posters.FailureTTL,
			MaxEntries:   posters.MaxEntries,
			FetchTimeout: posters.FetchTimeout,
		},
		Quota: QuotaConfig{
			DailyLimit: quota.DefaultConfig().DailyLimit,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultConfigPath returns the directory searched for config.yaml
func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "omdb-search")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "omdb-search")
}

// Load reads configuration from file and environment. When path is empty,
// config.yaml is looked up in the default locations and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// OMDB_API_KEY -> api.key, OMDB_SEARCH_POLICY -> search.policy
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api.key", EnvPrefix+"_API_KEY", EnvPrefix+"_APIKEY"); err != nil {
		return nil, fmt.Errorf("bind api key env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.key", d.API.Key)
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.max_retries", d.API.MaxRetries)
	v.SetDefault("api.initial_backoff", d.API.InitialBackoff)
	v.SetDefault("api.max_backoff", d.API.MaxBackoff)

	v.SetDefault("search.policy", d.Search.Policy)
	v.SetDefault("search.eager_delay", d.Search.EagerDelay)
	v.SetDefault("search.page_timeout", d.Search.PageTimeout)
	v.SetDefault("search.low_water_rows", d.Search.LowWaterRows)
	v.SetDefault("search.feed_limit", d.Search.FeedLimit)

	v.SetDefault("poster.coalesce", d.Poster.Coalesce)
	v.SetDefault("poster.failure_ttl", d.Poster.FailureTTL)
	v.SetDefault("poster.max_entries", d.Poster.MaxEntries)
	v.SetDefault("poster.fetch_timeout", d.Poster.FetchTimeout)

	v.SetDefault("quota.redis_addr", d.Quota.RedisAddr)
	v.SetDefault("quota.daily_limit", d.Quota.DailyLimit)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.pretty", d.Logging.Pretty)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Validate checks the configuration for values the runtime packages reject.
func (c *Config) Validate() error {
	if c.API.Key == "" {
		return fmt.Errorf("api key is required (set api.key or %s_API_KEY)", EnvPrefix)
	}
	if c.API.MaxRetries < 1 {
		return fmt.Errorf("api.max_retries must be >= 1 (got %d)", c.API.MaxRetries)
	}
	switch pagination.Policy(c.Search.Policy) {
	case pagination.PolicyDemand, pagination.PolicyEager:
	default:
		return fmt.Errorf("search.policy must be %q or %q (got %q)",
			pagination.PolicyDemand, pagination.PolicyEager, c.Search.Policy)
	}
	if c.Search.LowWaterRows < 0 {
		return fmt.Errorf("search.low_water_rows must be >= 0 (got %d)", c.Search.LowWaterRows)
	}
	if c.Search.FeedLimit < 0 {
		return fmt.Errorf("search.feed_limit must be >= 0 (got %d)", c.Search.FeedLimit)
	}
	if c.Poster.MaxEntries < 0 {
		return fmt.Errorf("poster.max_entries must be >= 0 (got %d)", c.Poster.MaxEntries)
	}
	if c.Poster.FailureTTL < 0 {
		return fmt.Errorf("poster.failure_ttl must be >= 0 (got %s)", c.Poster.FailureTTL)
	}
	if c.Quota.RedisAddr != "" && c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota.daily_limit must be > 0 (got %d)", c.Quota.DailyLimit)
	}
	return nil
}

// OMDb builds the client configuration. budget may be nil.
func (c *Config) OMDb(budget omdb.Budget) omdb.Config {
	cfg := omdb.DefaultConfig(c.API.Key)
	cfg.BaseURL = c.API.BaseURL
	cfg.Timeout = c.API.Timeout
	cfg.Retry.MaxAttempts = c.API.MaxRetries
	cfg.Retry.InitialBackoff = c.API.InitialBackoff
	cfg.Retry.MaxBackoff = c.API.MaxBackoff
	cfg.Quota = budget
	return cfg
}

// Session builds the session configuration.
func (c *Config) Session() session.Config {
	return session.Config{
		Search: search.Config{
			LowWaterRows: c.Search.LowWaterRows,
			FeedLimit:    c.Search.FeedLimit,
			Engine: pagination.Config{
				Policy:      pagination.Policy(c.Search.Policy),
				EagerDelay:  c.Search.EagerDelay,
				PageTimeout: c.Search.PageTimeout,
			},
		},
		Posters: poster.Config{
			Coalesce:     c.Poster.Coalesce,
			FailureTTL:   c.Poster.FailureTTL,
			MaxEntries:   c.Poster.MaxEntries,
			FetchTimeout: c.Poster.FetchTimeout,
		},
	}
}

// QuotaTracker builds the quota tracker configuration.
func (c *Config) QuotaTracker() quota.Config {
	cfg := quota.DefaultConfig()
	cfg.DailyLimit = c.Quota.DailyLimit
	return cfg
}

// Log builds the logger configuration.
func (c *Config) Log() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.Logging.Level))
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
