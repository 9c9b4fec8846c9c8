package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/omdb-search-client/internal/config"
	"github.com/Sternrassler/omdb-search-client/pkg/logging"
	"github.com/Sternrassler/omdb-search-client/pkg/metrics"
	"github.com/Sternrassler/omdb-search-client/pkg/omdb"
	"github.com/Sternrassler/omdb-search-client/pkg/quota"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the top-level command structure for omdb-search.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version." short:"V"`
	Search  SearchCmd        `cmd:"" help:"Search titles and print result rows."`
	Poster  PosterCmd        `cmd:"" help:"Download a poster through the cache."`
	Quota   QuotaCmd         `cmd:"" help:"Show the shared daily request budget."`
}

// Globals are flags shared by every command. Set flags override config.yaml
// and OMDB_* environment variables.
type Globals struct {
	Config      string `help:"Path to config.yaml." short:"c" type:"path"`
	APIKey      string `help:"OMDb API key." name:"api-key"`
	BaseURL     string `help:"OMDb endpoint." name:"base-url"`
	LogLevel    string `help:"Log level (debug, info, warn, error, disabled)." name:"log-level"`
	Pretty      bool   `help:"Human-readable log output."`
	MetricsAddr string `help:"Serve Prometheus metrics on this address, e.g. :9090." name:"metrics-addr"`

	Stdout io.Writer `kong:"-"`
	Stderr io.Writer `kong:"-"`
}

// app holds the wiring shared by the commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	redis  *redis.Client
	quota  *quota.Tracker
	client *omdb.Client
	stdout io.Writer

	metricsServer *http.Server
}

// setup loads configuration and builds the OMDb client. needClient is false
// for commands that never talk to the search API.
func (g *Globals) setup(needClient bool) (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	g.apply(cfg)

	if needClient {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logCfg := cfg.Log()
	if g.Stderr != nil {
		logCfg.Output = g.Stderr
	}
	logging.Setup(logCfg)

	a := &app{
		cfg:    cfg,
		logger: logging.NewLogger("cli"),
		stdout: g.Stdout,
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}

	if cfg.Quota.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Quota.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Quota.RedisAddr, err)
		}
		a.quota = quota.NewTracker(a.redis, cfg.API.Key, cfg.QuotaTracker(), logging.NewLogger("quota"))
	}

	if needClient {
		var budget omdb.Budget
		if a.quota != nil {
			budget = a.quota
		}
		client, err := omdb.New(cfg.OMDb(budget))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create omdb client: %w", err)
		}
		a.client = client
	}

	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}

	return a, nil
}

// apply copies set flags over the loaded configuration.
func (g *Globals) apply(cfg *config.Config) {
	if g.APIKey != "" {
		cfg.API.Key = g.APIKey
	}
	if g.BaseURL != "" {
		cfg.API.BaseURL = g.BaseURL
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	if g.Pretty {
		cfg.Logging.Pretty = true
	}
	if g.MetricsAddr != "" {
		cfg.Metrics.Addr = g.MetricsAddr
	}
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	a.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	a.logger.Info().Str("addr", addr).Msg("Serving metrics")
}

func (a *app) close() {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metricsServer.Shutdown(ctx)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func main() {
	var cli CLI
	cli.Stdout = os.Stdout
	cli.Stderr = os.Stderr

	ctx := kong.Parse(&cli,
		kong.Name("omdb-search"),
		kong.Description("Paged OMDb title search with a shared poster cache."),
		kong.Vars{"version": version + " " + commit + " " + date},
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
