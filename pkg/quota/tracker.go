package quota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omdb_quota_remaining",
		Help: "Requests remaining in the current OMDb quota window",
	})

	quotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omdb_quota_blocks_total",
		Help: "Total number of requests blocked because the quota was spent",
	})
)

// Config holds tracker configuration.
type Config struct {
	// DailyLimit is the number of requests allowed per window.
	DailyLimit int

	// Window is the quota period.
	Window time.Duration

	// WarningThreshold logs a warning when fewer requests remain.
	WarningThreshold int
}

// DefaultConfig matches the free OMDb tier.
func DefaultConfig() Config {
	return Config{
		DailyLimit:       1000,
		Window:           24 * time.Hour,
		WarningThreshold: 50,
	}
}

// Tracker counts requests against the budget of one API key.
type Tracker struct {
	redis        *redis.Client
	logger       zerolog.Logger
	config       Config
	usedKey      string
	exhaustedKey string
}

// NewTracker creates a tracker for apiKey. The key itself is never written
// to Redis, only a hash prefix.
func NewTracker(redisClient *redis.Client, apiKey string, cfg Config, logger zerolog.Logger) *Tracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultConfig().DailyLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}

	prefix := "omdb:quota:" + hashAPIKey(apiKey) + ":"
	return &Tracker{
		redis:        redisClient,
		logger:       logger,
		config:       cfg,
		usedKey:      prefix + suffixUsed,
		exhaustedKey: prefix + suffixExhausted,
	}
}

func hashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:6])
}

// GetState retrieves the current quota state from Redis.
// Returns a fresh, unused state if nothing is stored yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	used, err := t.redis.Get(ctx, t.usedKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get used count: %w", err)
	}

	ttl, err := t.redis.PTTL(ctx, t.usedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("get window ttl: %w", err)
	}
	if ttl < 0 {
		// key missing (-2) or without expiry (-1): a new window starts now
		ttl = t.config.Window
	}

	exhausted, err := t.redis.Exists(ctx, t.exhaustedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("get exhausted flag: %w", err)
	}

	return &State{
		Used:             used,
		Limit:            t.config.DailyLimit,
		ResetAt:          time.Now().Add(ttl),
		Exhausted:        exhausted > 0,
		WarningThreshold: t.config.WarningThreshold,
	}, nil
}

// Reserve consumes one request from the budget. It returns false when the
// budget is spent; the request must then not be sent.
func (t *Tracker) Reserve(ctx context.Context) (bool, error) {
	exhausted, err := t.redis.Exists(ctx, t.exhaustedKey).Result()
	if err != nil {
		return false, fmt.Errorf("get exhausted flag: %w", err)
	}
	if exhausted > 0 {
		quotaBlocksTotal.Inc()
		quotaRemaining.Set(0)
		t.logger.Error().Msg("OMDb quota exhausted - blocking request")
		return false, nil
	}

	pipe := t.redis.TxPipeline()
	incr := pipe.Incr(ctx, t.usedKey)
	pipe.ExpireNX(ctx, t.usedKey, t.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("reserve request in redis: %w", err)
	}

	state := &State{
		Used:             int(incr.Val()),
		Limit:            t.config.DailyLimit,
		WarningThreshold: t.config.WarningThreshold,
	}
	// Used counts this request, so the budget is spent only beyond the limit.
	if state.Used > state.Limit {
		quotaBlocksTotal.Inc()
		quotaRemaining.Set(0)
		t.logger.Error().Int("used", state.Used).Int("limit", state.Limit).Msg("OMDb quota exhausted - blocking request")
		return false, nil
	}

	quotaRemaining.Set(float64(state.Remaining()))
	if state.IsLow() {
		t.logger.Warn().Int("remaining", state.Remaining()).Msg("OMDb quota running low")
	}
	return true, nil
}

// MarkExhausted latches the budget as spent until the current window ends.
func (t *Tracker) MarkExhausted(ctx context.Context) error {
	ttl, err := t.redis.PTTL(ctx, t.usedKey).Result()
	if err != nil {
		return fmt.Errorf("get window ttl: %w", err)
	}
	if ttl <= 0 {
		ttl = t.config.Window
	}

	if err := t.redis.Set(ctx, t.exhaustedKey, 1, ttl).Err(); err != nil {
		return fmt.Errorf("store exhausted flag: %w", err)
	}
	quotaRemaining.Set(0)

	t.logger.Error().Dur("reset_in", ttl).Msg("OMDb reported request limit reached")
	return nil
}

// Reset clears the stored state (for tests and manual recovery).
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.redis.Del(ctx, t.usedKey, t.exhaustedKey).Err(); err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	return nil
}
