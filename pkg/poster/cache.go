package poster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Fetcher retrieves the bytes behind a poster URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// Config holds cache configuration.
type Config struct {
	// Coalesce shares one in-flight fetch between concurrent misses.
	Coalesce bool

	// FailureTTL replays a failed fetch for this long. 0 disables.
	FailureTTL time.Duration

	// MaxEntries bounds the cache with LRU eviction. 0 means unbounded.
	MaxEntries int

	// FetchTimeout bounds a single fetch.
	FetchTimeout time.Duration
}

// DefaultConfig returns the default configuration: coalescing on,
// failures not cached, no capacity bound.
func DefaultConfig() Config {
	return Config{
		Coalesce:     true,
		FailureTTL:   0,
		MaxEntries:   0,
		FetchTimeout: 30 * time.Second,
	}
}

// Cache is a concurrent URL -> bytes cache. Returned slices are shared
// with the cache and must not be modified.
type Cache struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
	group   singleflight.Group

	mu       sync.RWMutex
	entries  store
	failures map[string]failure
}

// New creates a poster cache backed by fetcher.
func New(fetcher Fetcher, cfg Config) (*Cache, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("poster fetcher is required")
	}
	if cfg.MaxEntries < 0 {
		return nil, fmt.Errorf("max entries must be >= 0 (got %d)", cfg.MaxEntries)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}

	var entries store = newMapStore()
	if cfg.MaxEntries > 0 {
		l, err := newLRUStore(cfg.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("create lru: %w", err)
		}
		entries = l
	}

	return &Cache{
		fetcher:  fetcher,
		config:   cfg,
		logger:   log.With().Str("component", "poster").Logger(),
		entries:  entries,
		failures: make(map[string]failure),
	}, nil
}

// Load returns the bytes for rawURL, fetching them on a miss.
func (c *Cache) Load(ctx context.Context, rawURL string) ([]byte, error) {
	key, err := Key(rawURL)
	if err != nil {
		return nil, err
	}

	if data, ok := c.lookup(key); ok {
		CacheHits.Inc()
		c.logger.Debug().Str("url", key).Msg("Poster cache hit")
		return data, nil
	}
	if err := c.recentFailure(key); err != nil {
		return nil, err
	}
	CacheMisses.Inc()

	if !c.config.Coalesce {
		return c.fetchAndStore(ctx, key)
	}

	// The shared fetch outlives any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// a flight that finished since our lookup already stored the bytes
		if data, ok := c.lookup(key); ok {
			return data, nil
		}
		return c.fetchAndStore(shared, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			Coalesced.Inc()
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

// LoadAsync is the non-blocking form of Load. The returned channel yields
// exactly one Result; on a cache hit it is ready immediately.
func (c *Cache) LoadAsync(ctx context.Context, rawURL string) <-chan Result {
	ch := make(chan Result, 1)

	if key, err := Key(rawURL); err == nil {
		if data, ok := c.lookup(key); ok {
			CacheHits.Inc()
			ch <- Result{Data: data}
			close(ch)
			return ch
		}
	}

	go func() {
		defer close(ch)
		data, err := c.Load(ctx, rawURL)
		ch <- Result{Data: data, Err: err}
	}()
	return ch
}

// Contains reports whether rawURL is cached, without fetching.
func (c *Cache) Contains(rawURL string) bool {
	key, err := Key(rawURL)
	if err != nil {
		return false
	}
	_, ok := c.lookup(key)
	return ok
}

// Len returns the number of cached posters.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.len()
}

// Purge drops every cached poster and remembered failure.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.purge()
	c.failures = make(map[string]failure)
}

func (c *Cache) lookup(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.get(key)
}

func (c *Cache) recentFailure(key string) error {
	if c.config.FailureTTL <= 0 {
		return nil
	}

	c.mu.RLock()
	f, ok := c.failures[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	if f.IsExpired() {
		c.mu.Lock()
		if cur, ok := c.failures[key]; ok && cur.IsExpired() {
			delete(c.failures, key)
		}
		c.mu.Unlock()
		return nil
	}
	return f.err
}

// fetchAndStore fetches key and stores the bytes before returning them.
func (c *Cache) fetchAndStore(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	data, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		FetchErrors.Inc()
		c.logger.Warn().Err(err).Str("url", key).Msg("Could not fetch poster")
		if c.config.FailureTTL > 0 {
			c.mu.Lock()
			c.failures[key] = failure{err: err, expires: time.Now().Add(c.config.FailureTTL)}
			c.mu.Unlock()
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries.add(key, data)
	delete(c.failures, key)
	c.mu.Unlock()

	c.logger.Debug().
		Str("url", key).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Cached poster")

	return data, nil
}
