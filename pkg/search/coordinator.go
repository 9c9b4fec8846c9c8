// Package search coordinates the active title search: it owns the result
// buffer, replaces the pagination engine when the term changes, and exposes
// row accessors plus an ordered update feed to the presentation layer.
package search

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"

	"github.com/Sternrassler/omdb-search-client/pkg/omdb"
	"github.com/Sternrassler/omdb-search-client/pkg/pagination"
)

// RowWidth is the number of movies shown per row.
const RowWidth = 3

var searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "omdb_searches_total",
	Help: "Total search submissions by outcome",
}, []string{"outcome"}) // "started", "replaced", "duplicate"

// ErrRowOutOfRange is the panic value (wrapped) raised by GetRow for an
// index outside [0, Size()).
var ErrRowOutOfRange = errors.New("row position out of range")

// Config holds coordinator configuration.
type Config struct {
	// LowWaterRows triggers a demand pulse when a read row is closer than
	// this to the end of the buffer.
	LowWaterRows int

	// FeedLimit caps each subscription's undelivered updates; an overrun
	// closes the subscription. 0 means unbounded.
	FeedLimit int

	// Engine configures every pagination engine the coordinator starts.
	Engine pagination.Config
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LowWaterRows: 15,
		Engine:       pagination.DefaultConfig(),
	}
}

// Coordinator owns the current pagination engine and its result buffer.
type Coordinator struct {
	fetcher pagination.PageFetcher
	config  Config
	logger  zerolog.Logger
	feed    *Feed

	mu         sync.RWMutex
	term       string
	active     *pagination.Engine
	generation uint64
	movies     []omdb.Movie
	disposed   bool
}

// New creates a coordinator with no active search.
func New(fetcher pagination.PageFetcher, cfg Config) *Coordinator {
	if fetcher == nil {
		panic("page fetcher cannot be nil")
	}
	if cfg.LowWaterRows <= 0 {
		cfg.LowWaterRows = 15
	}
	return &Coordinator{
		fetcher: fetcher,
		config:  cfg,
		logger:  log.With().Str("component", "search").Logger(),
		feed:    NewFeedWithLimit(cfg.FeedLimit),
	}
}

// NormalizeTerm returns the identity key of a search term: surrounding
// whitespace removed and case folded.
func NormalizeTerm(term string) string {
	return cases.Fold().String(strings.TrimSpace(term))
}

// Search makes term the active search. Resubmitting the active term is a
// no-op. Otherwise the running engine is cancelled, the buffer cleared,
// Clear published, and a fresh engine started at page 1.
func (c *Coordinator) Search(term string) {
	normalized := NormalizeTerm(term)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	if c.active != nil && normalized == c.term {
		searchesTotal.WithLabelValues("duplicate").Inc()
		c.logger.Debug().Str("term", normalized).Msg("Ignoring resubmitted search")
		return
	}

	previousSize := len(c.movies)
	outcome := "started"
	if c.active != nil {
		c.active.Cancel()
		outcome = "replaced"
	}

	c.generation++
	c.movies = nil
	c.term = normalized
	c.feed.Publish(Clear{PreviousSize: previousSize})

	c.active = pagination.Start(c.fetcher, sink{c}, normalized, c.generation, c.config.Engine)
	searchesTotal.WithLabelValues(outcome).Inc()

	c.logger.Info().
		Str("term", normalized).
		Uint64("generation", c.generation).
		Int("previous_size", previousSize).
		Msg("Search started")
}

// Size returns the number of complete rows: floor(buffered movies / 3).
func (c *Coordinator) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.movies) / RowWidth
}

// Len returns the number of buffered movies.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.movies)
}

// GetRow returns the movies of row i. It panics if i is not in
// [0, Size()). Reading a row close to the end of the buffer sends a demand
// pulse to the active engine; GetRow itself never waits for a fetch.
func (c *Coordinator) GetRow(i int) []omdb.Movie {
	c.mu.RLock()
	size := len(c.movies) / RowWidth
	if i < 0 || i >= size {
		c.mu.RUnlock()
		panic(fmt.Errorf("%w: row %d for size %d", ErrRowOutOfRange, i, size))
	}
	start := RowWidth * i
	row := slices.Clone(c.movies[start:min(start+RowWidth, len(c.movies))])
	active := c.active
	c.mu.RUnlock()

	if size-i < c.config.LowWaterRows && active != nil {
		active.NotifyDemand()
	}
	return row
}

// Demand forwards a demand pulse to the active engine, for proximity
// triggers that live outside GetRow.
func (c *Coordinator) Demand() {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()
	if active != nil {
		active.NotifyDemand()
	}
}

// Subscribe returns a subscription to the update feed.
func (c *Coordinator) Subscribe() *Subscription {
	return c.feed.Subscribe()
}

// Term returns the normalized active term.
func (c *Coordinator) Term() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.term
}

// State returns the state of the active engine, StateIdle when no search
// was ever started.
func (c *Coordinator) State() pagination.State {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()
	if active == nil {
		return pagination.StateIdle
	}
	return active.State()
}

// Err returns why the active search failed, if it did.
func (c *Coordinator) Err() error {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()
	if active == nil {
		return nil
	}
	return active.Err()
}

// Engine returns the active engine, nil before the first search.
func (c *Coordinator) Engine() *pagination.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Dispose cancels the active engine and closes the update feed.
// It is idempotent.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	if c.active != nil {
		c.active.Cancel()
	}
	c.mu.Unlock()

	c.feed.Close()
	c.logger.Debug().Msg("Coordinator disposed")
}

// sink is the coordinator's single write path for engine pages.
type sink struct {
	c *Coordinator
}

func (s sink) Append(generation uint64, movies []omdb.Movie) bool {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || generation != c.generation {
		return false
	}
	start := len(c.movies)
	c.movies = append(c.movies, movies...)
	if len(movies) > 0 {
		c.feed.Publish(Insertion{Start: start, Count: len(movies)})
	}
	return true
}
