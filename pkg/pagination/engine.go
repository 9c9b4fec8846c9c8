package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/omdb-search-client/pkg/omdb"
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omdb_pages_fetched_total",
		Help: "Total number of result pages appended to a search buffer",
	})

	engineTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omdb_engine_terminal_total",
		Help: "Total number of pagination engines reaching a terminal state",
	}, []string{"state"})
)

// Errors reported through Engine.Err.
var (
	// ErrPageSizeViolation means the upstream returned more than
	// omdb.MaxPageSize movies for one page. This is a broken contract,
	// not a transient fault.
	ErrPageSizeViolation = errors.New("upstream page size violation")

	// ErrSearchFailed is matched by every SearchFailureError.
	ErrSearchFailed = errors.New("search failed")
)

// SearchFailureError carries the message of an explicit API failure.
type SearchFailureError struct {
	Message string
}

func (e *SearchFailureError) Error() string {
	return "search failed: " + e.Message
}

// Unwrap makes errors.Is(err, ErrSearchFailed) hold.
func (e *SearchFailureError) Unwrap() error {
	return ErrSearchFailed
}

// Policy selects how the engine advances past the first page.
type Policy string

const (
	// PolicyDemand fetches the next page only after a demand pulse.
	PolicyDemand Policy = "demand"

	// PolicyEager drains all pages, pausing EagerDelay between requests.
	PolicyEager Policy = "eager"
)

// Config holds engine configuration.
type Config struct {
	Policy Policy

	// EagerDelay is the pause between pages under PolicyEager.
	EagerDelay time.Duration

	// PageTimeout bounds a single page fetch.
	PageTimeout time.Duration
}

// DefaultConfig returns the demand-gated configuration.
func DefaultConfig() Config {
	return Config{
		Policy:      PolicyDemand,
		EagerDelay:  500 * time.Millisecond,
		PageTimeout: 15 * time.Second,
	}
}

// PageFetcher is the remote page client the engine pulls from.
// *omdb.Client and omdb.FetcherFunc implement it.
type PageFetcher interface {
	FetchPage(ctx context.Context, term string, page int) (omdb.PageResult, error)
}

// Sink receives the movies of every successful page.
// Append returns false when generation is no longer current; the engine
// then stops without touching anything else.
type Sink interface {
	Append(generation uint64, movies []omdb.Movie) bool
}

// Engine is the page-fetch state machine for one search term.
// All buffer mutations happen on the engine's own goroutine.
type Engine struct {
	term       string
	generation uint64
	fetcher    PageFetcher
	sink       Sink
	config     Config
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	demand chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	state State
	page  int
	err   error
}

// Start creates an engine for term and immediately begins fetching page 1.
func Start(fetcher PageFetcher, sink Sink, term string, generation uint64, cfg Config) *Engine {
	if fetcher == nil {
		panic("page fetcher cannot be nil")
	}
	if sink == nil {
		panic("sink cannot be nil")
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDemand
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 15 * time.Second
	}
	if cfg.EagerDelay < 0 {
		cfg.EagerDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		term:       term,
		generation: generation,
		fetcher:    fetcher,
		sink:       sink,
		config:     cfg,
		logger: log.With().
			Str("component", "pagination").
			Str("term", term).
			Uint64("generation", generation).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
		demand: make(chan struct{}, 1),
		done:   make(chan struct{}),
		state:  StateIdle,
	}

	go e.run()
	return e
}

// Cancel moves the engine to Cancelled and releases its pending work.
// It is idempotent and does not wait for an in-flight fetch.
func (e *Engine) Cancel() {
	e.mu.Lock()
	if !e.state.Terminal() {
		e.state = StateCancelled
		engineTerminalTotal.WithLabelValues(StateCancelled.String()).Inc()
		e.logger.Debug().Int("page", e.page).Msg("Engine cancelled")
	}
	e.mu.Unlock()
	e.cancel()
}

// NotifyDemand delivers a demand pulse. Pulses are dropped unless the
// engine is waiting for demand, so at most one fetch is ever outstanding.
// It never blocks.
func (e *Engine) NotifyDemand() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateWaiting {
		return
	}
	select {
	case e.demand <- struct{}{}:
	default:
	}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Page returns the page currently being fetched or last appended.
func (e *Engine) Page() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page
}

// Err returns the reason for the Failed state, nil otherwise.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Term returns the search term this engine serves.
func (e *Engine) Term() string { return e.term }

// Generation returns the generation token the engine was started with.
func (e *Engine) Generation() uint64 { return e.generation }

// Done is closed once the engine goroutine has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) run() {
	defer close(e.done)
	defer e.cancel()

	for page := 1; ; page++ {
		if !e.beginFetch(page) {
			return
		}

		result, err := e.fetch(page)
		if e.ctx.Err() != nil {
			// cancelled while the request was in flight; drop the result
			e.logger.Debug().Int("page", page).Msg("Discarding page fetched after cancellation")
			return
		}
		if err != nil {
			e.fail(page, fmt.Errorf("fetch page %d: %w", page, err))
			return
		}

		switch r := result.(type) {
		case omdb.Failure:
			e.fail(page, &SearchFailureError{Message: r.Message})
			return
		case omdb.Listing:
			if !e.appendListing(page, r) {
				return
			}
		default:
			e.fail(page, fmt.Errorf("unexpected page result %T", result))
			return
		}

		if !e.await() {
			return
		}
	}
}

// appendListing hands the page to the sink and reports whether the chain
// continues.
func (e *Engine) appendListing(page int, listing omdb.Listing) bool {
	if len(listing.Movies) > omdb.MaxPageSize {
		e.fail(page, fmt.Errorf("%w: page %d returned %d movies (max %d)",
			ErrPageSizeViolation, page, len(listing.Movies), omdb.MaxPageSize))
		return false
	}

	// An empty page ends the chain whatever totalResults claims.
	exhausted := len(listing.Movies) == 0 || page*omdb.MaxPageSize > listing.TotalResults

	// Enter WaitingForDemand before publishing so a pulse triggered by the
	// insertion itself is not dropped.
	if !exhausted && !e.setState(StateWaiting, page) {
		return false
	}

	if !e.sink.Append(e.generation, listing.Movies) {
		e.logger.Debug().Int("page", page).Msg("Sink rejected stale generation")
		e.Cancel()
		return false
	}
	pagesFetchedTotal.Inc()

	e.logger.Debug().
		Int("page", page).
		Int("count", len(listing.Movies)).
		Int("total_results", listing.TotalResults).
		Msg("Page appended")

	if exhausted {
		e.finish(StateExhausted, nil)
		e.logger.Info().Int("pages", page).Int("total_results", listing.TotalResults).Msg("Search exhausted")
		return false
	}
	return true
}

func (e *Engine) fetch(page int) (omdb.PageResult, error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.config.PageTimeout)
	defer cancel()

	e.logger.Debug().Int("page", page).Msg("Fetching page")
	return e.fetcher.FetchPage(ctx, e.term, page)
}

// await blocks until the next page may be fetched. It returns false once
// the engine is cancelled.
func (e *Engine) await() bool {
	if e.config.Policy == PolicyEager {
		timer := time.NewTimer(e.config.EagerDelay)
		defer timer.Stop()
		select {
		case <-e.ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-e.demand:
			return true
		}
	}

	select {
	case <-e.ctx.Done():
		return false
	case <-e.demand:
		e.logger.Debug().Msg("Demand pulse received")
		return true
	}
}

func (e *Engine) beginFetch(page int) bool {
	return e.setState(StateFetching, page)
}

// setState moves to a non-terminal state. Pending pulses are discarded on
// every transition.
func (e *Engine) setState(s State, page int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return false
	}
	e.state = s
	e.page = page
	select {
	case <-e.demand:
	default:
	}
	return true
}

func (e *Engine) finish(s State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return
	}
	e.state = s
	e.err = err
	engineTerminalTotal.WithLabelValues(s.String()).Inc()
}

func (e *Engine) fail(page int, err error) {
	switch {
	case errors.Is(err, ErrPageSizeViolation):
		e.logger.Error().Err(err).Int("page", page).Msg("Upstream contract violated, aborting search")
	case errors.Is(err, ErrSearchFailed):
		e.logger.Warn().Err(err).Int("page", page).Msg("Search failed, no more results")
	default:
		e.logger.Warn().Err(err).Int("page", page).Msg("Page fetch failed, stopping search")
	}
	e.finish(StateFailed, err)
}
