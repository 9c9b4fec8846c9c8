// Package session bundles the search coordinator and the poster cache of
// one screen into a single object with one teardown call.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/omdb-search-client/pkg/omdb"
	"github.com/Sternrassler/omdb-search-client/pkg/pagination"
	"github.com/Sternrassler/omdb-search-client/pkg/poster"
	"github.com/Sternrassler/omdb-search-client/pkg/search"
)

// Config holds session configuration.
type Config struct {
	Search  search.Config
	Posters poster.Config
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Search:  search.DefaultConfig(),
		Posters: poster.DefaultConfig(),
	}
}

// Session owns a Coordinator and a poster Cache. Both live exactly as long
// as the session.
type Session struct {
	id          uuid.UUID
	coordinator *search.Coordinator
	posters     *poster.Cache
	logger      zerolog.Logger
	closeOnce   sync.Once
}

// New creates a session. pages serves search result pages, images serves
// poster bytes.
func New(pages pagination.PageFetcher, images poster.Fetcher, cfg Config) (*Session, error) {
	if pages == nil {
		return nil, fmt.Errorf("page fetcher is required")
	}

	posters, err := poster.New(images, cfg.Posters)
	if err != nil {
		return nil, fmt.Errorf("create poster cache: %w", err)
	}

	id := uuid.New()
	s := &Session{
		id:          id,
		coordinator: search.New(pages, cfg.Search),
		posters:     posters,
		logger:      log.With().Str("component", "session").Str("session_id", id.String()).Logger(),
	}
	s.logger.Debug().Msg("Session opened")
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Search starts or replaces the active search.
func (s *Session) Search(term string) { s.coordinator.Search(term) }

// Size returns the number of complete rows.
func (s *Session) Size() int { return s.coordinator.Size() }

// GetRow returns row i; see search.Coordinator.GetRow.
func (s *Session) GetRow(i int) []omdb.Movie { return s.coordinator.GetRow(i) }

// Subscribe returns a subscription to structural updates.
func (s *Session) Subscribe() *search.Subscription { return s.coordinator.Subscribe() }

// Coordinator exposes the underlying coordinator.
func (s *Session) Coordinator() *search.Coordinator { return s.coordinator }

// Posters exposes the poster cache.
func (s *Session) Posters() *poster.Cache { return s.posters }

// RowPosters starts loading the posters of row i. Slot k is nil when the
// row has no k-th movie or that movie has no poster.
func (s *Session) RowPosters(ctx context.Context, i int) [search.RowWidth]<-chan poster.Result {
	var slots [search.RowWidth]<-chan poster.Result
	for k, m := range s.coordinator.GetRow(i) {
		if m.Poster == nil {
			continue
		}
		slots[k] = s.posters.LoadAsync(ctx, m.Poster.String())
	}
	return slots
}

// Close disposes the coordinator and drops every cached poster.
// It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.coordinator.Dispose()
		s.posters.Purge()
		s.logger.Debug().Msg("Session closed")
	})
}
