package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/Sternrassler/omdb-search-client/pkg/omdb"
)

// PageCall records one FetchPage invocation.
type PageCall struct {
	Term string
	Page int
}

// StubPages is an in-memory page fetcher serving Total synthetic movies
// for every term.
type StubPages struct {
	// Total is the advertised result count.
	Total int

	// PageSize is the number of movies per full page (default 10).
	PageSize int

	// Results overrides the answer for a page.
	Results map[int]omdb.PageResult

	// Errors makes a page fail with a transport error.
	Errors map[int]error

	// Gate, when set, holds every fetch until a value is received or the
	// request context ends.
	Gate chan struct{}

	// PosterBase, when set, gives every movie a poster URL below it.
	PosterBase string

	mu    sync.Mutex
	calls []PageCall
}

// FetchPage implements pagination.PageFetcher.
func (s *StubPages) FetchPage(ctx context.Context, term string, page int) (omdb.PageResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, PageCall{Term: term, Page: page})
	s.mu.Unlock()

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, ok := s.Errors[page]; ok {
		return nil, err
	}
	if r, ok := s.Results[page]; ok {
		return r, nil
	}

	size := s.PageSize
	if size <= 0 {
		size = omdb.MaxPageSize
	}
	first := (page-1)*size + 1
	if first > s.Total {
		return omdb.Failure{Message: "Movie not found!"}, nil
	}
	n := min(size, s.Total-first+1)
	return omdb.Listing{Movies: s.movies(term, first, n), TotalResults: s.Total}, nil
}

// Calls returns a copy of the recorded invocations.
func (s *StubPages) Calls() []PageCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PageCall(nil), s.calls...)
}

// CallCount returns the number of recorded invocations.
func (s *StubPages) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *StubPages) movies(term string, first, n int) []omdb.Movie {
	movies := Movies(term, first, n)
	if s.PosterBase != "" {
		for i := range movies {
			u, err := url.Parse(s.PosterBase + movies[i].IMDbID + ".jpg")
			if err == nil {
				movies[i].Poster = u
			}
		}
	}
	return movies
}

// Movies returns n synthetic movies for term starting at the 1-based
// position first.
func Movies(term string, first, n int) []omdb.Movie {
	movies := make([]omdb.Movie, 0, n)
	for i := first; i < first+n; i++ {
		movies = append(movies, omdb.Movie{
			Title:  fmt.Sprintf("%s %d", term, i),
			Year:   strconv.Itoa(1970 + i%50),
			IMDbID: fmt.Sprintf("tt%07d", i),
			Type:   "movie",
		})
	}
	return movies
}

// ErrStubPoster is returned by StubPosters for URLs listed in Fail.
var ErrStubPoster = errors.New("stub poster fetch failed")

// StubPosters is an in-memory poster fetcher that counts fetches per URL.
type StubPosters struct {
	// Fail lists URLs whose fetch returns ErrStubPoster.
	Fail map[string]bool

	// Gate, when set, holds every fetch until a value is received or the
	// context ends.
	Gate chan struct{}

	mu     sync.Mutex
	counts map[string]int
}

// Fetch implements poster.Fetcher. The body is PosterBytes(url).
func (s *StubPosters) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[url]++
	s.mu.Unlock()

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.Fail[url] {
		return nil, ErrStubPoster
	}
	return PosterBytes(url), nil
}

// Count returns how often url was fetched.
func (s *StubPosters) Count(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[url]
}

// Total returns the number of fetches across all URLs.
func (s *StubPosters) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.counts {
		n += c
	}
	return n
}
