// Package omdb provides the OMDb title-search client: the wire model, the
// tagged-union page result and the HTTP client with retry and quota gating.
package omdb

import (
	"context"
	"net/url"
)

// MaxPageSize is the largest number of movies OMDb returns for one page.
const MaxPageSize = 10

// Movie is one entry of a search listing. Poster is nil when the API
// reported no poster or an unusable URL.
type Movie struct {
	Title  string
	Year   string
	IMDbID string
	Type   string
	Poster *url.URL
}

// PageResult is the decoded answer for one page request. It is either a
// Listing or a Failure; use a type switch to tell them apart.
type PageResult interface {
	isPageResult()
}

// Listing is a successful page of results.
type Listing struct {
	Movies       []Movie
	TotalResults int
}

// Failure is an explicit failure payload sent by the API, e.g.
// "Movie not found!" or "Request limit reached!".
type Failure struct {
	Message string
}

func (Listing) isPageResult() {}
func (Failure) isPageResult() {}

// FetcherFunc adapts a plain function to a page fetcher such as
// pagination.PageFetcher. Pages are 1-based.
type FetcherFunc func(ctx context.Context, term string, page int) (PageResult, error)

// FetchPage calls f.
func (f FetcherFunc) FetchPage(ctx context.Context, term string, page int) (PageResult, error) {
	return f(ctx, term, page)
}
