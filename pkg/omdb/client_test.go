package omdb_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/omdb-search-client/internal/testutil"
	"github.com/Sternrassler/omdb-search-client/pkg/omdb"
)

const testKey = "testkey"

func newTestClient(t *testing.T, baseURL string, budget omdb.Budget) *omdb.Client {
	t.Helper()
	cfg := omdb.DefaultConfig(testKey)
	cfg.BaseURL = baseURL
	cfg.Timeout = 2 * time.Second
	cfg.Retry = omdb.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	cfg.Quota = budget
	c, err := omdb.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

type fakeBudget struct {
	mu        sync.Mutex
	allow     bool
	reserved  int
	exhausted int
}

func (b *fakeBudget) Reserve(context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserved++
	return b.allow, nil
}

func (b *fakeBudget) MarkExhausted(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exhausted++
	return nil
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   omdb.Config
		errorMsg string
	}{
		{"valid config", omdb.DefaultConfig("k"), ""},
		{"missing api key", omdb.DefaultConfig(""), "api key is required"},
		{"relative base url", omdb.Config{APIKey: "k", BaseURL: "/api"}, "base url must be absolute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := omdb.New(tt.config)
			if tt.errorMsg == "" {
				if err != nil || client == nil {
					t.Fatalf("New() = %v, %v", client, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("New() error = %v, want containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestFetchPage_Listing(t *testing.T) {
	mock := testutil.NewMockOMDb(testKey)
	defer mock.Close()
	mock.SetTitles("alien", 37)

	c := newTestClient(t, mock.URL(), nil)

	tests := []struct {
		page  int
		count int
	}{
		{1, 10},
		{4, 7},
	}

	for _, tt := range tests {
		result, err := c.FetchPage(context.Background(), "alien", tt.page)
		if err != nil {
			t.Fatalf("FetchPage(%d) error = %v", tt.page, err)
		}
		listing, ok := result.(omdb.Listing)
		if !ok {
			t.Fatalf("FetchPage(%d) = %T, want Listing", tt.page, result)
		}
		if len(listing.Movies) != tt.count || listing.TotalResults != 37 {
			t.Errorf("page %d: %d movies, total %d", tt.page, len(listing.Movies), listing.TotalResults)
		}
		if listing.Movies[0].Poster == nil {
			t.Errorf("page %d: poster missing", tt.page)
		}
		if mock.GetPageCount("alien", tt.page) != 1 {
			t.Errorf("page %d requested %d times", tt.page, mock.GetPageCount("alien", tt.page))
		}
	}
}

func TestFetchPage_Failure(t *testing.T) {
	mock := testutil.NewMockOMDb(testKey)
	defer mock.Close()

	c := newTestClient(t, mock.URL(), nil)

	result, err := c.FetchPage(context.Background(), "zzzz", 1)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	failure, ok := result.(omdb.Failure)
	if !ok || failure.Message != "Movie not found!" {
		t.Errorf("FetchPage() = %#v, want Movie not found failure", result)
	}
}

func TestFetchPage_InvalidPage(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1/", nil)
	if _, err := c.FetchPage(context.Background(), "x", 0); err == nil {
		t.Error("expected error for page 0")
	}
}

func TestFetchPage_RetriesServerErrors(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	srv := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"Search":[],"totalResults":"0","Response":"True"}`))
	})
	server := newServer(t, srv)

	c := newTestClient(t, server, nil)
	result, err := c.FetchPage(context.Background(), "x", 1)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if _, ok := result.(omdb.Listing); !ok {
		t.Errorf("FetchPage() = %T, want Listing", result)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestFetchPage_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockOMDb(testKey)
	defer mock.Close()
	mock.SetPageResponse("x", 1, testutil.NewServerErrorResponse())

	c := newTestClient(t, mock.URL(), nil)
	_, err := c.FetchPage(context.Background(), "x", 1)

	if !errors.Is(err, omdb.ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	var apiErr *omdb.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected wrapped 500 APIError, got %v", err)
	}
	if got := mock.GetPageCount("x", 1); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestFetchPage_ClientErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockOMDb(testKey)
	defer mock.Close()
	mock.SetTitles("x", 5)

	cfg := omdb.DefaultConfig("wrong")
	cfg.BaseURL = mock.URL()
	c, err := omdb.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.FetchPage(context.Background(), "x", 1)
	var apiErr *omdb.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.ErrorClass != omdb.ErrorClassClient {
		t.Errorf("APIError = %+v", apiErr)
	}
	if got := mock.GetPageCount("x", 1); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestFetchPage_DecodeError(t *testing.T) {
	mock := testutil.NewMockOMDb(testKey)
	defer mock.Close()
	mock.SetPageResponse("x", 1, testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"Response":"Perhaps"}`})

	c := newTestClient(t, mock.URL(), nil)
	_, err := c.FetchPage(context.Background(), "x", 1)

	if !errors.Is(err, omdb.ErrUnknownResponse) {
		t.Fatalf("expected ErrUnknownResponse, got %v", err)
	}
	if got := mock.GetPageCount("x", 1); got != 1 {
		t.Errorf("decode errors must not be retried, requests = %d", got)
	}
}

func TestFetchPage_QuotaBlocks(t *testing.T) {
	mock := testutil.NewMockOMDb(testKey)
	defer mock.Close()
	mock.SetTitles("x", 5)

	budget := &fakeBudget{allow: false}
	c := newTestClient(t, mock.URL(), budget)

	_, err := c.FetchPage(context.Background(), "x", 1)
	if !errors.Is(err, omdb.ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("blocked request reached the server")
	}
}

func TestFetchPage_LimitReachedMarksQuota(t *testing.T) {
	mock := testutil.NewMockOMDb(testKey)
	defer mock.Close()
	mock.SetFailure("x", "Request limit reached!")

	budget := &fakeBudget{allow: true}
	c := newTestClient(t, mock.URL(), budget)

	result, err := c.FetchPage(context.Background(), "x", 1)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if _, ok := result.(omdb.Failure); !ok {
		t.Errorf("FetchPage() = %T, want Failure", result)
	}
	if budget.reserved != 1 || budget.exhausted != 1 {
		t.Errorf("budget reserved=%d exhausted=%d, want 1/1", budget.reserved, budget.exhausted)
	}
}

func TestFetchPage_QueryParameters(t *testing.T) {
	seen := make(chan *http.Request, 1)
	server := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		w.Write([]byte(`{"Response":"False","Error":"Movie not found!"}`))
	}))

	c := newTestClient(t, server, nil)
	if _, err := c.FetchPage(context.Background(), "star wars", 2); err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}

	req := <-seen
	query := req.URL.Query()
	want := map[string]string{"apikey": testKey, "s": "star wars", "page": "2"}
	for k, v := range want {
		if vals := query[k]; len(vals) != 1 || vals[0] != v {
			t.Errorf("query %s = %v, want %q", k, vals, v)
		}
	}
	if ua := req.Header.Get("User-Agent"); !strings.HasPrefix(ua, "omdb-search-client/") {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestFetchPage_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockOMDb(testKey)
	defer mock.Close()
	mock.SetTitles("x", 5)
	mock.SetDelay(time.Second)

	c := newTestClient(t, mock.URL(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := c.FetchPage(ctx, "x", 1); err == nil {
		t.Fatal("expected error after cancellation")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("FetchPage did not return promptly after cancellation")
	}
}

func TestFetcherFunc(t *testing.T) {
	var f omdb.FetcherFunc = func(_ context.Context, term string, page int) (omdb.PageResult, error) {
		return omdb.Failure{Message: term}, nil
	}
	result, err := f.FetchPage(context.Background(), "hello", 1)
	if err != nil || result.(omdb.Failure).Message != "hello" {
		t.Errorf("FetcherFunc = %v, %v", result, err)
	}
}
