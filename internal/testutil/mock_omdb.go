// Package testutil provides testing utilities for the OMDb search client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PosterPrefix is the path under which the mock serves poster images.
const PosterPrefix = "/posters/"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOMDb is a configurable mock OMDb server for testing. It serves the
// title-search endpoint at "/" and poster images under PosterPrefix.
type MockOMDb struct {
	server *httptest.Server

	mu        sync.RWMutex
	apiKey    string
	catalog   map[string]int
	failures  map[string]string
	overrides map[string]MockResponse
	posters   map[string]MockResponse
	delay     time.Duration

	// Tracking
	requestCount int
	pageCount    map[string]int
	posterCount  map[string]int
}

// NewMockOMDb creates a new mock OMDb server. Requests must carry apiKey;
// an empty apiKey accepts any key.
func NewMockOMDb(apiKey string) *MockOMDb {
	mock := &MockOMDb{
		apiKey:      apiKey,
		catalog:     make(map[string]int),
		failures:    make(map[string]string),
		overrides:   make(map[string]MockResponse),
		posters:     make(map[string]MockResponse),
		pageCount:   make(map[string]int),
		posterCount: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.mu.Unlock()

		if strings.HasPrefix(r.URL.Path, PosterPrefix) {
			mock.posterHandler(w, r)
			return
		}
		mock.searchHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockOMDb) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockOMDb) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockOMDb) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pageCount = make(map[string]int)
	m.posterCount = make(map[string]int)
}

// SetTitles registers term with total synthetic results.
func (m *MockOMDb) SetTitles(term string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog[term] = total
}

// SetFailure makes every page of term answer with an explicit failure.
func (m *MockOMDb) SetFailure(term, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[term] = message
}

// SetPageResponse overrides the answer for one page of term.
func (m *MockOMDb) SetPageResponse(term string, page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[pageKey(term, page)] = resp
}

// SetPosterResponse overrides the answer for the poster called name.
func (m *MockOMDb) SetPosterResponse(name string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posters[name] = resp
}

// SetDelay delays every search response.
func (m *MockOMDb) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// PosterURL returns the absolute URL of the poster called name.
func (m *MockOMDb) PosterURL(name string) string {
	return m.server.URL + PosterPrefix + name
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockOMDb) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// GetPageCount returns how often page of term was requested.
func (m *MockOMDb) GetPageCount(term string, page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pageCount[pageKey(term, page)]
}

// GetPosterCount returns how often the poster called name was requested.
func (m *MockOMDb) GetPosterCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.posterCount[name]
}

func (m *MockOMDb) searchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	term := q.Get("s")
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	m.mu.Lock()
	m.pageCount[pageKey(term, page)]++
	override, hasOverride := m.overrides[pageKey(term, page)]
	failure, hasFailure := m.failures[term]
	total, known := m.catalog[term]
	apiKey := m.apiKey
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if hasOverride {
		writeResponse(w, override)
		return
	}

	if apiKey != "" && q.Get("apikey") != apiKey {
		writeResponse(w, NewFailureResponse(http.StatusUnauthorized, "Invalid API key!"))
		return
	}

	switch {
	case hasFailure:
		writeResponse(w, NewFailureResponse(http.StatusOK, failure))
	case !known || total == 0:
		writeResponse(w, NewFailureResponse(http.StatusOK, "Movie not found!"))
	case (page-1)*10 >= total:
		writeResponse(w, NewFailureResponse(http.StatusOK, "Movie not found!"))
	default:
		first := (page-1)*10 + 1
		n := min(10, total-first+1)
		writeResponse(w, NewListingResponse(m.Titles(term, first, n), total))
	}
}

func (m *MockOMDb) posterHandler(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, PosterPrefix)

	m.mu.Lock()
	m.posterCount[name]++
	resp, ok := m.posters[name]
	m.mu.Unlock()

	if ok {
		writeResponse(w, resp)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(PosterBytes(name))
}

// MockTitle is one entry of a listing body.
type MockTitle struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	IMDbID string `json:"imdbID"`
	Type   string `json:"Type"`
	Poster string `json:"Poster"`
}

// Titles returns n synthetic titles for term starting at the 1-based
// position first. Posters point at this server.
func (m *MockOMDb) Titles(term string, first, n int) []MockTitle {
	titles := make([]MockTitle, 0, n)
	for i := first; i < first+n; i++ {
		id := fmt.Sprintf("tt%07d", i)
		titles = append(titles, MockTitle{
			Title:  fmt.Sprintf("%s %d", term, i),
			Year:   strconv.Itoa(1970 + i%50),
			IMDbID: id,
			Type:   "movie",
			Poster: m.PosterURL(id + ".jpg"),
		})
	}
	return titles
}

// PosterBytes returns the body the mock serves for the poster called name.
func PosterBytes(name string) []byte {
	return []byte("poster:" + name)
}

// NewListingResponse creates a 200 OK listing payload.
func NewListingResponse(titles []MockTitle, total int) MockResponse {
	body, _ := json.Marshal(struct {
		Search       []MockTitle `json:"Search"`
		TotalResults string      `json:"totalResults"`
		Response     string      `json:"Response"`
	}{titles, strconv.Itoa(total), "True"})

	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewFailureResponse creates an explicit failure payload.
func NewFailureResponse(status int, message string) MockResponse {
	body, _ := json.Marshal(struct {
		Response string `json:"Response"`
		Error    string `json:"Error"`
	}{"False", message})

	return MockResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
	}
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

func pageKey(term string, page int) string {
	return term + "|" + strconv.Itoa(page)
}
