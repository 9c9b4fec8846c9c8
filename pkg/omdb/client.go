package omdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the public OMDb endpoint.
	DefaultBaseURL = "http://www.omdbapi.com/"

	// limitReachedMessage is the failure text OMDb sends once a key's
	// daily budget is spent.
	limitReachedMessage = "request limit reached"

	maxResponseBytes = 1 << 20
)

// Budget gates requests against a request quota. quota.Tracker implements it.
type Budget interface {
	// Reserve consumes one request from the budget. It reports false when
	// the request must not be sent.
	Reserve(ctx context.Context) (bool, error)

	// MarkExhausted records that the API itself reported the budget as spent.
	MarkExhausted(ctx context.Context) error
}

// Config holds the client configuration.
type Config struct {
	// APIKey is sent as the apikey query parameter (REQUIRED).
	APIKey string

	// BaseURL of the OMDb API.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout for a single HTTP attempt.
	Timeout time.Duration

	// Retry governs transport and 5xx retries.
	Retry RetryConfig

	// Quota is optional; nil means unlimited.
	Quota Budget
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:    apiKey,
		BaseURL:   DefaultBaseURL,
		UserAgent: "omdb-search-client/0.1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// Client is the OMDb title-search client. It implements PageFetcher.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new OMDb client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		logger:     log.With().Str("component", "omdb-client").Logger(),
	}, nil
}

// FetchPage requests one page of title-search results for term.
// Explicit API failures come back as a Failure result, not as an error;
// the error return is reserved for transport faults and quota blocks.
func (c *Client) FetchPage(ctx context.Context, term string, page int) (PageResult, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1 (got %d)", page)
	}

	if c.config.Quota != nil {
		allowed, err := c.config.Quota.Reserve(ctx)
		if err != nil {
			return nil, fmt.Errorf("quota check: %w", err)
		}
		if !allowed {
			requestsTotal.WithLabelValues("quota_blocked").Inc()
			c.logger.Warn().Str("term", term).Int("page", page).Msg("Request blocked by quota")
			return nil, ErrQuotaExhausted
		}
	}

	reqURL := c.pageURL(term, page)

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	c.logger.Debug().Str("term", term).Int("page", page).Msg("Executing OMDb request")

	var result PageResult
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		r, err := c.do(ctx, reqURL)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if f, ok := result.(Failure); ok && c.config.Quota != nil &&
		strings.Contains(strings.ToLower(f.Message), limitReachedMessage) {
		if err := c.config.Quota.MarkExhausted(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record exhausted quota")
		}
	}

	return result, nil
}

func (c *Client) do(ctx context.Context, reqURL string) (PageResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("OMDb request error")
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: class, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	result, err := Decode(body)
	if err != nil {
		requestsTotal.WithLabelValues("decode_error").Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassDecode, Message: "invalid payload", Err: err}
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	return result, nil
}

func (c *Client) pageURL(term string, page int) string {
	u := *c.baseURL
	q := u.Query()
	q.Set("apikey", c.config.APIKey)
	q.Set("s", term)
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
