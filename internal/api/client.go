// file: internal/api/client.go
// version: 1.0.0
// guid: 6d7e8f9a-0b1c-4d2e-9f3a-4b5c6d7e8f9a

// Package api is the REST transport the cache fetches through.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/jdfalk/erpcache/internal/fetchguard"
	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/session"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
	UserAgent string
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is makes a 401 response match session.ErrUnauthorized.
func (e *HTTPError) Is(target error) bool {
	return target == session.ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Client performs authenticated GET requests against the ERP backend.
type Client struct {
	base    *url.URL
	http    *http.Client
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	agent   string
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// NewClient creates a Client. tokens supplies the bearer credential for
// every request.
func NewClient(cfg Config, tokens oauth2.TokenSource, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "erpcache"
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		agent:  cfg.UserAgent,
		logger: zap.NewNop(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "erp-api",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
		// client errors say nothing about backend health
		IsSuccessful: func(err error) bool {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				return httpErr.StatusCode < 500
			}
			return err == nil
		},
	})
	return c, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.base.String() }

// Get performs GET path?params and returns the response body.
func (c *Client) Get(ctx context.Context, path string, params cache.Params) ([]byte, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("%w: no credential source", session.ErrUnauthorized)
	}
	tok, err := c.tokens.Token()
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", session.ErrUnauthorized, err)
	}
	if !tok.Valid() {
		return nil, fmt.Errorf("%w: credential expired", session.ErrUnauthorized)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	target := c.resolve(path, params)
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, target, tok)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// GetJSON performs Get and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, params cache.Params, out any) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, target string, tok *oauth2.Token) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.agent)
	tok.SetAuthHeader(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		zap.String("url", target), zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{
			Method:     http.MethodGet,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return body, nil
}

// resolve joins path onto the base URL and encodes params in sorted order.
// Unset params are skipped the same way cache keys skip them.
func (c *Client) resolve(path string, params cache.Params) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimPrefix(path, "/")

	q := url.Values{}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s, ok := cache.ParamString(params[name]); ok {
			q.Set(name, s)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch adapts a GET of path into a fetcher decoding T.
func Fetch[T any](c *Client, path string, params cache.Params) fetchguard.Fetcher[T] {
	return func(ctx context.Context) (T, error) {
		var out T
		err := c.GetJSON(ctx, path, params, &out)
		return out, err
	}
}

// FetchRaw adapts a GET of path into a fetcher returning the raw body. The
// body must be valid JSON.
func FetchRaw(c *Client, path string, params cache.Params) fetchguard.Fetcher[json.RawMessage] {
	return func(ctx context.Context) (json.RawMessage, error) {
		body, err := c.Get(ctx, path, params)
		if err != nil {
			return nil, err
		}
		if !json.Valid(body) {
			return nil, fmt.Errorf("decode %s: response is not JSON", path)
		}
		return json.RawMessage(body), nil
	}
}
