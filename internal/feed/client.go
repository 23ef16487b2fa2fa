// Package feed fetches notices from the upstream procurement feeds and
// complex details from the K-APT secondary source.
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries = 5
	defaultBackoff    = time.Second
	maxBackoff        = 60 * time.Second
	defaultTimeout    = 30 * time.Second
	maxBodyBytes      = 32 << 20
)

// Client is a throttled HTTP client with retry for the upstream feeds.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	serviceKey  string
	maxRetries  int
	backoffBase time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit limits requests per second. Zero or less disables the limit.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithServiceKey sets the data portal key sent as serviceKey.
func WithServiceKey(key string) ClientOption {
	return func(c *Client) {
		c.serviceKey = key
	}
}

// WithRetry sets the retry count and the base of the exponential backoff.
func WithRetry(maxRetries int, base time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoffBase = base
	}
}

// NewClient creates a feed client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		limiter:     rate.NewLimiter(5, 5),
		logger:      slog.Default(),
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-retryable HTTP failure.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// get fetches rawURL with params, retrying network errors, 429 and 5xx.
// The body is returned as UTF-8.
func (c *Client) get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if c.serviceKey != "" {
		q.Set("serviceKey", c.serviceKey)
	}
	u.RawQuery = q.Encode()
	reqURL := u.String()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("retrying feed request", "attempt", attempt, "backoff", backoff, "url", rawURL)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return toUTF8(body, resp.Header.Get("Content-Type")), nil
		case resp.StatusCode == http.StatusTooManyRequests:
			c.logger.Debug("feed rate limited", "url", rawURL, "attempt", attempt)
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue
		default:
			return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns exponential backoff with full jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	base := c.backoffBase << uint(attempt-1)
	if base > maxBackoff || base <= 0 {
		base = maxBackoff
	}
	return time.Duration(rand.Int63n(int64(base) + 1))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
