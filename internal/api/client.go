package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds retries of failed reference API requests.
type RetryPolicy struct {
	MaxRetries    uint64        // Retries after the first attempt
	BaseDelay     time.Duration // First backoff delay
	MaxDelay      time.Duration // Backoff cap
	JitterPercent uint64        // +/- jitter applied to each delay
}

// DefaultRetryPolicy returns the client's default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		JitterPercent: 50,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultRetryPolicy().BaseDelay
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// Client reads instrument listings from a vendor REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	retry      RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient returns a client for baseURL. An empty apiKey sends no
// Authorization header.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetry replaces the retry policy.
func WithRetry(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// WithRateLimit caps requests per second, retries included.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
