package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sethvargo/go-retry"
)

// APIError is a non-2xx response from the reference API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reference api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the response is worth another attempt:
// server errors and rate limiting.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// retryable reports whether err from one attempt should be retried.
// Transport failures are retried unless the caller's context is done.
func retryable(ctx context.Context, err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return ctx.Err() == nil
}

// fetch sends one rate-limited request and returns the response body.
func (c *Client) fetch(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Body: body}
	}
	return body, nil
}

// fetchWithRetry runs fetch under the client's retry policy.
func (c *Client) fetchWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var (
		body     []byte
		attempts uint64
	)
	err := retry.Do(ctx, c.retry.backoff(), func(ctx context.Context) error {
		attempts++
		var err error
		body, err = c.fetch(ctx, method, path, query)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			return err
		}
		if attempts <= c.retry.MaxRetries {
			c.logger.Debug("retrying reference api request", "path", path, "attempt", attempts, "error", err)
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return body, nil
	}
	if ctx.Err() == nil && retryable(ctx, err) {
		return nil, fmt.Errorf("gave up after %d attempts: %w", attempts, err)
	}
	return nil, err
}

// get fetches path and decodes the JSON response into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.fetchWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
