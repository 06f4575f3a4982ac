package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com", "test-key")

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.apiKey != "test-key" {
			t.Errorf("apiKey = %q, want %q", c.apiKey, "test-key")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.retry != DefaultRetryPolicy() {
			t.Errorf("retry = %+v, want %+v", c.retry, DefaultRetryPolicy())
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with timeout option", func(t *testing.T) {
		c := NewClient("https://api.example.com", "", WithTimeout(5*time.Second))
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 5*time.Second)
		}
	})

	t.Run("with retry option", func(t *testing.T) {
		p := RetryPolicy{MaxRetries: 5, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
		c := NewClient("https://api.example.com", "", WithRetry(p))
		if c.retry != p {
			t.Errorf("retry = %+v, want %+v", c.retry, p)
		}
	})

	t.Run("with logger option", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://api.example.com", "", WithLogger(logger))
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://api.example.com", "", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})

	t.Run("with multiple options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://api.example.com", "key",
			WithTimeout(15*time.Second),
			WithRetry(RetryPolicy{MaxRetries: 10, BaseDelay: 500 * time.Millisecond}),
			WithLogger(logger),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.retry.MaxRetries != 10 || c.retry.BaseDelay != 500*time.Millisecond {
			t.Errorf("retry = %+v, want 10 retries from 500ms", c.retry)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("empty API key", func(t *testing.T) {
		c := NewClient("https://api.example.com", "")
		if c.apiKey != "" {
			t.Errorf("apiKey = %q, want empty", c.apiKey)
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{
			StatusCode: 404,
			Message:    "Not Found",
			Body:       []byte(`{"error": "instrument not found"}`),
		}
		expected := "reference api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable for 5xx errors", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{504, true},
			{429, true},
			{400, false},
			{401, false},
			{403, false},
			{404, false},
			{200, false},
			{499, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

// TestFetch tests the HTTP request functionality.
func TestFetch(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("Authorization") != "Bearer test-key" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer test-key")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "test-key")
		body, err := c.fetch(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("request without API key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		_, err := c.fetch(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("request with query parameters", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("limit") != "10" {
				t.Errorf("limit = %q, want %q", r.URL.Query().Get("limit"), "10")
			}
			if r.URL.Query().Get("cursor") != "abc123" {
				t.Errorf("cursor = %q, want %q", r.URL.Query().Get("cursor"), "abc123")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		query := make(map[string][]string)
		query["limit"] = []string{"10"}
		query["cursor"] = []string{"abc123"}
		_, err := c.fetch(context.Background(), http.MethodGet, "/test", query)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.fetch(context.Background(), http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		apiErr, ok := err.(*APIError)
		if !ok {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if !strings.Contains(string(apiErr.Body), "not found") {
			t.Errorf("Body should contain 'not found', got %q", string(apiErr.Body))
		}
	})

	t.Run("5xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`internal error`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.fetch(context.Background(), http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		apiErr, ok := err.(*APIError)
		if !ok {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 500 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 500)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := c.fetch(ctx, http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error should contain 'context canceled', got %v", err)
		}
	})
}

func fastRetry(n uint64, base time.Duration) ClientOption {
	return WithRetry(RetryPolicy{MaxRetries: n, BaseDelay: base, MaxDelay: 4 * base})
}

// TestFetchWithRetry tests the retry logic.
func TestFetchWithRetry(t *testing.T) {
	t.Run("succeeds on first try", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", fastRetry(3, 10*time.Millisecond))
		body, err := c.fetchWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`error`))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", fastRetry(3, 10*time.Millisecond))
		body, err := c.fetchWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`rate limited`))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", fastRetry(3, 10*time.Millisecond))
		_, err := c.fetchWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`bad request`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", fastRetry(3, 10*time.Millisecond))
		_, err := c.fetchWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`error`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", fastRetry(2, 10*time.Millisecond))
		_, err := c.fetchWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "gave up after 3 attempts") {
			t.Errorf("error should contain 'gave up after 3 attempts', got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", fastRetry(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.fetchWithRetry(ctx, http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context") {
			t.Errorf("error should be context-related, got %v", err)
		}
	})
}

func TestFetchWithRetry_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	c := NewClient(addr, "", fastRetry(2, time.Millisecond))
	_, err := c.fetchWithRetry(context.Background(), http.MethodGet, "/test", nil)
	if err == nil || !strings.Contains(err.Error(), "gave up after 3 attempts") {
		t.Errorf("error = %v, want gave up after 3 attempts", err)
	}
}

// TestRateLimit tests that requests wait for the limiter.
func TestRateLimit(t *testing.T) {
	t.Run("spaces requests", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRateLimit(20, 1))
		start := time.Now()
		for i := 0; i < 3; i++ {
			if _, err := c.fetch(context.Background(), http.MethodGet, "/test", nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		// Burst 1 at 20 rps: the 2nd and 3rd requests wait ~50ms each.
		if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
			t.Errorf("elapsed = %v, want >= 80ms", elapsed)
		}
	})

	t.Run("non-positive rate disables limiting", func(t *testing.T) {
		c := NewClient("https://api.example.com", "", WithRateLimit(0, 0))
		if c.limiter.Limit() != rate.Inf {
			t.Errorf("Limit() = %v, want Inf", c.limiter.Limit())
		}
	})
}

// TestGetInstruments tests the GetInstruments method.
func TestGetInstruments(t *testing.T) {
	t.Run("with options", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/instruments" {
				t.Errorf("path = %q, want /instruments", r.URL.Path)
			}
			q := r.URL.Query()
			if q.Get("venue") != "binance" || q.Get("status") != "trading" || q.Get("limit") != "50" || q.Get("cursor") != "c1" {
				t.Errorf("query = %v", q)
			}
			json.NewEncoder(w).Encode(InstrumentsResponse{
				Instruments: []APIInstrument{{Symbol: "BTCUSDT", Type: "spot", TickSize: "0.01", LotSize: "0.001"}},
			})
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		resp, err := c.GetInstruments(context.Background(), GetInstrumentsOptions{
			Venue:  "binance",
			Status: "trading",
			Limit:  50,
			Cursor: "c1",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(resp.Instruments) != 1 || resp.Instruments[0].Symbol != "BTCUSDT" {
			t.Errorf("Instruments = %+v", resp.Instruments)
		}
	})

	t.Run("error response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.GetInstruments(context.Background(), GetInstrumentsOptions{})
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
			t.Errorf("error = %v, want APIError 403", err)
		}
	})
}

// TestGetAllInstruments tests pagination.
func TestGetAllInstruments(t *testing.T) {
	t.Run("multiple pages", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			if r.URL.Query().Get("limit") != "1000" {
				t.Errorf("limit = %q, want 1000", r.URL.Query().Get("limit"))
			}
			var resp InstrumentsResponse
			switch r.URL.Query().Get("cursor") {
			case "":
				resp = InstrumentsResponse{Instruments: []APIInstrument{{Symbol: "A"}, {Symbol: "B"}}, Cursor: "p2"}
			case "p2":
				resp = InstrumentsResponse{Instruments: []APIInstrument{{Symbol: "C"}}}
			}
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		all, err := c.GetAllInstruments(context.Background(), GetInstrumentsOptions{Venue: "binance"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("len(all) = %d, want 3", len(all))
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})

	t.Run("repeated cursor", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(InstrumentsResponse{Instruments: []APIInstrument{{Symbol: "A"}}, Cursor: "same"})
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		if _, err := c.GetAllInstruments(context.Background(), GetInstrumentsOptions{}); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

// TestJSONUnmarshalErrors tests handling of malformed responses.
func TestJSONUnmarshalErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	_, err := c.GetInstruments(context.Background(), GetInstrumentsOptions{})
	if err == nil || !strings.Contains(err.Error(), "decode /instruments") {
		t.Errorf("error = %v, want decode error", err)
	}
}
