package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"billingsync/internal/types"
)

func TestBaseClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := NewBaseClient(
		server.Client(),
		"test",
		RetryPolicy{MaxRetries: 2, MinWait: 100 * time.Millisecond, MaxWait: time.Second},
		"test-agent",
		WithSleepFunc(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got := hits.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(sleeps))
	}
	if sleeps[0] != 100*time.Millisecond || sleeps[1] != 200*time.Millisecond {
		t.Errorf("expected exponential backoff 100ms then 200ms, got %v", sleeps)
	}
}

func TestBaseClient_ExhaustedRetriesReturnUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewBaseClient(
		server.Client(),
		"test",
		RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"test-agent",
		WithSleepFunc(func(time.Duration) {}),
	)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !types.IsCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Errorf("expected %s, got %v", types.ErrCodeUpstreamUnavailable, err)
	}
}

func TestBaseClient_ReplaysBodyOnRetry(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		bodies = append(bodies, string(buf[:n]))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewBaseClient(
		server.Client(),
		"test",
		RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"test-agent",
		WithSleepFunc(func(time.Duration) {}),
	)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL,
		strings.NewReader("payment_intent=pi_1"))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(bodies))
	}
	if bodies[0] != bodies[1] || bodies[0] != "payment_intent=pi_1" {
		t.Errorf("body must be replayed identically on retry, got %q and %q", bodies[0], bodies[1])
	}
}

func TestBaseClient_CircuitBreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewBaseClient(
		server.Client(),
		"test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"test-agent",
		WithSleepFunc(func(time.Duration) {}),
	)

	// Six consecutive failures trip the breaker.
	for i := 0; i < 6; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, _ = client.Do(req)
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error with open breaker, got nil")
	}
	if !types.IsCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Errorf("expected %s, got %v", types.ErrCodeUpstreamUnavailable, err)
	}
}
