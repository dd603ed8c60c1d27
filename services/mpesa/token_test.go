package mpesa

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nutrify/config"
	"nutrify/services/audit"
)

type memoryAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memoryAudit) Record(e audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memoryAudit) steps(step string) []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Event
	for _, e := range m.events {
		if e.Step == step {
			out = append(out, e)
		}
	}
	return out
}

type memoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]string
	ttl    time.Duration
}

func (c *memoryTokenCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[key]
	return t, ok
}

func (c *memoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		c.tokens = map[string]string{}
	}
	c.tokens[key] = token
	c.ttl = ttl
}

// tokenServer fails the first `failures` requests with the given handler, then succeeds.
func tokenServer(t *testing.T, failures int32, fail http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/oauth/v1/generate" || r.URL.Query().Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected token request %s", r.URL.String())
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		if n <= failures {
			fail(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","expires_in":"3599"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestTokenManager(baseURL string, attempts int, rec audit.Recorder, sleeper *fakeSleeper) *TokenManager {
	cfg := config.MpesaConfig{BaseURL: baseURL, ConsumerKey: "key", ConsumerSecret: "secret"}
	policy := RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     ExponentialBackoff(time.Second, 5*time.Second),
		Sleep:       sleeper.Sleep,
	}
	return NewTokenManager(cfg, nil, policy, rec, nil)
}

func TestAcquireSucceedsAfterTransientFailures(t *testing.T) {
	srv, calls := tokenServer(t, 2, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	rec := &memoryAudit{}
	sleeper := &fakeSleeper{}

	token, err := newTestTokenManager(srv.URL, 3, rec, sleeper).Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "tok-123" {
		t.Fatalf("unexpected token %q", token)
	}
	if atomic.LoadInt32(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", *calls)
	}
	if len(sleeper.waits) != 2 || sleeper.waits[0] != time.Second || sleeper.waits[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", sleeper.waits)
	}
	events := rec.steps("token.exchange")
	if len(events) != 3 {
		t.Fatalf("expected one audit event per attempt, got %d", len(events))
	}
	if events[2].Outcome != audit.OutcomeSuccess || events[0].Outcome != audit.OutcomeFailure {
		t.Fatalf("unexpected outcomes %+v", events)
	}
	if !strings.Contains(events[0].Error, "503") || events[2].Error != "" {
		t.Fatalf("attempt errors not recorded: %q %q", events[0].Error, events[2].Error)
	}
}

func TestAcquireExhaustsAttempts(t *testing.T) {
	srv, calls := tokenServer(t, 100, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":"shape"}`))
	})
	sleeper := &fakeSleeper{}

	_, err := newTestTokenManager(srv.URL, 3, nil, sleeper).Acquire(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Attempts != 3 || atomic.LoadInt32(calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls %d)", authErr.Attempts, *calls)
	}
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected last error to be kept, got %v", authErr.Err)
	}
	for i := 1; i < len(sleeper.waits); i++ {
		if sleeper.waits[i] < sleeper.waits[i-1] || sleeper.waits[i] > 5*time.Second {
			t.Fatalf("backoff not monotonic and capped: %v", sleeper.waits)
		}
	}
}

func TestAcquireRetriesUnparsableBody(t *testing.T) {
	srv, _ := tokenServer(t, 1, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	})
	token, err := newTestTokenManager(srv.URL, 3, nil, &fakeSleeper{}).Acquire(context.Background())
	if err != nil || token != "tok-123" {
		t.Fatalf("expected token after retry, got %q %v", token, err)
	}
}

func TestAcquireAcceptsExpiresInShapes(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantTTL time.Duration
	}{
		{"numeric", `{"access_token":"tok-123","expires_in":3599}`, 3599*time.Second - tokenCacheSlack},
		{"string", `{"access_token":"tok-123","expires_in":"1800"}`, 1800*time.Second - tokenCacheSlack},
		{"missing", `{"access_token":"tok-123"}`, defaultTokenExpiry - tokenCacheSlack},
		{"object", `{"access_token":"tok-123","expires_in":{"s":1}}`, defaultTokenExpiry - tokenCacheSlack},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			cache := &memoryTokenCache{}
			token, err := newTestTokenManager(srv.URL, 3, nil, &fakeSleeper{}).WithCache(cache).Acquire(context.Background())
			if err != nil || token != "tok-123" {
				t.Fatalf("unexpected result %q %v", token, err)
			}
			if atomic.LoadInt32(&calls) != 1 {
				t.Fatalf("expected a single exchange, got %d", calls)
			}
			if cache.ttl != tc.wantTTL {
				t.Fatalf("expected ttl %v, got %v", tc.wantTTL, cache.ttl)
			}
		})
	}
}

func TestAcquireFailsFastWithoutCredentials(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	m := NewTokenManager(config.MpesaConfig{BaseURL: srv.URL, ConsumerKey: "key"}, nil, RetryPolicy{}, nil, nil)
	_, err := m.Acquire(context.Background())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "MPESA_CONSUMER_SECRET" {
		t.Fatalf("expected config error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no network call, got %d", calls)
	}
}

func TestAcquireNeverAuditsSecrets(t *testing.T) {
	srv, _ := tokenServer(t, 1, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	rec := &memoryAudit{}
	if _, err := newTestTokenManager(srv.URL, 2, rec, &fakeSleeper{}).Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range rec.events {
		for k, v := range e.Fields {
			if s, ok := v.(string); ok && (strings.Contains(s, "secret") || strings.Contains(s, "tok-123")) {
				t.Fatalf("secret leaked in audit field %s=%s", k, s)
			}
		}
	}
}

func TestAcquireUsesCache(t *testing.T) {
	srv, calls := tokenServer(t, 0, nil)
	cache := &memoryTokenCache{}
	m := newTestTokenManager(srv.URL, 3, nil, &fakeSleeper{}).WithCache(cache)

	for i := 0; i < 3; i++ {
		token, err := m.Acquire(context.Background())
		if err != nil || token != "tok-123" {
			t.Fatalf("unexpected result %q %v", token, err)
		}
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected a single exchange, got %d", *calls)
	}
	if cache.ttl != 3599*time.Second-tokenCacheSlack {
		t.Fatalf("unexpected cache ttl %v", cache.ttl)
	}
	if _, ok := cache.tokens["key"]; ok {
		t.Fatal("consumer key must not be used verbatim as cache key")
	}
}
