package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nutrify/config"
	"nutrify/models"
	"nutrify/services/audit"

	"go.uber.org/zap"
)

const (
	maxResponseBytes   = 1 << 20
	defaultTokenExpiry = 3599 * time.Second
	tokenCacheSlack    = 60 * time.Second
)

// TokenSource hands out bearer tokens for the gateway.
type TokenSource interface {
	Acquire(ctx context.Context) (string, error)
}

// TokenCache keeps a token between requests. Implementations must be safe for concurrent use.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string, ttl time.Duration)
}

// TokenManager exchanges the static consumer credentials for a short-lived bearer token.
// It holds no lock: concurrent callers each run their own exchange.
type TokenManager struct {
	tokenURL string
	key      string
	secret   string
	client   *http.Client
	policy   RetryPolicy
	audit    audit.Recorder
	cache    TokenCache
	logger   *zap.Logger
}

func NewTokenManager(cfg config.MpesaConfig, client *http.Client, policy RetryPolicy, rec audit.Recorder, logger *zap.Logger) *TokenManager {
	if client == nil {
		client = http.DefaultClient
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = cfg.WithDefaults().TokenMaxAttempts
	}
	return &TokenManager{
		tokenURL: cfg.TokenURL(),
		key:      cfg.ConsumerKey,
		secret:   cfg.ConsumerSecret,
		client:   client,
		policy:   policy,
		audit:    rec,
		logger:   logger,
	}
}

// WithCache enables token reuse across requests.
func (m *TokenManager) WithCache(c TokenCache) *TokenManager {
	m.cache = c
	return m
}

// Acquire returns a bearer token, retrying the exchange per the manager's policy.
func (m *TokenManager) Acquire(ctx context.Context) (string, error) {
	if m.key == "" {
		return "", &ConfigError{Field: "MPESA_CONSUMER_KEY"}
	}
	if m.secret == "" {
		return "", &ConfigError{Field: "MPESA_CONSUMER_SECRET"}
	}

	cacheKey := hashKey(m.key)
	if m.cache != nil {
		if token, ok := m.cache.Get(ctx, cacheKey); ok {
			m.audit.Record(audit.Event{
				Step:    "token.cache_hit",
				Outcome: audit.OutcomeSuccess,
				Fields:  map[string]interface{}{"accessToken": audit.Redact(token)},
			})
			return token, nil
		}
	}

	var (
		token     string
		expiresIn time.Duration
	)
	attempts, err := m.policy.Do(ctx, func(attempt int) error {
		tok, exp, err := m.exchange(ctx)
		ev := audit.Event{
			Step:    "token.exchange",
			Attempt: attempt,
			Fields: map[string]interface{}{
				"endpoint":       m.tokenURL,
				"consumerSecret": audit.Redact(m.secret),
			},
		}
		if err != nil {
			ev.Outcome = audit.OutcomeFailure
			ev.Error = audit.ErrString(err)
			m.audit.Record(ev)
			return err
		}
		ev.Outcome = audit.OutcomeSuccess
		ev.Fields["accessToken"] = audit.Redact(tok)
		m.audit.Record(ev)
		token, expiresIn = tok, exp
		return nil
	})
	if err != nil {
		m.logger.Error("mpesa token exchange exhausted", zap.Int("attempts", attempts), zap.Error(err))
		return "", &AuthError{Attempts: attempts, Err: err}
	}

	if m.cache != nil && expiresIn > tokenCacheSlack {
		m.cache.Set(ctx, cacheKey, token, expiresIn-tokenCacheSlack)
	}
	return token, nil
}

func (m *TokenManager) exchange(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.tokenURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(m.key, m.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", 0, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", 0, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, &StatusError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}

	var parsed models.TokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, &ProtocolError{Reason: "token body is not JSON", Body: truncate(string(body), 200)}
	}
	if parsed.AccessToken == "" {
		return "", 0, &ProtocolError{Reason: "token body has no access_token"}
	}

	expiresIn := defaultTokenExpiry
	if secs, err := strconv.Atoi(strings.TrimSpace(string(parsed.ExpiresIn))); err == nil && secs > 0 {
		expiresIn = time.Duration(secs) * time.Second
	}
	return parsed.AccessToken, expiresIn, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
