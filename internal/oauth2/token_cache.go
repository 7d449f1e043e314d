package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"benefit-worker/internal/circuitbreaker"
	"benefit-worker/internal/common/errors"
	commonhttp "benefit-worker/internal/common/http"
	"benefit-worker/internal/common/logging"
	"benefit-worker/internal/metrics"
)

// ExpiryMargin is subtracted from the lifetime the token endpoint declares
const ExpiryMargin = 10 * time.Second

// TokenResponse is the token endpoint's answer
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// TokenCacheConfig identifies the token endpoint and the service user
type TokenCacheConfig struct {
	BaseURL  string
	Username string
	Password string
}

// Validate checks that the endpoint and credentials are set
func (c TokenCacheConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.ConfigError("token base URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return errors.ConfigError(fmt.Sprintf("invalid token base URL: %v", err))
	}
	if c.Username == "" || c.Password == "" {
		return errors.ConfigError("service user credentials are required")
	}
	return nil
}

// TokenCache holds one bearer token and refreshes it once it has expired.
// Refreshes are serialized; readers always see a complete token.
type TokenCache struct {
	config  TokenCacheConfig
	client  *http.Client
	breaker *circuitbreaker.GoBreakerAdapter
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// TokenCacheOption customizes a TokenCache
type TokenCacheOption func(*TokenCache)

// WithClock replaces time.Now
func WithClock(now func() time.Time) TokenCacheOption {
	return func(tc *TokenCache) {
		tc.now = now
	}
}

// WithMetrics records token fetches on m
func WithMetrics(m *metrics.Metrics) TokenCacheOption {
	return func(tc *TokenCache) {
		tc.metrics = m
	}
}

// WithLogger replaces the global logger
func WithLogger(logger logging.Logger) TokenCacheOption {
	return func(tc *TokenCache) {
		tc.logger = logger
	}
}

// NewTokenCache creates the cache and fetches the first token before
// returning, so broken credentials fail at startup.
func NewTokenCache(ctx context.Context, config TokenCacheConfig, client *http.Client, opts ...TokenCacheOption) (*TokenCache, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = commonhttp.NewHTTPClient()
	}

	tc := &TokenCache{
		config: config,
		client: client,
		logger: logging.GetGlobalLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(tc)
	}
	tc.logger = tc.logger.WithFields(logging.String("component", "token-cache"))
	tc.breaker = circuitbreaker.NewGoBreaker("token-endpoint", circuitbreaker.TokenConfig, tc.logger)

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if err := tc.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return tc, nil
}

// Token returns the cached token, fetching a new one first if it has expired
func (tc *TokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.RLock()
	if tc.validLocked() {
		token := tc.token
		tc.mu.RUnlock()
		return token, nil
	}
	tc.mu.RUnlock()

	tc.mu.Lock()
	defer tc.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock
	if tc.validLocked() {
		return tc.token, nil
	}
	if err := tc.refreshLocked(ctx); err != nil {
		return "", err
	}
	return tc.token, nil
}

// ExpiresAt returns when the cached token stops being handed out
func (tc *TokenCache) ExpiresAt() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.expiresAt
}

func (tc *TokenCache) validLocked() bool {
	return tc.token != "" && tc.now().Before(tc.expiresAt)
}

// refreshLocked fetches a token and stores it. Callers hold the write lock.
// A token whose lifetime does not exceed the margin is still returned to the
// caller that fetched it; the next caller fetches again.
func (tc *TokenCache) refreshLocked(ctx context.Context) error {
	fetchedAt := tc.now()

	var resp *TokenResponse
	err := tc.breaker.Execute(ctx, func() error {
		var err error
		resp, err = tc.fetch(ctx)
		return err
	})
	if err != nil {
		tc.metrics.IncTokenRefresh("failure")
		if !errors.IsType(err, errors.ErrTypeAuth) {
			err = errors.AuthError("token request failed", err)
		}
		tc.logger.Error("Failed to fetch bearer token", err)
		return err
	}

	tc.token = resp.AccessToken
	tc.expiresAt = fetchedAt.Add(time.Duration(resp.ExpiresIn)*time.Second - ExpiryMargin)
	tc.metrics.IncTokenRefresh("success")

	tc.logger.Debug("Fetched bearer token",
		logging.String("token_type", resp.TokenType),
		logging.Int("expires_in", resp.ExpiresIn),
	)
	return nil
}

func (tc *TokenCache) fetch(ctx context.Context) (*TokenResponse, error) {
	endpoint := strings.TrimRight(tc.config.BaseURL, "/") + "/token?" + url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {"openid"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.AuthError("failed to create token request", err)
	}
	req.SetBasicAuth(tc.config.Username, tc.config.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return nil, errors.AuthError("token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if !commonhttp.IsSuccess(resp.StatusCode) {
		return nil, errors.AuthError(fmt.Sprintf("token endpoint returned HTTP %d", resp.StatusCode), nil).
			WithContext("status", resp.StatusCode).
			WithContext("body", commonhttp.ReadErrorBody(resp))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, errors.AuthError("failed to decode token response", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.AuthError("no access token in response", nil)
	}
	return &tokenResp, nil
}
