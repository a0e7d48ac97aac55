package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/harun/tradegate/internal/metrics"
	"github.com/harun/tradegate/pkg/apperr"
)

const (
	DefaultTokenURL     = "https://be.broker.ru/trade-api-keycloak/realms/tradeapi/protocol/openid-connect/token"
	DefaultClientID     = "trade-api-read"
	DefaultSafetyMargin = 60 * time.Second
)

// TokenSource hands out a valid bearer credential
type TokenSource interface {
	Acquire(ctx context.Context) (string, error)
}

// TokenConfig configures a TokenManager
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	RefreshToken string
	SafetyMargin time.Duration
	HTTPClient   *http.Client
	Now          func() time.Time
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// TokenManager owns the single shared access token.
// At most one refresh is in flight; concurrent callers wait for its outcome.
type TokenManager struct {
	tokenURL     string
	clientID     string
	refreshToken string
	margin       time.Duration
	httpClient   *http.Client
	now          func() time.Time
	logger       zerolog.Logger
	metrics      *metrics.Metrics

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenManager creates a token manager
func NewTokenManager(cfg TokenConfig) *TokenManager {
	m := &TokenManager{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		refreshToken: cfg.RefreshToken,
		margin:       cfg.SafetyMargin,
		httpClient:   cfg.HTTPClient,
		now:          cfg.Now,
		logger:       cfg.Logger.With().Str("component", "broker.token").Logger(),
		metrics:      cfg.Metrics,
	}
	if m.tokenURL == "" {
		m.tokenURL = DefaultTokenURL
	}
	if m.clientID == "" {
		m.clientID = DefaultClientID
	}
	if m.margin <= 0 {
		m.margin = DefaultSafetyMargin
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Acquire returns the cached token while it is outside the safety margin,
// refreshing it otherwise.
func (m *TokenManager) Acquire(ctx context.Context) (string, error) {
	if token, ok := m.cached(); ok {
		return token, nil
	}

	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		// a refresh that completed while this caller was queued is reused
		if token, ok := m.cached(); ok {
			return token, nil
		}
		// the refresh outlives the caller that started it so other waiters still get a result
		return m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// ExpiresAt returns the expiry of the cached token, zero when empty
func (m *TokenManager) ExpiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiresAt
}

func (m *TokenManager) cached() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token != "" && m.now().Before(m.expiresAt.Add(-m.margin)) {
		return m.token, true
	}
	return "", false
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	if m.refreshToken == "" {
		m.metrics.RecordTokenRefresh("error")
		return "", apperr.Auth("BCS_REFRESH_TOKEN is empty", nil)
	}

	m.logger.Debug().Msg("bcs.token.refresh.start")

	form := url.Values{
		"client_id":     {m.clientID},
		"refresh_token": {m.refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperr.Auth("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.metrics.RecordTokenRefresh("error")
		m.logger.Error().Err(err).Msg("bcs.token.refresh.error")
		return "", apperr.Auth("token refresh failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.metrics.RecordTokenRefresh("error")
		m.logger.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("bcs.token.refresh.error")
		return "", apperr.Auth(fmt.Sprintf("token refresh failed: %d %s", resp.StatusCode, string(body)), nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		m.metrics.RecordTokenRefresh("error")
		return "", apperr.Auth("failed to decode token response", err)
	}
	if tr.AccessToken == "" {
		m.metrics.RecordTokenRefresh("error")
		return "", apperr.Auth("access token is empty after refresh", nil)
	}

	var expiresIn float64
	if tr.ExpiresIn != "" {
		expiresIn, _ = tr.ExpiresIn.Float64()
	}

	m.mu.Lock()
	m.token = tr.AccessToken
	m.expiresAt = m.now().Add(time.Duration(expiresIn * float64(time.Second)))
	m.mu.Unlock()

	m.metrics.RecordTokenRefresh("ok")
	m.logger.Debug().Float64("expiresIn", expiresIn).Msg("bcs.token.refresh.ok")
	return tr.AccessToken, nil
}
