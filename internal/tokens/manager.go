package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"hsexport/internal/config"
	"hsexport/internal/logging"
	"hsexport/internal/metrics"
	"hsexport/internal/model"
)

var (
	ErrNoRefreshToken = errors.New("no refresh token configured")
	ErrRefreshFailed  = errors.New("token refresh failed")
	// ErrPersistFailed means new tokens were obtained and are in use, but could not be saved.
	ErrPersistFailed = errors.New("token persistence failed")
)

// Store persists a token set, e.g. config.EnvFile.
type Store interface {
	SaveTokens(model.TokenSet) error
}

// NewOAuthConfig builds the OAuth2 client configuration. HubSpot expects the
// client credentials in the form body.
func NewOAuthConfig(cfg config.HubSpotConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: cfg.RedirectURI,
		Scopes:      cfg.Scopes,
	}
}

// Manager owns the process-wide token set. It satisfies hubspot.Credentials.
// Concurrent refreshes collapse into one exchange.
type Manager struct {
	mu         sync.Mutex
	tokens     model.TokenSet
	oauth      *oauth2.Config
	store      Store
	httpClient *http.Client
	now        func() time.Time
	group      singleflight.Group
}

// NewManager starts from the tokens in cfg. A nil httpClient gets a 30s timeout client.
func NewManager(cfg config.HubSpotConfig, store Store, httpClient *http.Client) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Manager{
		tokens:     cfg.Tokens,
		oauth:      NewOAuthConfig(cfg),
		store:      store,
		httpClient: httpClient,
		now:        time.Now,
	}
}

func (m *Manager) AccessToken(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens.AccessToken, nil
}

// Tokens returns a copy of the current token set.
func (m *Manager) Tokens() model.TokenSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

func (m *Manager) CanRefresh() bool {
	return m.Tokens().RefreshToken != ""
}

// Expired reports whether the access token has a known expiry in the past.
func (m *Manager) Expired() bool {
	return m.Tokens().Expired(m.now())
}

// EnsureFresh refreshes up front when the stored token is already expired.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	if !m.Expired() || !m.CanRefresh() {
		return nil
	}
	logging.Info("token_expired_at_startup", map[string]any{"expires_at": m.Tokens().ExpiresAt})
	return m.Refresh(ctx)
}

// Refresh exchanges the refresh token for a new token set and persists it.
// Callers arriving while a refresh is in flight wait for its result.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, shared := m.group.Do("refresh", func() (any, error) {
		return nil, m.refresh(ctx)
	})
	if shared {
		logging.Info("token_refresh_shared", nil)
	}
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	cur := m.Tokens()
	if cur.RefreshToken == "" {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNoRefreshToken)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
	if err != nil {
		metrics.IncTokenRefresh(false)
		logging.Error("token_refresh_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	metrics.IncTokenRefresh(true)
	next := m.fromOAuth(tok, cur.RefreshToken)
	m.set(next)
	logging.Info("token_refreshed", map[string]any{"expires_at": next.ExpiresAt})
	return m.persist(next)
}

// AuthCodeURL returns the authorization page URL for the interactive flow.
func (m *Manager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens and persists them.
func (m *Manager) Exchange(ctx context.Context, code string) error {
	if code == "" {
		return errors.New("empty authorization code")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	next := m.fromOAuth(tok, "")
	m.set(next)
	logging.Info("token_exchanged", map[string]any{"expires_at": next.ExpiresAt})
	return m.persist(next)
}

func (m *Manager) set(ts model.TokenSet) {
	m.mu.Lock()
	m.tokens = ts
	m.mu.Unlock()
}

func (m *Manager) persist(ts model.TokenSet) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveTokens(ts); err != nil {
		logging.Error("token_persist_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

// fromOAuth converts an oauth2 token, keeping the previous refresh token when none was issued.
func (m *Manager) fromOAuth(tok *oauth2.Token, prevRefresh string) model.TokenSet {
	ts := model.TokenSet{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if ts.RefreshToken == "" {
		ts.RefreshToken = prevRefresh
	}
	if !tok.Expiry.IsZero() {
		ts.ExpiresAt = tok.Expiry.UnixMilli()
	} else if secs, ok := tok.Extra("expires_in").(float64); ok && secs > 0 {
		ts.ExpiresAt = m.now().Add(time.Duration(secs) * time.Second).UnixMilli()
	}
	return ts
}
