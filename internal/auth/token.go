package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrAuthentication marks failures of the client-credentials grant: the
// token endpoint was unreachable or rejected the credentials.
var ErrAuthentication = errors.New("auth: token request failed")

// expiryBuffer is subtracted from the advertised lifetime so a token is
// never handed out moments before it expires mid-flight.
const expiryBuffer = time.Minute

// Config holds the OAuth2 client-credentials settings.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
}

// TokenManager obtains and caches an OAuth2 access token. Concurrent
// callers observing an expired token share a single in-flight refresh.
type TokenManager struct {
	cfg        Config
	httpClient *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
	now   func() time.Time
}

// NewTokenManager constructs a TokenManager. One instance is shared per
// process and injected into the sync client.
func NewTokenManager(cfg Config) *TokenManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TokenManager{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

// GetAccessToken returns the cached token when it is still inside its
// buffered lifetime, otherwise performs a client-credentials grant. At most
// one grant request is in flight at a time.
func (m *TokenManager) GetAccessToken(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	v, err, _ := m.group.Do("token", func() (interface{}, error) {
		// A caller queued behind a completed refresh reuses its result.
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) cached() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token != "" && m.now().Before(m.expiresAt) {
		return m.token, true
	}
	return "", false
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("scope", m.cfg.Scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: token endpoint returned %d: %s", ErrAuthentication, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrAuthentication, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token in response", ErrAuthentication)
	}

	m.mu.Lock()
	m.token = tr.AccessToken
	m.expiresAt = m.now().Add(time.Duration(tr.ExpiresIn)*time.Second - expiryBuffer)
	m.mu.Unlock()

	return tr.AccessToken, nil
}
