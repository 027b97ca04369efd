// Package tokenmanager caches per-provider OAuth2 client_credentials
// bearer tokens, fetched lazily and refreshed proactively before expiry.
package tokenmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nulpointcorp/aicore-gateway/internal/config"
)

// expiryGuard is the window before functional expiry during which a cached
// token is no longer considered valid; the first GetToken call inside this
// window fetches a new token, so tokens are refreshed before functional
// expiry.
const expiryGuard = 60 * time.Second

type cacheKey struct {
	tokenURL     string
	clientID     string
	clientSecret string
}

type cacheEntry struct {
	token  string
	expiry time.Time
}

func (e cacheEntry) validAt(now time.Time) bool {
	return now.Add(expiryGuard).Before(e.expiry)
}

// Manager is a multi-reader/single-writer OAuth token cache. The zero value
// is not usable; construct with New.
type Manager struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry

	apiKeys map[string]bool
	log     *slog.Logger
}

// New builds a Manager that accepts the given caller API keys in addition to
// the literal "internal".
func New(apiKeys []string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	keys := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = true
	}
	return &Manager{
		entries: make(map[cacheKey]cacheEntry),
		apiKeys: keys,
		log:     log,
	}
}

// IsAuthorized reports whether apiKey is the literal "internal" or present
// in the configured caller key set.
func (m *Manager) IsAuthorized(apiKey string) bool {
	return apiKey == "internal" || m.apiKeys[apiKey]
}

// ErrUnauthorized is returned when the caller's API key is neither in the
// configured set nor the literal "internal".
var ErrUnauthorized = fmt.Errorf("tokenmanager: unauthorized api key")

// GetToken returns a bearer token for provider p on behalf of apiKey. It
// returns ErrUnauthorized if apiKey is not recognized, or a wrapped error if
// the OAuth exchange fails.
func (m *Manager) GetToken(ctx context.Context, apiKey string, p config.Provider) (string, error) {
	if apiKey != "internal" && !m.apiKeys[apiKey] {
		return "", ErrUnauthorized
	}

	key := cacheKey{tokenURL: p.UAATokenURL, clientID: p.UAAClientID, clientSecret: p.UAAClientSecret}

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if ok && entry.validAt(time.Now()) {
		return entry.token, nil
	}

	token, expiry, err := m.fetch(ctx, p)
	if err != nil {
		m.log.Warn("token refresh failed",
			slog.String("provider", p.Name), slog.String("error", err.Error()))
		return "", fmt.Errorf("tokenmanager: refresh provider %q: %w", p.Name, err)
	}

	m.mu.Lock()
	m.entries[key] = cacheEntry{token: token, expiry: expiry}
	m.mu.Unlock()

	return token, nil
}

func (m *Manager) fetch(ctx context.Context, p config.Provider) (string, time.Time, error) {
	cc := clientcredentials.Config{
		ClientID:     p.UAAClientID,
		ClientSecret: p.UAAClientSecret,
		TokenURL:     p.UAATokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("oauth exchange: %w", err)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	return tok.AccessToken, expiry, nil
}
