// Package credentials implements the per-account token manager (spec.md
// §4.11): a process-local singleton keyed by account that serialises
// concurrent token fetches for the same account via
// golang.org/x/sync/singleflight, the same module golang.org/x/sync/
// errgroup is drawn from elsewhere in this codebase (internal/pipeline)
// for the adjacent concurrency problem.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/config"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
)

// RefreshBufferSec is how long before actual expiry a cached token is
// already considered invalid (spec.md §4.11).
const RefreshBufferSec = 60

// Fetcher mints a fresh access token for (userID, platform, account).
// Talking to any actual OAuth endpoint is explicitly out of scope for
// this module (spec.md §1); real integrations implement this interface.
type Fetcher interface {
	FetchToken(ctx context.Context, userID, platform, account string) (token string, expiresAt time.Time, err error)
}

type cacheKey struct {
	userID, platform, account string
}

func (k cacheKey) String() string {
	return k.userID + "/" + k.platform + "/" + k.account
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Manager is the process-local singleton token cache. Callers request "a
// valid token" and never mint their own (spec.md §4.11).
type Manager struct {
	fetcher Fetcher
	clock   config.TimestampGenerator
	group   singleflight.Group

	mu    sync.Mutex
	cache map[cacheKey]cachedToken
}

func NewManager(fetcher Fetcher, clock config.TimestampGenerator) *Manager {
	return &Manager{fetcher: fetcher, clock: clock, cache: map[cacheKey]cachedToken{}}
}

// GetValidToken returns a cached token if it is not within the refresh
// buffer of expiry, else fetches a new one. Concurrent callers for the
// same account share one fetch.
func (m *Manager) GetValidToken(ctx context.Context, userID, platform, account string) (string, error) {
	key := cacheKey{userID, platform, account}

	if tok, ok := m.lookup(key); ok {
		return tok, nil
	}

	result, err, _ := m.group.Do(key.String(), func() (interface{}, error) {
		if tok, ok := m.lookup(key); ok {
			return tok, nil
		}
		return m.refresh(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (m *Manager) lookup(key cacheKey) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.cache[key]
	if !ok {
		return "", false
	}
	if !m.clock.GetTime().Before(tok.expiresAt.Add(-RefreshBufferSec * time.Second)) {
		return "", false
	}
	return tok.token, true
}

func (m *Manager) refresh(ctx context.Context, key cacheKey) (string, error) {
	var token string
	var expiresAt time.Time

	operation := func() error {
		var fetchErr error
		token, expiresAt, fetchErr = m.fetcher.FetchToken(ctx, key.userID, key.platform, key.account)
		if fetchErr != nil && isAuthRejection(fetchErr) {
			return backoff.Permanent(fetchErr)
		}
		return fetchErr
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, b); err != nil {
		return "", apierrors.Unretriable(fmt.Errorf("credentials: fetching token for %s: %w", key, err))
	}

	m.mu.Lock()
	m.cache[key] = cachedToken{token: token, expiresAt: expiresAt}
	m.mu.Unlock()
	return token, nil
}

// AuthRejectedError marks a 401/403-class response from the token
// endpoint, never retried (spec.md §4.11).
type AuthRejectedError struct{ Err error }

func (e AuthRejectedError) Error() string { return e.Err.Error() }
func (e AuthRejectedError) Unwrap() error { return e.Err }

func isAuthRejection(err error) bool {
	_, ok := err.(AuthRejectedError)
	return ok
}

// Vault exposes the opaque credential blob for (user, platform, account).
// Encryption at rest is explicitly out of scope (spec.md §1); the vault
// stores and returns exactly the bytes handed to it.
type Vault interface {
	GetCredential(ctx context.Context, userID, platform, account string) (providers.Envelope, error)
	SaveCredential(ctx context.Context, userID string, env providers.Envelope) error
}

// ShouldRefreshDownloadToken implements spec.md §4.11's last paragraph:
// a recording's own download-URL token is refreshed opportunistically
// when the download step starts, if missing or older than threshold.
func ShouldRefreshDownloadToken(tokenFetchedAt *time.Time, now time.Time, threshold time.Duration) bool {
	if tokenFetchedAt == nil {
		return true
	}
	return now.Sub(*tokenFetchedAt) >= threshold
}

// SourceFetcher re-requests a fresh download URL/token for one recording
// from whatever produced it (spec.md §4.11 last paragraph). Talking to an
// actual meeting-provider API is explicitly out of scope for this module
// (spec.md §1), same as internal/sourcesync.Enumerator; a real integration
// implements this interface and is wired in at the process composition
// root. Left unconfigured, the download step simply reuses its existing
// token.
type SourceFetcher interface {
	FetchDownloadURL(ctx context.Context, src *models.InputSource, rec *models.Recording) (downloadURL, downloadToken string, err error)
}
