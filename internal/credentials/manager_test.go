package credentials

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls   int32
	token   string
	ttl     time.Duration
	err     error
	onFetch func()
}

func (f *fakeFetcher) FetchToken(ctx context.Context, userID, platform, account string) (string, time.Time, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return f.token, time.Now().Add(f.ttl), nil
}

func TestGetValidTokenFetchesOnFirstCall(t *testing.T) {
	fetcher := &fakeFetcher{token: "tok-1", ttl: time.Hour}
	m := NewManager(fetcher, config.RealTimestampGenerator{})

	tok, err := m.GetValidToken(context.Background(), "u1", "youtube", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 1, fetcher.calls)
}

func TestGetValidTokenReusesCachedToken(t *testing.T) {
	fetcher := &fakeFetcher{token: "tok-1", ttl: time.Hour}
	m := NewManager(fetcher, config.RealTimestampGenerator{})

	_, err := m.GetValidToken(context.Background(), "u1", "youtube", "acct-1")
	require.NoError(t, err)
	_, err = m.GetValidToken(context.Background(), "u1", "youtube", "acct-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, fetcher.calls)
}

func TestGetValidTokenRefetchesWithinBuffer(t *testing.T) {
	fetcher := &fakeFetcher{token: "tok-1", ttl: RefreshBufferSec * time.Second / 2}
	m := NewManager(fetcher, config.RealTimestampGenerator{})

	_, err := m.GetValidToken(context.Background(), "u1", "youtube", "acct-1")
	require.NoError(t, err)
	_, err = m.GetValidToken(context.Background(), "u1", "youtube", "acct-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetcher.calls)
}

func TestGetValidTokenSerializesConcurrentFetchesForSameAccount(t *testing.T) {
	var wg sync.WaitGroup
	release := make(chan struct{})
	fetcher := &fakeFetcher{token: "tok-1", ttl: time.Hour, onFetch: func() { <-release }}
	m := NewManager(fetcher, config.RealTimestampGenerator{})

	const n = 5
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = m.GetValidToken(context.Background(), "u1", "youtube", "acct-1")
		}()
	}
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, fetcher.calls)
}

func TestGetValidTokenPropagatesAuthRejectionAsUnretriable(t *testing.T) {
	fetcher := &fakeFetcher{err: AuthRejectedError{Err: assertError("401")}}
	m := NewManager(fetcher, config.RealTimestampGenerator{})

	_, err := m.GetValidToken(context.Background(), "u1", "youtube", "acct-1")
	require.Error(t, err)
	assert.True(t, apierrors.IsUnretriable(err))
	assert.EqualValues(t, 1, fetcher.calls)
}

func TestShouldRefreshDownloadTokenWhenMissing(t *testing.T) {
	assert.True(t, ShouldRefreshDownloadToken(nil, time.Now(), time.Hour))
}

func TestShouldRefreshDownloadTokenWhenStale(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	assert.True(t, ShouldRefreshDownloadToken(&old, time.Now(), time.Hour))
}

func TestShouldRefreshDownloadTokenWhenFresh(t *testing.T) {
	recent := time.Now().Add(-time.Minute)
	assert.False(t, ShouldRefreshDownloadToken(&recent, time.Now(), time.Hour))
}

type assertError string

func (e assertError) Error() string { return string(e) }
