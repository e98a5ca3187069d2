package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/identity"
	"github.com/aniketms/jobpulse/internal/scraper"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// scriptedDoer returns canned responses (or errors) in order, recording
// which user agent made each request.
type scriptedDoer struct {
	mu         sync.Mutex
	script     []scriptStep
	calls      int
	userAgents []string
}

type scriptStep struct {
	status int
	body   string
	err    error
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userAgents = append(d.userAgents, req.Header.Get("User-Agent"))
	step := d.script[d.calls%len(d.script)]
	if d.calls < len(d.script)-1 {
		d.calls++
	}
	if step.err != nil {
		return nil, step.err
	}
	return &http.Response{
		StatusCode: step.status,
		Body:       io.NopCloser(strings.NewReader(step.body)),
		Header:     http.Header{},
	}, nil
}

type fakeFactory struct {
	doer *scriptedDoer
}

func (f *fakeFactory) ClientFor(_ scraper.Identity, _ time.Duration) (Doer, error) {
	return f.doer, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func newTestFetcher(t *testing.T, doer *scriptedDoer, proxies int) (*Fetcher, *identity.Pool, *[]time.Duration) {
	t.Helper()

	proxyURLs := make([]string, 0, proxies)
	for i := 0; i < proxies; i++ {
		proxyURLs = append(proxyURLs, "http://10.0.0.1:8080")
	}
	pool := identity.New(
		identity.Config{Proxies: proxyURLs},
		&fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		zap.NewNop(),
	)

	f := New(pool, &fakeFactory{doer: doer}, nil, nil, Config{
		Policy: RetryPolicy{
			MaxAttempts:       3,
			BackoffInitial:    2 * time.Millisecond,
			BackoffMax:        16 * time.Millisecond,
			RateLimitCooldown: 50 * time.Millisecond,
			JitterMax:         0,
		},
	}, zap.NewNop())

	delays := &[]time.Duration{}
	f.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return f, pool, delays
}

func target(url string) scraper.FetchTarget {
	return scraper.FetchTarget{Source: "test", URL: url, Tier: scraper.TierPrimary, Timeout: time.Second}
}

func TestFetchSuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{script: []scriptStep{{status: 200, body: "payload"}}}
	f, _, delays := newTestFetcher(t, doer, 1)

	out := f.Fetch(context.Background(), target("https://example.com/jobs"))

	require.True(t, out.Success)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, []byte("payload"), out.Payload)
	require.Empty(t, *delays)
}

func TestFetchRateLimitedRetriesSameIdentityWithGrowingDelay(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{script: []scriptStep{
		{status: 429},
		{status: 429},
		{status: 200, body: "ok"},
	}}
	f, _, delays := newTestFetcher(t, doer, 1)

	out := f.Fetch(context.Background(), target("https://example.com/jobs"))

	require.True(t, out.Success)
	require.Equal(t, 3, out.Attempts)

	// Same identity on every attempt: one identity in the pool, and no
	// rotation means the default identity's distinct user agent never shows.
	require.Len(t, doer.userAgents, 3)
	require.Equal(t, doer.userAgents[0], doer.userAgents[1])
	require.Equal(t, doer.userAgents[1], doer.userAgents[2])

	// Delays grow: cooldown plus doubling backoff.
	require.Len(t, *delays, 2)
	require.Greater(t, (*delays)[1], (*delays)[0])
	require.GreaterOrEqual(t, (*delays)[0], 50*time.Millisecond)
}

func TestFetchBlockedRotatesIdentity(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{script: []scriptStep{
		{status: 406},
		{status: 200, body: "ok"},
	}}
	f, pool, _ := newTestFetcher(t, doer, 5)

	out := f.Fetch(context.Background(), target("https://example.com/jobs"))

	require.True(t, out.Success)
	require.Equal(t, 2, out.Attempts)
	require.Len(t, doer.userAgents, 2)

	// The blocked identity went on domain cooldown, so the pool handed out
	// a different one for attempt 2.
	require.Equal(t, 5, pool.Size())
}

func TestFetchNonRecoverableFailsImmediately(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{script: []scriptStep{{status: 404}}}
	f, _, delays := newTestFetcher(t, doer, 1)

	out := f.Fetch(context.Background(), target("https://example.com/jobs"))

	require.False(t, out.Success)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, scraper.ErrKindNonRecoverable, out.ErrKind)
	require.Empty(t, *delays)
}

func TestFetchTransientErrorsBackOffThenExhaust(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{script: []scriptStep{{err: timeoutErr{}}}}
	f, _, delays := newTestFetcher(t, doer, 1)

	out := f.Fetch(context.Background(), target("https://example.com/jobs"))

	require.False(t, out.Success)
	require.Equal(t, 3, out.Attempts)
	require.Equal(t, scraper.ErrKindTransport, out.ErrKind)
	require.NotEmpty(t, out.ErrText)

	// Exponential: second wait doubles the first.
	require.Len(t, *delays, 2)
	require.Equal(t, (*delays)[0]*2, (*delays)[1])
}

func TestFetchAttemptTimeoutRetriedAsTransport(t *testing.T) {
	t.Parallel()

	// A server that never answers: every attempt dies on the per-attempt
	// deadline, which must count as a transient transport failure while the
	// cycle itself is still alive.
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	pool := identity.New(
		identity.Config{DirectIdentities: 1},
		&fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		zap.NewNop(),
	)
	f := New(pool, NewHTTPClientFactory(), nil, nil, Config{
		Policy: RetryPolicy{
			MaxAttempts:    3,
			BackoffInitial: time.Millisecond,
			BackoffMax:     2 * time.Millisecond,
			JitterMax:      0,
		},
	}, zap.NewNop())
	sleeps := 0
	f.sleep = func(context.Context, time.Duration) error { sleeps++; return nil }

	out := f.Fetch(context.Background(), scraper.FetchTarget{
		Source:  "test",
		URL:     srv.URL + "/jobs",
		Tier:    scraper.TierPrimary,
		Timeout: 50 * time.Millisecond,
	})

	require.False(t, out.Success)
	require.Equal(t, 3, out.Attempts)
	require.Equal(t, scraper.ErrKindTransport, out.ErrKind)
	require.Equal(t, 2, sleeps)
}

func TestFetchCanceledCycleStopsWithDeadline(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{script: []scriptStep{{err: context.Canceled}}}
	f, _, delays := newTestFetcher(t, doer, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := f.Fetch(ctx, target("https://example.com/jobs"))

	require.False(t, out.Success)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, scraper.ErrKindDeadline, out.ErrKind)
	require.Empty(t, *delays)
}

func TestFetchServerErrorRetried(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{script: []scriptStep{
		{status: 503},
		{status: 200, body: "recovered"},
	}}
	f, _, _ := newTestFetcher(t, doer, 1)

	out := f.Fetch(context.Background(), target("https://example.com/jobs"))

	require.True(t, out.Success)
	require.Equal(t, 2, out.Attempts)
	require.Equal(t, []byte("recovered"), out.Payload)
}

func TestFetchFallsBackToDefaultIdentityWhenPoolExhausted(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{script: []scriptStep{{status: 200, body: "ok"}}}
	f, pool, _ := newTestFetcher(t, doer, 1)

	// Exhaust the only identity for this domain.
	id, err := pool.Acquire("example.com")
	require.NoError(t, err)
	pool.Report(id.ID, "example.com", scraper.ErrKindBlockedIdentity)

	out := f.Fetch(context.Background(), target("https://example.com/jobs"))

	require.True(t, out.Success)
	require.Equal(t, "default", out.IdentityID)
}

func TestDefaultClassifier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		err    error
		want   scraper.ErrKind
	}{
		{"ok", 200, nil, scraper.ErrKindNone},
		{"redirect", 302, nil, scraper.ErrKindNone},
		{"rate limited", 429, nil, scraper.ErrKindRateLimited},
		{"forbidden", 403, nil, scraper.ErrKindBlockedIdentity},
		{"not acceptable", 406, nil, scraper.ErrKindBlockedIdentity},
		{"not found", 404, nil, scraper.ErrKindNonRecoverable},
		{"server error", 502, nil, scraper.ErrKindTransport},
		{"timeout", 0, timeoutErr{}, scraper.ErrKindTransport},
		{"deadline", 0, context.DeadlineExceeded, scraper.ErrKindDeadline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, DefaultClassifier(tc.status, tc.err))
		})
	}
}
