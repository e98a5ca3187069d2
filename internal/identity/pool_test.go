package identity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/scraper"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(cfg, clk, zap.NewNop()), clk
}

func TestAcquireReturnsEligibleIdentity(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, Config{Proxies: []string{"http://10.0.0.1:8080", "http://10.0.0.2:8080"}})

	id, err := pool.Acquire("example.com")
	require.NoError(t, err)
	require.NotEmpty(t, id.ID)
	require.NotEmpty(t, id.UserAgent)
	require.NotEmpty(t, id.ProxyURL)
}

func TestBlockedIdentityExcludedForDomainOnly(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, Config{
		Proxies:         []string{"http://10.0.0.1:8080"},
		CooldownInitial: time.Minute,
	})

	id, err := pool.Acquire("example.com")
	require.NoError(t, err)

	pool.Report(id.ID, "example.com", scraper.ErrKindBlockedIdentity)

	_, err = pool.Acquire("example.com")
	require.ErrorIs(t, err, ErrPoolExhausted)

	// The same identity stays eligible for every other domain immediately.
	other, err := pool.Acquire("other.org")
	require.NoError(t, err)
	require.Equal(t, id.ID, other.ID)
}

func TestBlacklistCooldownExpires(t *testing.T) {
	t.Parallel()

	pool, clk := newTestPool(t, Config{
		Proxies:         []string{"http://10.0.0.1:8080"},
		CooldownInitial: time.Minute,
	})

	id, err := pool.Acquire("example.com")
	require.NoError(t, err)
	pool.Report(id.ID, "example.com", scraper.ErrKindRateLimited)

	_, err = pool.Acquire("example.com")
	require.ErrorIs(t, err, ErrPoolExhausted)

	clk.Advance(time.Minute + time.Second)

	got, err := pool.Acquire("example.com")
	require.NoError(t, err)
	require.Equal(t, id.ID, got.ID)
}

func TestCooldownEscalatesAndCaps(t *testing.T) {
	t.Parallel()

	pool, clk := newTestPool(t, Config{
		Proxies:         []string{"http://10.0.0.1:8080"},
		CooldownInitial: time.Minute,
		CooldownMax:     4 * time.Minute,
	})

	id, err := pool.Acquire("example.com")
	require.NoError(t, err)

	// First offense: one minute.
	pool.Report(id.ID, "example.com", scraper.ErrKindBlockedIdentity)
	clk.Advance(61 * time.Second)
	_, err = pool.Acquire("example.com")
	require.NoError(t, err)

	// Second offense doubles to two minutes.
	pool.Report(id.ID, "example.com", scraper.ErrKindBlockedIdentity)
	clk.Advance(61 * time.Second)
	_, err = pool.Acquire("example.com")
	require.ErrorIs(t, err, ErrPoolExhausted)
	clk.Advance(60 * time.Second)
	_, err = pool.Acquire("example.com")
	require.NoError(t, err)

	// Repeated offenses never exceed the configured maximum.
	for i := 0; i < 6; i++ {
		pool.Report(id.ID, "example.com", scraper.ErrKindBlockedIdentity)
		clk.Advance(4*time.Minute + time.Second)
		_, err = pool.Acquire("example.com")
		require.NoError(t, err)
	}
}

func TestTransportFailuresBlacklistGlobally(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, Config{
		Proxies:          []string{"http://10.0.0.1:8080"},
		DomainFailureMax: 100, // keep per-domain exclusion out of the way
		GlobalFailureMax: 3,
	})

	id, err := pool.Acquire("a.com")
	require.NoError(t, err)

	pool.Report(id.ID, "a.com", scraper.ErrKindTransport)
	pool.Report(id.ID, "b.com", scraper.ErrKindTransport)
	pool.Report(id.ID, "c.com", scraper.ErrKindTransport)

	// Globally excluded: no domain may use it, even untouched ones.
	_, err = pool.Acquire("fresh.example")
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestSuccessResetsDomainFailures(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, Config{
		Proxies:          []string{"http://10.0.0.1:8080"},
		DomainFailureMax: 2,
		GlobalFailureMax: 100,
	})

	id, err := pool.Acquire("example.com")
	require.NoError(t, err)

	pool.Report(id.ID, "example.com", scraper.ErrKindTransport)
	pool.Report(id.ID, "example.com", scraper.ErrKindNone)
	pool.Report(id.ID, "example.com", scraper.ErrKindTransport)

	// Two failures with a success in between never cross the threshold.
	_, err = pool.Acquire("example.com")
	require.NoError(t, err)
}

func TestDirectIdentitiesWhenNoProxies(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, Config{UserAgents: []string{"ua-1", "ua-2"}})

	require.Equal(t, 2, pool.Size())
	id, err := pool.Acquire("example.com")
	require.NoError(t, err)
	require.Empty(t, id.ProxyURL)
}

func TestConcurrentReportsAreSerialized(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, Config{
		Proxies:          []string{"http://10.0.0.1:8080", "http://10.0.0.2:8080"},
		DomainFailureMax: 1000,
		GlobalFailureMax: 100000,
	})

	id, err := pool.Acquire("example.com")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Report(id.ID, "example.com", scraper.ErrKindTransport)
			pool.Report(id.ID, "example.com", scraper.ErrKindNone)
		}()
	}
	wg.Wait()

	_, err = pool.Acquire("example.com")
	require.NoError(t, err)
}

func TestSnapshotCountsExclusions(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, Config{
		Proxies:          []string{"http://10.0.0.1:8080", "http://10.0.0.2:8080"},
		GlobalFailureMax: 1,
	})

	id, err := pool.Acquire("example.com")
	require.NoError(t, err)
	pool.Report(id.ID, "example.com", scraper.ErrKindTransport)

	snap := pool.Snapshot()
	require.Equal(t, 2, snap.Identities)
	require.Equal(t, 1, snap.GloballyExcluded)
}
