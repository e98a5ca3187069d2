// Package fetch executes single network operations through pooled
// identities with tiered retry and error-class-specific recovery.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/identity"
	"github.com/aniketms/jobpulse/internal/metrics"
	"github.com/aniketms/jobpulse/internal/scraper"
)

// maxBodyBytes caps payloads read from a response body.
const maxBodyBytes = 8 << 20

// Doer abstracts an HTTP client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientFactory yields a Doer bound to an identity's egress path.
type ClientFactory interface {
	ClientFor(id scraper.Identity, timeout time.Duration) (Doer, error)
}

// HTTPClientFactory builds real http.Clients, one per identity, routed
// through the identity's proxy when it has one. Clients are cached so
// connection pools are reused across attempts and targets.
type HTTPClientFactory struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewHTTPClientFactory creates an empty factory.
func NewHTTPClientFactory() *HTTPClientFactory {
	return &HTTPClientFactory{clients: make(map[string]*http.Client)}
}

// ClientFor returns the cached client for the identity, building it on
// first use.
func (f *HTTPClientFactory) ClientFor(id scraper.Identity, timeout time.Duration) (Doer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[id.ID]; ok {
		return c, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if id.ProxyURL != "" {
		proxyURL, err := url.Parse(id.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	c := &http.Client{Transport: transport, Timeout: timeout}
	f.clients[id.ID] = c
	return c, nil
}

// Config controls Fetcher behavior.
type Config struct {
	Policy         RetryPolicy
	DefaultTimeout time.Duration
}

// Fetcher executes fetch targets with bounded attempts, exponential
// backoff, jitter, and identity rotation on block signals. A fetch never
// fails fatally: exhausting attempts yields an outcome with Success=false
// and the terminal error kind.
type Fetcher struct {
	pool     *identity.Pool
	clients  ClientFactory
	limiter  *DomainLimiter
	classify Classifier
	policy   RetryPolicy
	timeout  time.Duration
	logger   *zap.Logger

	// sleep is swapped out by tests to observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Fetcher.
func New(
	pool *identity.Pool,
	clients ClientFactory,
	limiter *DomainLimiter,
	classify Classifier,
	cfg Config,
	logger *zap.Logger,
) *Fetcher {
	if classify == nil {
		classify = DefaultClassifier
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 15 * time.Second
	}
	return &Fetcher{
		pool:     pool,
		clients:  clients,
		limiter:  limiter,
		classify: classify,
		policy:   cfg.Policy.withDefaults(),
		timeout:  cfg.DefaultTimeout,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// defaultIdentity is the unproxied fallback used when the pool has no
// eligible identity for a domain.
var defaultIdentity = scraper.Identity{
	ID:        "default",
	UserAgent: "jobpulse/0.1 (+https://github.com/aniketms/jobpulse)",
	Headers:   http.Header{"Accept": []string{"*/*"}},
}

// Fetch executes the target and returns its outcome. Per-target failures
// are reported in the outcome, never raised as an error.
func (f *Fetcher) Fetch(ctx context.Context, target scraper.FetchTarget) scraper.FetchOutcome {
	domain := target.Domain()
	start := time.Now()

	ident, acquireErr := f.pool.Acquire(domain)
	usingPool := acquireErr == nil
	if acquireErr != nil {
		if !errors.Is(acquireErr, identity.ErrPoolExhausted) {
			f.logger.Warn("identity acquire failed", zap.String("domain", domain), zap.Error(acquireErr))
		}
		// No eligible identity: fall back to the direct default identity.
		ident = defaultIdentity
		f.logger.Debug("pool exhausted, using default identity", zap.String("domain", domain))
	}

	outcome := scraper.FetchOutcome{Target: target, IdentityID: ident.ID}

	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, domain); err != nil {
				outcome.ErrKind = scraper.ErrKindDeadline
				outcome.ErrText = err.Error()
				break
			}
		}

		metrics.ObserveFetchAttempt(domain)
		status, payload, err := f.attempt(ctx, target, ident)
		kind := f.classify(status, err)
		if kind == scraper.ErrKindDeadline && ctx.Err() == nil {
			// Only the attempt's own deadline expired. The cycle is still
			// alive, so a slow server is a transient transport failure.
			kind = scraper.ErrKindTransport
		}

		if usingPool {
			f.pool.Report(ident.ID, domain, kind)
		}

		outcome.StatusCode = status
		outcome.ErrKind = kind
		if err != nil {
			outcome.ErrText = err.Error()
		} else if kind != scraper.ErrKindNone {
			outcome.ErrText = fmt.Sprintf("unexpected status %d", status)
		}

		if kind == scraper.ErrKindNone {
			outcome.Success = true
			outcome.Payload = payload
			outcome.ErrText = ""
			break
		}

		if kind == scraper.ErrKindNonRecoverable || kind == scraper.ErrKindDeadline {
			break
		}
		if attempt == f.policy.MaxAttempts {
			break
		}

		wait := f.policy.Backoff(attempt)
		switch kind {
		case scraper.ErrKindRateLimited:
			// The server is asking for patience, not blocking the identity:
			// add the fixed cooldown on top of backoff and keep the same
			// identity.
			wait = f.policy.RateLimitCooldown + wait
		case scraper.ErrKindBlockedIdentity:
			// Assume the fingerprint is flagged and rotate before retrying.
			if usingPool {
				if next, err := f.pool.Acquire(domain); err == nil {
					ident = next
					outcome.IdentityID = ident.ID
				} else {
					ident = defaultIdentity
					outcome.IdentityID = ident.ID
					usingPool = false
				}
			}
		}

		f.logger.Debug("retrying fetch",
			zap.String("url", target.URL),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Duration("wait", wait))

		if err := f.sleep(ctx, wait+f.policy.Jitter()); err != nil {
			outcome.ErrKind = scraper.ErrKindDeadline
			outcome.ErrText = err.Error()
			break
		}
	}

	outcome.Elapsed = time.Since(start)
	if !outcome.Success {
		metrics.ObserveFetchFailure(domain, string(outcome.ErrKind))
	}
	return outcome
}

// attempt performs one HTTP round trip under the target's deadline.
func (f *Fetcher) attempt(ctx context.Context, target scraper.FetchTarget, ident scraper.Identity) (int, []byte, error) {
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.IncInFlight()
	defer metrics.DecInFlight()

	method := target.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(target.Body) > 0 {
		body = bytes.NewReader(target.Body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target.URL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range ident.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", ident.UserAgent)

	client, err := f.clients.ClientFor(ident, timeout)
	if err != nil {
		return 0, nil, fmt.Errorf("client for identity: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side fully consumed below

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, payload, nil
}
