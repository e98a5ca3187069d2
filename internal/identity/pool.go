// Package identity manages the pool of outbound network identities.
//
// An identity is a proxy endpoint paired with a request fingerprint
// (user-agent plus a stable header set). The pool tracks per-identity and
// per-identity-per-domain health and excludes unhealthy identities from
// selection, so one blocked egress path never poisons the whole run.
package identity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/metrics"
	"github.com/aniketms/jobpulse/internal/scraper"
)

// ErrPoolExhausted is returned by Acquire when no identity is eligible for
// the requested domain. Callers fall back to a direct default identity or
// skip the target for this cycle.
var ErrPoolExhausted = errors.New("identity pool exhausted")

// defaultUserAgents rotate when no fingerprints are configured.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Config controls pool behavior.
type Config struct {
	Proxies          []string
	UserAgents       []string
	DomainFailureMax int
	GlobalFailureMax int
	CooldownInitial  time.Duration
	CooldownMax      time.Duration
	// DirectIdentities is how many proxy-less identities to generate when no
	// proxies are configured; fingerprint rotation still applies.
	DirectIdentities int
}

func (c *Config) applyDefaults() {
	if c.DomainFailureMax <= 0 {
		c.DomainFailureMax = 3
	}
	if c.GlobalFailureMax <= 0 {
		c.GlobalFailureMax = 10
	}
	if c.CooldownInitial <= 0 {
		c.CooldownInitial = time.Minute
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = 30 * time.Minute
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = defaultUserAgents
	}
	if c.DirectIdentities <= 0 {
		c.DirectIdentities = len(c.UserAgents)
	}
}

// health tracks mutable per-identity counters. Mutated only under the pool
// lock in response to reported outcomes.
type health struct {
	globalFailures int
	domainFailures map[string]int
	blockedUntil   map[string]time.Time
	offenses       map[string]int
}

// Pool selects identities and tracks their health.
type Pool struct {
	mu         sync.Mutex
	identities []scraper.Identity
	healthByID map[string]*health
	cfg        Config
	clock      scraper.Clock
	logger     *zap.Logger
}

// New builds a pool with one identity per configured proxy, or a set of
// direct fingerprint-only identities when no proxies are configured.
func New(cfg Config, clock scraper.Clock, logger *zap.Logger) *Pool {
	cfg.applyDefaults()
	p := &Pool{
		healthByID: make(map[string]*health),
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
	}

	now := clock.Now()
	if len(cfg.Proxies) > 0 {
		for i, proxy := range cfg.Proxies {
			p.add(newIdentity(fmt.Sprintf("proxy-%d", i), cfg.UserAgents[i%len(cfg.UserAgents)], proxy, now))
		}
	} else {
		for i := 0; i < cfg.DirectIdentities; i++ {
			p.add(newIdentity(fmt.Sprintf("direct-%d", i), cfg.UserAgents[i%len(cfg.UserAgents)], "", now))
		}
	}
	logger.Info("identity pool ready", zap.Int("identities", len(p.identities)))
	return p
}

func newIdentity(id, userAgent, proxyURL string, now time.Time) scraper.Identity {
	headers := http.Header{}
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	headers.Set("Accept-Language", "en-US,en;q=0.5")
	// Accept-Encoding is left to the transport so response bodies arrive
	// decompressed.
	headers.Set("Connection", "keep-alive")
	headers.Set("DNT", "1")
	headers.Set("Upgrade-Insecure-Requests", "1")
	return scraper.Identity{
		ID:        id,
		UserAgent: userAgent,
		Headers:   headers,
		ProxyURL:  proxyURL,
		CreatedAt: now,
	}
}

func (p *Pool) add(id scraper.Identity) {
	p.identities = append(p.identities, id)
	p.healthByID[id.ID] = &health{
		domainFailures: make(map[string]int),
		blockedUntil:   make(map[string]time.Time),
		offenses:       make(map[string]int),
	}
}

// Acquire selects an identity eligible for the given domain, uniformly at
// random among eligible identities. Random selection breaks the
// fingerprinting patterns a deterministic rotation would produce.
func (p *Pool) Acquire(domain string) (scraper.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	eligible := make([]scraper.Identity, 0, len(p.identities))
	for _, id := range p.identities {
		if p.eligible(id.ID, domain, now) {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		metrics.ObservePoolExhausted()
		return scraper.Identity{}, ErrPoolExhausted
	}
	return eligible[rand.IntN(len(eligible))], nil
}

// eligible is called under the pool lock.
func (p *Pool) eligible(id, domain string, now time.Time) bool {
	h := p.healthByID[id]
	if h.globalFailures >= p.cfg.GlobalFailureMax {
		return false
	}
	if until, ok := h.blockedUntil[domain]; ok && now.Before(until) {
		return false
	}
	return h.domainFailures[domain] < p.cfg.DomainFailureMax
}

// Report updates health counters for an identity after a fetch attempt.
//
// Transport failures count against the identity both for the domain and
// globally. Application-level block signals (403/406/429) penalize the
// identity for that domain only, with an escalating cooldown: a proxy that
// one site dislikes may be fine everywhere else. A success resets the
// per-domain failure counter.
func (p *Pool) Report(identityID, domain string, kind scraper.ErrKind) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.healthByID[identityID]
	if !ok {
		return
	}

	switch kind {
	case scraper.ErrKindNone:
		h.domainFailures[domain] = 0
		delete(h.blockedUntil, domain)
	case scraper.ErrKindRateLimited, scraper.ErrKindBlockedIdentity:
		h.domainFailures[domain]++
		p.blacklistDomain(h, identityID, domain)
	case scraper.ErrKindTransport, scraper.ErrKindDeadline:
		h.domainFailures[domain]++
		h.globalFailures++
		if h.domainFailures[domain] >= p.cfg.DomainFailureMax {
			p.blacklistDomain(h, identityID, domain)
		}
		if h.globalFailures == p.cfg.GlobalFailureMax {
			metrics.ObserveBlacklist("global")
			p.logger.Warn("identity blacklisted globally",
				zap.String("identity", identityID),
				zap.Int("failures", h.globalFailures))
		}
	default:
		// Non-recoverable request errors say nothing about identity health.
	}
}

// blacklistDomain is called under the pool lock. The cooldown doubles per
// repeat offense, bounded by the configured maximum, and the domain failure
// counter resets so the identity gets a fresh start once the cooldown ends.
func (p *Pool) blacklistDomain(h *health, identityID, domain string) {
	cooldown := p.cfg.CooldownInitial << h.offenses[domain]
	if cooldown > p.cfg.CooldownMax || cooldown <= 0 {
		cooldown = p.cfg.CooldownMax
	}
	h.offenses[domain]++
	h.blockedUntil[domain] = p.clock.Now().Add(cooldown)
	h.domainFailures[domain] = 0
	metrics.ObserveBlacklist("domain")
	p.logger.Debug("identity blacklisted for domain",
		zap.String("identity", identityID),
		zap.String("domain", domain),
		zap.Duration("cooldown", cooldown))
}

// Size returns the total number of identities in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.identities)
}

// Stats summarizes pool health for diagnostics.
type Stats struct {
	Identities        int `json:"identities"`
	GloballyExcluded  int `json:"globally_excluded"`
	DomainBlacklisted int `json:"domain_blacklisted"`
}

// Snapshot returns current pool health counters.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	s := Stats{Identities: len(p.identities)}
	for _, h := range p.healthByID {
		if h.globalFailures >= p.cfg.GlobalFailureMax {
			s.GloballyExcluded++
		}
		for _, until := range h.blockedUntil {
			if now.Before(until) {
				s.DomainBlacklisted++
				break
			}
		}
	}
	return s
}
