package fetch

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"

	"github.com/aniketms/jobpulse/internal/scraper"
)

// Classifier maps a raw transport error or HTTP status to an error kind.
// Injected into the fetcher so retry policy stays independent of transport
// details.
type Classifier func(status int, err error) scraper.ErrKind

// DefaultClassifier implements the standard tiering:
// 429 asks for patience, 403/406 means the identity is flagged, 5xx and
// transport errors are transient, any other 4xx is a dead request.
func DefaultClassifier(status int, err error) scraper.ErrKind {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return scraper.ErrKindDeadline
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return scraper.ErrKindTransport
		}
		return scraper.ErrKindTransport
	}
	switch {
	case status == 429:
		return scraper.ErrKindRateLimited
	case status == 403 || status == 406:
		return scraper.ErrKindBlockedIdentity
	case status >= 500:
		return scraper.ErrKindTransport
	case status >= 400:
		return scraper.ErrKindNonRecoverable
	default:
		return scraper.ErrKindNone
	}
}

// RetryPolicy computes waits between attempts: exponential backoff with an
// upper bound, a fixed longer cooldown for rate-limit signals, and an
// independent random jitter to avoid synchronized retry storms.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	RateLimitCooldown time.Duration
	JitterMax         time.Duration
}

// NewRetryPolicy builds a policy with sane defaults.
func NewRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffInitial:    500 * time.Millisecond,
		BackoffMax:        8 * time.Second,
		RateLimitCooldown: 20 * time.Second,
		JitterMax:         400 * time.Millisecond,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := NewRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = def.BackoffInitial
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = def.BackoffMax
	}
	if p.RateLimitCooldown <= 0 {
		p.RateLimitCooldown = def.RateLimitCooldown
	}
	if p.JitterMax < 0 {
		p.JitterMax = 0
	}
	return p
}

// Backoff returns the exponential wait before the given retry attempt
// (attempt is 1-based over completed attempts).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BackoffInitial) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.BackoffMax) {
		delay = float64(p.BackoffMax)
	}
	return time.Duration(delay)
}

// Jitter returns a random delay in [0, JitterMax).
func (p RetryPolicy) Jitter() time.Duration {
	return randomJitter(p.JitterMax)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
