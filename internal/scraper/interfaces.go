package scraper

import (
	"context"
	"time"
)

// SeenSet is the durable record of previously-dispatched identity keys.
// Add must be idempotent: adding an already-present key is a no-op, so a
// partial-cycle crash never corrupts the set.
type SeenSet interface {
	Contains(ctx context.Context, key string) (bool, error)
	Add(ctx context.Context, key string) error
}

// Sink delivers one record to the downstream notification channel.
type Sink interface {
	Send(ctx context.Context, rec Record) error
}

// Normalizer turns a raw fetch payload into records. Implementations may
// apply source-specific filtering before returning.
type Normalizer interface {
	Normalize(payload []byte) ([]Record, error)
}

// TargetProvider supplies the fetch targets for a source, split by tier.
type TargetProvider interface {
	Targets(tier Tier) []FetchTarget
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
