// Package seenset provides durable implementations of the seen-key set
// used for cross-cycle deduplication.
package seenset

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/config"
	"github.com/aniketms/jobpulse/internal/scraper"
)

// Store is a closable seen-set.
type Store interface {
	scraper.SeenSet
	Close() error
}

// New builds the store named by the configuration. Supported providers are
// "memory", "sqlite", and "postgres".
func New(ctx context.Context, cfg config.SeenSetConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "", "memory":
		logger.Warn("using in-memory seen-set, duplicates will resend after restart")
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.Path)
	case "postgres":
		return NewPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown seenset provider %q", cfg.Provider)
	}
}
