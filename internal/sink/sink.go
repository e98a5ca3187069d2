// Package sink selects and constructs the downstream notification channel.
package sink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/config"
	"github.com/aniketms/jobpulse/internal/scraper"
	"github.com/aniketms/jobpulse/internal/sink/memory"
	"github.com/aniketms/jobpulse/internal/sink/pubsub"
	"github.com/aniketms/jobpulse/internal/sink/telegram"
)

// Sink is a closable record sink.
type Sink interface {
	scraper.Sink
	Close() error
}

// New builds the sink named by the configuration. Supported providers are
// "telegram", "pubsub", and "noop".
func New(ctx context.Context, cfg config.SinkConfig, logger *zap.Logger) (Sink, error) {
	switch cfg.Provider {
	case "telegram":
		return telegram.New(telegram.Config{
			BotToken:       cfg.BotToken,
			ChatID:         cfg.ChatID,
			Timeout:        time.Duration(cfg.TimeoutSecs) * time.Second,
			DisablePreview: cfg.DisablePreview,
		}, logger)
	case "pubsub":
		return pubsub.New(ctx, pubsub.Config{
			ProjectID: cfg.ProjectID,
			TopicName: cfg.TopicName,
		}, logger)
	case "", "noop":
		logger.Warn("using noop sink, records will not be delivered")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown sink provider %q", cfg.Provider)
	}
}
