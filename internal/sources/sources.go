// Package sources contains the concrete job-board adapters: each source
// builds the fetch targets for its search space and normalizes the raw
// payloads into records.
package sources

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/config"
	"github.com/aniketms/jobpulse/internal/scraper"
)

// Source is a named target provider plus payload normalizer.
type Source interface {
	Name() string
	Targets(tier scraper.Tier) []scraper.FetchTarget
	Normalize(payload []byte) ([]scraper.Record, error)
}

// FromConfig builds all configured sources. Kinds are "feed" (RSS/Atom)
// and "api" (JSON search API).
func FromConfig(cfgs []config.SourceConfig, logger *zap.Logger) ([]Source, error) {
	out := make([]Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		filters := Filters{
			ExcludeTitles: cfg.ExcludeTitles,
			ExcludeFirms:  cfg.ExcludeFirms,
		}
		switch cfg.Kind {
		case "feed":
			out = append(out, NewFeedSource(FeedConfig{
				Name:        cfg.Name,
				BaseURL:     cfg.BaseURL,
				Keywords:    cfg.Keywords,
				Locations:   cfg.Locations,
				MaxSearches: cfg.MaxSearches,
				Filters:     filters,
			}, logger))
		case "api":
			out = append(out, NewAPISource(APIConfig{
				Name:        cfg.Name,
				BaseURL:     cfg.BaseURL,
				Keywords:    cfg.Keywords,
				Locations:   cfg.Locations,
				MaxSearches: cfg.MaxSearches,
				Filters:     filters,
			}, logger))
		default:
			return nil, fmt.Errorf("source %q: unknown kind %q", cfg.Name, cfg.Kind)
		}
	}
	return out, nil
}

// capTargets trims a target list to the per-tier search budget. Zero or
// negative max means unlimited.
func capTargets(targets []scraper.FetchTarget, max int) []scraper.FetchTarget {
	if max > 0 && len(targets) > max {
		return targets[:max]
	}
	return targets
}
