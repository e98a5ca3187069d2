// Package feed schedules parallel multi-target fetches with
// primary/secondary tier fallback.
package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/metrics"
	"github.com/aniketms/jobpulse/internal/scraper"
)

// Fetcher executes one target. Satisfied by fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, target scraper.FetchTarget) scraper.FetchOutcome
}

// TargetReport records one target's performance for diagnostics.
type TargetReport struct {
	Target  scraper.FetchTarget
	Success bool
	Records int
	Elapsed time.Duration
	ErrKind scraper.ErrKind
}

// Report summarizes a scheduler run.
type Report struct {
	Targets           []TargetReport
	FallbackTriggered bool
	Errors            int
}

// Config controls Scheduler behavior.
type Config struct {
	Parallelism        int
	MinAcceptableYield int
	// TargetTimeout applies to targets that do not carry their own.
	TargetTimeout time.Duration
}

// Scheduler fans fetch targets out over a bounded worker set. Primary
// targets run first; when their record yield falls short of the configured
// minimum, the secondary tier runs too and results merge. Partial or total
// source unavailability is expected: an all-failure run returns an empty
// result set, never an error.
type Scheduler struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Scheduler.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 5
	}
	return &Scheduler{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Run fetches the primary tier, escalates to secondary when yield is below
// the minimum, and returns the merged records plus a per-target report.
// Targets appearing in both tiers are fetched once; first occurrence wins.
func (s *Scheduler) Run(
	ctx context.Context,
	primary, secondary []scraper.FetchTarget,
	normalizer scraper.Normalizer,
) ([]scraper.Record, Report) {
	var report Report

	seen := make(map[string]struct{}, len(primary)+len(secondary))
	primary = dedupeTargets(primary, seen)
	secondary = dedupeTargets(secondary, seen)

	records := s.runTier(ctx, primary, normalizer, &report)

	if len(records) < s.cfg.MinAcceptableYield && len(secondary) > 0 {
		report.FallbackTriggered = true
		metrics.ObserveFeedFallback()
		s.logger.Info("primary yield below minimum, escalating to secondary tier",
			zap.Int("yield", len(records)),
			zap.Int("min", s.cfg.MinAcceptableYield),
			zap.Int("secondary_targets", len(secondary)))
		records = append(records, s.runTier(ctx, secondary, normalizer, &report)...)
	}

	return records, report
}

// runTier executes one tier's targets with bounded parallelism, each under
// its own deadline. Results keep target order so runs are reproducible.
func (s *Scheduler) runTier(
	ctx context.Context,
	targets []scraper.FetchTarget,
	normalizer scraper.Normalizer,
	report *Report,
) []scraper.Record {
	if len(targets) == 0 {
		return nil
	}

	recordSlots := make([][]scraper.Record, len(targets))
	reportSlots := make([]TargetReport, len(targets))

	sem := make(chan struct{}, s.cfg.Parallelism)
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target scraper.FetchTarget) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			recordSlots[i], reportSlots[i] = s.fetchOne(ctx, target, normalizer)
		}(i, target)
	}
	wg.Wait()

	var records []scraper.Record
	for i := range targets {
		report.Targets = append(report.Targets, reportSlots[i])
		if !reportSlots[i].Success {
			report.Errors++
		}
		records = append(records, recordSlots[i]...)
	}
	return records
}

func (s *Scheduler) fetchOne(
	ctx context.Context,
	target scraper.FetchTarget,
	normalizer scraper.Normalizer,
) ([]scraper.Record, TargetReport) {
	start := time.Now()
	if target.Timeout <= 0 {
		target.Timeout = s.cfg.TargetTimeout
	}
	tr := TargetReport{Target: target}

	if err := ctx.Err(); err != nil {
		// Cycle deadline passed before this target started: abandonment is
		// a recorded failure outcome, not a crash.
		tr.ErrKind = scraper.ErrKindDeadline
		tr.Elapsed = time.Since(start)
		return nil, tr
	}

	outcome := s.fetcher.Fetch(ctx, target)
	tr.Elapsed = outcome.Elapsed
	tr.ErrKind = outcome.ErrKind

	if !outcome.Success {
		s.logger.Warn("target fetch failed",
			zap.String("url", target.URL),
			zap.String("kind", string(outcome.ErrKind)),
			zap.Int("attempts", outcome.Attempts))
		return nil, tr
	}

	records, err := normalizer.Normalize(outcome.Payload)
	if err != nil {
		s.logger.Warn("normalize failed", zap.String("url", target.URL), zap.Error(err))
		tr.ErrKind = scraper.ErrKindNonRecoverable
		return nil, tr
	}

	tr.Success = true
	tr.Records = len(records)
	return records, tr
}

func dedupeTargets(targets []scraper.FetchTarget, seen map[string]struct{}) []scraper.FetchTarget {
	out := make([]scraper.FetchTarget, 0, len(targets))
	for _, t := range targets {
		if _, ok := seen[t.URL]; ok {
			continue
		}
		seen[t.URL] = struct{}{}
		out = append(out, t)
	}
	return out
}
