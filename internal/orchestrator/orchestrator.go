// Package orchestrator drives full scraping cycles: fetch every source,
// deduplicate against the seen-set, and dispatch novel records.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/dispatch"
	"github.com/aniketms/jobpulse/internal/feed"
	"github.com/aniketms/jobpulse/internal/metrics"
	"github.com/aniketms/jobpulse/internal/scraper"
	"github.com/aniketms/jobpulse/internal/sources"
)

// ErrCycleInProgress is returned when a cycle is requested while another
// one is still running.
var ErrCycleInProgress = fmt.Errorf("a scraping cycle is already in progress")

// TierScheduler runs one source's targets. Satisfied by feed.Scheduler.
type TierScheduler interface {
	Run(ctx context.Context, primary, secondary []scraper.FetchTarget, normalizer scraper.Normalizer) ([]scraper.Record, feed.Report)
}

// Partitioner splits records into novel and duplicates. Satisfied by
// dedup.Filter.
type Partitioner interface {
	Partition(ctx context.Context, records []scraper.Record, seen scraper.SeenSet) (novel, duplicates []scraper.Record, err error)
}

// Dispatcher delivers novel records. Satisfied by dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, records []scraper.Record, seen scraper.SeenSet, sink scraper.Sink) (dispatch.Result, error)
}

// TextSink is implemented by sinks that can carry a cycle summary message.
type TextSink interface {
	SendText(ctx context.Context, text string) error
}

// Config controls Orchestrator behavior.
type Config struct {
	CycleTimeout time.Duration
	SendSummary  bool
}

// Orchestrator owns the cycle state machine. Cycles are single-flight: a
// trigger while one runs is rejected, never queued.
type Orchestrator struct {
	sources    []sources.Source
	scheduler  TierScheduler
	filter     Partitioner
	dispatcher Dispatcher
	seen       scraper.SeenSet
	sink       scraper.Sink
	clock      scraper.Clock
	cfg        Config
	logger     *zap.Logger

	runMu sync.Mutex // held for the duration of a cycle

	mu    sync.RWMutex
	state scraper.CycleState
	last  *scraper.RunStats
}

// New constructs an Orchestrator.
func New(
	srcs []sources.Source,
	scheduler TierScheduler,
	filter Partitioner,
	dispatcher Dispatcher,
	seen scraper.SeenSet,
	sink scraper.Sink,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		sources:    srcs,
		scheduler:  scheduler,
		filter:     filter,
		dispatcher: dispatcher,
		seen:       seen,
		sink:       sink,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		state:      scraper.CycleIdle,
	}
}

// State returns the current cycle state.
func (o *Orchestrator) State() scraper.CycleState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastStats returns the stats of the most recent cycle, or nil before the
// first one.
func (o *Orchestrator) LastStats() *scraper.RunStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

func (o *Orchestrator) setState(stats *scraper.RunStats, state scraper.CycleState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
	stats.State = state
	o.last = stats
}

// RunCycle executes one full cycle and returns its stats. Source-level
// failures are absorbed into the stats; only a setup problem (no sources
// configured) fails the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (*scraper.RunStats, error) {
	if !o.runMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer o.runMu.Unlock()

	if o.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CycleTimeout)
		defer cancel()
	}

	started := o.clock.Now()
	stats := scraper.NewRunStats(uuid.NewString(), started)
	logger := o.logger.With(zap.String("run_id", stats.RunID))

	if len(o.sources) == 0 {
		err := fmt.Errorf("no sources configured")
		stats.SetupError = err.Error()
		stats.Duration = o.clock.Now().Sub(started)
		o.setState(stats, scraper.CycleFailed)
		metrics.ObserveCycle(string(scraper.CycleFailed), stats.Duration)
		logger.Error("cycle setup failed", zap.Error(err))
		return stats, err
	}

	logger.Info("cycle started", zap.Int("sources", len(o.sources)))
	o.setState(stats, scraper.CycleFetching)
	records := o.fetchAll(ctx, stats, logger)

	o.setState(stats, scraper.CycleDeduplicating)
	novel, duplicates, err := o.filter.Partition(ctx, records, o.seen)
	if err != nil {
		// The seen-set is unreachable: dispatching blind would repeat
		// notifications, so deliver nothing and finish with the error
		// recorded.
		logger.Error("dedup failed, skipping dispatch", zap.Error(err))
		stats.SetupError = err.Error()
		stats.Deferred = len(records)
	} else {
		o.countPartition(stats, novel, duplicates)
		o.setState(stats, scraper.CycleDispatching)
		res, dispatchErr := o.dispatcher.Dispatch(ctx, novel, o.seen, o.sink)
		stats.Dispatched = res.Dispatched
		stats.DispatchErrors = res.Errors
		stats.Deferred = res.Deferred
		if res.Outage {
			stats.ErrorsByKind[scraper.ErrKindSinkOutage]++
		}
		if dispatchErr != nil {
			logger.Warn("dispatch ended early", zap.Error(dispatchErr))
		}
	}

	stats.Duration = o.clock.Now().Sub(started)
	o.setState(stats, scraper.CycleComplete)
	metrics.ObserveCycle(string(scraper.CycleComplete), stats.Duration)
	logger.Info("cycle complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("novel", stats.Novel),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("dispatched", stats.Dispatched),
		zap.Duration("duration", stats.Duration))

	o.sendSummary(ctx, stats, logger)
	return stats, nil
}

// fetchAll runs the scheduler for each source and merges the records.
func (o *Orchestrator) fetchAll(ctx context.Context, stats *scraper.RunStats, logger *zap.Logger) []scraper.Record {
	var all []scraper.Record
	for _, src := range o.sources {
		primary := src.Targets(scraper.TierPrimary)
		secondary := src.Targets(scraper.TierSecondary)

		records, report := o.scheduler.Run(ctx, primary, secondary, src)
		stats.CountFetched(src.Name(), len(records))
		if report.FallbackTriggered {
			stats.FallbackTriggered = true
		}
		for _, tr := range report.Targets {
			if !tr.Success {
				stats.CountError(src.Name(), tr.ErrKind)
			}
		}
		logger.Info("source fetched",
			zap.String("source", src.Name()),
			zap.Int("records", len(records)),
			zap.Int("errors", report.Errors),
			zap.Bool("fallback", report.FallbackTriggered))
		all = append(all, records...)
	}
	return all
}

func (o *Orchestrator) countPartition(stats *scraper.RunStats, novel, duplicates []scraper.Record) {
	stats.Novel = len(novel)
	stats.Duplicates = len(duplicates)
	for _, rec := range novel {
		src := stats.Sources[rec.Source]
		src.Novel++
		stats.Sources[rec.Source] = src
	}
	for _, rec := range duplicates {
		src := stats.Sources[rec.Source]
		src.Duplicates++
		stats.Sources[rec.Source] = src
	}
}

func (o *Orchestrator) sendSummary(ctx context.Context, stats *scraper.RunStats, logger *zap.Logger) {
	if !o.cfg.SendSummary {
		return
	}
	ts, ok := o.sink.(TextSink)
	if !ok {
		return
	}
	if err := ts.SendText(ctx, stats.Summary()); err != nil {
		logger.Warn("summary send failed", zap.Error(err))
	}
}
