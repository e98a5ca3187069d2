// Package dispatch delivers novel records to a sink with throttling,
// batch caps, and outage detection.
package dispatch

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/metrics"
	"github.com/aniketms/jobpulse/internal/scraper"
)

// Config controls Dispatcher behavior.
type Config struct {
	// BatchSize caps sends per cycle; records beyond it are deferred to a
	// later cycle.
	BatchSize int
	// DelayMin and DelayMax bound the randomized pause between sends.
	DelayMin time.Duration
	DelayMax time.Duration
	// OutageFailureCount is the consecutive send failure streak that
	// declares the sink down and stops the cycle early.
	OutageFailureCount int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.DelayMin <= 0 {
		c.DelayMin = time.Second
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = c.DelayMin
	}
	if c.OutageFailureCount <= 0 {
		c.OutageFailureCount = 5
	}
	return c
}

// Result summarizes one dispatch pass.
type Result struct {
	Dispatched int
	Errors     int
	Deferred   int
	Outage     bool
	MaxStreak  int
}

// Dispatcher sends records one at a time with a randomized pause between
// sends so notification bursts stay under channel rate limits. Each key is
// marked seen before its send: a crash between the two loses a
// notification instead of repeating one on the next cycle.
type Dispatcher struct {
	cfg    Config
	logger *zap.Logger

	// sleep and randDur are swapped out by tests.
	sleep   func(ctx context.Context, d time.Duration) error
	randDur func(min, max time.Duration) time.Duration
}

// New constructs a Dispatcher.
func New(cfg Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		sleep:   sleepCtx,
		randDur: randomBetween,
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

func randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}

// Dispatch sends up to the batch cap of records to the sink. A single
// failed send is counted and skipped; a streak of failures reaching the
// outage threshold stops the pass and defers the rest. Dispatch returns an
// error only when the context ends mid-pass.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	records []scraper.Record,
	seen scraper.SeenSet,
	sink scraper.Sink,
) (Result, error) {
	cfg := d.cfg
	var res Result

	batch := records
	if len(batch) > cfg.BatchSize {
		batch = batch[:cfg.BatchSize]
		res.Deferred = len(records) - cfg.BatchSize
		d.logger.Info("batch cap reached, deferring records",
			zap.Int("cap", cfg.BatchSize),
			zap.Int("deferred", res.Deferred))
	}

	streak := 0
	for i, rec := range batch {
		if i > 0 {
			delay := d.randDur(cfg.DelayMin, cfg.DelayMax)
			metrics.ObserveDispatchDelay(delay)
			if err := d.sleep(ctx, delay); err != nil {
				res.Deferred += len(batch) - i
				metrics.SetSinkFailureStreak(res.MaxStreak)
				return res, err
			}
		}

		key := rec.Key()
		if err := seen.Add(ctx, key); err != nil {
			d.logger.Error("seen-set add failed, skipping record",
				zap.String("key", key), zap.Error(err))
			res.Errors++
			metrics.ObserveDispatchSend("error")
			continue
		}

		if err := sink.Send(ctx, rec); err != nil {
			res.Errors++
			streak++
			if streak > res.MaxStreak {
				res.MaxStreak = streak
			}
			metrics.ObserveDispatchSend("error")
			d.logger.Warn("sink send failed",
				zap.String("key", key),
				zap.Int("streak", streak),
				zap.Error(err))
			if streak >= cfg.OutageFailureCount {
				res.Outage = true
				res.Deferred += len(batch) - i - 1
				d.logger.Error("sink outage declared, stopping dispatch",
					zap.Int("streak", streak),
					zap.Int("deferred", res.Deferred))
				break
			}
			continue
		}

		streak = 0
		res.Dispatched++
		metrics.ObserveDispatchSend("ok")
	}

	metrics.SetSinkFailureStreak(res.MaxStreak)
	return res, nil
}
