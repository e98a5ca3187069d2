// Package app initializes and holds the long-lived services, acting as the
// dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/clock/system"
	"github.com/aniketms/jobpulse/internal/config"
	"github.com/aniketms/jobpulse/internal/dedup"
	"github.com/aniketms/jobpulse/internal/dispatch"
	"github.com/aniketms/jobpulse/internal/feed"
	"github.com/aniketms/jobpulse/internal/fetch"
	"github.com/aniketms/jobpulse/internal/identity"
	"github.com/aniketms/jobpulse/internal/orchestrator"
	"github.com/aniketms/jobpulse/internal/scraper"
	"github.com/aniketms/jobpulse/internal/seenset"
	"github.com/aniketms/jobpulse/internal/server"
	"github.com/aniketms/jobpulse/internal/sink"
	"github.com/aniketms/jobpulse/internal/sources"
)

// App holds all the shared, long-lived services: the identity pool, the
// fetch pipeline, the seen-set, the sink, and the orchestrator over them.
// It is built once at startup and fails fast when any service cannot come
// up.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pool   *identity.Pool
	seen   seenset.Store
	sink   sink.Sink
	orch   *orchestrator.Orchestrator
	server *server.Server
}

// New assembles the full service graph from the configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	clock := system.Clock{}

	pool := identity.New(identity.Config{
		Proxies:          cfg.Identity.Proxies,
		UserAgents:       cfg.Identity.UserAgents,
		DomainFailureMax: cfg.Identity.DomainFailureMax,
		GlobalFailureMax: cfg.Identity.GlobalFailureMax,
		CooldownInitial:  time.Duration(cfg.Identity.CooldownInitialSecs) * time.Second,
		CooldownMax:      time.Duration(cfg.Identity.CooldownMaxSecs) * time.Second,
	}, clock, logger)

	limiter := fetch.NewDomainLimiter(fetch.LimiterConfig{
		DefaultRPS:   cfg.Fetch.DomainRPS,
		DefaultBurst: cfg.Fetch.DomainBurst,
	})

	fetcher := fetch.New(pool, fetch.NewHTTPClientFactory(), limiter, nil, fetch.Config{
		Policy: fetch.RetryPolicy{
			MaxAttempts:       cfg.Fetch.MaxAttempts,
			BackoffInitial:    time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
			BackoffMax:        time.Duration(cfg.Fetch.BackoffMaxMs) * time.Millisecond,
			RateLimitCooldown: time.Duration(cfg.Fetch.RateLimitCooldownS) * time.Second,
			JitterMax:         time.Duration(cfg.Fetch.JitterMaxMs) * time.Millisecond,
		},
		DefaultTimeout: cfg.FetchTimeout(),
	}, logger)

	scheduler := feed.New(fetcher, feed.Config{
		Parallelism:        cfg.Feeds.Parallelism,
		MinAcceptableYield: cfg.Feeds.MinAcceptableYield,
		TargetTimeout:      time.Duration(cfg.Feeds.TargetTimeoutSeconds) * time.Second,
	}, logger)

	srcs, err := sources.FromConfig(cfg.Sources, logger)
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}

	seen, err := seenset.New(ctx, cfg.SeenSet, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize seen-set: %w", err)
	}

	snk, err := sink.New(ctx, cfg.Sink, logger)
	if err != nil {
		seen.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("initialize sink: %w", err)
	}

	dispatcher := dispatch.New(dispatch.Config{
		BatchSize:          cfg.Dispatch.BatchSize,
		DelayMin:           time.Duration(cfg.Dispatch.DelayMinMs) * time.Millisecond,
		DelayMax:           time.Duration(cfg.Dispatch.DelayMaxMs) * time.Millisecond,
		OutageFailureCount: cfg.Dispatch.OutageFailureCount,
	}, logger)

	orch := orchestrator.New(srcs, scheduler, dedup.New(logger), dispatcher, seen, snk, clock,
		orchestrator.Config{
			CycleTimeout: time.Duration(cfg.Feeds.CycleTimeoutSeconds) * time.Second,
			SendSummary:  cfg.Sink.SendSummary,
		}, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		seen:   seen,
		sink:   snk,
		orch:   orch,
		server: server.New(orch, pool, logger),
	}, nil
}

// Orchestrator exposes the cycle driver.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// RunOnce executes a single scraping cycle.
func (a *App) RunOnce(ctx context.Context) (*scraper.RunStats, error) {
	return a.orch.RunCycle(ctx)
}

// Serve runs the admin HTTP server and the cycle schedule until the
// context ends or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("admin server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin server error", zap.Error(err))
			stop()
		}
	}()

	go a.runSchedule(ctx)

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// runSchedule triggers a cycle immediately and then on the configured
// interval.
func (a *App) runSchedule(ctx context.Context) {
	interval := time.Duration(a.cfg.Schedule.IntervalMinutes) * time.Minute
	if interval <= 0 {
		a.logger.Info("scheduling disabled, cycles run only on manual trigger")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.orch.RunCycle(ctx); err != nil && !errors.Is(err, orchestrator.ErrCycleInProgress) {
			a.logger.Error("scheduled cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases held resources.
func (a *App) Close() {
	if err := a.sink.Close(); err != nil {
		a.logger.Warn("sink close failed", zap.Error(err))
	}
	if err := a.seen.Close(); err != nil {
		a.logger.Warn("seen-set close failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}
