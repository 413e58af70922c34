package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/inbox-triage/internal/escalation"
	"github.com/nhle/inbox-triage/internal/health"
	"github.com/nhle/inbox-triage/internal/logger"
	"github.com/nhle/inbox-triage/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

// Serve runs the scheduled pipeline and the ops endpoint until ctx is
// cancelled, then shuts everything down in reverse order.
func (a *App) Serve(ctx context.Context) error {
	pipeline, err := a.Pipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	monitor := a.Monitor()

	mgr, err := scheduler.NewManager(logger.Component(a.logger, "scheduler"))
	if err != nil {
		return err
	}
	if err := a.registerJobs(mgr, pipeline, monitor); err != nil {
		return err
	}
	mgr.Start()
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			a.logger.Error("scheduler shutdown failed", "error", err)
		}
	}()

	srvErr := make(chan error, 1)
	var srv *health.Server
	if a.cfg.Health.Addr != "" {
		srv = health.NewServer(a.cfg.Health.Addr, health.Deps{
			Checks: a.checks(),
			Sync:   pipeline.Syncer,
			Sweep:  monitor,
			Queue:  pipeline.Dispatcher,
		}, logger.Component(a.logger, "health"))
		go func() { srvErr <- srv.ListenAndServe() }()
	}

	a.logger.Info("triaged running", "accounts", len(pipeline.Syncer.Statuses()))

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			return err
		}
	}

	a.logger.Info("shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("stopping ops endpoint: %w", err)
		}
	}
	return nil
}

func (a *App) registerJobs(mgr *scheduler.Manager, p *Pipeline, m *escalation.Monitor) error {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }

	if err := mgr.RegisterSync(seconds(a.cfg.Sync.IntervalSec), p.Syncer); err != nil {
		return err
	}
	if err := mgr.RegisterSweep(seconds(a.cfg.Escalation.IntervalSec), m); err != nil {
		return err
	}
	return mgr.RegisterBacklog(seconds(a.cfg.Triage.BacklogIntervalSec), p.Backlog)
}

func (a *App) checks() map[string]health.Check {
	checks := map[string]health.Check{
		"store": a.store.Ping,
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	return checks
}
