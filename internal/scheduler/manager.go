// Package scheduler runs the pipeline's periodic jobs on a gocron scheduler.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sourcegraph/conc/panics"

	"github.com/nhle/inbox-triage/internal/escalation"
)

// Syncer pulls mail for every account.
type Syncer interface {
	SyncAll(ctx context.Context)
}

// Sweeper runs one escalation sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (escalation.SweepResult, error)
}

// BatchJob processes one batch and reports how many items it handled.
type BatchJob interface {
	Run(ctx context.Context) (int, error)
}

// Manager owns the scheduler and its jobs. Every job runs in singleton
// mode: a tick that fires while the previous run is still going is
// rescheduled, not stacked.
type Manager struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewManager creates a Manager with no jobs.
func NewManager(logger *slog.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	return &Manager{scheduler: s, logger: logger}, nil
}

// RegisterSync syncs all accounts every interval, starting immediately.
func (m *Manager) RegisterSync(interval time.Duration, s Syncer) error {
	return m.register("mailbox-sync", interval, func(ctx context.Context) {
		s.SyncAll(ctx)
	})
}

// RegisterSweep runs the escalation sweep every interval.
func (m *Manager) RegisterSweep(interval time.Duration, s Sweeper) error {
	return m.register("escalation-sweep", interval, func(ctx context.Context) {
		if _, err := s.Sweep(ctx); err != nil {
			m.logger.Error("escalation sweep failed", "error", err)
		}
	})
}

// RegisterBacklog re-queues unanalyzed items every interval.
func (m *Manager) RegisterBacklog(interval time.Duration, job BatchJob) error {
	return m.register("triage-backlog", interval, func(ctx context.Context) {
		start := time.Now()
		n, err := job.Run(ctx)
		if err != nil {
			m.logger.Error("triage backlog failed", "error", err, "duration", time.Since(start))
			return
		}
		m.logger.Debug("triage backlog processed", "count", n, "duration", time.Since(start))
	})
}

// register adds a job whose run is bounded by its own interval and whose
// panics are logged instead of crashing the process.
func (m *Manager) register(name string, interval time.Duration, fn func(ctx context.Context)) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()

			if r := panics.Try(func() { fn(ctx) }); r != nil {
				m.logger.Error("job panicked", "job", name, "panic", r.Value, "stack", string(r.Stack))
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(name),
		gocron.WithTags(name),
	)
	if err != nil {
		return fmt.Errorf("registering job %s: %w", name, err)
	}

	m.logger.Info("registered job", "job", name, "interval", interval)
	return nil
}

// Start begins running registered jobs.
func (m *Manager) Start() {
	m.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs to finish.
func (m *Manager) Shutdown() error {
	return m.scheduler.Shutdown()
}
