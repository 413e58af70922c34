package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/escalation"
	"github.com/nhle/inbox-triage/internal/logger"
)

type countingSyncer struct{ calls atomic.Int32 }

func (c *countingSyncer) SyncAll(context.Context) { c.calls.Add(1) }

type panickingSweeper struct{ calls atomic.Int32 }

func (p *panickingSweeper) Sweep(context.Context) (escalation.SweepResult, error) {
	p.calls.Add(1)
	panic("sweep exploded")
}

type failingBacklog struct{ calls atomic.Int32 }

func (f *failingBacklog) Run(context.Context) (int, error) {
	f.calls.Add(1)
	return 0, errors.New("store offline")
}

func TestManager_RunsJobsAndSurvivesFailures(t *testing.T) {
	m, err := NewManager(logger.Discard())
	require.NoError(t, err)

	syncer := &countingSyncer{}
	sweeper := &panickingSweeper{}
	backlog := &failingBacklog{}

	require.NoError(t, m.RegisterSync(20*time.Millisecond, syncer))
	require.NoError(t, m.RegisterSweep(20*time.Millisecond, sweeper))
	require.NoError(t, m.RegisterBacklog(20*time.Millisecond, backlog))

	m.Start()
	t.Cleanup(func() { assert.NoError(t, m.Shutdown()) })

	assert.Eventually(t, func() bool {
		return syncer.calls.Load() >= 2 && sweeper.calls.Load() >= 2 && backlog.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond, "jobs keep running after panics and errors")
}
