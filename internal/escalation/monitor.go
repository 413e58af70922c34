package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc/pool"

	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// SweepResult summarizes one sweep across all tenants.
type SweepResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Escalated  int           `json:"escalated"`
	Terminal   int           `json:"terminal"`
	// Lost counts candidates another sweep claimed first.
	Lost    int `json:"lost"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (r *SweepResult) add(o outcome) {
	switch o {
	case outcomeEscalated:
		r.Escalated++
	case outcomeTerminal:
		r.Terminal++
	case outcomeLost:
		r.Lost++
	case outcomeSkipped:
		r.Skipped++
	case outcomeError:
		r.Errors++
	}
}

type outcome int

const (
	outcomeEscalated outcome = iota
	outcomeTerminal
	outcomeLost
	outcomeSkipped
	outcomeError
)

// Monitor runs the SLA sweep.
type Monitor struct {
	store       store.Store
	batchSize   int
	concurrency int
	// defaultTimeout applies to tenants without their own timeout.
	defaultTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time

	mu   sync.Mutex
	last *SweepResult
}

// NewMonitor creates a Monitor that handles at most batchSize candidates per
// tenant per sweep, with at most concurrency claims in flight.
func NewMonitor(
	s store.Store,
	batchSize, concurrency int,
	defaultTimeout time.Duration,
	logger *slog.Logger,
) *Monitor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Monitor{
		store:          s,
		batchSize:      batchSize,
		concurrency:    concurrency,
		defaultTimeout: defaultTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// Sweep escalates every breached candidate once. Failures on single items
// are counted and logged; only a failure to list tenants is returned.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	now := m.now().UTC()
	res := SweepResult{StartedAt: now}

	tenants, err := m.sweepTenants(ctx)
	if err != nil {
		return res, err
	}

	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m.sweepTenant(ctx, t, now, &res)
	}

	res.Duration = m.now().UTC().Sub(now)
	m.mu.Lock()
	m.last = &res
	m.mu.Unlock()

	if res.Escalated+res.Terminal > 0 || res.Errors > 0 {
		m.logger.Info("escalation sweep finished",
			"candidates", res.Candidates,
			"escalated", res.Escalated,
			"terminal", res.Terminal,
			"lost", res.Lost,
			"skipped", res.Skipped,
			"errors", res.Errors,
		)
	}
	return res, nil
}

// sweepTenants returns the directory's tenants plus any tenant id that
// only appears on communications. The latter are swept with the default
// timeout.
func (m *Monitor) sweepTenants(ctx context.Context) ([]model.Tenant, error) {
	tenants, err := m.store.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	ids, err := m.store.ListCommunicationTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing communication tenants: %w", err)
	}

	known := make(map[string]bool, len(tenants))
	for _, t := range tenants {
		known[t.ID] = true
	}
	for _, id := range ids {
		if known[id] {
			continue
		}
		m.logger.Warn("communications reference a tenant missing from the directory",
			"tenant_id", id,
			"error", &failure.DataIntegrityError{Entity: "tenant", ID: id, Reason: "tenant not in directory"},
		)
		tenants = append(tenants, model.Tenant{ID: id})
	}
	return tenants, nil
}

// LastResult returns the outcome of the most recent completed sweep.
func (m *Monitor) LastResult() (SweepResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return SweepResult{}, false
	}
	return *m.last, true
}

func (m *Monitor) sweepTenant(ctx context.Context, t model.Tenant, now time.Time, res *SweepResult) {
	log := m.logger.With("tenant_id", t.ID)

	timeout := t.EscalationTimeout()
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	cutoff := now.Add(-timeout)
	candidates, err := m.store.ListEscalationCandidates(ctx, t.ID, cutoff, m.batchSize)
	if err != nil {
		log.Error("listing escalation candidates failed", "error", err)
		res.Errors++
		return
	}
	res.Candidates += len(candidates)
	if len(candidates) == 0 {
		return
	}

	p := pool.NewWithResults[outcome]().WithMaxGoroutines(m.concurrency)
	for _, c := range candidates {
		p.Go(func() outcome {
			return m.escalate(ctx, c, now, log)
		})
	}
	for _, o := range p.Wait() {
		res.add(o)
	}
}

func (m *Monitor) escalate(ctx context.Context, c model.Communication, now time.Time, log *slog.Logger) outcome {
	log = log.With("communication_id", c.ID, "owner_user_id", c.OwnerUserID)

	step, err := NextStep(ctx, m.store, c.TenantID, c.OwnerUserID)
	if err != nil {
		if failure.IsDataIntegrity(err) {
			log.Warn("cannot escalate, hierarchy incomplete", "error", err)
			return outcomeSkipped
		}
		log.Error("resolving escalation target failed", "error", err)
		return outcomeError
	}

	claim := store.EscalationClaim{
		ExpectedOwnerID: c.OwnerUserID,
		NewOwnerID:      step.To.ID,
		At:              now,
	}
	if !step.Terminal {
		claim.Entry = &model.EscalationEntry{
			FromRole:   step.From.Role,
			FromUserID: step.From.ID,
			ToUserID:   step.To.ID,
			At:         now,
		}
	}

	claimed, err := m.store.ClaimEscalation(ctx, c.ID, claim)
	if err != nil {
		log.Error("claiming escalation failed",
			"error", &failure.PersistenceError{Op: "claim escalation", ID: c.ID, Err: err})
		return outcomeError
	}
	if !claimed {
		log.Debug("candidate already claimed")
		return outcomeLost
	}

	if err := m.store.CreateNotification(ctx, notificationFor(c, step, now)); err != nil {
		log.Error("escalation notification not stored",
			"error", &failure.PersistenceError{Op: "create notification", ID: c.ID, Err: err})
		return outcomeError
	}

	if step.Terminal {
		log.Info("escalation has no further path", "role", step.From.Role)
		return outcomeTerminal
	}
	log.Info("communication escalated", "from_role", step.From.Role, "to_user_id", step.To.ID)
	return outcomeEscalated
}

func notificationFor(c model.Communication, step Step, now time.Time) model.Notification {
	age := humanize.RelTime(c.ReceivedAt, now, "ago", "from now")
	n := model.Notification{
		TenantID:               c.TenantID,
		RecipientUserID:        step.To.ID,
		RelatedCommunicationID: c.ID,
		CreatedAt:              now,
	}
	if step.Terminal {
		n.Type = model.NotificationEscalationTerminal
		n.Priority = model.PriorityCritical
		n.Title = "Action required: " + c.Subject
		n.Message = fmt.Sprintf(
			"A %s message from %s received %s is still unanswered. There is no further escalation path.",
			c.Urgency, c.From, age)
		return n
	}

	n.Type = model.NotificationEscalation
	n.Priority = model.PriorityHigh
	n.Title = "Escalated to you: " + c.Subject
	n.Message = fmt.Sprintf(
		"A %s message from %s received %s was not answered by %s and is now yours.",
		c.Urgency, c.From, age, displayName(step.From))
	return n
}

func displayName(u *model.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
