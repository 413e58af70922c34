package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/inbox-triage/internal/store"
)

// Backlog re-queues communications that were stored but never analyzed:
// items ingested while the analysis queue was full, and items lost when
// the process stopped with work still queued.
type Backlog struct {
	store      store.Store
	dispatcher *Dispatcher
	minAge     time.Duration
	limit      int
	logger     *slog.Logger
	now        func() time.Time
}

// NewBacklog creates a Backlog that picks up items stored more than minAge
// ago, at most limit per run.
func NewBacklog(s store.Store, d *Dispatcher, minAge time.Duration, limit int, logger *slog.Logger) *Backlog {
	return &Backlog{
		store:      s,
		dispatcher: d,
		minAge:     minAge,
		limit:      limit,
		logger:     logger,
		now:        time.Now,
	}
}

// Run queues what it can without waiting and returns how many items were
// queued. Anything that does not fit is left for the next run.
func (b *Backlog) Run(ctx context.Context) (int, error) {
	cutoff := b.now().Add(-b.minAge)
	pending, err := b.store.ListCommunications(ctx, store.CommunicationFilter{
		Unanalyzed:    true,
		CreatedBefore: &cutoff,
		Limit:         b.limit,
	})
	if err != nil {
		return 0, fmt.Errorf("listing unanalyzed communications: %w", err)
	}

	queued := 0
	for i, c := range pending {
		if err := b.dispatcher.TrySubmit(c); err != nil {
			if errors.Is(err, ErrAlreadyQueued) {
				continue
			}
			if errors.Is(err, ErrQueueFull) {
				b.logger.Info("analysis queue full, deferring backlog", "remaining", len(pending)-i)
				break
			}
			return queued, err
		}
		queued++
	}

	if queued > 0 {
		b.logger.Info("requeued unanalyzed communications", "count", queued)
	}
	return queued, nil
}
