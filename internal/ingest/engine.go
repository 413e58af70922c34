// Package ingest turns fetched mailbox messages into persisted
// Communications, skipping anything already stored.
package ingest

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/store"
)

// Submitter hands a freshly stored communication to the analyzer. It must
// return at once, whether or not the item was accepted.
type Submitter interface {
	TrySubmit(c model.Communication) error
}

// Target identifies whose mailbox a batch came from.
type Target struct {
	TenantID    string
	OwnerUserID string
	AccountID   string
	SLA         time.Duration
}

// Result counts the outcome of one batch. Deferred counts created items
// the analyzer could not take right away; they stay unanalyzed until the
// backlog job queues them.
type Result struct {
	Created  int
	Skipped  int
	Errors   int
	Deferred int
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.Created += other.Created
	r.Skipped += other.Skipped
	r.Errors += other.Errors
	r.Deferred += other.Deferred
}

// Engine is the ingestion and dedup engine.
type Engine struct {
	store     store.Store
	submitter Submitter
	content   *contentExtractor
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine. submitter may be nil, in which case new
// items wait for the backlog job.
func NewEngine(s store.Store, submitter Submitter, logger *slog.Logger) *Engine {
	return &Engine{
		store:     s,
		submitter: submitter,
		content:   newContentExtractor(),
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest drains msgs into the store. A per-message persistence failure is
// counted and the loop continues. An error yielded by the sequence itself
// stops the batch and is returned alongside the counts so far.
func (e *Engine) Ingest(
	ctx context.Context,
	target Target,
	msgs iter.Seq2[source.RawMessage, error],
) (Result, error) {
	var res Result

	for raw, err := range msgs {
		if err != nil {
			return res, err
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		c, created, err := e.ingestOne(ctx, target, raw)
		if err != nil {
			res.Errors++
			e.logger.Error("ingesting message failed",
				"account_id", target.AccountID,
				"external_id", raw.ExternalID,
				"error", err,
			)
			continue
		}
		if !created {
			res.Skipped++
			continue
		}

		res.Created++
		if !e.handOff(c) {
			res.Deferred++
		}
	}

	return res, nil
}

func (e *Engine) ingestOne(
	ctx context.Context,
	target Target,
	raw source.RawMessage,
) (model.Communication, bool, error) {
	existing, err := e.store.GetCommunicationByExternalID(ctx, model.SourceEmail, raw.ExternalID)
	if err == nil && existing != nil {
		return *existing, false, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.Communication{}, false, &failure.PersistenceError{Op: "lookup communication", ID: raw.ExternalID, Err: err}
	}

	c := e.build(target, raw)
	created, err := e.store.InsertCommunication(ctx, &c)
	if err != nil {
		return model.Communication{}, false, &failure.PersistenceError{Op: "insert communication", ID: raw.ExternalID, Err: err}
	}
	return c, created, nil
}

// build derives a new Communication from a fetched message.
func (e *Engine) build(target Target, raw source.RawMessage) model.Communication {
	body := e.content.body(raw)

	received := raw.ReceivedAt
	if received.IsZero() {
		received = e.now()
	}
	received = received.UTC()

	return model.Communication{
		TenantID:        target.TenantID,
		Source:          model.SourceEmail,
		Direction:       model.DirectionInbound,
		ExternalID:      raw.ExternalID,
		AccountID:       target.AccountID,
		Folder:          raw.Folder,
		MessageID:       raw.MessageID,
		OwnerUserID:     target.OwnerUserID,
		From:            raw.From,
		To:              raw.To,
		Subject:         raw.Subject,
		Body:            body,
		Snippet:         snippet(body),
		SenderAutomated: raw.Automated,
		ReceivedAt:      received,
		SLADueDate:      received.Add(target.SLA),
		Status:          model.StatusToValidate,
		VisibleTo:       []string{target.OwnerUserID},
	}
}

// handOff queues c for analysis without waiting. It reports false when c
// was left unanalyzed for the backlog job.
func (e *Engine) handOff(c model.Communication) bool {
	if e.submitter == nil {
		return true
	}
	if err := e.submitter.TrySubmit(c); err != nil {
		e.logger.Info("analysis deferred to backlog",
			"communication_id", c.ID, "error", err)
		return false
	}
	return true
}
