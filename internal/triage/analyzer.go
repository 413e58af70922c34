// Package triage runs the analysis provider over ingested communications
// and writes the verdict back exactly once.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/inbox-triage/internal/ai"
	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// FailedReason marks a verdict that was substituted because analysis
// failed.
const FailedReason = "analysis failed"

// Provider produces a triage verdict for a message.
type Provider interface {
	Analyze(ctx context.Context, in ai.AnalyzeInput) (model.Triage, error)
}

// Responder acts on a freshly analyzed communication.
type Responder interface {
	Respond(ctx context.Context, c model.Communication) error
}

// DefaultVerdict is written when the provider fails or answers with
// something unusable.
func DefaultVerdict() model.Triage {
	return model.Triage{
		Urgency:          model.UrgencyMedium,
		Sentiment:        model.SentimentNeutral,
		RequiresResponse: false,
		ResponseReason:   FailedReason,
	}
}

// Result describes what happened to one communication.
type Result struct {
	CommunicationID string
	Verdict         model.Triage
	// Defaulted is true when DefaultVerdict was written.
	Defaulted bool
	// AlreadyAnalyzed is true when another pass wrote the verdict first.
	AlreadyAnalyzed bool
	Err             error
}

// Analyzer is the triage analyzer.
type Analyzer struct {
	store     store.Store
	provider  Provider
	responder Responder
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewAnalyzer creates an Analyzer. responder may be nil.
func NewAnalyzer(
	s store.Store,
	provider Provider,
	responder Responder,
	timeout time.Duration,
	logger *slog.Logger,
) *Analyzer {
	return &Analyzer{
		store:     s,
		provider:  provider,
		responder: responder,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Process analyzes c, writes the verdict if none exists yet, and then hands
// c to the responder. Provider failures never leave c unanalyzed; only a
// store failure is returned as an error.
func (a *Analyzer) Process(ctx context.Context, c model.Communication) Result {
	res := Result{CommunicationID: c.ID}
	log := a.logger.With("communication_id", c.ID, "tenant_id", c.TenantID)

	verdict, err := a.analyze(ctx, c)
	if err != nil {
		level := slog.LevelWarn
		if failure.IsMalformed(err) {
			level = slog.LevelInfo
		}
		log.Log(ctx, level, "analysis failed, applying default verdict", "error", err)
		verdict = DefaultVerdict()
		res.Defaulted = true
	}
	res.Verdict = verdict

	processedAt := a.now().UTC()
	written, err := a.store.SaveTriage(ctx, c.ID, verdict, processedAt)
	if err != nil {
		res.Err = &failure.PersistenceError{Op: "save triage", ID: c.ID, Err: err}
		log.Error("writing verdict failed", "error", err)
		return res
	}
	if !written {
		res.AlreadyAnalyzed = true
		log.Debug("verdict already written, skipping")
		return res
	}

	log.Info("communication analyzed",
		"urgency", verdict.Urgency,
		"requires_response", verdict.RequiresResponse,
		"defaulted", res.Defaulted,
	)

	if a.responder == nil {
		return res
	}

	c.Triage = verdict
	c.ProcessedAt = &processedAt
	if err := a.responder.Respond(ctx, c); err != nil {
		res.Err = fmt.Errorf("responding to %s: %w", c.ID, err)
		log.Error("auto-response failed", "error", err)
	}
	return res
}

// analyze calls the provider under the configured timeout and rejects
// verdicts that carry unknown enum values.
func (a *Analyzer) analyze(ctx context.Context, c model.Communication) (model.Triage, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	v, err := a.provider.Analyze(ctx, ai.AnalyzeInput{
		Subject: c.Subject,
		Body:    c.Body,
		Sender:  c.From,
	})
	if err != nil {
		return model.Triage{}, err
	}
	if !v.Urgency.Valid() || !v.Sentiment.Valid() {
		return model.Triage{}, &failure.MalformedResponseError{
			Reason: fmt.Sprintf("unknown urgency %q or sentiment %q", v.Urgency, v.Sentiment),
		}
	}
	return v, nil
}
