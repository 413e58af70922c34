package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/inbox-triage/internal/ai"
	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/store"
)

// ReplyGenerator drafts reply text.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, in ai.ReplyInput) (string, error)
}

// Connectors looks up the mailbox a communication arrived through.
type Connectors interface {
	Connector(accountID string) (source.Connector, bool)
}

// ConnectorMap is a fixed set of connectors keyed by account id.
type ConnectorMap map[string]source.Connector

func (m ConnectorMap) Connector(accountID string) (source.Connector, bool) {
	c, ok := m[accountID]
	return c, ok
}

// Responder carries out the decision for an analyzed communication:
// storing drafts, or sending a reply through the owner's mailbox.
type Responder struct {
	store      store.Store
	generator  ReplyGenerator
	connectors Connectors
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewResponder creates a Responder. timeout bounds each provider and
// mailbox call.
func NewResponder(
	s store.Store,
	generator ReplyGenerator,
	connectors Connectors,
	timeout time.Duration,
	logger *slog.Logger,
) *Responder {
	return &Responder{
		store:      s,
		generator:  generator,
		connectors: connectors,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Respond decides and acts on c, which must already carry its verdict.
// A failed send leaves c unreplied and is not retried. A send that times
// out after the server accepted the message body is still reported as
// failed, so the owner's auto_reply_failed notification can describe a
// reply the customer did receive.
func (r *Responder) Respond(ctx context.Context, c model.Communication) error {
	log := r.logger.With("communication_id", c.ID, "owner_user_id", c.OwnerUserID)

	owner, err := r.store.GetUser(ctx, c.OwnerUserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading owner %s: %w", c.OwnerUserID, err)
		}
		log.Warn("owner not in directory, auto-response disabled",
			"error", &failure.DataIntegrityError{Entity: "user", ID: c.OwnerUserID, Reason: "owner not found"})
		owner = &model.User{ID: c.OwnerUserID}
	}

	out := Decide(Inputs{
		Urgency:             c.Urgency,
		RequiresResponse:    c.RequiresResponse,
		SenderAutomated:     c.SenderAutomated || IsAutomatedSender(c.From),
		AutoResponseEnabled: owner.AutoResponseEnabled,
	})
	log.Debug("auto-response decided", "activation", out.Activation, "action", out.Action)

	decision := store.Decision{
		Activation:        out.Activation,
		AwaitingUserInput: out.AwaitingUserInput,
	}
	if out.Action != ActionNone {
		decision.Draft = r.draft(ctx, c, owner, log)
	}
	if err := r.store.SaveDecision(ctx, c.ID, decision); err != nil {
		return &failure.PersistenceError{Op: "save decision", ID: c.ID, Err: err}
	}

	if out.Action != ActionSend {
		return nil
	}
	return r.send(ctx, c, decision.Draft, log)
}

// draft asks the provider for a reply, falling back to the suggestion that
// came with the verdict.
func (r *Responder) draft(ctx context.Context, c model.Communication, owner *model.User, log *slog.Logger) string {
	if r.generator == nil {
		return c.SuggestedResponse
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	reply, err := r.generator.GenerateReply(ctx, ai.ReplyInput{
		Subject:   c.Subject,
		Body:      c.Body,
		Sender:    c.From,
		Verdict:   c.Triage,
		UserName:  owner.Name,
		Signature: owner.Signature,
	})
	if err != nil {
		log.Warn("reply generation failed, using suggested response", "error", err)
		return c.SuggestedResponse
	}
	return reply
}

func (r *Responder) send(ctx context.Context, c model.Communication, body string, log *slog.Logger) error {
	if body == "" {
		err := errors.New("no reply text available")
		r.reportFailure(ctx, c, err, log)
		return err
	}

	conn, ok := r.connectors.Connector(c.AccountID)
	if !ok {
		err := fmt.Errorf("no mailbox connector for account %q", c.AccountID)
		r.reportFailure(ctx, c, err, log)
		return err
	}

	sendCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := conn.Send(sendCtx, source.OutboundMessage{
		To:        c.From,
		Subject:   c.Subject,
		Body:      body,
		InReplyTo: c.MessageID,
	}); err != nil {
		r.reportFailure(ctx, c, err, log)
		return err
	}

	marked, err := r.store.MarkAutoReplied(ctx, c.ID, c.OwnerUserID, r.now().UTC())
	if err != nil {
		return &failure.PersistenceError{Op: "mark auto-replied", ID: c.ID, Err: err}
	}
	if !marked {
		log.Warn("reply sent but communication was already marked replied")
	}
	log.Info("auto-reply sent", "to", c.From)
	return nil
}

// reportFailure logs the failed send and tells the owner, so the item
// still gets a human answer.
func (r *Responder) reportFailure(ctx context.Context, c model.Communication, cause error, log *slog.Logger) {
	log.Warn("auto-reply not sent", "error", cause)

	n := model.Notification{
		TenantID:               c.TenantID,
		RecipientUserID:        c.OwnerUserID,
		Type:                   model.NotificationAutoReplyFailed,
		Priority:               model.PriorityNormal,
		RelatedCommunicationID: c.ID,
		Title:                  "Automatic reply failed",
		Message:                fmt.Sprintf("The automatic reply to %s (%q) could not be sent and needs a manual answer.", c.From, c.Subject),
		CreatedAt:              r.now().UTC(),
	}
	if err := r.store.CreateNotification(ctx, n); err != nil {
		log.Error("recording auto-reply failure notification failed", "error", err)
	}
}

func (r *Responder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
