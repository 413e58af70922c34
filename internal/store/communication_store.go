package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/inbox-triage/internal/model"
)

const communicationColumns = `
	id, tenant_id, source, direction, external_id, account_id, folder,
	message_id, owner_user_id, sender, recipient, subject, body, snippet,
	sender_automated, received_at, sla_due_date,
	summary, urgency, sentiment, requires_response, response_reason,
	suggested_response, key_points, action_items, processed_at,
	status, has_auto_response, has_been_replied, auto_activation,
	awaiting_user_input, replied_by, replied_at,
	is_escalated, escalation_history, visible_to,
	created_at, updated_at`

// unresolvedClause is the SQL form of !model.Status.IsResolved.
const unresolvedClause = `status NOT IN ('closed', 'archived', 'validated')`

// communicationRow mirrors the communications table.
type communicationRow struct {
	ID                string       `db:"id"`
	TenantID          string       `db:"tenant_id"`
	Source            string       `db:"source"`
	Direction         string       `db:"direction"`
	ExternalID        string       `db:"external_id"`
	AccountID         string       `db:"account_id"`
	Folder            string       `db:"folder"`
	MessageID         string       `db:"message_id"`
	OwnerUserID       string       `db:"owner_user_id"`
	Sender            string       `db:"sender"`
	Recipient         string       `db:"recipient"`
	Subject           string       `db:"subject"`
	Body              string       `db:"body"`
	Snippet           string       `db:"snippet"`
	SenderAutomated   bool         `db:"sender_automated"`
	ReceivedAt        time.Time    `db:"received_at"`
	SLADueDate        time.Time    `db:"sla_due_date"`
	Summary           string       `db:"summary"`
	Urgency           string       `db:"urgency"`
	Sentiment         string       `db:"sentiment"`
	RequiresResponse  bool         `db:"requires_response"`
	ResponseReason    string       `db:"response_reason"`
	SuggestedResponse string       `db:"suggested_response"`
	KeyPoints         string       `db:"key_points"`
	ActionItems       string       `db:"action_items"`
	ProcessedAt       sql.NullTime `db:"processed_at"`
	Status            string       `db:"status"`
	HasAutoResponse   bool         `db:"has_auto_response"`
	HasBeenReplied    bool         `db:"has_been_replied"`
	AutoActivation    string       `db:"auto_activation"`
	AwaitingUserInput bool         `db:"awaiting_user_input"`
	RepliedBy         string       `db:"replied_by"`
	RepliedAt         sql.NullTime `db:"replied_at"`
	IsEscalated       bool         `db:"is_escalated"`
	EscalationHistory string       `db:"escalation_history"`
	VisibleTo         string       `db:"visible_to"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

func (r communicationRow) toModel() (model.Communication, error) {
	c := model.Communication{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Source:          model.Source(r.Source),
		Direction:       model.Direction(r.Direction),
		ExternalID:      r.ExternalID,
		AccountID:       r.AccountID,
		Folder:          r.Folder,
		MessageID:       r.MessageID,
		OwnerUserID:     r.OwnerUserID,
		From:            r.Sender,
		To:              r.Recipient,
		Subject:         r.Subject,
		Body:            r.Body,
		Snippet:         r.Snippet,
		SenderAutomated: r.SenderAutomated,
		ReceivedAt:      r.ReceivedAt.UTC(),
		SLADueDate:      r.SLADueDate.UTC(),
		Triage: model.Triage{
			Summary:           r.Summary,
			Urgency:           model.Urgency(r.Urgency),
			Sentiment:         model.Sentiment(r.Sentiment),
			RequiresResponse:  r.RequiresResponse,
			ResponseReason:    r.ResponseReason,
			SuggestedResponse: r.SuggestedResponse,
		},
		Status:            model.Status(r.Status),
		HasAutoResponse:   r.HasAutoResponse,
		HasBeenReplied:    r.HasBeenReplied,
		AutoActivation:    model.Activation(r.AutoActivation),
		AwaitingUserInput: r.AwaitingUserInput,
		RepliedBy:         r.RepliedBy,
		IsEscalated:       r.IsEscalated,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}

	if r.ProcessedAt.Valid {
		t := r.ProcessedAt.Time.UTC()
		c.ProcessedAt = &t
	}
	if r.RepliedAt.Valid {
		t := r.RepliedAt.Time.UTC()
		c.RepliedAt = &t
	}

	var err error
	if c.KeyPoints, err = unmarshalList[string](r.KeyPoints); err != nil {
		return c, fmt.Errorf("unmarshaling key_points for %s: %w", r.ID, err)
	}
	if c.ActionItems, err = unmarshalList[string](r.ActionItems); err != nil {
		return c, fmt.Errorf("unmarshaling action_items for %s: %w", r.ID, err)
	}
	if c.EscalationHistory, err = unmarshalList[model.EscalationEntry](r.EscalationHistory); err != nil {
		return c, fmt.Errorf("unmarshaling escalation_history for %s: %w", r.ID, err)
	}
	if c.VisibleTo, err = unmarshalList[string](r.VisibleTo); err != nil {
		return c, fmt.Errorf("unmarshaling visible_to for %s: %w", r.ID, err)
	}

	return c, nil
}

// InsertCommunication inserts c unless its (source, external_id) pair is
// already stored. Generates an ID if empty and fills timestamps.
func (s *SQLStore) InsertCommunication(
	ctx context.Context,
	c *model.Communication,
) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Direction == "" {
		c.Direction = model.DirectionInbound
	}

	keyPoints, err := marshalList(c.KeyPoints)
	if err != nil {
		return false, fmt.Errorf("marshaling key_points: %w", err)
	}
	actionItems, err := marshalList(c.ActionItems)
	if err != nil {
		return false, fmt.Errorf("marshaling action_items: %w", err)
	}
	history, err := marshalList(c.EscalationHistory)
	if err != nil {
		return false, fmt.Errorf("marshaling escalation_history: %w", err)
	}
	visibleTo, err := marshalList(c.VisibleTo)
	if err != nil {
		return false, fmt.Errorf("marshaling visible_to: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO communications (`+communicationColumns+`)
		VALUES (
			?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?,
			?, ?
		)
		ON CONFLICT (source, external_id) DO NOTHING`),
		c.ID, c.TenantID, string(c.Source), string(c.Direction), c.ExternalID, c.AccountID, c.Folder,
		c.MessageID, c.OwnerUserID, c.From, c.To, c.Subject, c.Body, c.Snippet,
		boolToInt(c.SenderAutomated), c.ReceivedAt.UTC(), c.SLADueDate.UTC(),
		c.Summary, string(c.Urgency), string(c.Sentiment), boolToInt(c.RequiresResponse), c.ResponseReason,
		c.SuggestedResponse, keyPoints, actionItems, nullTime(c.ProcessedAt),
		string(c.Status), boolToInt(c.HasAutoResponse), boolToInt(c.HasBeenReplied), string(c.AutoActivation),
		boolToInt(c.AwaitingUserInput), c.RepliedBy, nullTime(c.RepliedAt),
		boolToInt(c.IsEscalated), history, visibleTo,
		c.CreatedAt.UTC(), c.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting communication %s: %w", c.ExternalID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}

// GetCommunication retrieves a single communication by its ID.
func (s *SQLStore) GetCommunication(
	ctx context.Context,
	id string,
) (*model.Communication, error) {
	return s.getCommunication(ctx, "id = ?", id)
}

// GetCommunicationByExternalID looks up a communication by its dedup key.
func (s *SQLStore) GetCommunicationByExternalID(
	ctx context.Context,
	source model.Source,
	externalID string,
) (*model.Communication, error) {
	return s.getCommunication(ctx, "source = ? AND external_id = ?", string(source), externalID)
}

func (s *SQLStore) getCommunication(
	ctx context.Context,
	where string,
	args ...any,
) (*model.Communication, error) {
	var row communicationRow
	err := s.db.GetContext(ctx, &row, s.q(
		"SELECT "+communicationColumns+" FROM communications WHERE "+where,
	), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting communication: %w", err)
	}

	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCommunications retrieves communications matching the filter,
// oldest first.
func (s *SQLStore) ListCommunications(
	ctx context.Context,
	filter CommunicationFilter,
) ([]model.Communication, error) {
	var conditions []string
	var args []any

	if filter.TenantID != nil {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, *filter.TenantID)
	}
	if filter.OwnerUserID != nil {
		conditions = append(conditions, "owner_user_id = ?")
		args = append(args, *filter.OwnerUserID)
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Unanalyzed {
		conditions = append(conditions, "processed_at IS NULL")
	}
	if filter.ReceivedBefore != nil {
		conditions = append(conditions, "received_at < ?")
		args = append(args, filter.ReceivedBefore.UTC())
	}
	if filter.CreatedBefore != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filter.CreatedBefore.UTC())
	}

	query := "SELECT " + communicationColumns + " FROM communications"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY received_at ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return s.selectCommunications(ctx, query, args...)
}

func (s *SQLStore) selectCommunications(
	ctx context.Context,
	query string,
	args ...any,
) ([]model.Communication, error) {
	var rows []communicationRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying communications: %w", err)
	}

	out := make([]model.Communication, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// SaveTriage writes the verdict fields and processed_at, but only for a
// communication that has not been analyzed yet.
func (s *SQLStore) SaveTriage(
	ctx context.Context,
	id string,
	t model.Triage,
	processedAt time.Time,
) (bool, error) {
	keyPoints, err := marshalList(t.KeyPoints)
	if err != nil {
		return false, fmt.Errorf("marshaling key_points: %w", err)
	}
	actionItems, err := marshalList(t.ActionItems)
	if err != nil {
		return false, fmt.Errorf("marshaling action_items: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE communications SET
			summary = ?, urgency = ?, sentiment = ?, requires_response = ?,
			response_reason = ?, suggested_response = ?,
			key_points = ?, action_items = ?,
			processed_at = ?, updated_at = ?
		WHERE id = ? AND processed_at IS NULL`),
		t.Summary, string(t.Urgency), string(t.Sentiment), boolToInt(t.RequiresResponse),
		t.ResponseReason, t.SuggestedResponse,
		keyPoints, actionItems,
		processedAt.UTC(), time.Now().UTC(),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("saving triage for %s: %w", id, err)
	}
	return affectedOne(res)
}

// SaveDecision records the auto-response mode and, when present, the
// drafted reply.
func (s *SQLStore) SaveDecision(ctx context.Context, id string, d Decision) error {
	var err error
	if d.Draft != "" {
		_, err = s.db.ExecContext(ctx, s.q(`
			UPDATE communications SET
				auto_activation = ?, awaiting_user_input = ?,
				suggested_response = ?, updated_at = ?
			WHERE id = ?`),
			string(d.Activation), boolToInt(d.AwaitingUserInput),
			d.Draft, time.Now().UTC(), id,
		)
	} else {
		_, err = s.db.ExecContext(ctx, s.q(`
			UPDATE communications SET
				auto_activation = ?, awaiting_user_input = ?, updated_at = ?
			WHERE id = ?`),
			string(d.Activation), boolToInt(d.AwaitingUserInput),
			time.Now().UTC(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("saving decision for %s: %w", id, err)
	}
	return nil
}

// MarkAutoReplied flags the communication as answered by an automatic
// reply and validates it. Only the first call has any effect.
func (s *SQLStore) MarkAutoReplied(
	ctx context.Context,
	id, repliedBy string,
	at time.Time,
) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE communications SET
			has_auto_response = 1, has_been_replied = 1,
			status = ?, replied_by = ?, replied_at = ?, updated_at = ?
		WHERE id = ? AND has_been_replied = 0`),
		string(model.StatusValidated), repliedBy, at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("marking %s auto-replied: %w", id, err)
	}
	return affectedOne(res)
}

// ListEscalationCandidates returns items matching the escalation predicate
// for one tenant, oldest first.
func (s *SQLStore) ListEscalationCandidates(
	ctx context.Context,
	tenantID string,
	cutoff time.Time,
	limit int,
) ([]model.Communication, error) {
	query := `SELECT ` + communicationColumns + ` FROM communications
		WHERE tenant_id = ?
			AND urgency IN ('high', 'critical')
			AND requires_response = 1
			AND received_at < ?
			AND has_been_replied = 0
			AND is_escalated = 0
			AND ` + unresolvedClause + `
		ORDER BY received_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.selectCommunications(ctx, query, tenantID, cutoff.UTC())
}

// ClaimEscalation flips is_escalated and moves ownership in one conditional
// update, then appends the history entry inside the same transaction. The
// WHERE clause repeats the selection predicate so a row that changed after
// it was listed is left alone.
func (s *SQLStore) ClaimEscalation(
	ctx context.Context,
	id string,
	claim EscalationClaim,
) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE communications SET
			is_escalated = 1, owner_user_id = ?, updated_at = ?
		WHERE id = ?
			AND owner_user_id = ?
			AND is_escalated = 0
			AND has_been_replied = 0
			AND requires_response = 1
			AND urgency IN ('high', 'critical')
			AND `+unresolvedClause),
		claim.NewOwnerID, claim.At.UTC(), id, claim.ExpectedOwnerID,
	)
	if err != nil {
		return false, fmt.Errorf("claiming escalation for %s: %w", id, err)
	}
	claimed, err := affectedOne(res)
	if err != nil || !claimed {
		return false, err
	}

	if claim.Entry != nil {
		var cur struct {
			History   string `db:"escalation_history"`
			VisibleTo string `db:"visible_to"`
		}
		if err := tx.GetContext(ctx, &cur, tx.Rebind(
			"SELECT escalation_history, visible_to FROM communications WHERE id = ?",
		), id); err != nil {
			return false, fmt.Errorf("reading escalation history for %s: %w", id, err)
		}

		history, err := unmarshalList[model.EscalationEntry](cur.History)
		if err != nil {
			return false, fmt.Errorf("unmarshaling escalation_history for %s: %w", id, err)
		}
		visible, err := unmarshalList[string](cur.VisibleTo)
		if err != nil {
			return false, fmt.Errorf("unmarshaling visible_to for %s: %w", id, err)
		}

		history = append(history, *claim.Entry)
		if !slices.Contains(visible, claim.NewOwnerID) {
			visible = append(visible, claim.NewOwnerID)
		}

		historyJSON, err := marshalList(history)
		if err != nil {
			return false, fmt.Errorf("marshaling escalation_history: %w", err)
		}
		visibleJSON, err := marshalList(visible)
		if err != nil {
			return false, fmt.Errorf("marshaling visible_to: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"UPDATE communications SET escalation_history = ?, visible_to = ? WHERE id = ?",
		), historyJSON, visibleJSON, id); err != nil {
			return false, fmt.Errorf("appending escalation history for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing escalation claim for %s: %w", id, err)
	}
	return true, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
