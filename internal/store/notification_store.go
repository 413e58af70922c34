package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/inbox-triage/internal/model"
)

type notificationRow struct {
	ID                     string    `db:"id"`
	TenantID               string    `db:"tenant_id"`
	RecipientUserID        string    `db:"recipient_user_id"`
	Type                   string    `db:"type"`
	Priority               string    `db:"priority"`
	RelatedCommunicationID string    `db:"related_communication_id"`
	Title                  string    `db:"title"`
	Message                string    `db:"message"`
	IsRead                 bool      `db:"is_read"`
	CreatedAt              time.Time `db:"created_at"`
}

const notificationColumns = `id, tenant_id, recipient_user_id, type, priority,
	related_communication_id, title, message, is_read, created_at`

// CreateNotification persists a new notification.
func (s *SQLStore) CreateNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.TenantID, n.RecipientUserID, string(n.Type), string(n.Priority),
		n.RelatedCommunicationID, n.Title, n.Message, boolToInt(n.IsRead), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification for %s: %w", n.RecipientUserID, err)
	}
	return nil
}

// ListNotifications returns a recipient's notifications, newest first.
func (s *SQLStore) ListNotifications(
	ctx context.Context,
	recipientUserID string,
	unreadOnly bool,
) ([]model.Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications WHERE recipient_user_id = ?"
	if unreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC"

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), recipientUserID); err != nil {
		return nil, fmt.Errorf("listing notifications for %s: %w", recipientUserID, err)
	}

	out := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Notification{
			ID:                     r.ID,
			TenantID:               r.TenantID,
			RecipientUserID:        r.RecipientUserID,
			Type:                   model.NotificationType(r.Type),
			Priority:               model.Priority(r.Priority),
			RelatedCommunicationID: r.RelatedCommunicationID,
			Title:                  r.Title,
			Message:                r.Message,
			IsRead:                 r.IsRead,
			CreatedAt:              r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// MarkNotificationRead flags a notification as seen.
func (s *SQLStore) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q("UPDATE notifications SET is_read = 1 WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
