package model

import "time"

// NotificationType classifies why a notification was raised.
type NotificationType string

const (
	NotificationEscalation         NotificationType = "escalation"
	NotificationEscalationTerminal NotificationType = "escalation_terminal"
	NotificationAutoReplyFailed    NotificationType = "auto_reply_failed"
)

// Priority orders notifications for the recipient.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notification represents an alert surfaced to a human recipient about a
// communication.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	TenantID        string `json:"tenant_id"`
	RecipientUserID string `json:"recipient_user_id"`

	Type     NotificationType `json:"type"`
	Priority Priority         `json:"priority"`

	// RelatedCommunicationID links this notification to its communication.
	RelatedCommunicationID string `json:"related_communication_id"`

	Title   string `json:"title"`
	Message string `json:"message"`

	// IsRead indicates whether the recipient has seen this notification.
	IsRead bool `json:"is_read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at"`
}
