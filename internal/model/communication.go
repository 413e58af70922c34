package model

import "time"

// Source identifies the channel a communication arrived through.
type Source string

const (
	SourceEmail Source = "email"
	SourceOther Source = "other"
)

// Direction distinguishes received messages from ones we sent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Urgency is the triage severity assigned by the analysis provider.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Valid reports whether u is one of the known urgency levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// IsSevere reports whether u is High or Critical. Severe items are never
// answered automatically and are the only ones eligible for escalation.
func (u Urgency) IsSevere() bool {
	return u == UrgencyHigh || u == UrgencyCritical
}

// Sentiment is the tone detected by the analysis provider.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is one of the known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Status is the response state of a communication.
type Status string

const (
	StatusToValidate Status = "to_validate"
	StatusValidated  Status = "validated"
	StatusEscalated  Status = "escalated"
	StatusClosed     Status = "closed"
	StatusArchived   Status = "archived"
)

// IsResolved reports whether the status removes the item from escalation
// for good.
func (s Status) IsResolved() bool {
	return s == StatusValidated || s == StatusClosed || s == StatusArchived
}

// Activation is the auto-response mode chosen for a communication.
type Activation string

const (
	ActivationAuto     Activation = "auto"
	ActivationAssisted Activation = "assisted"
	ActivationNever    Activation = "never"
)

// EscalationEntry records one ownership transfer.
type EscalationEntry struct {
	FromRole   Role      `json:"from_role"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	At         time.Time `json:"at"`
}

// Triage holds the verdict fields written back by the analyzer.
type Triage struct {
	Summary           string    `json:"summary"`
	Urgency           Urgency   `json:"urgency"`
	Sentiment         Sentiment `json:"sentiment"`
	RequiresResponse  bool      `json:"requires_response"`
	ResponseReason    string    `json:"response_reason"`
	SuggestedResponse string    `json:"suggested_response"`
	KeyPoints         []string  `json:"key_points,omitempty"`
	ActionItems       []string  `json:"action_items,omitempty"`
}

// Communication is one inbound or outbound message owned by a single user.
type Communication struct {
	// ID is the internal unique identifier.
	ID string `json:"id"`

	TenantID  string    `json:"tenant_id"`
	Source    Source    `json:"source"`
	Direction Direction `json:"direction"`

	// ExternalID is the provider-assigned message id. (Source, ExternalID)
	// is unique across the store.
	ExternalID string `json:"external_id"`

	// AccountID and Folder locate the mailbox the message was fetched from.
	AccountID string `json:"account_id"`
	Folder    string `json:"folder"`

	// MessageID is the RFC 5322 Message-ID, used for reply threading.
	MessageID string `json:"message_id"`

	// OwnerUserID is the user expected to act. Never empty once ingested.
	OwnerUserID string `json:"owner_user_id"`

	From            string `json:"from"`
	To              string `json:"to"`
	Subject         string `json:"subject"`
	Body            string `json:"body"`
	Snippet         string `json:"snippet"`
	SenderAutomated bool   `json:"sender_automated"`

	ReceivedAt time.Time `json:"received_at"`
	SLADueDate time.Time `json:"sla_due_date"`

	Triage
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	Status            Status     `json:"status"`
	HasAutoResponse   bool       `json:"has_auto_response"`
	HasBeenReplied    bool       `json:"has_been_replied"`
	AutoActivation    Activation `json:"auto_activation"`
	AwaitingUserInput bool       `json:"awaiting_user_input"`
	RepliedBy         string     `json:"replied_by,omitempty"`
	RepliedAt         *time.Time `json:"replied_at,omitempty"`

	// IsEscalated is sticky: once set by a sweep it is never cleared.
	IsEscalated       bool              `json:"is_escalated"`
	EscalationHistory []EscalationEntry `json:"escalation_history,omitempty"`
	VisibleTo         []string          `json:"visible_to,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Analyzed reports whether the analyzer has written a verdict.
func (c *Communication) Analyzed() bool {
	return c.ProcessedAt != nil
}
