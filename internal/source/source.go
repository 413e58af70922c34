package source

import (
	"context"
	"iter"
	"time"
)

// RawMessage is one message as fetched from a mailbox, before ingestion.
type RawMessage struct {
	// ExternalID is the dedup key. It is stable across fetches of the same
	// message from the same account.
	ExternalID string

	// MessageID is the RFC 5322 Message-ID without angle brackets.
	MessageID string

	From    string
	To      string
	Subject string

	TextBody string
	HTMLBody string

	// Preview is a short excerpt, used when both bodies are empty.
	Preview string

	ReceivedAt time.Time
	InReplyTo  string
	Folder     string

	// Automated is set when the message carries headers marking it as
	// machine generated (Auto-Submitted, Precedence, List-Unsubscribe).
	Automated bool
}

// OutboundMessage is a reply sent on behalf of a user.
type OutboundMessage struct {
	To      string
	Subject string
	Body    string

	// InReplyTo is the Message-ID being answered. Empty starts a new thread.
	InReplyTo string
}

// Connector is the contract of a mailbox transport for one account.
type Connector interface {
	// FetchSince yields messages in folder received at or after since. The
	// sequence is lazy: messages yielded before an error remain valid, and
	// iteration stops after the first non-nil error.
	FetchSince(ctx context.Context, folder string, since time.Time) iter.Seq2[RawMessage, error]

	// Send delivers msg from the account's address.
	Send(ctx context.Context, msg OutboundMessage) error
}
