package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/inbox-triage/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// CommunicationFilter controls filtering and pagination for communication
// queries.
type CommunicationFilter struct {
	TenantID    *string
	OwnerUserID *string
	Status      *model.Status
	// Unanalyzed selects items whose verdict has not been written yet.
	Unanalyzed bool
	// ReceivedBefore selects items received strictly before the time.
	ReceivedBefore *time.Time
	// CreatedBefore selects items stored strictly before the time.
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Decision is the outcome of the auto-response policy written back onto a
// communication.
type Decision struct {
	Activation        model.Activation
	Draft             string
	AwaitingUserInput bool
}

// EscalationClaim describes the ownership transfer applied when a sweep
// claims a breached communication.
type EscalationClaim struct {
	// ExpectedOwnerID guards against the owner having changed since the
	// candidate was read.
	ExpectedOwnerID string
	// NewOwnerID may equal ExpectedOwnerID when there is nowhere to go.
	NewOwnerID string
	// Entry is appended to the history when ownership actually moves.
	Entry *model.EscalationEntry
	At    time.Time
}

// Store defines the persistence interface for communications, users,
// tenants, notifications and sync bookkeeping. Every mutation used by the
// pipeline is a conditional update so overlapping workers cannot apply the
// same transition twice.
type Store interface {
	// === Communications ===

	// InsertCommunication stores c unless (source, external_id) already
	// exists. created is false when the row was already there.
	InsertCommunication(ctx context.Context, c *model.Communication) (created bool, err error)
	GetCommunication(ctx context.Context, id string) (*model.Communication, error)
	GetCommunicationByExternalID(ctx context.Context, source model.Source, externalID string) (*model.Communication, error)
	ListCommunications(ctx context.Context, filter CommunicationFilter) ([]model.Communication, error)

	// SaveTriage writes the verdict only if none was written before.
	SaveTriage(ctx context.Context, id string, t model.Triage, processedAt time.Time) (bool, error)
	SaveDecision(ctx context.Context, id string, d Decision) error
	// MarkAutoReplied records a successful automatic reply, at most once.
	MarkAutoReplied(ctx context.Context, id, repliedBy string, at time.Time) (bool, error)

	// ListEscalationCandidates returns the tenant's severe, unanswered,
	// unescalated, unresolved items received before cutoff, oldest first.
	ListEscalationCandidates(ctx context.Context, tenantID string, cutoff time.Time, limit int) ([]model.Communication, error)
	// ClaimEscalation atomically marks the item escalated and moves
	// ownership. It returns false when another sweep got there first or
	// the item no longer matches the escalation predicate.
	ClaimEscalation(ctx context.Context, id string, claim EscalationClaim) (bool, error)

	// === Users & tenants ===

	UpsertUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context, tenantID string) ([]model.User, error)
	FindUpperAdmin(ctx context.Context, tenantID string) (*model.User, error)

	UpsertTenant(ctx context.Context, t model.Tenant) error
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	// ListCommunicationTenantIDs returns every tenant id that has
	// communications, whether or not the tenant row exists.
	ListCommunicationTenantIDs(ctx context.Context) ([]string, error)

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, recipientUserID string, unreadOnly bool) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// === Sync bookkeeping ===

	GetSyncCursor(ctx context.Context, accountID, folder string) (time.Time, bool, error)
	SetSyncCursor(ctx context.Context, accountID, folder string, at time.Time) error

	// AcquireClaim takes key for holder until expiresAt unless another
	// holder has an unexpired claim.
	AcquireClaim(ctx context.Context, key, holder string, now, expiresAt time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, key, holder string) error

	Ping(ctx context.Context) error
	Close() error
}
