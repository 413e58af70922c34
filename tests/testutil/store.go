package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// NewTestStore creates an in-memory SQLStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Directory is the standard hierarchy seeded by SeedDirectory.
type Directory struct {
	Tenant     model.Tenant
	Employee   model.User
	Admin      model.User
	UpperAdmin model.User
}

// SeedDirectory stores a tenant with one employee, the employee's admin and
// the tenant's upper admin. The escalation timeout is five minutes.
func SeedDirectory(t *testing.T, s store.Store) Directory {
	t.Helper()
	ctx := context.Background()

	d := Directory{
		Tenant: model.Tenant{
			ID:                       "t1",
			Name:                     "Acme",
			SLAHours:                 24,
			EscalationTimeoutMinutes: 5,
		},
		Employee: model.User{
			ID: "emp", TenantID: "t1", Email: "emp@acme.test", Name: "Emma Employee",
			Role: model.RoleEmployee, ManagedBy: "adm",
		},
		Admin: model.User{
			ID: "adm", TenantID: "t1", Email: "adm@acme.test", Name: "Alex Admin",
			Role: model.RoleAdmin,
		},
		UpperAdmin: model.User{
			ID: "up", TenantID: "t1", Email: "up@acme.test", Name: "Uma Upper",
			Role: model.RoleUpperAdmin,
		},
	}

	if err := s.UpsertTenant(ctx, d.Tenant); err != nil {
		t.Fatalf("seeding tenant: %v", err)
	}
	for _, u := range []model.User{d.Employee, d.Admin, d.UpperAdmin} {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seeding user %s: %v", u.ID, err)
		}
	}
	return d
}

// NewCommunication returns an inbound email owned by owner that has been
// analyzed with the given urgency and needs a response.
func NewCommunication(externalID, owner string, urgency model.Urgency, receivedAt time.Time) *model.Communication {
	processed := receivedAt.Add(time.Second)
	return &model.Communication{
		TenantID:    "t1",
		Source:      model.SourceEmail,
		Direction:   model.DirectionInbound,
		ExternalID:  externalID,
		OwnerUserID: owner,
		From:        "customer@example.com",
		To:          "emp@acme.test",
		Subject:     "Order " + externalID,
		Body:        "Where is my order?",
		ReceivedAt:  receivedAt,
		SLADueDate:  receivedAt.Add(24 * time.Hour),
		Triage: model.Triage{
			Summary:          "Customer asks about an order",
			Urgency:          urgency,
			Sentiment:        model.SentimentNegative,
			RequiresResponse: true,
		},
		ProcessedAt: &processed,
		Status:      model.StatusToValidate,
		VisibleTo:   []string{owner},
	}
}
