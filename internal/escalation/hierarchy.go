// Package escalation moves breached, unanswered urgent communications up the
// tenant's management hierarchy.
package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// Directory is the part of the store the hierarchy walk reads.
type Directory interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	FindUpperAdmin(ctx context.Context, tenantID string) (*model.User, error)
}

// Step is where a breached item owned by a given user goes next.
type Step struct {
	From *model.User
	// To is the new owner. For a terminal step it is From itself.
	To       *model.User
	Terminal bool
}

// NextStep resolves the escalation target for an item owned by ownerID.
// Broken hierarchy data is reported as a *failure.DataIntegrityError.
func NextStep(ctx context.Context, dir Directory, tenantID, ownerID string) (Step, error) {
	owner, err := lookupUser(ctx, dir, ownerID, "owner")
	if err != nil {
		return Step{}, err
	}

	switch owner.Role {
	case model.RoleEmployee:
		if owner.ManagedBy == "" {
			return Step{}, &failure.DataIntegrityError{Entity: "user", ID: owner.ID, Reason: "employee has no manager"}
		}
		admin, err := lookupUser(ctx, dir, owner.ManagedBy, "manager")
		if err != nil {
			return Step{}, err
		}
		if admin.Role != model.RoleAdmin || admin.TenantID != owner.TenantID {
			return Step{}, &failure.DataIntegrityError{
				Entity: "user", ID: owner.ID,
				Reason: fmt.Sprintf("manager %s is not an admin of tenant %s", admin.ID, owner.TenantID),
			}
		}
		return Step{From: owner, To: admin}, nil

	case model.RoleAdmin:
		upper, err := dir.FindUpperAdmin(ctx, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			return Step{}, &failure.DataIntegrityError{Entity: "tenant", ID: tenantID, Reason: "tenant has no upper admin"}
		}
		if err != nil {
			return Step{}, fmt.Errorf("finding upper admin of %s: %w", tenantID, err)
		}
		return Step{From: owner, To: upper}, nil

	case model.RoleUpperAdmin, model.RoleSuperUser:
		return Step{From: owner, To: owner, Terminal: true}, nil

	default:
		return Step{}, &failure.DataIntegrityError{Entity: "user", ID: owner.ID, Reason: fmt.Sprintf("unknown role %q", owner.Role)}
	}
}

func lookupUser(ctx context.Context, dir Directory, id, what string) (*model.User, error) {
	u, err := dir.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &failure.DataIntegrityError{Entity: "user", ID: id, Reason: what + " not in directory"}
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", what, id, err)
	}
	return u, nil
}
