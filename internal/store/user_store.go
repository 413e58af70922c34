package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/inbox-triage/internal/model"
)

type userRow struct {
	ID                  string    `db:"id"`
	TenantID            string    `db:"tenant_id"`
	Email               string    `db:"email"`
	Name                string    `db:"name"`
	Role                string    `db:"role"`
	ManagedBy           string    `db:"managed_by"`
	AutoResponseEnabled bool      `db:"auto_response_enabled"`
	Signature           string    `db:"signature"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r userRow) toModel() model.User {
	return model.User{
		ID:                  r.ID,
		TenantID:            r.TenantID,
		Email:               r.Email,
		Name:                r.Name,
		Role:                model.Role(r.Role),
		ManagedBy:           r.ManagedBy,
		AutoResponseEnabled: r.AutoResponseEnabled,
		Signature:           r.Signature,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

const userColumns = `id, tenant_id, email, name, role, managed_by,
	auto_response_enabled, signature, created_at, updated_at`

// UpsertUser inserts or replaces the user's profile. created_at is kept
// from the first insert.
func (s *SQLStore) UpsertUser(ctx context.Context, u model.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			email = excluded.email,
			name = excluded.name,
			role = excluded.role,
			managed_by = excluded.managed_by,
			auto_response_enabled = excluded.auto_response_enabled,
			signature = excluded.signature,
			updated_at = excluded.updated_at`),
		u.ID, u.TenantID, u.Email, u.Name, string(u.Role), u.ManagedBy,
		boolToInt(u.AutoResponseEnabled), u.Signature, u.CreatedAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser retrieves a single user by ID.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT "+userColumns+" FROM users WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	u := row.toModel()
	return &u, nil
}

// ListUsers returns every user of the tenant ordered by ID.
func (s *SQLStore) ListUsers(ctx context.Context, tenantID string) ([]model.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, s.q(
		"SELECT "+userColumns+" FROM users WHERE tenant_id = ? ORDER BY id",
	), tenantID); err != nil {
		return nil, fmt.Errorf("listing users for tenant %s: %w", tenantID, err)
	}

	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toModel())
	}
	return users, nil
}

// FindUpperAdmin returns the tenant's single UpperAdmin, or ErrNotFound.
func (s *SQLStore) FindUpperAdmin(ctx context.Context, tenantID string) (*model.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.q(
		"SELECT "+userColumns+" FROM users WHERE tenant_id = ? AND role = ?",
	), tenantID, string(model.RoleUpperAdmin))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding upper admin for tenant %s: %w", tenantID, err)
	}
	u := row.toModel()
	return &u, nil
}

type tenantRow struct {
	ID                       string    `db:"id"`
	Name                     string    `db:"name"`
	SLAHours                 int       `db:"sla_hours"`
	EscalationTimeoutMinutes int       `db:"escalation_timeout_minutes"`
	CreatedAt                time.Time `db:"created_at"`
	UpdatedAt                time.Time `db:"updated_at"`
}

func (r tenantRow) toModel() model.Tenant {
	return model.Tenant{
		ID:                       r.ID,
		Name:                     r.Name,
		SLAHours:                 r.SLAHours,
		EscalationTimeoutMinutes: r.EscalationTimeoutMinutes,
		CreatedAt:                r.CreatedAt.UTC(),
		UpdatedAt:                r.UpdatedAt.UTC(),
	}
}

const tenantColumns = `id, name, sla_hours, escalation_timeout_minutes, created_at, updated_at`

// UpsertTenant inserts or updates a tenant's settings.
func (s *SQLStore) UpsertTenant(ctx context.Context, t model.Tenant) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			sla_hours = excluded.sla_hours,
			escalation_timeout_minutes = excluded.escalation_timeout_minutes,
			updated_at = excluded.updated_at`),
		t.ID, t.Name, t.SLAHours, t.EscalationTimeoutMinutes, t.CreatedAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("upserting tenant %s: %w", t.ID, err)
	}
	return nil
}

// GetTenant retrieves a tenant by ID.
func (s *SQLStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT "+tenantColumns+" FROM tenants WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting tenant %s: %w", id, err)
	}
	t := row.toModel()
	return &t, nil
}

// ListTenants returns all tenants ordered by ID.
func (s *SQLStore) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	var rows []tenantRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+tenantColumns+" FROM tenants ORDER BY id"); err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}

	tenants := make([]model.Tenant, 0, len(rows))
	for _, r := range rows {
		tenants = append(tenants, r.toModel())
	}
	return tenants, nil
}

func (s *SQLStore) ListCommunicationTenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids,
		"SELECT DISTINCT tenant_id FROM communications ORDER BY tenant_id",
	); err != nil {
		return nil, fmt.Errorf("listing communication tenants: %w", err)
	}
	return ids, nil
}
