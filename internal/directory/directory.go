// Package directory loads tenants and their users from a YAML file into the
// store, after checking the management hierarchy is consistent.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// File is the on-disk directory layout.
type File struct {
	Tenants []Tenant `yaml:"tenants" validate:"required,dive"`
}

// Tenant is one tenant and its members.
type Tenant struct {
	ID                       string `yaml:"id" validate:"required"`
	Name                     string `yaml:"name"`
	SLAHours                 int    `yaml:"sla_hours" validate:"min=0"`
	EscalationTimeoutMinutes int    `yaml:"escalation_timeout_minutes" validate:"min=0"`
	Users                    []User `yaml:"users" validate:"dive"`
}

// User is a tenant member.
type User struct {
	ID                  string     `yaml:"id" validate:"required"`
	Email               string     `yaml:"email" validate:"omitempty,email"`
	Name                string     `yaml:"name"`
	Role                model.Role `yaml:"role" validate:"required,oneof=employee admin upper_admin super_user"`
	ManagedBy           string     `yaml:"managed_by"`
	AutoResponseEnabled bool       `yaml:"auto_response_enabled"`
	Signature           string     `yaml:"signature"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Tenants int
	Users   int
}

// LoadFile reads and validates the directory at path.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening directory file: %w", err)
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes and validates a directory. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var d File
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("directory file is empty")
		}
		return nil, fmt.Errorf("decoding directory: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks field constraints and the hierarchy rules: ids are
// unique, a tenant has at most one upper admin, and an employee's manager
// is an admin of the same tenant. Every problem found is reported.
func (d *File) Validate() error {
	if err := validator.New().Struct(d); err != nil {
		return fmt.Errorf("invalid directory: %w", err)
	}

	var errs []error
	tenants := make(map[string]bool)
	users := make(map[string]User)
	userTenant := make(map[string]string)

	for _, t := range d.Tenants {
		if tenants[t.ID] {
			errs = append(errs, fmt.Errorf("tenant %s: listed twice", t.ID))
		}
		tenants[t.ID] = true

		upper := 0
		for _, u := range t.Users {
			if _, dup := users[u.ID]; dup {
				errs = append(errs, fmt.Errorf("user %s: listed twice", u.ID))
			}
			users[u.ID] = u
			userTenant[u.ID] = t.ID
			if u.Role == model.RoleUpperAdmin {
				upper++
			}
		}
		if upper > 1 {
			errs = append(errs, fmt.Errorf("tenant %s: %d upper admins, at most one allowed", t.ID, upper))
		}
	}

	for id, u := range users {
		switch {
		case u.Role == model.RoleEmployee && u.ManagedBy == "":
			errs = append(errs, fmt.Errorf("user %s: employee needs managed_by", id))
		case u.Role == model.RoleEmployee:
			mgr, ok := users[u.ManagedBy]
			if !ok {
				errs = append(errs, fmt.Errorf("user %s: manager %s not listed", id, u.ManagedBy))
				continue
			}
			if mgr.Role != model.RoleAdmin {
				errs = append(errs, fmt.Errorf("user %s: manager %s is %s, not admin", id, mgr.ID, mgr.Role))
			}
			if userTenant[mgr.ID] != userTenant[id] {
				errs = append(errs, fmt.Errorf("user %s: manager %s belongs to another tenant", id, mgr.ID))
			}
		case u.ManagedBy != "":
			errs = append(errs, fmt.Errorf("user %s: managed_by is only valid for employees", id))
		}
	}

	return errors.Join(errs...)
}

// Apply upserts every tenant and user into s.
func (d *File) Apply(ctx context.Context, s store.Store) (Summary, error) {
	var sum Summary
	for _, t := range d.Tenants {
		if err := s.UpsertTenant(ctx, model.Tenant{
			ID:                       t.ID,
			Name:                     t.Name,
			SLAHours:                 t.SLAHours,
			EscalationTimeoutMinutes: t.EscalationTimeoutMinutes,
		}); err != nil {
			return sum, fmt.Errorf("upserting tenant %s: %w", t.ID, err)
		}
		sum.Tenants++

		for _, u := range t.Users {
			if err := s.UpsertUser(ctx, model.User{
				ID:                  u.ID,
				TenantID:            t.ID,
				Email:               u.Email,
				Name:                u.Name,
				Role:                u.Role,
				ManagedBy:           u.ManagedBy,
				AutoResponseEnabled: u.AutoResponseEnabled,
				Signature:           u.Signature,
			}); err != nil {
				return sum, fmt.Errorf("upserting user %s: %w", u.ID, err)
			}
			sum.Users++
		}
	}
	return sum, nil
}
