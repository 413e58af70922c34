package model

import "time"

// Role places a user in the tenant management hierarchy.
type Role string

const (
	RoleEmployee   Role = "employee"
	RoleAdmin      Role = "admin"
	RoleUpperAdmin Role = "upper_admin"
	RoleSuperUser  Role = "super_user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleAdmin, RoleUpperAdmin, RoleSuperUser:
		return true
	}
	return false
}

// User is a member of a tenant who can own communications.
type User struct {
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Email    string `json:"email" yaml:"email"`
	Name     string `json:"name" yaml:"name"`
	Role     Role   `json:"role" yaml:"role"`

	// ManagedBy links an Employee to its Admin. Empty for other roles.
	ManagedBy string `json:"managed_by,omitempty" yaml:"managed_by"`

	// AutoResponseEnabled allows fully automatic replies on the user's behalf.
	AutoResponseEnabled bool `json:"auto_response_enabled" yaml:"auto_response_enabled"`

	// Signature is appended to generated replies.
	Signature string `json:"signature,omitempty" yaml:"signature"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Tenant is an isolated customer organization and its SLA settings.
type Tenant struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// SLAHours sets slaDueDate = receivedAt + SLAHours on ingestion.
	SLAHours int `json:"sla_hours" yaml:"sla_hours"`

	// EscalationTimeoutMinutes is how long a severe, unanswered item may
	// wait before the sweep escalates it.
	EscalationTimeoutMinutes int `json:"escalation_timeout_minutes" yaml:"escalation_timeout_minutes"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// SLA returns the response window for new communications.
func (t Tenant) SLA() time.Duration {
	return time.Duration(t.SLAHours) * time.Hour
}

// EscalationTimeout returns the age after which a breach is escalated.
func (t Tenant) EscalationTimeout() time.Duration {
	return time.Duration(t.EscalationTimeoutMinutes) * time.Minute
}
