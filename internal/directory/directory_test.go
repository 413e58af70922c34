package directory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/tests/testutil"
)

const validDirectory = `
tenants:
  - id: acme
    name: Acme
    sla_hours: 8
    escalation_timeout_minutes: 30
    users:
      - id: up
        email: up@acme.test
        role: upper_admin
      - id: adm
        email: adm@acme.test
        role: admin
      - id: emp
        email: emp@acme.test
        name: Emma
        role: employee
        managed_by: adm
        auto_response_enabled: true
        signature: "-- Emma"
`

func TestParse_Valid(t *testing.T) {
	d, err := Parse(strings.NewReader(validDirectory))
	require.NoError(t, err)
	require.Len(t, d.Tenants, 1)
	assert.Len(t, d.Tenants[0].Users, 3)
	assert.Equal(t, model.RoleEmployee, d.Tenants[0].Users[2].Role)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown key",
			yaml:    "tenants:\n  - id: a\n    colour: blue\n",
			wantErr: "colour",
		},
		{
			name:    "bad role",
			yaml:    "tenants:\n  - id: a\n    users:\n      - id: u\n        role: boss\n",
			wantErr: "Role",
		},
		{
			name: "two upper admins",
			yaml: `
tenants:
  - id: a
    users:
      - {id: u1, role: upper_admin}
      - {id: u2, role: upper_admin}
`,
			wantErr: "at most one",
		},
		{
			name: "employee without manager",
			yaml: `
tenants:
  - id: a
    users:
      - {id: e, role: employee}
`,
			wantErr: "needs managed_by",
		},
		{
			name: "manager is not an admin",
			yaml: `
tenants:
  - id: a
    users:
      - {id: e1, role: employee, managed_by: e2}
      - {id: e2, role: employee, managed_by: adm}
      - {id: adm, role: admin}
`,
			wantErr: "not admin",
		},
		{
			name: "manager in another tenant",
			yaml: `
tenants:
  - id: a
    users:
      - {id: e, role: employee, managed_by: adm}
  - id: b
    users:
      - {id: adm, role: admin}
`,
			wantErr: "another tenant",
		},
		{
			name: "duplicate user",
			yaml: `
tenants:
  - id: a
    users:
      - {id: adm, role: admin}
      - {id: adm, role: admin}
`,
			wantErr: "listed twice",
		},
		{
			name:    "empty",
			yaml:    "",
			wantErr: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFileAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validDirectory), 0o600))

	d, err := LoadFile(path)
	require.NoError(t, err)

	s := testutil.NewTestStore(t)
	ctx := context.Background()
	sum, err := d.Apply(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Summary{Tenants: 1, Users: 3}, sum)

	tenant, err := s.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 8, tenant.SLAHours)

	emp, err := s.GetUser(ctx, "emp")
	require.NoError(t, err)
	assert.Equal(t, "acme", emp.TenantID)
	assert.Equal(t, "adm", emp.ManagedBy)
	assert.True(t, emp.AutoResponseEnabled)

	upper, err := s.FindUpperAdmin(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "up", upper.ID)

	// Loading the same file again is an update, not a duplicate.
	_, err = d.Apply(ctx, s)
	require.NoError(t, err)
	users, err := s.ListUsers(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
