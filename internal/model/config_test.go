package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24, cfg.Defaults.SLAHours)
	assert.Equal(t, 30*time.Second, cfg.Analysis.Timeout())
	assert.Empty(t, cfg.Accounts)
}

func TestLoadConfig_AccountDefaults(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - id: work
    tenant_id: t1
    user_id: emp
    address: emp@acme.test
    imap_host: imap.acme.test
    smtp_host: smtp.acme.test
    username: emp
  - id: old
    tenant_id: t1
    user_id: adm
    address: adm@acme.test
    imap_host: imap.acme.test
    smtp_host: smtp.acme.test
    username: adm
    enabled: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 2)

	work, ok := cfg.Account("work")
	require.True(t, ok)
	assert.Equal(t, []string{"INBOX"}, work.Folders)
	assert.Equal(t, AuthPassword, work.Auth)
	assert.Equal(t, 993, work.IMAPPort)
	assert.Equal(t, 587, work.SMTPPort)
	assert.True(t, work.Enabled)

	old, ok := cfg.Account("old")
	require.True(t, ok)
	assert.False(t, old.Enabled)

	_, ok = cfg.Account("missing")
	assert.False(t, ok)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TRIAGE_DATABASE_DSN", "/tmp/override.db")

	cfg, err := LoadConfig(writeConfig(t, "database:\n  dsn: file.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Database.DSN)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown driver", body: "database:\n  driver: mysql\n"},
		{name: "bad log level", body: "logger:\n  level: loud\n"},
		{name: "zero workers", body: "triage:\n  workers: 0\n"},
		{name: "account without address", body: "accounts:\n  - id: a\n    tenant_id: t\n    user_id: u\n    imap_host: h\n    smtp_host: h\n    username: u\n"},
		{name: "malformed yaml", body: "database: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestTenantDurations(t *testing.T) {
	tenant := Tenant{SLAHours: 8, EscalationTimeoutMinutes: 45}
	assert.Equal(t, 8*time.Hour, tenant.SLA())
	assert.Equal(t, 45*time.Minute, tenant.EscalationTimeout())
}
