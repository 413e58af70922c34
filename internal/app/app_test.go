package app

import (
	"context"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/credential"
	"github.com/nhle/inbox-triage/internal/logger"
	"github.com/nhle/inbox-triage/internal/model"
)

func testConfig() *model.AppConfig {
	account := func(id string) model.AccountConfig {
		return model.AccountConfig{
			ID: id, TenantID: "t1", UserID: "u-" + id, Address: id + "@acme.test",
			IMAPHost: "imap.acme.test", IMAPPort: 993, SMTPHost: "smtp.acme.test", SMTPPort: 587,
			Username: id, TLS: true, Folders: []string{"INBOX"}, Auth: model.AuthPassword, Enabled: true,
		}
	}
	return &model.AppConfig{
		Database:   model.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		Analysis:   model.AnalysisConfig{Model: "m", MaxTokens: 64, TimeoutSec: 5, BaseURL: "http://127.0.0.1:1", APIKeyEnv: "TEST_TRIAGED_API_KEY"},
		Defaults:   model.DefaultsConfig{SLAHours: 24, EscalationTimeoutMinutes: 60},
		Triage:     model.TriageConfig{Workers: 1, QueueSize: 4, BacklogIntervalSec: 60, BacklogMinAgeSec: 60},
		Escalation: model.EscalationConfig{IntervalSec: 60, BatchSize: 10, Concurrency: 1},
		Sync:       model.SyncConfig{IntervalSec: 60, FetchTimeoutSec: 5, LeaseTTLSec: 60, InitialLookbackHours: 1},
		Accounts:   []model.AccountConfig{account("with-creds"), account("no-creds")},
	}
}

func testCredentials(t *testing.T) *credential.Keyring {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	k := &credential.Keyring{Open: func() (keyring.Keyring, error) { return ring, nil }}
	require.NoError(t, k.Set(credential.AccountPasswordKey("with-creds"), "secret"))
	return k
}

func TestPipeline_RegistersAccountsWithCredentials(t *testing.T) {
	t.Setenv("TEST_TRIAGED_API_KEY", "sk-test")

	a, err := Open(testConfig(), logger.Discard(), testCredentials(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	p, err := a.Pipeline(context.Background())
	require.NoError(t, err)
	defer p.Close()

	statuses := p.Syncer.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "with-creds", statuses[0].AccountID)
	assert.Zero(t, p.Dispatcher.Pending())
}

func TestPipeline_RequiresAPIKey(t *testing.T) {
	t.Setenv("TEST_TRIAGED_API_KEY", "")

	a, err := Open(testConfig(), logger.Discard(), testCredentials(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	_, err = a.Pipeline(context.Background())
	assert.ErrorContains(t, err, "analysis API key")
}

func TestMonitor_SweepsEmptyStore(t *testing.T) {
	a, err := Open(testConfig(), logger.Discard(), testCredentials(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	res, err := a.Monitor().Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
	assert.Contains(t, a.checks(), "store")
	assert.NotContains(t, a.checks(), "redis")
}
