package app

import (
	"context"

	"github.com/nhle/inbox-triage/internal/autoreply"
	"github.com/nhle/inbox-triage/internal/logger"
	"github.com/nhle/inbox-triage/internal/source/email"
)

// connectors builds a mailbox connector for each enabled account.
// Credentials are loaded from the system keyring; an account without them
// is skipped so the others still sync.
func (a *App) connectors(ctx context.Context) autoreply.ConnectorMap {
	log := logger.Component(a.logger, "mailbox")
	out := make(autoreply.ConnectorMap, len(a.cfg.Accounts))

	for _, acct := range a.cfg.Accounts {
		if !acct.Enabled {
			continue
		}

		adapter, err := email.FromAccount(ctx, acct, a.creds, log.With("account_id", acct.ID))
		if err != nil {
			log.Warn("skipping account, credentials not available", "account_id", acct.ID, "error", err)
			continue
		}
		out[acct.ID] = adapter
	}

	a.logger.Info("mailbox accounts registered", "count", len(out), "configured", len(a.cfg.Accounts))
	return out
}
