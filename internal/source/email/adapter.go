package email

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/nhle/inbox-triage/internal/credential"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/source"
)

// Adapter implements source.Connector for an IMAP/SMTP mailbox.
type Adapter struct {
	imapClient *IMAPClient
	sender     *Sender
	accountID  string
}

var _ source.Connector = (*Adapter)(nil)

// NewAdapter creates a new email connector from resolved settings.
func NewAdapter(settings Settings, logger *slog.Logger) *Adapter {
	return &Adapter{
		imapClient: NewIMAPClient(settings, logger),
		sender:     NewSender(settings),
		accountID:  settings.AccountID,
	}
}

// FromAccount resolves an account's secrets from the credential store and
// builds its connector.
func FromAccount(
	ctx context.Context,
	acct model.AccountConfig,
	creds credential.Store,
	logger *slog.Logger,
) (*Adapter, error) {
	settings := Settings{
		AccountID:   acct.ID,
		Address:     acct.Address,
		IMAPHost:    acct.IMAPHost,
		IMAPPort:    acct.IMAPPort,
		SMTPHost:    acct.SMTPHost,
		SMTPPort:    acct.SMTPPort,
		Username:    acct.Username,
		TLS:         acct.TLS,
		DialTimeout: 30 * time.Second,
	}

	switch acct.Auth {
	case model.AuthOAuth2:
		refresh, err := creds.Get(credential.AccountRefreshTokenKey(acct.ID))
		if err != nil {
			return nil, fmt.Errorf("loading refresh token for account %s: %w", acct.ID, err)
		}
		settings.Auth = OAuth2Auth(NewTokenSource(ctx, acct.OAuth, refresh))
	default:
		password, err := creds.Get(credential.AccountPasswordKey(acct.ID))
		if err != nil {
			return nil, fmt.Errorf("loading password for account %s: %w", acct.ID, err)
		}
		settings.Auth = PasswordAuth(password)
	}

	return NewAdapter(settings, logger), nil
}

// FetchSince implements source.Connector.
func (a *Adapter) FetchSince(
	ctx context.Context,
	folder string,
	since time.Time,
) iter.Seq2[source.RawMessage, error] {
	return a.imapClient.FetchSince(ctx, folder, since)
}

// Send implements source.Connector.
func (a *Adapter) Send(ctx context.Context, msg source.OutboundMessage) error {
	if err := a.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending reply from account %s: %w", a.accountID, err)
	}
	return nil
}
