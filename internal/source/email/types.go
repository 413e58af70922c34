package email

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/nhle/inbox-triage/internal/model"
)

// Settings holds the connection parameters for one mailbox account.
type Settings struct {
	AccountID string
	Address   string

	IMAPHost string
	IMAPPort int
	SMTPHost string
	SMTPPort int
	Username string

	// TLS selects implicit TLS for both protocols; otherwise STARTTLS.
	TLS bool

	Auth Auth

	// DialTimeout bounds the TCP dial. Zero means 30s.
	DialTimeout time.Duration
}

func (s Settings) imapAddr() string {
	return fmt.Sprintf("%s:%d", s.IMAPHost, s.IMAPPort)
}

func (s Settings) dialTimeout() time.Duration {
	if s.DialTimeout <= 0 {
		return 30 * time.Second
	}
	return s.DialTimeout
}

// Auth is the credential used for IMAP and SMTP login. Exactly one of
// Password and TokenSource is set.
type Auth struct {
	Password    string
	TokenSource oauth2.TokenSource
}

// PasswordAuth authenticates with LOGIN / SMTP PLAIN.
func PasswordAuth(password string) Auth {
	return Auth{Password: password}
}

// OAuth2Auth authenticates with OAUTHBEARER using access tokens from ts.
func OAuth2Auth(ts oauth2.TokenSource) Auth {
	return Auth{TokenSource: ts}
}

// IsOAuth2 reports whether the account uses bearer tokens.
func (a Auth) IsOAuth2() bool {
	return a.TokenSource != nil
}

// NewTokenSource exchanges a stored refresh token for access tokens,
// refreshing them as they expire. The consent flow that produced the
// refresh token happens elsewhere.
func NewTokenSource(ctx context.Context, cfg model.OAuthConfig, refreshToken string) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: cfg.TokenURL},
		Scopes:   cfg.Scopes,
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

// parsedMessage holds the decoded content of a fetched message.
type parsedMessage struct {
	MessageID string
	InReplyTo string
	Date      time.Time

	TextBody    string
	HTMLBody    string
	Attachments []string

	Automated bool
}
