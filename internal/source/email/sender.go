package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/yuin/goldmark"
	"gopkg.in/gomail.v2"

	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/source"
)

// Sender delivers replies over SMTP with gomail.
type Sender struct {
	settings Settings
	markdown goldmark.Markdown

	// send is swapped out in tests.
	send func(ctx context.Context, m *gomail.Message) error
}

// NewSender creates a Sender for the account.
func NewSender(settings Settings) *Sender {
	s := &Sender{
		settings: settings,
		markdown: goldmark.New(),
	}
	s.send = s.dialAndSend
	return s
}

// Send composes msg as a reply from the account address and delivers it.
// The SMTP session is bound to ctx: when ctx ends the connection is closed,
// so the server only accepts the message if the final DATA reply arrived
// in time.
func (s *Sender) Send(ctx context.Context, msg source.OutboundMessage) error {
	m, err := s.buildReply(msg)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.send(ctx, m) }()

	select {
	case err := <-done:
		if err != nil {
			return failure.Connectivity("smtp send to "+msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return failure.Connectivity("smtp send to "+msg.To, ctx.Err())
	}
}

// buildReply renders the outbound message with threading headers and a
// text/html alternative produced from the plain body.
func (s *Sender) buildReply(msg source.OutboundMessage) (*gomail.Message, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, errors.New("reply has no recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.settings.Address)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", replySubject(msg.Subject))
	m.SetHeader("Auto-Submitted", "auto-replied")

	if msg.InReplyTo != "" {
		id := "<" + strings.Trim(msg.InReplyTo, "<>") + ">"
		m.SetHeader("In-Reply-To", id)
		m.SetHeader("References", id)
	}

	m.SetBody("text/plain", msg.Body)

	var html bytes.Buffer
	if err := s.markdown.Convert([]byte(msg.Body), &html); err != nil {
		return nil, fmt.Errorf("rendering reply html: %w", err)
	}
	m.AddAlternative("text/html", html.String())

	return m, nil
}

func (s *Sender) dialAndSend(ctx context.Context, m *gomail.Message) error {
	addr := net.JoinHostPort(s.settings.SMTPHost, strconv.Itoa(s.settings.SMTPPort))
	tlsConfig := &tls.Config{ServerName: s.settings.SMTPHost}
	nd := &net.Dialer{Timeout: s.settings.dialTimeout()}

	var (
		conn net.Conn
		err  error
	)
	if s.settings.TLS {
		conn, err = (&tls.Dialer{NetDialer: nd, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.settings.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting from %s: %w", addr, err)
	}
	defer c.Close()

	if !s.settings.TLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if ok, _ := c.Extension("AUTH"); ok {
		auth, err := s.auth()
		if err != nil {
			return err
		}
		if err := c.Auth(auth); err != nil {
			return failure.Auth("smtp auth "+s.settings.Username, err)
		}
	}

	if err := gomail.Send(&smtpSession{client: c}, m); err != nil {
		return err
	}
	return c.Quit()
}

func (s *Sender) auth() (smtp.Auth, error) {
	if !s.settings.Auth.IsOAuth2() {
		return smtp.PlainAuth("", s.settings.Username, s.settings.Auth.Password, s.settings.SMTPHost), nil
	}

	tok, err := s.settings.Auth.TokenSource.Token()
	if err != nil {
		return nil, failure.Auth("smtp auth "+s.settings.Username, fmt.Errorf("refreshing access token: %w", err))
	}
	return &saslAuth{client: sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: s.settings.Username,
		Host:     s.settings.SMTPHost,
		Port:     s.settings.SMTPPort,
		Token:    tok.AccessToken,
	})}, nil
}

// smtpSession lets gomail write a message over an established client.
type smtpSession struct {
	client *smtp.Client
}

func (s *smtpSession) Send(from string, to []string, msg io.WriterTo) error {
	if err := s.client.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, addr := range to {
		if err := s.client.Rcpt(addr); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", addr, err)
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := msg.WriteTo(w); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	return w.Close()
}

// replySubject prefixes subject with a single "Re: ".
func replySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

// saslAuth adapts a go-sasl client to net/smtp.Auth.
type saslAuth struct {
	client sasl.Client
}

func (a *saslAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return a.client.Start()
}

func (a *saslAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}
