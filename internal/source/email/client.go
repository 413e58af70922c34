package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/source"
)

// fetchChunkSize bounds how many messages one FETCH command requests.
const fetchChunkSize = 50

// IMAPClient wraps go-imap v2 for reading one account's mailboxes.
type IMAPClient struct {
	settings Settings
	logger   *slog.Logger
}

// NewIMAPClient creates a new IMAP client for the account.
func NewIMAPClient(settings Settings, logger *slog.Logger) *IMAPClient {
	return &IMAPClient{settings: settings, logger: logger}
}

// Connect establishes a connection to the IMAP server and authenticates.
// A failed attempt is retried once after a short backoff; rejected
// credentials are not retried. The caller is responsible for calling
// Logout and Close on the returned client.
func (c *IMAPClient) Connect(ctx context.Context) (*imapclient.Client, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond

	client, err := backoff.Retry(ctx, func() (*imapclient.Client, error) {
		client, err := c.dial(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.authenticate(client); err != nil {
			_ = client.Close()
			return nil, backoff.Permanent(err)
		}
		return client, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(2),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("IMAP connect failed, retrying",
				"account_id", c.settings.AccountID, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		if failure.IsConnectivity(err) {
			return nil, err
		}
		return nil, failure.Connectivity("imap connect "+c.settings.imapAddr(), err)
	}

	return client, nil
}

func (c *IMAPClient) dial(ctx context.Context) (*imapclient.Client, error) {
	addr := c.settings.imapAddr()
	dialer := &net.Dialer{Timeout: c.settings.dialTimeout()}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := &tls.Config{ServerName: c.settings.IMAPHost}

	if c.settings.TLS {
		return imapclient.New(tls.Client(conn, tlsConfig), nil), nil
	}

	client, err := imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: tlsConfig})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting TLS with %s: %w", addr, err)
	}
	return client, nil
}

func (c *IMAPClient) authenticate(client *imapclient.Client) error {
	op := "imap login " + c.settings.Username

	if !c.settings.Auth.IsOAuth2() {
		if err := client.Login(c.settings.Username, c.settings.Auth.Password).Wait(); err != nil {
			return failure.Auth(op, err)
		}
		return nil
	}

	tok, err := c.settings.Auth.TokenSource.Token()
	if err != nil {
		return failure.Auth(op, fmt.Errorf("refreshing access token: %w", err))
	}

	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: c.settings.Username,
		Host:     c.settings.IMAPHost,
		Port:     c.settings.IMAPPort,
		Token:    tok.AccessToken,
	})
	if err := client.Authenticate(saslClient); err != nil {
		return failure.Auth(op, err)
	}
	return nil
}

// FetchSince returns a lazy sequence of the messages in folder received
// at or after since. The connection is opened when iteration starts and
// closed when it ends. A failure on one chunk is yielded as a
// ConnectivityError after every message fetched before it.
func (c *IMAPClient) FetchSince(
	ctx context.Context,
	folder string,
	since time.Time,
) iter.Seq2[source.RawMessage, error] {
	return func(yield func(source.RawMessage, error) bool) {
		client, err := c.Connect(ctx)
		if err != nil {
			yield(source.RawMessage{}, err)
			return
		}
		defer func() {
			_ = client.Logout().Wait()
			_ = client.Close()
		}()

		// Unblock any pending command when the caller gives up.
		stop := context.AfterFunc(ctx, func() { _ = client.Close() })
		defer stop()

		if _, err := client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
			yield(source.RawMessage{}, failure.Connectivity("imap select "+folder, err))
			return
		}

		// SEARCH SINCE has day granularity; finer filtering happens below.
		searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
		if err != nil {
			yield(source.RawMessage{}, failure.Connectivity("imap search "+folder, err))
			return
		}

		uids := searchData.AllUIDs()
		c.logger.Debug("IMAP search complete",
			"account_id", c.settings.AccountID, "folder", folder, "matches", len(uids))

		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchOpts := &imap.FetchOptions{
			UID:          true,
			Envelope:     true,
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{bodySection},
		}

		for chunk := range slices.Chunk(uids, fetchChunkSize) {
			fetchCmd := client.Fetch(imap.UIDSetNum(chunk...), fetchOpts)

			for {
				msg := fetchCmd.Next()
				if msg == nil {
					break
				}

				buf, err := msg.Collect()
				if err != nil {
					_ = fetchCmd.Close()
					yield(source.RawMessage{}, failure.Connectivity("imap fetch "+folder, err))
					return
				}

				raw := c.toRawMessage(buf, bodySection, folder)
				if raw.ReceivedAt.Before(since) {
					continue
				}
				if !yield(raw, nil) {
					_ = fetchCmd.Close()
					return
				}
			}

			if err := fetchCmd.Close(); err != nil {
				yield(source.RawMessage{}, failure.Connectivity("imap fetch "+folder, err))
				return
			}
		}
	}
}

// toRawMessage converts a fetched message into the connector's neutral
// representation.
func (c *IMAPClient) toRawMessage(
	buf *imapclient.FetchMessageBuffer,
	section *imap.FetchItemBodySection,
	folder string,
) source.RawMessage {
	var pm parsedMessage
	if body := buf.FindBodySection(section); body != nil {
		pm = parseMessage(body)
	}

	raw := source.RawMessage{
		MessageID:  pm.MessageID,
		InReplyTo:  pm.InReplyTo,
		TextBody:   pm.TextBody,
		HTMLBody:   pm.HTMLBody,
		Preview:    pm.preview(),
		Automated:  pm.Automated,
		Folder:     folder,
		ReceivedAt: buf.InternalDate,
	}

	if env := buf.Envelope; env != nil {
		raw.Subject = env.Subject
		if raw.MessageID == "" {
			raw.MessageID = env.MessageID
		}
		if len(env.From) > 0 {
			raw.From = env.From[0].Addr()
		}
		var to []string
		for _, addr := range env.To {
			to = append(to, addr.Addr())
		}
		raw.To = strings.Join(to, ", ")
		if raw.ReceivedAt.IsZero() {
			raw.ReceivedAt = env.Date
		}
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = pm.Date
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now()
	}
	raw.ReceivedAt = raw.ReceivedAt.UTC()

	raw.ExternalID = externalID(c.settings.AccountID, folder, raw.MessageID, uint32(buf.UID))
	return raw
}

// externalID scopes the Message-ID to the account so two mailboxes that
// both received the same message each keep their own copy. Messages
// without a Message-ID fall back to their UID in the folder.
func externalID(accountID, folder, messageID string, uid uint32) string {
	if messageID != "" {
		return accountID + ":" + strings.Trim(messageID, "<>")
	}
	return accountID + ":" + folder + ":uid:" + strconv.FormatUint(uint64(uid), 10)
}
