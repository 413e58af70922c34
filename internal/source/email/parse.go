package email

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// parseMessage decodes a raw RFC 5322 message with go-message, collecting
// the text/plain and text/html parts, attachment names and the headers
// used for threading and automated-sender detection.
func parseMessage(raw []byte) parsedMessage {
	var pm parsedMessage

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		// Not MIME at all; keep the whole thing as plain text.
		pm.TextBody = string(raw)
		return pm
	}
	defer mr.Close()

	h := mr.Header
	pm.MessageID, _ = h.MessageID()
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		pm.InReplyTo = ids[0]
	}
	pm.Date, _ = h.Date()
	pm.Automated = isAutomatedHeader(h)

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain") && pm.TextBody == "":
				pm.TextBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && pm.HTMLBody == "":
				pm.HTMLBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			if filename != "" {
				pm.Attachments = append(pm.Attachments, filename)
			}
		}
	}

	return pm
}

// isAutomatedHeader applies the RFC 3834 and list-mail conventions that
// mark a message as machine generated.
func isAutomatedHeader(h mail.Header) bool {
	if v := strings.TrimSpace(strings.ToLower(h.Get("Auto-Submitted"))); v != "" && v != "no" {
		return true
	}
	switch strings.TrimSpace(strings.ToLower(h.Get("Precedence"))) {
	case "bulk", "list", "junk":
		return true
	}
	if h.Get("List-Unsubscribe") != "" || h.Get("List-Id") != "" {
		return true
	}
	return false
}

// preview builds a short stand-in for a message that has no readable body.
func (pm parsedMessage) preview() string {
	if len(pm.Attachments) == 0 {
		return ""
	}
	return "Attachments: " + strings.Join(pm.Attachments, ", ")
}
