package ingest

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/nhle/inbox-triage/internal/source"
)

// placeholderBody is stored when a message has no readable content at all.
const placeholderBody = "(no content)"

const snippetRunes = 160

// contentExtractor turns a fetched message into non-empty body text.
type contentExtractor struct {
	policy *bluemonday.Policy
}

func newContentExtractor() *contentExtractor {
	return &contentExtractor{policy: bluemonday.StrictPolicy()}
}

// body falls back from the plain part to the stripped HTML part, then the
// preview, then a placeholder. The result is never empty.
func (x *contentExtractor) body(msg source.RawMessage) string {
	if text := strings.TrimSpace(msg.TextBody); text != "" {
		return text
	}
	if text := x.htmlToText(msg.HTMLBody); text != "" {
		return text
	}
	if text := strings.TrimSpace(msg.Preview); text != "" {
		return text
	}
	return placeholderBody
}

func (x *contentExtractor) htmlToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	// Keep block boundaries as line breaks before the tags are stripped.
	s = blockBreaks.Replace(s)
	text := html.UnescapeString(x.policy.Sanitize(s))

	lines := strings.Split(text, "\n")
	out := lines[:0]
	blank := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

var blockBreaks = strings.NewReplacer(
	"<br>", "\n", "<br/>", "\n", "<br />", "\n",
	"</p>", "\n\n", "</div>", "\n", "</li>", "\n", "</tr>", "\n",
)

// snippet is a single-line excerpt of body.
func snippet(body string) string {
	collapsed := strings.Join(strings.FieldsFunc(body, unicode.IsSpace), " ")
	r := []rune(collapsed)
	if len(r) <= snippetRunes {
		return collapsed
	}
	return strings.TrimSpace(string(r[:snippetRunes])) + "…"
}
