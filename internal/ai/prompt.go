package ai

import (
	"fmt"
	"strings"
)

const analyzeSystemPrompt = `You triage inbound business email for a support team.
Reply with a single JSON object and nothing else, using exactly these keys:
  "summary": one sentence,
  "urgency": one of "low", "medium", "high", "critical",
  "sentiment": one of "positive", "neutral", "negative",
  "requires_response": true or false,
  "response_reason": why a reply is or is not needed,
  "suggested_response": a short reply the recipient could send, or "",
  "key_points": array of strings,
  "action_items": array of strings.
Newsletters, receipts and automated notifications never require a response.`

const replySystemPrompt = `You write email replies on behalf of the recipient.
Answer in the language of the original message. Be brief, polite and concrete.
Do not invent facts, prices or commitments that are not in the message.
Return only the reply body, without a subject line or signature.`

func buildAnalyzePrompt(in AnalyzeInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\n", in.Sender)
	fmt.Fprintf(&sb, "Subject: %s\n\n", in.Subject)
	sb.WriteString(truncateRunes(in.Body, maxBodyRunes))
	return sb.String()
}

func buildReplyPrompt(in ReplyInput) string {
	var sb strings.Builder
	if in.UserName != "" {
		fmt.Fprintf(&sb, "You are replying as %s.\n", in.UserName)
	}
	fmt.Fprintf(&sb, "Triage summary: %s\n", in.Verdict.Summary)
	if in.Verdict.ResponseReason != "" {
		fmt.Fprintf(&sb, "Why a reply is needed: %s\n", in.Verdict.ResponseReason)
	}
	if len(in.Verdict.KeyPoints) > 0 {
		fmt.Fprintf(&sb, "Key points: %s\n", strings.Join(in.Verdict.KeyPoints, "; "))
	}
	if in.Verdict.SuggestedResponse != "" {
		fmt.Fprintf(&sb, "A first idea for the reply: %s\n", in.Verdict.SuggestedResponse)
	}
	sb.WriteString("\nOriginal message:\n")
	fmt.Fprintf(&sb, "From: %s\n", in.Sender)
	fmt.Fprintf(&sb, "Subject: %s\n\n", in.Subject)
	sb.WriteString(truncateRunes(in.Body, maxBodyRunes))
	return sb.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[truncated]"
}
