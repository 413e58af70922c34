// Package autoreply decides, per analyzed communication, whether to send a
// reply automatically, draft one for the owner, or do nothing.
package autoreply

import (
	"strings"

	"github.com/emersion/go-message/mail"
	"golang.org/x/text/cases"

	"github.com/nhle/inbox-triage/internal/model"
)

// Action is the side effect a decision asks for.
type Action int

const (
	// ActionNone stores the activation mode only.
	ActionNone Action = iota
	// ActionDraft stores a generated reply for a human to send.
	ActionDraft
	// ActionSend generates a reply and sends it right away.
	ActionSend
)

func (a Action) String() string {
	switch a {
	case ActionDraft:
		return "draft"
	case ActionSend:
		return "send"
	default:
		return "none"
	}
}

// Inputs are the facts the decision table looks at.
type Inputs struct {
	Urgency             model.Urgency
	RequiresResponse    bool
	SenderAutomated     bool
	AutoResponseEnabled bool
}

// Outcome is the decision for one communication.
type Outcome struct {
	Activation        model.Activation
	Action            Action
	AwaitingUserInput bool
}

// Decide applies the auto-response table. It has no side effects.
//
//	urgency      requires  automated  enabled  ->  activation  action
//	high/crit    yes       -          -            never       draft
//	high/crit    no        -          -            never       none
//	low/medium   yes       yes        -            never       none
//	low/medium   yes       no         no           assisted    draft (awaiting user)
//	low/medium   yes       no         yes          auto        send
//	any          no        -          -            never       none
func Decide(in Inputs) Outcome {
	if !in.RequiresResponse {
		return Outcome{Activation: model.ActivationNever, Action: ActionNone}
	}
	if in.Urgency.IsSevere() {
		return Outcome{Activation: model.ActivationNever, Action: ActionDraft}
	}
	if in.SenderAutomated {
		return Outcome{Activation: model.ActivationNever, Action: ActionNone}
	}
	if !in.AutoResponseEnabled {
		return Outcome{Activation: model.ActivationAssisted, Action: ActionDraft, AwaitingUserInput: true}
	}
	return Outcome{Activation: model.ActivationAuto, Action: ActionSend}
}

// automatedLocalParts are mailbox names that never read replies.
var automatedLocalParts = []string{
	"noreply",
	"no-reply",
	"no_reply",
	"donotreply",
	"do-not-reply",
	"do_not_reply",
	"mailer-daemon",
	"postmaster",
	"bounce",
}

// IsAutomatedSender reports whether from looks like a no-reply style
// address. from may carry a display name.
func IsAutomatedSender(from string) bool {
	addr := strings.TrimSpace(from)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}

	// A Caser holds state, so each call gets its own.
	local, _, _ := strings.Cut(cases.Fold().String(addr), "@")
	for _, p := range automatedLocalParts {
		if strings.Contains(local, p) {
			return true
		}
	}
	return false
}
