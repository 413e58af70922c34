package autoreply

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/ai"
	"github.com/nhle/inbox-triage/internal/logger"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/store"
	"github.com/nhle/inbox-triage/tests/testutil"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want Outcome
	}{
		{
			name: "critical needs response",
			in:   Inputs{Urgency: model.UrgencyCritical, RequiresResponse: true, AutoResponseEnabled: true},
			want: Outcome{Activation: model.ActivationNever, Action: ActionDraft},
		},
		{
			name: "high needs response from automated sender",
			in:   Inputs{Urgency: model.UrgencyHigh, RequiresResponse: true, SenderAutomated: true},
			want: Outcome{Activation: model.ActivationNever, Action: ActionDraft},
		},
		{
			name: "high without response",
			in:   Inputs{Urgency: model.UrgencyHigh, AutoResponseEnabled: true},
			want: Outcome{Activation: model.ActivationNever, Action: ActionNone},
		},
		{
			name: "low automated sender",
			in:   Inputs{Urgency: model.UrgencyLow, RequiresResponse: true, SenderAutomated: true, AutoResponseEnabled: true},
			want: Outcome{Activation: model.ActivationNever, Action: ActionNone},
		},
		{
			name: "medium with auto-response disabled",
			in:   Inputs{Urgency: model.UrgencyMedium, RequiresResponse: true},
			want: Outcome{Activation: model.ActivationAssisted, Action: ActionDraft, AwaitingUserInput: true},
		},
		{
			name: "low with auto-response enabled",
			in:   Inputs{Urgency: model.UrgencyLow, RequiresResponse: true, AutoResponseEnabled: true},
			want: Outcome{Activation: model.ActivationAuto, Action: ActionSend},
		},
		{
			name: "low without response",
			in:   Inputs{Urgency: model.UrgencyLow, AutoResponseEnabled: true},
			want: Outcome{Activation: model.ActivationNever, Action: ActionNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.in))
		})
	}
}

func TestIsAutomatedSender(t *testing.T) {
	tests := []struct {
		from string
		want bool
	}{
		{"no-reply@x.com", true},
		{"NoReply@Shop.example", true},
		{`"Billing" <do_not_reply@bank.example>`, true},
		{"MAILER-DAEMON@mx.example", true},
		{"bounces+123@lists.example", true},
		{"alice@example.com", false},
		{`"No Reply Team" <support@example.com>`, false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAutomatedSender(tt.from))
		})
	}
}

type fakeGenerator struct {
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) GenerateReply(_ context.Context, in ai.ReplyInput) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply + in.Signature, nil
}

type fakeConnector struct {
	mu   sync.Mutex
	sent []source.OutboundMessage
	err  error
}

func (f *fakeConnector) FetchSince(context.Context, string, time.Time) iter.Seq2[source.RawMessage, error] {
	return func(func(source.RawMessage, error) bool) {}
}

func (f *fakeConnector) Send(_ context.Context, msg source.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type responderFixture struct {
	store     *store.SQLStore
	dir       testutil.Directory
	conn      *fakeConnector
	generator *fakeGenerator
	responder *Responder
}

func newResponderFixture(t *testing.T, autoResponse bool) responderFixture {
	t.Helper()
	s := testutil.NewTestStore(t)
	dir := testutil.SeedDirectory(t, s)

	dir.Employee.AutoResponseEnabled = autoResponse
	dir.Employee.Signature = "\n-- Emma"
	require.NoError(t, s.UpsertUser(context.Background(), dir.Employee))

	conn := &fakeConnector{}
	gen := &fakeGenerator{reply: "Thanks, we are on it."}
	r := NewResponder(s, gen, ConnectorMap{"acct": conn}, time.Second, logger.Discard())
	return responderFixture{store: s, dir: dir, conn: conn, generator: gen, responder: r}
}

func (f responderFixture) insert(t *testing.T, from string, urgency model.Urgency) model.Communication {
	t.Helper()
	c := testutil.NewCommunication("m-"+from, f.dir.Employee.ID, urgency, time.Now().UTC())
	c.AccountID = "acct"
	c.From = from
	c.MessageID = "<orig@example.com>"
	c.SuggestedResponse = "suggested"
	_, err := f.store.InsertCommunication(context.Background(), c)
	require.NoError(t, err)
	return *c
}

func (f responderFixture) reload(t *testing.T, id string) *model.Communication {
	t.Helper()
	got, err := f.store.GetCommunication(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestRespond_AutoSendsAndMarksReplied(t *testing.T) {
	f := newResponderFixture(t, true)
	c := f.insert(t, "alice@example.com", model.UrgencyLow)

	require.NoError(t, f.responder.Respond(context.Background(), c))

	require.Len(t, f.conn.sent, 1)
	sent := f.conn.sent[0]
	assert.Equal(t, "alice@example.com", sent.To)
	assert.Equal(t, "<orig@example.com>", sent.InReplyTo)
	assert.Equal(t, "Thanks, we are on it.\n-- Emma", sent.Body)

	got := f.reload(t, c.ID)
	assert.Equal(t, model.ActivationAuto, got.AutoActivation)
	assert.True(t, got.HasAutoResponse)
	assert.True(t, got.HasBeenReplied)
	assert.Equal(t, model.StatusValidated, got.Status)
	assert.Equal(t, f.dir.Employee.ID, got.RepliedBy)
	assert.NotNil(t, got.RepliedAt)
}

func TestRespond_AutomatedSenderNeverReplies(t *testing.T) {
	f := newResponderFixture(t, true)
	c := f.insert(t, "no-reply@x.com", model.UrgencyLow)

	require.NoError(t, f.responder.Respond(context.Background(), c))

	assert.Empty(t, f.conn.sent)
	assert.Zero(t, f.generator.calls)

	got := f.reload(t, c.ID)
	assert.Equal(t, model.ActivationNever, got.AutoActivation)
	assert.False(t, got.HasAutoResponse)
	assert.False(t, got.HasBeenReplied)
}

func TestRespond_AssistedStoresDraft(t *testing.T) {
	f := newResponderFixture(t, false)
	c := f.insert(t, "alice@example.com", model.UrgencyMedium)

	require.NoError(t, f.responder.Respond(context.Background(), c))

	assert.Empty(t, f.conn.sent)
	got := f.reload(t, c.ID)
	assert.Equal(t, model.ActivationAssisted, got.AutoActivation)
	assert.True(t, got.AwaitingUserInput)
	assert.Equal(t, "Thanks, we are on it.\n-- Emma", got.SuggestedResponse)
	assert.False(t, got.HasBeenReplied)
}

func TestRespond_SevereDraftsButNeverSends(t *testing.T) {
	f := newResponderFixture(t, true)
	c := f.insert(t, "alice@example.com", model.UrgencyCritical)

	require.NoError(t, f.responder.Respond(context.Background(), c))

	assert.Empty(t, f.conn.sent)
	got := f.reload(t, c.ID)
	assert.Equal(t, model.ActivationNever, got.AutoActivation)
	assert.False(t, got.AwaitingUserInput)
	assert.Equal(t, "Thanks, we are on it.\n-- Emma", got.SuggestedResponse)
}

func TestRespond_GeneratorFailureFallsBackToSuggestion(t *testing.T) {
	f := newResponderFixture(t, false)
	f.generator.err = errors.New("provider down")
	c := f.insert(t, "alice@example.com", model.UrgencyLow)

	require.NoError(t, f.responder.Respond(context.Background(), c))

	got := f.reload(t, c.ID)
	assert.Equal(t, "suggested", got.SuggestedResponse)
}

func TestRespond_SendFailureNotifiesOwner(t *testing.T) {
	f := newResponderFixture(t, true)
	f.conn.err = errors.New("smtp refused")
	c := f.insert(t, "alice@example.com", model.UrgencyLow)

	err := f.responder.Respond(context.Background(), c)
	require.Error(t, err)

	got := f.reload(t, c.ID)
	assert.False(t, got.HasBeenReplied)
	assert.Equal(t, model.StatusToValidate, got.Status)

	notes, err := f.store.ListNotifications(context.Background(), f.dir.Employee.ID, true)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationAutoReplyFailed, notes[0].Type)
	assert.Equal(t, c.ID, notes[0].RelatedCommunicationID)
}

func TestRespond_UnknownOwnerIsTreatedAsDisabled(t *testing.T) {
	f := newResponderFixture(t, true)
	c := f.insert(t, "alice@example.com", model.UrgencyLow)
	c.OwnerUserID = "ghost"

	require.NoError(t, f.responder.Respond(context.Background(), c))

	assert.Empty(t, f.conn.sent)
	got := f.reload(t, c.ID)
	assert.Equal(t, model.ActivationAssisted, got.AutoActivation)
}
