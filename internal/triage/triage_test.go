package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/ai"
	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/logger"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
	"github.com/nhle/inbox-triage/tests/testutil"
)

type fakeProvider struct {
	mu      sync.Mutex
	verdict model.Triage
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakeProvider) Analyze(ctx context.Context, _ ai.AnalyzeInput) (model.Triage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.Triage{}, failure.Connectivity("analyze", ctx.Err())
		}
	}
	return f.verdict, f.err
}

type recordingResponder struct {
	mu  sync.Mutex
	got []model.Communication
}

func (r *recordingResponder) Respond(_ context.Context, c model.Communication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, c)
	return nil
}

func insertUnanalyzed(t *testing.T, s store.Store, externalID string) model.Communication {
	t.Helper()
	c := testutil.NewCommunication(externalID, "emp", "", time.Now().UTC())
	c.ProcessedAt = nil
	c.Triage = model.Triage{}
	_, err := s.InsertCommunication(context.Background(), c)
	require.NoError(t, err)
	return *c
}

func TestProcess_WritesVerdictAndResponds(t *testing.T) {
	s := testutil.NewTestStore(t)
	c := insertUnanalyzed(t, s, "m1")

	verdict := model.Triage{
		Summary: "refund", Urgency: model.UrgencyLow, Sentiment: model.SentimentPositive,
		RequiresResponse: true, SuggestedResponse: "Sure",
	}
	resp := &recordingResponder{}
	a := NewAnalyzer(s, &fakeProvider{verdict: verdict}, resp, time.Second, logger.Discard())

	res := a.Process(context.Background(), c)
	require.NoError(t, res.Err)
	assert.False(t, res.Defaulted)

	got, err := s.GetCommunication(context.Background(), c.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, model.UrgencyLow, got.Urgency)
	assert.True(t, got.RequiresResponse)

	require.Len(t, resp.got, 1)
	assert.Equal(t, model.UrgencyLow, resp.got[0].Urgency)
	assert.True(t, resp.got[0].Analyzed())
}

func TestProcess_ProviderFailureWritesDefault(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		timeout  time.Duration
	}{
		{"connectivity", &fakeProvider{err: failure.Connectivity("analyze", errors.New("refused"))}, time.Second},
		{"malformed", &fakeProvider{err: &failure.MalformedResponseError{Reason: "no json"}}, time.Second},
		{"invalid enum", &fakeProvider{verdict: model.Triage{Urgency: "extreme", Sentiment: "neutral"}}, time.Second},
		{"timeout", &fakeProvider{delay: time.Second}, 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.NewTestStore(t)
			c := insertUnanalyzed(t, s, "m1")
			resp := &recordingResponder{}
			a := NewAnalyzer(s, tt.provider, resp, tt.timeout, logger.Discard())

			res := a.Process(context.Background(), c)
			require.NoError(t, res.Err)
			assert.True(t, res.Defaulted)

			got, err := s.GetCommunication(context.Background(), c.ID)
			require.NoError(t, err)
			require.NotNil(t, got.ProcessedAt, "item must reach the analyzed state")
			assert.Equal(t, model.UrgencyMedium, got.Urgency)
			assert.Equal(t, model.SentimentNeutral, got.Sentiment)
			assert.False(t, got.RequiresResponse)
			assert.Equal(t, FailedReason, got.ResponseReason)
			assert.Len(t, resp.got, 1)
		})
	}
}

func TestProcess_SecondPassIsNoop(t *testing.T) {
	s := testutil.NewTestStore(t)
	c := insertUnanalyzed(t, s, "m1")
	resp := &recordingResponder{}
	a := NewAnalyzer(s, &fakeProvider{verdict: model.Triage{
		Urgency: model.UrgencyHigh, Sentiment: model.SentimentNegative,
	}}, resp, time.Second, logger.Discard())

	first := a.Process(context.Background(), c)
	second := a.Process(context.Background(), c)

	assert.False(t, first.AlreadyAnalyzed)
	assert.True(t, second.AlreadyAnalyzed)
	assert.Len(t, resp.got, 1, "responder runs once per communication")
}

func TestDispatcher_ProcessesAllAndPublishesResults(t *testing.T) {
	s := testutil.NewTestStore(t)
	prov := &fakeProvider{verdict: model.Triage{Urgency: model.UrgencyLow, Sentiment: model.SentimentNeutral}}
	a := NewAnalyzer(s, prov, nil, time.Second, logger.Discard())
	d := NewDispatcher(a, 3, 16, logger.Discard())

	var ids []string
	for _, ext := range []string{"a", "b", "c", "d", "e"} {
		c := insertUnanalyzed(t, s, ext)
		ids = append(ids, c.ID)
		require.NoError(t, d.Submit(context.Background(), c))
	}
	d.Close()

	var got []string
	for res := range d.Results() {
		require.NoError(t, res.Err)
		got = append(got, res.CommunicationID)
	}
	assert.ElementsMatch(t, ids, got)

	assert.ErrorIs(t, d.Submit(context.Background(), model.Communication{}), ErrClosed)

	pending, err := s.ListCommunications(context.Background(), store.CommunicationFilter{Unanalyzed: true})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

type panickingProcessor struct{}

func (panickingProcessor) Process(context.Context, model.Communication) Result {
	panic("boom")
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := NewDispatcher(panickingProcessor{}, 1, 4, logger.Discard())
	require.NoError(t, d.Submit(context.Background(), model.Communication{ID: "x"}))

	res := <-d.Results()
	assert.Equal(t, "x", res.CommunicationID)
	assert.Error(t, res.Err)
	d.Close()
}

type blockingProcessor struct{ release chan struct{} }

func (b blockingProcessor) Process(_ context.Context, c model.Communication) Result {
	<-b.release
	return Result{CommunicationID: c.ID}
}

func TestDispatcher_TrySubmitWhenFull(t *testing.T) {
	p := blockingProcessor{release: make(chan struct{})}
	d := NewDispatcher(p, 1, 1, logger.Discard())

	require.NoError(t, d.Submit(context.Background(), model.Communication{ID: "1"}))
	// Wait until the worker has taken the first item off the queue.
	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.TrySubmit(model.Communication{ID: "2"}))
	assert.ErrorIs(t, d.TrySubmit(model.Communication{ID: "3"}), ErrQueueFull)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Submit(ctx, model.Communication{ID: "4"}), context.DeadlineExceeded)

	close(p.release)
	d.Close()
}

func TestBacklog_RequeuesOldUnanalyzed(t *testing.T) {
	s := testutil.NewTestStore(t)
	prov := &fakeProvider{verdict: model.Triage{Urgency: model.UrgencyLow, Sentiment: model.SentimentNeutral}}
	a := NewAnalyzer(s, prov, nil, time.Second, logger.Discard())
	d := NewDispatcher(a, 2, 8, logger.Discard())

	insertUnanalyzed(t, s, "old-1")
	insertUnanalyzed(t, s, "old-2")

	b := NewBacklog(s, d, time.Minute, 100, logger.Discard())
	b.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	d.Close()
	pending, err := s.ListCommunications(context.Background(), store.CommunicationFilter{Unanalyzed: true})
	require.NoError(t, err)
	assert.Empty(t, pending)

	fresh := NewBacklog(s, nil, time.Minute, 100, logger.Discard())
	insertUnanalyzed(t, s, "new")
	n, err = fresh.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "items younger than the minimum age are left to the live queue")
}

func TestDispatcher_RejectsDuplicateWhileInFlight(t *testing.T) {
	p := blockingProcessor{release: make(chan struct{})}
	d := NewDispatcher(p, 1, 4, logger.Discard())

	require.NoError(t, d.TrySubmit(model.Communication{ID: "1"}))
	assert.ErrorIs(t, d.TrySubmit(model.Communication{ID: "1"}), ErrAlreadyQueued)
	assert.ErrorIs(t, d.Submit(context.Background(), model.Communication{ID: "1"}), ErrAlreadyQueued)

	close(p.release)
	res := <-d.Results()
	assert.Equal(t, "1", res.CommunicationID)

	require.Eventually(t, func() bool {
		return d.TrySubmit(model.Communication{ID: "1"}) == nil
	}, time.Second, 5*time.Millisecond, "finished items may be queued again")
	d.Close()
}

func TestBacklog_SkipsItemsStillQueued(t *testing.T) {
	s := testutil.NewTestStore(t)
	p := blockingProcessor{release: make(chan struct{})}
	d := NewDispatcher(p, 1, 8, logger.Discard())

	queued := insertUnanalyzed(t, s, "live")
	insertUnanalyzed(t, s, "overflow")
	require.NoError(t, d.TrySubmit(queued))

	b := NewBacklog(s, d, time.Minute, 100, logger.Discard())
	b.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the item that is not already queued is requeued")

	close(p.release)
	d.Close()
}
