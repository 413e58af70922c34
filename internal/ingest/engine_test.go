package ingest

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/logger"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/store"
	"github.com/nhle/inbox-triage/internal/triage"
	"github.com/nhle/inbox-triage/tests/testutil"
)

type recordingSubmitter struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingSubmitter) TrySubmit(c model.Communication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, c.ID)
	return nil
}

func seq(msgs []source.RawMessage, tail error) iter.Seq2[source.RawMessage, error] {
	return func(yield func(source.RawMessage, error) bool) {
		for _, m := range msgs {
			if !yield(m, nil) {
				return
			}
		}
		if tail != nil {
			yield(source.RawMessage{}, tail)
		}
	}
}

var target = Target{TenantID: "t1", OwnerUserID: "emp", AccountID: "work", SLA: 24 * time.Hour}

func TestIngest_DedupAcrossOverlappingWindows(t *testing.T) {
	s := testutil.NewTestStore(t)
	sub := &recordingSubmitter{}
	e := NewEngine(s, sub, logger.Discard())
	ctx := context.Background()

	received := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m1 := source.RawMessage{ExternalID: "m1", Subject: "Hello", TextBody: "Hi there", ReceivedAt: received, Folder: "INBOX"}
	m2 := source.RawMessage{ExternalID: "m2", Subject: "Again", TextBody: "Second", ReceivedAt: received.Add(time.Minute)}

	res, err := e.Ingest(ctx, target, seq([]source.RawMessage{m1}, nil))
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 1}, res)

	res, err = e.Ingest(ctx, target, seq([]source.RawMessage{m1, m2, m1}, nil))
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 1, Skipped: 2}, res)

	all, err := s.ListCommunications(ctx, store.CommunicationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Len(t, sub.ids, 2, "only created items are handed to the analyzer")

	c, err := s.GetCommunicationByExternalID(ctx, model.SourceEmail, "m1")
	require.NoError(t, err)
	assert.Equal(t, "emp", c.OwnerUserID)
	assert.Equal(t, model.StatusToValidate, c.Status)
	assert.False(t, c.IsEscalated)
	assert.Nil(t, c.ProcessedAt)
	assert.Equal(t, received.Add(24*time.Hour), c.SLADueDate)
	assert.Equal(t, []string{"emp"}, c.VisibleTo)
}

func TestIngest_ContentFallback(t *testing.T) {
	tests := []struct {
		name string
		msg  source.RawMessage
		want string
	}{
		{
			name: "plain text wins",
			msg:  source.RawMessage{TextBody: "  plain  ", HTMLBody: "<p>html</p>"},
			want: "plain",
		},
		{
			name: "html stripped",
			msg:  source.RawMessage{HTMLBody: "<div>Hello <b>Bob</b></div><p>Tom &amp; Jerry</p><script>x()</script>"},
			want: "Hello Bob\nTom & Jerry",
		},
		{
			name: "preview",
			msg:  source.RawMessage{HTMLBody: "<img src='x.png'>", Preview: "Attachments: scan.pdf"},
			want: "Attachments: scan.pdf",
		},
		{
			name: "placeholder",
			msg:  source.RawMessage{},
			want: placeholderBody,
		},
	}

	x := newContentExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, x.body(tt.msg))
		})
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n\n b\t c"))

	long := strings.Repeat("word ", 100)
	got := snippet(long)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.LessOrEqual(t, len([]rune(got)), snippetRunes+1)
}

type failingInsertStore struct {
	store.Store
	failFor string
}

func (f *failingInsertStore) InsertCommunication(ctx context.Context, c *model.Communication) (bool, error) {
	if c.ExternalID == f.failFor {
		return false, errors.New("disk full")
	}
	return f.Store.InsertCommunication(ctx, c)
}

func TestIngest_PersistenceFailureIsCountedNotFatal(t *testing.T) {
	s := &failingInsertStore{Store: testutil.NewTestStore(t), failFor: "bad"}
	e := NewEngine(s, nil, logger.Discard())

	msgs := []source.RawMessage{
		{ExternalID: "a", TextBody: "1"},
		{ExternalID: "bad", TextBody: "2"},
		{ExternalID: "c", TextBody: "3"},
	}
	res, err := e.Ingest(context.Background(), target, seq(msgs, nil))
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2, Errors: 1}, res)
}

func TestIngest_FetchErrorKeepsEarlierMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	e := NewEngine(s, nil, logger.Discard())

	fetchErr := failure.Connectivity("imap fetch INBOX", errors.New("connection reset"))
	msgs := []source.RawMessage{{ExternalID: "a", TextBody: "1"}, {ExternalID: "b", TextBody: "2"}}

	res, err := e.Ingest(context.Background(), target, seq(msgs, fetchErr))
	require.Error(t, err)
	assert.True(t, failure.IsConnectivity(err))
	assert.Equal(t, 2, res.Created)

	all, err := s.ListCommunications(context.Background(), store.CommunicationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestResult_Add(t *testing.T) {
	r := Result{Created: 1}
	r.Add(Result{Created: 2, Skipped: 3, Errors: 4, Deferred: 1})
	assert.Equal(t, Result{Created: 3, Skipped: 3, Errors: 4, Deferred: 1}, r)
}

type stalledProcessor struct{ release chan struct{} }

func (p stalledProcessor) Process(_ context.Context, c model.Communication) triage.Result {
	<-p.release
	return triage.Result{CommunicationID: c.ID}
}

func TestIngest_FullAnalysisQueueDoesNotBlock(t *testing.T) {
	s := testutil.NewTestStore(t)
	p := stalledProcessor{release: make(chan struct{})}
	d := triage.NewDispatcher(p, 1, 1, logger.Discard())
	t.Cleanup(func() {
		close(p.release)
		d.Close()
	})
	e := NewEngine(s, d, logger.Discard())

	msgs := []source.RawMessage{
		{ExternalID: "a", TextBody: "1"},
		{ExternalID: "b", TextBody: "2"},
		{ExternalID: "c", TextBody: "3"},
		{ExternalID: "d", TextBody: "4"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	res, err := e.Ingest(ctx, target, seq(msgs, nil))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 4, res.Created)
	assert.GreaterOrEqual(t, res.Deferred, 2, "one worker and one slot take at most two items")

	pending, err := s.ListCommunications(context.Background(), store.CommunicationFilter{Unanalyzed: true})
	require.NoError(t, err)
	assert.Len(t, pending, 4, "deferred items stay unanalyzed for the backlog")
}
