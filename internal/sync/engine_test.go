package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/ai-mail-reader/internal/archive/sqlite"
	"github.com/Martian-dev/ai-mail-reader/internal/mailerr"
	"github.com/Martian-dev/ai-mail-reader/internal/mimetext"
	"github.com/Martian-dev/ai-mail-reader/internal/oauth"
	"github.com/Martian-dev/ai-mail-reader/internal/store"
)

type fakeCreds struct {
	creds map[string]*store.Credential
}

func (f *fakeCreds) GetCredential(_ context.Context, userID string) (*store.Credential, error) {
	return f.creds[userID], nil
}

// passAuth calls through with the stored access token.
type passAuth struct {
	err error
}

func (a *passAuth) Authorize(ctx context.Context, cred *store.Credential, call oauth.Call) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return cred.AccessToken, call(ctx, cred.AccessToken)
}

type fakeRemote struct {
	ids      []string
	messages map[string]*RawMessage
	fail     map[string]error

	mu        sync.Mutex
	queries   []string
	maxes     []int64
	fetched   []string
	tokens    map[string]bool
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	block     chan struct{}
	onFetch   func()
}

func newFakeRemote(n int) *fakeRemote {
	r := &fakeRemote{
		messages: make(map[string]*RawMessage),
		fail:     make(map[string]error),
		tokens:   make(map[string]bool),
	}
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%02d", i)
		r.ids = append(r.ids, id)
		r.messages[id] = &RawMessage{
			ID:       id,
			ThreadID: "t" + id,
			Headers:  map[string]string{"Subject": "Subject " + id, "From": "a@example.com", "To": "me@example.com"},
			Snippet:  "snippet " + id,
			LabelIDs: []string{"INBOX"},
			Date:     base.Add(time.Duration(i) * time.Minute),
			Payload:  &mimetext.Part{Data: base64.URLEncoding.EncodeToString([]byte("body " + id))},
		}
	}
	return r
}

func (r *fakeRemote) ListMessageIDs(_ context.Context, accessToken, query string, max int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queries = append(r.queries, query)
	r.maxes = append(r.maxes, max)
	r.tokens[accessToken] = true

	if int64(len(r.ids)) > max {
		return r.ids[:max], nil
	}
	return r.ids, nil
}

func (r *fakeRemote) GetMessage(ctx context.Context, accessToken, id string) (*RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.onFetch != nil {
		r.onFetch()
	}

	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		m := r.maxFlight.Load()
		if n <= m || r.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	r.fetched = append(r.fetched, id)
	r.tokens[accessToken] = true
	r.mu.Unlock()

	if err := r.fail[id]; err != nil {
		return nil, err
	}
	return r.messages[id], nil
}

type harness struct {
	engine  *Engine
	remote  *fakeRemote
	archive *sqlite.Store
	logs    *test.Hook
}

func newHarness(t *testing.T, remote *fakeRemote) *harness {
	t.Helper()

	archive, err := sqlite.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	logger, hook := test.NewNullLogger()
	creds := &fakeCreds{creds: map[string]*store.Credential{
		"u1": {UserID: "u1", AccessToken: "token-1", RefreshToken: "rt"},
	}}

	return &harness{
		engine:  NewEngine(creds, &passAuth{}, remote, archive, logger),
		remote:  remote,
		archive: archive,
		logs:    hook,
	}
}

func TestSyncScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newFakeRemote(5))

	stats, err := h.engine.Sync(ctx, "u1", Options{MaxResults: 5})
	require.NoError(t, err)
	require.Equal(t, Stats{Checked: 5, Added: 5}, stats)

	stats, err = h.engine.Sync(ctx, "u1", Options{MaxResults: 5})
	require.NoError(t, err)
	require.Equal(t, Stats{Checked: 5, Added: 0}, stats)

	n, err := h.archive.Count(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// Second run skipped every message before fetching it.
	require.Len(t, h.remote.fetched, 5)
}

func TestSyncArchivesDecodedMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newFakeRemote(1))

	_, err := h.engine.Sync(ctx, "u1", Options{})
	require.NoError(t, err)

	m, err := h.archive.FindByRemoteID(ctx, "u1", "m00")
	require.NoError(t, err)
	require.Equal(t, "body m00", m.Body)
	require.Equal(t, "Subject m00", m.Subject)
	require.Equal(t, "a@example.com", m.From)
	require.Equal(t, "me@example.com", m.To)
	require.Equal(t, "tm00", m.ThreadID)
	require.Equal(t, []string{"INBOX"}, m.Labels)
	require.True(t, h.remote.messages["m00"].Date.Equal(m.Date))
}

func TestSyncBodyFallsBackToSnippet(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(1)
	remote.messages["m00"].Payload = &mimetext.Part{MimeType: "multipart/mixed"}
	remote.messages["m00"].Headers = map[string]string{}
	remote.messages["m00"].Date = time.Time{}
	h := newHarness(t, remote)

	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	h.engine.Clock = func() time.Time { return now }

	_, err := h.engine.Sync(ctx, "u1", Options{})
	require.NoError(t, err)

	m, err := h.archive.FindByRemoteID(ctx, "u1", "m00")
	require.NoError(t, err)
	require.Equal(t, "snippet m00", m.Body)
	require.Equal(t, "No Subject", m.Subject)
	require.Equal(t, "Unknown", m.From)
	require.True(t, now.Equal(m.Date))
}

func TestSyncBatchIsolation(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(10)
	remote.fail["m03"] = fmt.Errorf("get message: %w", mailerr.ErrRemoteUnavailable)
	h := newHarness(t, remote)

	stats, err := h.engine.Sync(ctx, "u1", Options{})
	require.NoError(t, err)
	require.Equal(t, Stats{Checked: 10, Added: 9}, stats)

	missing, err := h.archive.FindByRemoteID(ctx, "u1", "m03")
	require.NoError(t, err)
	require.Nil(t, missing)

	var warned bool
	for _, entry := range h.logs.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["message_id"] == "m03" {
			warned = true
		}
	}
	require.True(t, warned)

	// The failed message is picked up by the next run.
	delete(remote.fail, "m03")
	stats, err = h.engine.Sync(ctx, "u1", Options{})
	require.NoError(t, err)
	require.Equal(t, Stats{Checked: 10, Added: 1}, stats)
}

func TestSyncOutlivesCanceledCaller(t *testing.T) {
	remote := newFakeRemote(25)
	h := newHarness(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	remote.onFetch = func() { once.Do(cancel) }

	stats, err := h.engine.Sync(ctx, "u1", Options{})
	require.NoError(t, err)
	require.Equal(t, Stats{Checked: 25, Added: 25}, stats)

	n, err := h.archive.Count(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 25, n)
}

func TestSyncBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(45)
	h := newHarness(t, remote)

	stats, err := h.engine.Sync(ctx, "u1", Options{MaxResults: 45})
	require.NoError(t, err)
	require.Equal(t, 45, stats.Checked)
	require.Equal(t, 45, stats.Added)
	require.LessOrEqual(t, remote.maxFlight.Load(), int32(BatchSize))
}

func TestSyncBatchesAreSequential(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(20)
	remote.block = make(chan struct{})
	h := newHarness(t, remote)

	done := make(chan Stats)
	go func() {
		stats, _ := h.engine.Sync(ctx, "u1", Options{})
		done <- stats
	}()

	// The whole first batch is in flight before any of the second starts.
	require.Eventually(t, func() bool { return remote.inFlight.Load() == BatchSize }, 5*time.Second, time.Millisecond)
	require.Never(t, func() bool { return remote.inFlight.Load() > BatchSize }, 50*time.Millisecond, time.Millisecond)

	close(remote.block)
	require.Equal(t, Stats{Checked: 20, Added: 20}, <-done)
}

func TestSyncLimits(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(0)
	h := newHarness(t, remote)

	for _, opts := range []Options{
		{},
		{MaxResults: 5},
		{MaxResults: 500},
		{MaxResults: 5, FullSync: true},
	} {
		_, err := h.engine.Sync(ctx, "u1", opts)
		require.NoError(t, err)
	}

	require.Equal(t, []int64{50, 5, 50, 200}, remote.maxes)
}

func TestSyncQueryFromClock(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(0)
	h := newHarness(t, remote)
	h.engine.Clock = func() time.Time { return time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC) }

	_, err := h.engine.Sync(ctx, "u1", Options{DateFilter: DateLast7Days})
	require.NoError(t, err)
	_, err = h.engine.Sync(ctx, "u1", Options{UnreadOnly: true, DateFilter: DateToday})
	require.NoError(t, err)

	require.Equal(t, []string{"after:2024/03/03", "is:unread after:2024/03/10"}, remote.queries)
}

func TestSyncNotConnected(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(3)
	h := newHarness(t, remote)

	_, err := h.engine.Sync(ctx, "nobody", Options{})
	require.ErrorIs(t, err, mailerr.ErrGmailNotConnected)

	h.engine.creds = &fakeCreds{creds: map[string]*store.Credential{"u1": {UserID: "u1"}}}
	_, err = h.engine.Sync(ctx, "u1", Options{})
	require.ErrorIs(t, err, mailerr.ErrGmailNotConnected)

	require.Empty(t, remote.queries)
}

func TestSyncPropagatesAuthErrors(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(3)
	h := newHarness(t, remote)

	for _, want := range []error{mailerr.ErrReauthRequired, mailerr.ErrRateLimited, mailerr.ErrRemoteUnavailable} {
		h.engine.auth = &passAuth{err: want}

		stats, err := h.engine.Sync(ctx, "u1", Options{})
		require.ErrorIs(t, err, want)
		require.Zero(t, stats)
	}
	require.Empty(t, remote.fetched)
}

func TestSyncReusesListToken(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(12)
	h := newHarness(t, remote)
	h.engine.auth = refreshingAuth{}

	_, err := h.engine.Sync(ctx, "u1", Options{})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"refreshed": true}, remote.tokens)
}

// refreshingAuth behaves as if the stored token had been replaced.
type refreshingAuth struct{}

func (refreshingAuth) Authorize(ctx context.Context, _ *store.Credential, call oauth.Call) (string, error) {
	return "refreshed", call(ctx, "refreshed")
}

func TestConcurrentSyncsDoNotDuplicate(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(15)
	h := newHarness(t, remote)
	m := NewManager(h.engine)

	var (
		wg    sync.WaitGroup
		added atomic.Int64
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			stats, err := m.Sync(ctx, "u1", Options{})
			if err == nil {
				added.Add(int64(stats.Added))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(15), added.Load())

	n, err := h.archive.Count(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 15, n)
	require.False(t, m.IsRunning("u1"))
}

func TestFetchUnread(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(15)
	remote.fail["m02"] = errors.New("boom")
	remote.messages["m04"].Payload = &mimetext.Part{
		Data: base64.URLEncoding.EncodeToString([]byte(strings.Repeat("é", 1500))),
	}
	remote.messages["m05"].Headers = map[string]string{"subject": "lower-case header"}
	remote.messages["m05"].Date = time.Time{}
	remote.messages["m06"].Headers["Date"] = "Wed, 1 May 2024 09:00:00 +0200"
	h := newHarness(t, remote)

	emails, err := h.engine.FetchUnread(ctx, "u1", Options{MaxResults: 12, FullSync: true})
	require.NoError(t, err)
	require.Equal(t, []int64{12}, remote.maxes)
	require.Equal(t, []string{"is:unread"}, remote.queries)

	require.Len(t, emails, 11)
	require.Equal(t, "m00", emails[0].ID)
	require.Equal(t, "m03", emails[2].ID)
	require.Equal(t, "m11", emails[10].ID)
	require.Equal(t, 1000, len([]rune(emails[3].Body)))
	require.Equal(t, "lower-case header", emails[4].Subject)
	require.Equal(t, "Unknown", emails[4].From)
	require.Empty(t, emails[4].Date)
	require.Equal(t, "Wed, 1 May 2024 09:00:00 +0200", emails[5].Date)
	require.Equal(t, "Wed, 01 May 2024 00:00:00 +0000", emails[0].Date)

	// Nothing is archived.
	n, err := h.archive.Count(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = h.engine.FetchUnread(ctx, "u1", Options{})
	require.NoError(t, err)
	require.Equal(t, int64(DefaultUnreadMax), remote.maxes[1])
}
