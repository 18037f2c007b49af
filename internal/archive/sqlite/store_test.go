package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func testMessage(userID, remoteID string, date time.Time) *Message {
	return &Message{
		UserID:   userID,
		RemoteID: remoteID,
		ThreadID: "thread-" + remoteID,
		Subject:  "Subject " + remoteID,
		From:     "sender@example.com",
		Date:     date,
		Snippet:  "snippet " + remoteID,
		Body:     "body " + remoteID,
		Labels:   []string{"INBOX", "UNREAD"},
	}
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	date := time.UnixMilli(1700000000123)

	created, err := s.Upsert(ctx, testMessage("u1", "m1", date))
	require.NoError(t, err)
	require.True(t, created)

	first, err := s.FindByRemoteID(ctx, "u1", "m1")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, []string{"INBOX", "UNREAD"}, first.Labels)
	require.True(t, date.Equal(first.Date))

	again := testMessage("u1", "m1", date)
	again.Labels = []string{"INBOX"}
	again.Body = "changed body"

	created, err = s.Upsert(ctx, again)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	second, err := s.FindByRemoteID(ctx, "u1", "m1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, []string{"INBOX"}, second.Labels)
	require.Equal(t, "body m1", second.Body)
	require.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

func TestUpsertDefaults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Upsert(ctx, &Message{UserID: "u1", RemoteID: "m1", Date: time.Now()})
	require.NoError(t, err)

	m, err := s.FindByRemoteID(ctx, "u1", "m1")
	require.NoError(t, err)
	require.Equal(t, "No Subject", m.Subject)
	require.Equal(t, "Unknown", m.From)
	require.Empty(t, m.Labels)
}

func TestSameRemoteIDDifferentUsers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, user := range []string{"u1", "u2"} {
		created, err := s.Upsert(ctx, testMessage(user, "m1", time.Now()))
		require.NoError(t, err)
		require.True(t, created)
	}

	missing, err := s.FindByRemoteID(ctx, "u3", "m1")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestConcurrentUpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ok, err := s.Upsert(ctx, testMessage("u1", "m1", time.Now()))
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), created.Load())

	n, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestListOrdersAndPaginates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 25; i++ {
		_, err := s.Upsert(ctx, testMessage("u1", fmt.Sprintf("m%02d", i), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, testMessage("u2", "other", base))
	require.NoError(t, err)

	page, err := s.List(ctx, "u1", ListQuery{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 25, page.Total)
	require.Equal(t, 3, page.Pages)
	require.Len(t, page.Messages, 10)
	require.Equal(t, "m24", page.Messages[0].RemoteID)
	require.Equal(t, "m15", page.Messages[9].RemoteID)

	last, err := s.List(ctx, "u1", ListQuery{Page: 3, Limit: 10})
	require.NoError(t, err)
	require.Len(t, last.Messages, 5)
	require.Equal(t, "m00", last.Messages[4].RemoteID)

	defaults, err := s.List(ctx, "u1", ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, defaults.Page)
	require.Len(t, defaults.Messages, 20)
}

func TestListSearch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	msgs := []*Message{
		{UserID: "u1", RemoteID: "a", Subject: "Quarterly REPORT", From: "boss@corp.com", Date: now},
		{UserID: "u1", RemoteID: "b", Subject: "Lunch", From: "Report Bot <bot@corp.com>", Date: now.Add(-time.Hour)},
		{UserID: "u1", RemoteID: "c", Subject: "Hi", From: "friend@mail.com", Snippet: "see the report", Date: now.Add(-2 * time.Hour)},
		{UserID: "u1", RemoteID: "d", Subject: "100% off", From: "shop@mail.com", Date: now.Add(-3 * time.Hour)},
		{UserID: "u1", RemoteID: "e", Subject: "Nothing", From: "x@mail.com", Body: "report in body only", Date: now},
	}
	for _, m := range msgs {
		_, err := s.Upsert(ctx, m)
		require.NoError(t, err)
	}

	page, err := s.List(ctx, "u1", ListQuery{Search: "report"})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)

	var ids []string
	for _, m := range page.Messages {
		ids = append(ids, m.RemoteID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)

	page, err = s.List(ctx, "u1", ListQuery{Search: "0%"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "d", page.Messages[0].RemoteID)

	page, err = s.List(ctx, "u1", ListQuery{Search: "nomatch"})
	require.NoError(t, err)
	require.Equal(t, 0, page.Total)
	require.Equal(t, 0, page.Pages)
	require.Empty(t, page.Messages)
}

func TestAudio(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Now()

	for i := 0; i < 3; i++ {
		a := &Audio{
			UserID:     "u1",
			Filename:   fmt.Sprintf("summary_%d.mp3", i),
			URL:        fmt.Sprintf("/audio/summary_%d.mp3", i),
			FileSize:   int64(100 * i),
			EmailCount: 10,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.CreateAudio(ctx, a))
		require.NotEmpty(t, a.ID)
	}

	list, err := s.ListAudio(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "summary_2.mp3", list[0].Filename)
	require.Equal(t, "all", list[0].DateFilter)

	none, err := s.ListAudio(ctx, "u2", 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, p)

	require.NoError(t, s.SaveProfile(ctx, &Profile{
		UserID:             "u1",
		Interests:          []string{"climbing"},
		Company:            "Acme",
		BestFriend:         &Person{Name: "Sam", Email: "sam@example.com"},
		FrequentTopics:     []Topic{{Topic: "travel", Frequency: 3}},
		AnalyzedEmailCount: 12,
	}))

	p, err = s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", p.UserID)
	require.Equal(t, []string{"climbing"}, p.Interests)
	require.Equal(t, "Sam", p.BestFriend.Name)
	require.Equal(t, 12, p.AnalyzedEmailCount)
	require.False(t, p.LastAnalyzed.IsZero())

	require.NoError(t, s.SaveProfile(ctx, &Profile{UserID: "u1", Company: "Globex", AnalyzedEmailCount: 3}))
	p, err = s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Globex", p.Company)
	require.Nil(t, p.BestFriend)

	require.NoError(t, s.DeleteProfile(ctx, "u1"))
	p, err = s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, p)
}
