package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bradenaw/juniper/parallel"
	"github.com/bradenaw/juniper/xslices"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/ai-mail-reader/internal/archive/sqlite"
	"github.com/Martian-dev/ai-mail-reader/internal/mailerr"
	"github.com/Martian-dev/ai-mail-reader/internal/mimetext"
	"github.com/Martian-dev/ai-mail-reader/internal/oauth"
	"github.com/Martian-dev/ai-mail-reader/internal/store"
)

const (
	// BatchSize bounds the number of in-flight message fetches.
	BatchSize = 10

	DefaultMaxResults = 50
	MaxResultsCap     = 50
	FullSyncMax       = 200

	DefaultUnreadMax = 10
	UnreadBodyLimit  = 1000
)

type Credentials interface {
	GetCredential(ctx context.Context, userID string) (*store.Credential, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, cred *store.Credential, call oauth.Call) (string, error)
}

type Archive interface {
	FindByRemoteID(ctx context.Context, userID, remoteID string) (*sqlite.Message, error)
	Upsert(ctx context.Context, m *sqlite.Message) (bool, error)
}

// Options control a single sync or unread fetch.
type Options struct {
	MaxResults int
	FullSync   bool
	DateFilter DateFilter
	UnreadOnly bool
}

func (o Options) limit(def int) int64 {
	if o.FullSync {
		return FullSyncMax
	}
	n := o.MaxResults
	if n <= 0 {
		n = def
	}
	if n > MaxResultsCap {
		n = MaxResultsCap
	}
	return int64(n)
}

// Stats are the counters returned by Sync. They are never rolled back.
type Stats struct {
	Checked int `json:"checked"`
	Added   int `json:"added"`
}

// Email is an unread message as returned to the dashboard. Date is the
// message's Date header, or empty when it has none.
type Email struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
	Body    string `json:"body"`
}

// Engine pulls messages from the provider into the local archive.
type Engine struct {
	creds   Credentials
	auth    Authorizer
	remote  Remote
	archive Archive
	log     logrus.FieldLogger

	// Clock is used for date filters and for messages without a date.
	Clock func() time.Time
}

func NewEngine(creds Credentials, auth Authorizer, remote Remote, archive Archive, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		creds:   creds,
		auth:    auth,
		remote:  remote,
		archive: archive,
		log:     log,
		Clock:   time.Now,
	}
}

// Sync lists the user's messages matching opts and archives the ones not
// seen before. Messages are fetched in batches of BatchSize: concurrently
// within a batch, one batch after the other. A message that fails is logged
// and skipped. A sync runs to completion even if ctx is canceled.
func (e *Engine) Sync(ctx context.Context, userID string, opts Options) (Stats, error) {
	ctx = context.WithoutCancel(ctx)

	ids, token, err := e.list(ctx, userID, opts, DefaultMaxResults)
	if err != nil {
		return Stats{}, err
	}

	log := e.log.WithField("user_id", userID)
	log.WithField("count", len(ids)).Info("Found messages to sync check")

	var added atomic.Int64
	for _, batch := range xslices.Chunk(ids, BatchSize) {
		parallel.Do(BatchSize, len(batch), func(i int) {
			created, err := e.syncMessage(ctx, userID, token, batch[i])
			if err != nil {
				log.WithField("message_id", batch[i]).WithError(err).Warn("Failed to sync message")
				return
			}
			if created {
				added.Add(1)
			}
		})
	}

	stats := Stats{Checked: len(ids), Added: int(added.Load())}
	log.WithField("checked", stats.Checked).WithField("added", stats.Added).Info("Sync complete")

	return stats, nil
}

func (e *Engine) syncMessage(ctx context.Context, userID, token, id string) (bool, error) {
	existing, err := e.archive.FindByRemoteID(ctx, userID, id)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	raw, err := e.remote.GetMessage(ctx, token, id)
	if err != nil {
		return false, err
	}

	return e.archive.Upsert(ctx, e.toArchived(userID, raw))
}

func (e *Engine) toArchived(userID string, raw *RawMessage) *sqlite.Message {
	body := mimetext.Decode(raw.Payload)
	if body == "" {
		body = raw.Snippet
	}

	date := raw.Date
	if date.IsZero() {
		date = e.Clock()
	}

	return &sqlite.Message{
		UserID:   userID,
		RemoteID: raw.ID,
		ThreadID: raw.ThreadID,
		Subject:  raw.Header("Subject"),
		From:     raw.Header("From"),
		To:       raw.Header("To"),
		Date:     date,
		Snippet:  raw.Snippet,
		Body:     body,
		Labels:   raw.LabelIDs,
	}
}

// FetchUnread returns the user's unread messages without archiving them, in
// the order the provider listed them. Bodies are cut to UnreadBodyLimit
// characters. Messages that fail to load are left out.
func (e *Engine) FetchUnread(ctx context.Context, userID string, opts Options) ([]Email, error) {
	opts.UnreadOnly = true
	opts.FullSync = false

	ids, token, err := e.list(ctx, userID, opts, DefaultUnreadMax)
	if err != nil {
		return nil, err
	}

	log := e.log.WithField("user_id", userID)
	results := make([]*Email, len(ids))

	for start, batch := range xslices.Chunk(ids, BatchSize) {
		offset := start * BatchSize
		parallel.Do(BatchSize, len(batch), func(i int) {
			raw, err := e.remote.GetMessage(ctx, token, batch[i])
			if err != nil {
				log.WithField("message_id", batch[i]).WithError(err).Warn("Failed to fetch message")
				return
			}
			results[offset+i] = e.toEmail(raw)
		})
	}

	emails := make([]Email, 0, len(ids))
	for _, r := range results {
		if r != nil {
			emails = append(emails, *r)
		}
	}
	return emails, nil
}

func (e *Engine) toEmail(raw *RawMessage) *Email {
	subject := raw.Header("Subject")
	if subject == "" {
		subject = "No Subject"
	}
	from := raw.Header("From")
	if from == "" {
		from = "Unknown"
	}
	date := raw.Header("Date")
	if date == "" && !raw.Date.IsZero() {
		date = raw.Date.Format(time.RFC1123Z)
	}

	return &Email{
		ID:      raw.ID,
		Subject: subject,
		From:    from,
		Date:    date,
		Snippet: raw.Snippet,
		Body:    truncate(mimetext.Decode(raw.Payload), UnreadBodyLimit),
	}
}

// list loads the credential and makes the one authorized list call. The
// returned token is the one every later call in this request uses.
func (e *Engine) list(ctx context.Context, userID string, opts Options, def int) ([]string, string, error) {
	cred, err := e.creds.GetCredential(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load credential: %w", err)
	}
	if !cred.Usable() {
		return nil, "", mailerr.ErrGmailNotConnected
	}

	query := BuildQuery(e.Clock(), opts.UnreadOnly, opts.DateFilter)
	limit := opts.limit(def)

	var ids []string
	token, err := e.auth.Authorize(ctx, cred, func(ctx context.Context, accessToken string) error {
		var err error
		ids, err = e.remote.ListMessageIDs(ctx, accessToken, query, limit)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list messages: %w", err)
	}

	return ids, token, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
