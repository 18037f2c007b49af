// Package sqlite is the local archive: synced messages, generated audio and
// inferred user profiles, kept in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Store is the archive database.
type Store struct {
	DB *sql.DB
}

// Open opens or creates the archive database
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

const messageColumns = `id, user_id, remote_id, thread_id, subject, sender, recipient, date, snippet, body,
	labels_json, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m                          Message
		date, createdAt, updatedAt int64
		labelsJSON                 string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.RemoteID, &m.ThreadID, &m.Subject, &m.From, &m.To, &date,
		&m.Snippet, &m.Body, &labelsJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(labelsJSON), &m.Labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	m.Date = time.UnixMilli(date)
	m.CreatedAt = time.Unix(createdAt, 0)
	m.UpdatedAt = time.Unix(updatedAt, 0)

	return &m, nil
}

// FindByRemoteID returns nil when the message was never archived for userID.
func (s *Store) FindByRemoteID(ctx context.Context, userID, remoteID string) (*Message, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE user_id = ? AND remote_id = ?
	`, userID, remoteID)

	m, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}

	return m, nil
}

// Upsert inserts m or, if (user, remote id) is already archived, refreshes its
// labels and snippet. The existing row keeps its id and created_at. created
// reports whether a new row was written. m.ID is set to the row's id.
func (s *Store) Upsert(ctx context.Context, m *Message) (created bool, err error) {
	if m.Subject == "" {
		m.Subject = "No Subject"
	}
	if m.From == "" {
		m.From = "Unknown"
	}
	if m.Labels == nil {
		m.Labels = []string{}
	}

	labelsJSON, err := json.Marshal(m.Labels)
	if err != nil {
		return false, fmt.Errorf("failed to encode labels: %w", err)
	}

	newID := uuid.NewString()
	now := time.Now()

	var id string
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, remote_id) DO UPDATE SET
			labels_json = excluded.labels_json,
			snippet = excluded.snippet,
			updated_at = excluded.updated_at
		RETURNING id
	`, newID, m.UserID, m.RemoteID, m.ThreadID, m.Subject, m.From, m.To, m.Date.UnixMilli(),
		m.Snippet, m.Body, string(labelsJSON), now.Unix(), now.Unix()).Scan(&id)
	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}

	m.ID = id
	m.UpdatedAt = now
	if id == newID {
		m.CreatedAt = now
		return true, nil
	}
	return false, nil
}

// List returns one page of the user's archive ordered by message date,
// newest first.
func (s *Store) List(ctx context.Context, userID string, q ListQuery) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}

	where := "user_id = ?"
	args := []any{userID}
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		where += ` AND (lower(subject) LIKE ? ESCAPE '\' OR lower(sender) LIKE ? ESCAPE '\' OR lower(snippet) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern, pattern)
	}

	var total int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+where+`
		ORDER BY date DESC, id
		LIMIT ? OFFSET ?
	`, append(args, q.Limit, (q.Page-1)*q.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return &Page{
		Messages: messages,
		Total:    total,
		Page:     q.Page,
		Pages:    (total + q.Limit - 1) / q.Limit,
	}, nil
}

// Count returns how many messages are archived for userID.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE user_id = ?", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
