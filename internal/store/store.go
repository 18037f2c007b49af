package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// ErrEmailTaken is returned by CreateUser for a duplicate email.
var ErrEmailTaken = errors.New("user with this email already exists")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	default_voice_id TEXT NOT NULL DEFAULT '',
	auto_generate_audio INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS gmail_credentials (
	user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	access_token TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expiry INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
`

// Store keeps user accounts and their Gmail credentials.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser inserts u, assigning its ID and timestamps.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	now := time.Now()
	u.ID = uuid.NewString()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password, name, default_voice_id, auto_generate_audio, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.Password, u.Name, u.Preferences.DefaultVoiceID, u.Preferences.AutoGenerateAudio,
		now.Unix(), now.Unix())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

const userColumns = `id, email, password, name, default_voice_id, auto_generate_audio, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var (
		u                    User
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Name, &u.Preferences.DefaultVoiceID,
		&u.Preferences.AutoGenerateAudio, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	u.UpdatedAt = time.Unix(updatedAt, 0)
	return &u, nil
}

// GetUserByEmail returns nil when no user has that email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

// GetUserByID returns nil when the user does not exist.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// UpdateProfile changes the name and/or preferences; nil arguments are left alone.
func (s *Store) UpdateProfile(ctx context.Context, id string, name *string, prefs *Preferences) (*User, error) {
	u, err := s.GetUserByID(ctx, id)
	if err != nil || u == nil {
		return u, err
	}

	if name != nil {
		u.Name = *name
	}
	if prefs != nil {
		u.Preferences = *prefs
	}
	u.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		UPDATE users SET name = ?, default_voice_id = ?, auto_generate_audio = ?, updated_at = ?
		WHERE id = ?
	`, u.Name, u.Preferences.DefaultVoiceID, u.Preferences.AutoGenerateAudio, u.UpdatedAt.Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return u, nil
}

// SaveCredential creates or overwrites the credential of c.UserID.
func (s *Store) SaveCredential(ctx context.Context, c *Credential) error {
	c.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gmail_credentials (user_id, access_token, refresh_token, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at
	`, c.UserID, c.AccessToken, c.RefreshToken, unixOrZero(c.Expiry), c.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

// GetCredential returns nil when the user never connected Gmail.
func (s *Store) GetCredential(ctx context.Context, userID string) (*Credential, error) {
	var (
		c                 Credential
		expiry, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, access_token, refresh_token, expiry, updated_at
		FROM gmail_credentials WHERE user_id = ?
	`, userID).Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &expiry, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	if expiry != 0 {
		c.Expiry = time.Unix(expiry, 0)
	}
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

// UpdateTokens stores refreshed tokens. An empty refreshToken keeps the
// stored one.
func (s *Store) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gmail_credentials
		SET access_token = ?, refresh_token = COALESCE(NULLIF(?, ''), refresh_token), expiry = ?, updated_at = ?
		WHERE user_id = ?
	`, accessToken, refreshToken, unixOrZero(expiry), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no credential stored for user %s", userID)
	}
	return nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
