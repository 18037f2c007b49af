package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAudio records a generated speech file, assigning its id.
func (s *Store) CreateAudio(ctx context.Context, a *Audio) error {
	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.DateFilter == "" {
		a.DateFilter = "all"
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO audio (id, user_id, filename, url, text_preview, voice_id, file_size, email_count, date_filter, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.Filename, a.URL, a.TextPreview, a.VoiceID, a.FileSize, a.EmailCount, a.DateFilter,
		a.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert audio: %w", err)
	}

	return nil
}

// ListAudio returns the user's most recent audio files, newest first.
func (s *Store) ListAudio(ctx context.Context, userID string, limit int) ([]Audio, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, filename, url, text_preview, voice_id, file_size, email_count, date_filter, created_at
		FROM audio
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audio: %w", err)
	}
	defer rows.Close()

	audio := []Audio{}
	for rows.Next() {
		var (
			a         Audio
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Filename, &a.URL, &a.TextPreview, &a.VoiceID, &a.FileSize,
			&a.EmailCount, &a.DateFilter, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audio row: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdAt)
		audio = append(audio, a)
	}

	return audio, rows.Err()
}
