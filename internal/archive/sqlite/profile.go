package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// SaveProfile replaces the stored profile of p.UserID.
func (s *Store) SaveProfile(ctx context.Context, p *Profile) error {
	if p.LastAnalyzed.IsZero() {
		p.LastAnalyzed = time.Now()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO profiles (user_id, data_json, analyzed_email_count, last_analyzed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			data_json = excluded.data_json,
			analyzed_email_count = excluded.analyzed_email_count,
			last_analyzed = excluded.last_analyzed,
			updated_at = excluded.updated_at
	`, p.UserID, string(data), p.AnalyzedEmailCount, p.LastAnalyzed.UnixMilli(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

// GetProfile returns nil when the user has not been analyzed.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var (
		data         string
		count        int
		lastAnalyzed int64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT data_json, analyzed_email_count, last_analyzed FROM profiles WHERE user_id = ?
	`, userID).Scan(&data, &count, &lastAnalyzed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	p.UserID = userID
	p.AnalyzedEmailCount = count
	p.LastAnalyzed = time.UnixMilli(lastAnalyzed)

	return &p, nil
}

func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM profiles WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}
