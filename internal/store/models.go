package store

import (
	"time"
)

// Preferences are per-user settings shown in the dashboard.
type Preferences struct {
	DefaultVoiceID    string `json:"defaultVoiceId"`
	AutoGenerateAudio bool   `json:"autoGenerateAudio"`
}

type User struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Password    string      `json:"-"`
	Name        string      `json:"name"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Credential is the Gmail OAuth2 token pair stored for a user.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time // zero when the provider did not report one
	UpdatedAt    time.Time
}

// Usable reports whether any remote call can succeed with c.
func (c *Credential) Usable() bool {
	return c != nil && (c.AccessToken != "" || c.RefreshToken != "")
}
