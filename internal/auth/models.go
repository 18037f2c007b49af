package auth

import "time"

// Principal is the caller resolved from a bearer token.
type Principal struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}
