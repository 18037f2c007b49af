// Package mailerr holds the error kinds shared by the Gmail client, the token
// refresher and the sync engine. Callers wrap them with fmt.Errorf("...: %w")
// and match with errors.Is.
package mailerr

import "errors"

var (
	// ErrGmailNotConnected means the user never stored a usable credential.
	ErrGmailNotConnected = errors.New("gmail account not connected")

	// ErrReauthRequired means both the access token and the refresh token were
	// rejected. The user has to go through OAuth consent again.
	ErrReauthRequired = errors.New("gmail authorization expired, reconnect required")

	// ErrUnauthorized is returned by the remote client when the provider
	// rejects the access token. It never reaches HTTP callers.
	ErrUnauthorized = errors.New("access token rejected")

	ErrRateLimited       = errors.New("provider rate limit exceeded")
	ErrRemoteUnavailable = errors.New("mail provider unavailable")
	ErrNotFound          = errors.New("not found")
)
