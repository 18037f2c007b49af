// Package oauth owns the Gmail OAuth2 token lifecycle: consent URL, code
// exchange, and refresh-and-retry when the provider rejects an access token.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/ai-mail-reader/internal/mailerr"
	"github.com/Martian-dev/ai-mail-reader/internal/store"
)

// Scopes requested on consent.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
}

// CredentialStore persists refreshed tokens. An empty refreshToken leaves the
// stored one in place.
type CredentialStore interface {
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error
}

// Call is one remote operation made with an access token.
type Call func(ctx context.Context, accessToken string) error

// Refresher hands out working access tokens for stored credentials.
type Refresher struct {
	config *oauth2.Config
	creds  CredentialStore
	log    logrus.FieldLogger
}

// NewConfig builds the Google OAuth2 client configuration.
func NewConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
}

func NewRefresher(config *oauth2.Config, creds CredentialStore, log logrus.FieldLogger) *Refresher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Refresher{config: config, creds: creds, log: log}
}

// AuthCodeURL returns the consent page URL. Offline access with forced consent
// makes Google issue a refresh token every time.
func (r *Refresher) AuthCodeURL(state string) string {
	return r.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token pair.
func (r *Refresher) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := r.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// Authorize runs call with the stored access token. If the provider rejects it
// and a refresh token is available, the access token is refreshed, persisted,
// and call is retried exactly once. It returns the access token that worked so
// follow-up calls in the same request can reuse it.
//
// A missing refresh token, a rejected refresh, or a retry that is rejected
// again yields mailerr.ErrReauthRequired. Other errors are returned as is.
func (r *Refresher) Authorize(ctx context.Context, cred *store.Credential, call Call) (string, error) {
	if !cred.Usable() {
		return "", mailerr.ErrGmailNotConnected
	}

	log := r.log.WithField("user_id", cred.UserID)

	if cred.AccessToken != "" {
		err := call(ctx, cred.AccessToken)
		if err == nil {
			return cred.AccessToken, nil
		}
		if !errors.Is(err, mailerr.ErrUnauthorized) {
			return "", err
		}
		log.WithError(err).Info("Access token rejected")
	}

	if cred.RefreshToken == "" {
		return "", fmt.Errorf("no refresh token stored: %w", mailerr.ErrReauthRequired)
	}

	accessToken, err := r.refresh(ctx, cred)
	if err != nil {
		return "", err
	}

	if err := call(ctx, accessToken); err != nil {
		if errors.Is(err, mailerr.ErrUnauthorized) {
			return "", fmt.Errorf("refreshed token rejected: %w", mailerr.ErrReauthRequired)
		}
		return "", err
	}

	return accessToken, nil
}

// refresh mints a new access token and stores it before it is used.
func (r *Refresher) refresh(ctx context.Context, cred *store.Credential) (string, error) {
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", fmt.Errorf("refresh token rejected (%s): %w", retrieveErr.ErrorCode, mailerr.ErrReauthRequired)
		}
		return "", fmt.Errorf("failed to refresh access token: %v: %w", err, mailerr.ErrRemoteUnavailable)
	}

	// Google may rotate the refresh token.
	var rotated string
	if tok.RefreshToken != "" && tok.RefreshToken != cred.RefreshToken {
		rotated = tok.RefreshToken
	}

	if err := r.creds.UpdateTokens(ctx, cred.UserID, tok.AccessToken, rotated, tok.Expiry); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	cred.AccessToken = tok.AccessToken
	cred.Expiry = tok.Expiry
	if rotated != "" {
		cred.RefreshToken = rotated
	}

	r.log.WithField("user_id", cred.UserID).Info("Refreshed Gmail access token")
	return tok.AccessToken, nil
}
