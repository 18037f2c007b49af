package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/ai-mail-reader/internal/archive/sqlite"
	"github.com/Martian-dev/ai-mail-reader/internal/auth"
	"github.com/Martian-dev/ai-mail-reader/internal/mailerr"
	"github.com/Martian-dev/ai-mail-reader/internal/providers/gmail"
	"github.com/Martian-dev/ai-mail-reader/internal/store"
	"github.com/Martian-dev/ai-mail-reader/internal/sync"
)

type syncRequest struct {
	MaxResults int             `json:"maxResults"`
	FullSync   bool            `json:"fullSync"`
	DateFilter sync.DateFilter `json:"dateFilter"`
}

type unreadRequest struct {
	MaxResults int             `json:"maxResults"`
	DateFilter sync.DateFilter `json:"dateFilter"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// bindOptional binds a JSON body that may be absent entirely.
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}

func (s *Server) authURL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authUrl": s.OAuth.AuthCodeURL("")})
}

// authRedirect is Google's redirect target. It hands the code to the
// dashboard, which posts it back with the user's session.
func (s *Server) authRedirect(c *gin.Context) {
	q := url.Values{}
	switch {
	case c.Query("error") != "":
		q.Set("error", c.Query("error"))
	case c.Query("code") == "":
		q.Set("error", "no_code")
	default:
		q.Set("code", c.Query("code"))
	}
	c.Redirect(http.StatusFound, s.FrontendURL+"?"+q.Encode())
}

// exchangeCode trades a consent code for tokens and stores them for the caller.
func (s *Server) exchangeCode(c *gin.Context) {
	var req codeRequest
	if err := bindOptional(c, &req); err != nil || req.Code == "" {
		badRequest(c, "Authorization code is required")
		return
	}

	ctx := c.Request.Context()
	userID := auth.UserID(c)

	tok, err := s.OAuth.Exchange(ctx, req.Code)
	if err != nil {
		s.fail(c, err, "Failed to exchange code for token")
		return
	}

	existing, err := s.Users.GetCredential(ctx, userID)
	if err != nil {
		s.fail(c, err, "Failed to exchange code for token")
		return
	}

	cred := &store.Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	// Google only returns a refresh token on first consent.
	if cred.RefreshToken == "" && existing != nil {
		cred.RefreshToken = existing.RefreshToken
	}
	if err := s.Users.SaveCredential(ctx, cred); err != nil {
		s.fail(c, err, "Failed to exchange code for token")
		return
	}

	var expiresIn int64
	if !tok.Expiry.IsZero() {
		expiresIn = tok.Expiry.UnixMilli()
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  tok.AccessToken,
		"refreshToken": tok.RefreshToken,
		"expiresIn":    expiresIn,
		"hasGmailAuth": true,
	})
}

func (s *Server) unreadEmails(c *gin.Context) {
	var req unreadRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.DateFilter.Valid() {
		badRequest(c, "Invalid dateFilter")
		return
	}

	emails, err := s.Syncs.FetchUnread(c.Request.Context(), auth.UserID(c), sync.Options{
		MaxResults: req.MaxResults,
		DateFilter: req.DateFilter,
	})
	if err != nil {
		s.fail(c, err, "Failed to fetch emails")
		return
	}

	c.JSON(http.StatusOK, gin.H{"emails": emails})
}

func (s *Server) runSync(c *gin.Context) {
	var req syncRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.DateFilter.Valid() {
		badRequest(c, "Invalid dateFilter")
		return
	}

	stats, err := s.Syncs.Sync(c.Request.Context(), auth.UserID(c), sync.Options{
		MaxResults: req.MaxResults,
		FullSync:   req.FullSync,
		DateFilter: req.DateFilter,
	})
	if err != nil {
		s.fail(c, err, "Failed to sync emails")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Sync complete.",
		"stats":   stats,
	})
}

func (s *Server) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": s.Syncs.IsRunning(auth.UserID(c))})
}

func (s *Server) listEmails(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := s.Archive.List(c.Request.Context(), auth.UserID(c), sqlite.ListQuery{
		Page:   page,
		Limit:  limit,
		Search: c.Query("search"),
	})
	if err != nil {
		s.fail(c, err, "Failed to fetch emails")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"emails": result.Messages,
		"pagination": gin.H{
			"total": result.Total,
			"page":  result.Page,
			"pages": result.Pages,
		},
	})
}

func (s *Server) send(c *gin.Context) {
	var req sendRequest
	if err := bindOptional(c, &req); err != nil || req.To == "" || req.Subject == "" || req.Body == "" {
		badRequest(c, "To, Subject, and Body are required")
		return
	}

	raw, err := gmail.BuildMessage(gmail.Outgoing{To: req.To, Subject: req.Subject, Body: req.Body}, s.now())
	if err != nil {
		badRequest(c, "Invalid recipient address")
		return
	}

	ctx := c.Request.Context()
	cred, err := s.Users.GetCredential(ctx, auth.UserID(c))
	if err != nil {
		s.fail(c, err, "Failed to send email")
		return
	}
	if !cred.Usable() {
		s.fail(c, mailerr.ErrGmailNotConnected, "Failed to send email")
		return
	}

	var id, threadID string
	_, err = s.OAuth.Authorize(ctx, cred, func(ctx context.Context, accessToken string) error {
		var sendErr error
		id, threadID, sendErr = s.Mailer.Send(ctx, accessToken, raw)
		return sendErr
	})
	if err != nil {
		s.fail(c, err, "Failed to send email")
		return
	}

	s.Log.WithField("user_id", cred.UserID).WithField("message_id", id).Info("Sent email")
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Email sent successfully",
		"id":       id,
		"threadId": threadID,
	})
}
