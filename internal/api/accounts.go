package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/ai-mail-reader/internal/auth"
	"github.com/Martian-dev/ai-mail-reader/internal/store"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	Name        *string `json:"name"`
	Preferences *struct {
		DefaultVoiceID    *string `json:"defaultVoiceId"`
		AutoGenerateAudio *bool   `json:"autoGenerateAudio"`
	} `json:"preferences"`
}

type gmailTokensRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // expiry as unix milliseconds
}

func userJSON(u *store.User) gin.H {
	return gin.H{
		"id":          u.ID,
		"email":       u.Email,
		"name":        u.Name,
		"preferences": u.Preferences,
	}
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, err := s.Auth.CreateUser(c.Request.Context(), req.Email, req.Password, req.Name)
	switch {
	case errors.Is(err, auth.ErrMissingFields):
		badRequest(c, "Email and password are required")
		return
	case errors.Is(err, auth.ErrPasswordTooShort):
		badRequest(c, "Password must be at least 6 characters")
		return
	case errors.Is(err, store.ErrEmailTaken):
		badRequest(c, "User with this email already exists")
		return
	case err != nil:
		s.fail(c, err, "Failed to create user")
		return
	}

	token, err := s.JWT.Issue(user.ID, user.Email)
	if err != nil {
		s.fail(c, err, "Failed to create user")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User created successfully",
		"token":   token,
		"user":    userJSON(user),
	})
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, err := s.Auth.ValidateUser(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrMissingFields):
		badRequest(c, "Email and password are required")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	case err != nil:
		s.fail(c, err, "Failed to login")
		return
	}

	connected, err := s.hasGmailAuth(c, user.ID)
	if err != nil {
		s.fail(c, err, "Failed to login")
		return
	}

	token, err := s.JWT.Issue(user.ID, user.Email)
	if err != nil {
		s.fail(c, err, "Failed to login")
		return
	}

	body := userJSON(user)
	body["hasGmailAuth"] = connected
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   token,
		"user":    body,
	})
}

func (s *Server) hasGmailAuth(c *gin.Context, userID string) (bool, error) {
	cred, err := s.Users.GetCredential(c.Request.Context(), userID)
	if err != nil {
		return false, err
	}
	return cred.Usable(), nil
}

func (s *Server) getProfile(c *gin.Context) {
	userID := auth.UserID(c)

	user, err := s.Users.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err, "Failed to get profile")
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	connected, err := s.hasGmailAuth(c, userID)
	if err != nil {
		s.fail(c, err, "Failed to get profile")
		return
	}

	body := userJSON(user)
	body["hasGmailAuth"] = connected
	body["createdAt"] = user.CreatedAt
	c.JSON(http.StatusOK, gin.H{"user": body})
}

func (s *Server) updateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	userID := auth.UserID(c)

	user, err := s.Users.GetUserByID(ctx, userID)
	if err != nil {
		s.fail(c, err, "Failed to update profile")
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var prefs *store.Preferences
	if p := req.Preferences; p != nil {
		merged := user.Preferences
		if p.DefaultVoiceID != nil {
			merged.DefaultVoiceID = *p.DefaultVoiceID
		}
		if p.AutoGenerateAudio != nil {
			merged.AutoGenerateAudio = *p.AutoGenerateAudio
		}
		prefs = &merged
	}

	user, err = s.Users.UpdateProfile(ctx, userID, req.Name, prefs)
	if err != nil {
		s.fail(c, err, "Failed to update profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Profile updated successfully",
		"user":    userJSON(user),
	})
}

// updateGmailTokens merges the provided fields into the stored credential.
func (s *Server) updateGmailTokens(c *gin.Context) {
	var req gmailTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	userID := auth.UserID(c)

	cred, err := s.Users.GetCredential(ctx, userID)
	if err != nil {
		s.fail(c, err, "Failed to update Gmail tokens")
		return
	}
	if cred == nil {
		cred = &store.Credential{UserID: userID}
	}

	if req.AccessToken != "" {
		cred.AccessToken = req.AccessToken
	}
	if req.RefreshToken != "" {
		cred.RefreshToken = req.RefreshToken
	}
	if req.ExpiresIn > 0 {
		cred.Expiry = time.UnixMilli(req.ExpiresIn)
	}

	if err := s.Users.SaveCredential(ctx, cred); err != nil {
		s.fail(c, err, "Failed to update Gmail tokens")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Gmail tokens updated successfully",
		"hasGmailAuth": cred.Usable(),
	})
}

// logout is a no-op on the server; tokens are stateless and dropped by the client.
func (s *Server) logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
