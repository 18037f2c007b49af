package api

import (
	"errors"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/ai-mail-reader/internal/archive/sqlite"
	"github.com/Martian-dev/ai-mail-reader/internal/assistant"
	"github.com/Martian-dev/ai-mail-reader/internal/auth"
	"github.com/Martian-dev/ai-mail-reader/internal/speech"
)

const textPreviewLength = 200

type emailsRequest struct {
	Emails []assistant.Email `json:"emails"`
}

type polishRequest struct {
	Draft string `json:"draft"`
	Tone  string `json:"tone"`
}

type audioRequest struct {
	Text       string `json:"text"`
	VoiceID    string `json:"voiceId"`
	EmailCount int    `json:"emailCount"`
	DateFilter string `json:"dateFilter"`
}

func bindEmails(c *gin.Context) ([]assistant.Email, bool) {
	var req emailsRequest
	if err := bindOptional(c, &req); err != nil || len(req.Emails) == 0 {
		badRequest(c, "Emails array is required")
		return nil, false
	}
	return req.Emails, true
}

func (s *Server) summarize(c *gin.Context) {
	emails, ok := bindEmails(c)
	if !ok {
		return
	}

	summary, err := s.Assistant.Summarize(c.Request.Context(), emails)
	if err != nil {
		s.fail(c, err, "Failed to summarize emails")
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (s *Server) polish(c *gin.Context) {
	var req polishRequest
	if err := bindOptional(c, &req); err != nil || req.Draft == "" {
		badRequest(c, "Draft content is required")
		return
	}

	polished, err := s.Assistant.Polish(c.Request.Context(), req.Draft, req.Tone)
	if err != nil {
		s.fail(c, err, "Failed to polish email")
		return
	}

	c.JSON(http.StatusOK, gin.H{"polished": polished})
}

func (s *Server) analyze(c *gin.Context) {
	emails, ok := bindEmails(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	profile, err := s.Assistant.Analyze(ctx, auth.UserID(c), emails)
	if errors.Is(err, assistant.ErrInvalidAnalysis) {
		s.fail(c, err, "Failed to parse analysis results")
		return
	}
	if err != nil {
		s.fail(c, err, "Failed to analyze emails")
		return
	}

	if err := s.Archive.SaveProfile(ctx, profile); err != nil {
		s.fail(c, err, "Failed to analyze emails")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Analysis completed successfully",
		"analysis": profile,
	})
}

func (s *Server) getAnalysis(c *gin.Context) {
	profile, err := s.Archive.GetProfile(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.fail(c, err, "Failed to fetch analysis")
		return
	}
	if profile == nil {
		c.JSON(http.StatusOK, gin.H{"message": "No analysis available", "analysis": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"analysis": profile})
}

func (s *Server) deleteAnalysis(c *gin.Context) {
	if err := s.Archive.DeleteProfile(c.Request.Context(), auth.UserID(c)); err != nil {
		s.fail(c, err, "Failed to delete analysis")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Analysis deleted successfully"})
}

// generateAudio speaks text, stores the file and records it in the user's
// audio history. The voice falls back to the user's preference, then the
// configured default.
func (s *Server) generateAudio(c *gin.Context) {
	var req audioRequest
	if err := bindOptional(c, &req); err != nil || req.Text == "" {
		badRequest(c, "Text is required")
		return
	}

	ctx := c.Request.Context()
	userID := auth.UserID(c)

	voiceID := req.VoiceID
	if voiceID == "" {
		user, err := s.Users.GetUserByID(ctx, userID)
		if err != nil {
			s.fail(c, err, "Failed to generate audio")
			return
		}
		if user != nil {
			voiceID = user.Preferences.DefaultVoiceID
		}
	}
	if voiceID == "" {
		voiceID = s.DefaultVoiceID
	}

	audio, err := s.Speech.Synthesize(ctx, req.Text, voiceID)
	if errors.Is(err, speech.ErrNotConfigured) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ElevenLabs API key not configured"})
		return
	}
	if err != nil {
		s.fail(c, err, "Failed to generate audio")
		return
	}

	filename, err := s.AudioDir.Save(audio)
	if err != nil {
		s.fail(c, err, "Failed to generate audio")
		return
	}

	record := &sqlite.Audio{
		UserID:      userID,
		Filename:    filename,
		URL:         "/audio/" + filename,
		TextPreview: preview(req.Text, textPreviewLength),
		VoiceID:     voiceID,
		FileSize:    int64(len(audio)),
		EmailCount:  req.EmailCount,
		DateFilter:  req.DateFilter,
	}
	if err := s.Archive.CreateAudio(ctx, record); err != nil {
		s.fail(c, err, "Failed to generate audio")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       record.ID,
		"filename": filename,
		"url":      record.URL,
		"message":  "Audio generated successfully",
	})
}

func (s *Server) voices(c *gin.Context) {
	voices, err := s.Speech.Voices(c.Request.Context())
	if errors.Is(err, speech.ErrNotConfigured) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ElevenLabs API key not configured"})
		return
	}
	if err != nil {
		s.fail(c, err, "Failed to fetch voices")
		return
	}

	c.JSON(http.StatusOK, gin.H{"voices": voices})
}

func (s *Server) audioHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	history, err := s.Archive.ListAudio(c.Request.Context(), auth.UserID(c), limit)
	if err != nil {
		s.fail(c, err, "Failed to fetch audio history")
		return
	}

	c.JSON(http.StatusOK, gin.H{"audio": history})
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
