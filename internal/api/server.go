// Package api is the JSON HTTP surface of the mail reader, built on gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/Martian-dev/ai-mail-reader/internal/archive/sqlite"
	"github.com/Martian-dev/ai-mail-reader/internal/assistant"
	"github.com/Martian-dev/ai-mail-reader/internal/auth"
	"github.com/Martian-dev/ai-mail-reader/internal/oauth"
	"github.com/Martian-dev/ai-mail-reader/internal/speech"
	"github.com/Martian-dev/ai-mail-reader/internal/store"
	"github.com/Martian-dev/ai-mail-reader/internal/sync"
)

type Syncer interface {
	Sync(ctx context.Context, userID string, opts sync.Options) (sync.Stats, error)
	FetchUnread(ctx context.Context, userID string, opts sync.Options) ([]sync.Email, error)
	IsRunning(userID string) bool
}

type OAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Authorize(ctx context.Context, cred *store.Credential, call oauth.Call) (string, error)
}

type Mailer interface {
	Send(ctx context.Context, accessToken string, raw []byte) (id, threadID string, err error)
}

type Assistant interface {
	Summarize(ctx context.Context, emails []assistant.Email) (string, error)
	Polish(ctx context.Context, draft, tone string) (string, error)
	Analyze(ctx context.Context, userID string, emails []assistant.Email) (*sqlite.Profile, error)
}

type Speech interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
	Voices(ctx context.Context) ([]speech.Voice, error)
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Auth      *auth.AuthService
	JWT       *auth.JWTVerifier
	Users     *store.Store
	Archive   *sqlite.Store
	Syncs     Syncer
	OAuth     OAuth
	Mailer    Mailer
	Assistant Assistant
	Speech    Speech
	AudioDir  *speech.AudioDir

	FrontendURL    string
	DefaultVoiceID string
	Log            logrus.FieldLogger
}

type Server struct {
	Deps
	now func() time.Time
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.DefaultVoiceID == "" {
		d.DefaultVoiceID = speech.DefaultVoiceID
	}
	return &Server{Deps: d, now: time.Now}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors(s.FrontendURL))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Server is running"})
	})
	r.Static("/audio", s.AudioDir.Path())

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", s.register)
	authGroup.POST("/login", s.login)

	gmailGroup := api.Group("/gmail")
	gmailGroup.GET("/auth-url", s.authURL)
	gmailGroup.GET("/auth-callback", s.authRedirect)

	protected := api.Group("")
	protected.Use(auth.Middleware(s.JWT))

	protected.GET("/auth/profile", s.getProfile)
	protected.PUT("/auth/profile", s.updateProfile)
	protected.PUT("/auth/gmail-tokens", s.updateGmailTokens)
	protected.POST("/auth/logout", s.logout)

	protected.POST("/gmail/auth-callback", s.exchangeCode)
	protected.POST("/gmail/unread-emails", s.unreadEmails)

	protected.POST("/sync", s.runSync)
	protected.GET("/sync/status", s.syncStatus)
	protected.GET("/emails", s.listEmails)

	protected.POST("/summarize", s.summarize)

	protected.POST("/audio/generate", s.generateAudio)
	protected.GET("/audio/voices", s.voices)
	protected.GET("/audio/history", s.audioHistory)

	protected.POST("/analysis/analyze", s.analyze)
	protected.GET("/analysis/profile", s.getAnalysis)
	protected.DELETE("/analysis/profile", s.deleteAnalysis)

	protected.POST("/email/polish", s.polish)
	protected.POST("/email/send", s.send)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.Log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("Handled request")
	}
}

// cors allows the dashboard origin to call the API with credentials.
func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
