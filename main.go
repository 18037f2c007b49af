package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/ai-mail-reader/internal/api"
	"github.com/Martian-dev/ai-mail-reader/internal/archive/sqlite"
	"github.com/Martian-dev/ai-mail-reader/internal/assistant"
	"github.com/Martian-dev/ai-mail-reader/internal/auth"
	"github.com/Martian-dev/ai-mail-reader/internal/config"
	"github.com/Martian-dev/ai-mail-reader/internal/oauth"
	"github.com/Martian-dev/ai-mail-reader/internal/providers/gmail"
	"github.com/Martian-dev/ai-mail-reader/internal/speech"
	"github.com/Martian-dev/ai-mail-reader/internal/store"
	"github.com/Martian-dev/ai-mail-reader/internal/sync"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logrus.WithError(err).Fatal("Failed to create data directory")
	}

	users, err := store.Open(cfg.AuthDBPath())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open auth database")
	}
	defer users.Close()

	archive, err := sqlite.Open(cfg.ArchiveDBPath())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open archive database")
	}
	defer archive.Close()

	audioDir, err := speech.NewAudioDir(cfg.AudioDir())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to prepare audio directory")
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		logrus.Warn("Google OAuth client is not configured; Gmail features will fail")
	}
	if cfg.OpenAIAPIKey == "" {
		logrus.Warn("OPENAI_API_KEY is not set; summaries and analysis will fail")
	}

	log := logrus.StandardLogger()

	refresher := oauth.NewRefresher(
		oauth.NewConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI),
		users,
		log.WithField("component", "oauth"),
	)
	mailClient := gmail.New(log.WithField("component", "gmail"))
	engine := sync.NewEngine(users, refresher, mailClient, archive, log.WithField("component", "sync"))

	server := api.NewServer(api.Deps{
		Auth:           auth.NewAuthService(users),
		JWT:            auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTExpiresIn),
		Users:          users,
		Archive:        archive,
		Syncs:          sync.NewManager(engine),
		OAuth:          refresher,
		Mailer:         mailClient,
		Assistant:      assistant.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, log.WithField("component", "assistant")),
		Speech:         speech.New(cfg.ElevenLabsAPIKey, log.WithField("component", "speech")),
		AudioDir:       audioDir,
		FrontendURL:    cfg.FrontendURL,
		DefaultVoiceID: cfg.ElevenLabsVoiceID,
		Log:            log.WithField("component", "api"),
	})

	logrus.WithField("port", cfg.Port).Info("Server is running")
	if err := server.Router().Run(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("Server stopped")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if level < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}
