package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	Port        string
	DataDir     string
	FrontendURL string

	JWTSecret    string
	JWTExpiresIn time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	OpenAIAPIKey string
	OpenAIModel  string

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded .env file")
	}

	return &Config{
		Port:               getEnv("PORT", "5001"),
		DataDir:            getEnv("DATA_DIR", "data"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:3000"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTExpiresIn:       getDuration("JWT_EXPIRES_IN", 7*24*time.Hour),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "http://localhost:5001/api/gmail/auth-callback"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4"),
		ElevenLabsAPIKey:   getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:  getEnv("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}
}

// AuthDBPath is the users/credentials database.
func (c *Config) AuthDBPath() string {
	return filepath.Join(c.DataDir, "auth.db")
}

// ArchiveDBPath is the message archive database.
func (c *Config) ArchiveDBPath() string {
	return filepath.Join(c.DataDir, "archive.db")
}

// AudioDir is where generated speech files are written.
func (c *Config) AudioDir() string {
	return filepath.Join(c.DataDir, "audio")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithField("key", key).WithError(err).Warn("Invalid duration, using default")
		return defaultValue
	}
	return d
}
