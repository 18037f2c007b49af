// Package speech turns summaries into audio through the ElevenLabs API.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io/v1"
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	modelID         = "eleven_monolingual_v1"
	stability       = 0.5
	similarityBoost = 0.75
)

var ErrNotConfigured = errors.New("ElevenLabs API key not configured")

// APIError is a non-2xx answer from ElevenLabs.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs: status %d: %s", e.StatusCode, e.Message)
}

type Voice struct {
	VoiceID    string            `json:"voice_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category,omitempty"`
	PreviewURL string            `json:"preview_url,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(apiKey string, log logrus.FieldLogger, opts ...Option) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize returns MP3 audio of text spoken by voiceID, or the default
// voice when voiceID is empty.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	body, err := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       modelID,
		VoiceSettings: voiceSettings{Stability: stability, SimilarityBoost: similarityBoost},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode speech request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/text-to-speech/"+voiceID, bytes.NewReader(body), "audio/mpeg")
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	c.log.WithField("voice_id", voiceID).WithField("bytes", len(audio)).Debug("Synthesized speech")
	return audio, nil
}

// Voices lists the voices available to the account.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	resp, err := c.do(ctx, http.MethodGet, "/voices", nil, "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch voices: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}
	return out.Voices, nil
}

// do sends an authenticated request and turns non-2xx answers into *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, accept string) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
}

// errorMessage extracts detail.message from an error body, falling back to
// the raw text.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))

	var payload struct {
		Detail struct {
			Message string `json:"message"`
		} `json:"detail"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Detail.Message != "" {
		return payload.Detail.Message
	}
	return string(bytes.TrimSpace(data))
}
