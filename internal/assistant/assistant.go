// Package assistant wraps the chat model used to summarize mail, polish
// drafts, and infer a profile of the user from their messages.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

var ErrEmptyResponse = errors.New("model returned an empty response")

// Email is the subset of a message sent to the model.
type Email struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
	Body    string `json:"body"`
}

type Assistant struct {
	client openai.Client
	model  openai.ChatModel
	log    logrus.FieldLogger
}

// New creates an assistant for model. Extra options are passed to the OpenAI
// client; tests use them to point at a local server.
func New(apiKey, model string, log logrus.FieldLogger, opts ...option.RequestOption) *Assistant {
	if log == nil {
		log = logrus.StandardLogger()
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &Assistant{
		client: openai.NewClient(opts...),
		model:  openai.ChatModel(model),
		log:    log,
	}
}

type completion struct {
	system      string
	user        string
	temperature float64
	maxTokens   int64 // 0 leaves the model default
}

func (a *Assistant) complete(ctx context.Context, c completion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.system),
			openai.UserMessage(c.user),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	return resp.Choices[0].Message.Content, nil
}

// formatEmails renders emails as numbered blocks for a prompt.
func formatEmails(emails []Email) string {
	blocks := make([]string, 0, len(emails))
	for i, e := range emails {
		content := e.Snippet
		if content == "" {
			content = PlainText(e.Body)
		}
		blocks = append(blocks, fmt.Sprintf("Email %d:\nFrom: %s\nSubject: %s\nDate: %s\nContent: %s\n---",
			i+1, e.From, e.Subject, e.Date, content))
	}
	return strings.Join(blocks, "\n\n")
}

const summarizeSystem = "You are a helpful assistant that summarizes emails in a natural, conversational tone suitable for text-to-speech."

const summarizePrompt = `Please provide a concise and natural-sounding summary of the following unread emails.
The summary should be written in a conversational tone, as if you're reading the emails to someone.
Keep it clear, organized, and easy to understand. If there are multiple emails, mention how many there are and summarize the key points from each.

Emails:
%s

Summary:`

// Summarize produces a spoken-style summary of emails.
func (a *Assistant) Summarize(ctx context.Context, emails []Email) (string, error) {
	summary, err := a.complete(ctx, completion{
		system:      summarizeSystem,
		user:        fmt.Sprintf(summarizePrompt, formatEmails(emails)),
		temperature: 0.7,
		maxTokens:   1000,
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize emails: %w", err)
	}

	a.log.WithField("emails", len(emails)).Debug("Summarized emails")
	return summary, nil
}

const DefaultTone = "professional"

// Polish rewrites a draft in the given tone, keeping its intent.
func (a *Assistant) Polish(ctx context.Context, draft, tone string) (string, error) {
	if tone == "" {
		tone = DefaultTone
	}

	system := fmt.Sprintf("You are an expert email editor. Rewrite the following draft to be clear, concise, and %s. "+
		"Maintain the original intent but improve grammar, flow, and professionalism. "+
		"Output ONLY the rewritten email body.", tone)

	polished, err := a.complete(ctx, completion{
		system:      system,
		user:        draft,
		temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("failed to polish email: %w", err)
	}

	return polished, nil
}
