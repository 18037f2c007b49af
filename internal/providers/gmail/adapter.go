package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/ai-mail-reader/internal/mailerr"
	"github.com/Martian-dev/ai-mail-reader/internal/mimetext"
	"github.com/Martian-dev/ai-mail-reader/internal/sync"
)

const user = "me"

// Client implements sync.Remote for Gmail. It holds no credentials; every
// call is made with the access token passed in. All calls share one
// transport and its connection pool.
type Client struct {
	base http.RoundTripper
	opts []option.ClientOption
	cb   *gobreaker.CircuitBreaker
	log  logrus.FieldLogger
}

// New creates a Gmail client. opts are added to every service, which lets
// tests point the client at a local endpoint.
func New(log logrus.FieldLogger, opts ...option.ClientOption) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			var nce *nonCircuitError
			return err == nil || errors.As(err, &nce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithField("breaker", name).Warnf("Circuit breaker state changed from %s to %s", from, to)
		},
	}

	return &Client{
		base: http.DefaultTransport.(*http.Transport).Clone(),
		opts: opts,
		cb:   gobreaker.NewCircuitBreaker(settings),
		log:  log,
	}
}

func (c *Client) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	httpClient := &http.Client{Transport: &oauth2.Transport{Source: src, Base: c.base}}
	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, c.opts...)

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// ListMessageIDs makes one list call. There is no page loop; max caps the
// result.
func (c *Client) ListMessageIDs(ctx context.Context, accessToken, query string, max int64) ([]string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	call := svc.Users.Messages.List(user).MaxResults(max).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}

	var resp *gmail.ListMessagesResponse
	err = c.execute("list", func() error {
		var apiErr error
		resp, apiErr = call.Do()
		return apiErr
	})
	if err != nil {
		return nil, mapError("failed to list messages", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// GetMessage fetches one message in full format.
func (c *Client) GetMessage(ctx context.Context, accessToken, id string) (*sync.RawMessage, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	err = c.execute("get", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, mapError(fmt.Sprintf("failed to get message %s", id), err)
	}

	return normalize(msg), nil
}

// Send delivers a complete RFC 5322 message.
func (c *Client) Send(ctx context.Context, accessToken string, raw []byte) (id, threadID string, err error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return "", "", err
	}

	var sent *gmail.Message
	err = c.execute("send", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send(user, &gmail.Message{
			Raw: base64.URLEncoding.EncodeToString(raw),
		}).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", "", mapError("failed to send message", err)
	}

	return sent.Id, sent.ThreadId, nil
}

// BreakerState reports the circuit breaker state for health output.
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// execute runs fn behind the circuit breaker. Only server-side failures and
// throttling count against the breaker.
func (c *Client) execute(operation string, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code < 500 && apiErr.Code != 429 {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}

	if err != nil {
		c.log.WithField("operation", operation).WithField("state", c.cb.State().String()).WithError(err).
			Debug("Gmail call failed")
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// mapError converts a Gmail API failure into a mailerr kind.
func mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %v: %w", op, err, mailerr.ErrRemoteUnavailable)
	}

	switch {
	case apiErr.Code == 401:
		return fmt.Errorf("%s: %w", op, mailerr.ErrUnauthorized)
	case apiErr.Code == 429, apiErr.Code == 403 && isRateLimit(apiErr):
		return fmt.Errorf("%s: %w", op, mailerr.ErrRateLimited)
	case apiErr.Code == 404:
		return fmt.Errorf("%s: %w", op, mailerr.ErrNotFound)
	case apiErr.Code >= 500:
		return fmt.Errorf("%s: %v: %w", op, err, mailerr.ErrRemoteUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isRateLimit(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return strings.Contains(apiErr.Message, "Rate Limit")
}

// normalize converts a Gmail message to a sync.RawMessage
func normalize(m *gmail.Message) *sync.RawMessage {
	raw := &sync.RawMessage{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Headers:  make(map[string]string),
		Snippet:  m.Snippet,
		LabelIDs: m.LabelIds,
	}
	if m.Payload == nil {
		return raw
	}

	for _, kv := range m.Payload.Headers {
		if _, seen := raw.Headers[kv.Name]; !seen {
			raw.Headers[kv.Name] = kv.Value
		}
	}

	var h mail.Header
	h.Set("Date", raw.Header("Date"))
	if date, err := h.Date(); err == nil && !date.IsZero() {
		raw.Date = date
	} else if m.InternalDate != 0 {
		raw.Date = time.UnixMilli(m.InternalDate)
	}

	raw.Payload = convertPart(m.Payload)
	return raw
}

func convertPart(p *gmail.MessagePart) *mimetext.Part {
	if p == nil {
		return nil
	}

	part := &mimetext.Part{MimeType: p.MimeType}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}
