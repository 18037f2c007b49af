package sync

import (
	"context"
	"strings"
	"time"

	"github.com/Martian-dev/ai-mail-reader/internal/mimetext"
)

// RawMessage is a provider message as fetched, before it is archived.
type RawMessage struct {
	ID       string
	ThreadID string
	Headers  map[string]string
	Snippet  string
	LabelIDs []string
	Date     time.Time // zero when the provider reported no usable date
	Payload  *mimetext.Part
}

// Header returns the first header named name, matched case-insensitively.
func (m *RawMessage) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Remote is the mail provider API used by the engine. Each call carries the
// access token to use; the engine decides which token that is.
type Remote interface {
	// ListMessageIDs makes a single bounded list call; max is a hard cap.
	ListMessageIDs(ctx context.Context, accessToken, query string, max int64) ([]string, error)

	GetMessage(ctx context.Context, accessToken, id string) (*RawMessage, error)
}
