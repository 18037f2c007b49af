package gmail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Outgoing is a plain-text message to send.
type Outgoing struct {
	From    string // optional, Gmail fills in the account address
	To      string // comma-separated address list
	Subject string
	Body    string
}

// BuildMessage renders m as an RFC 5322 message with a UTF-8 text/plain body.
func BuildMessage(m Outgoing, now time.Time) ([]byte, error) {
	to, err := mail.ParseAddressList(m.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient list: %w", err)
	}
	if len(to) == 0 {
		return nil, errors.New("no recipients")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("To", to)
	h.SetSubject(m.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	if m.From != "" {
		from, err := mail.ParseAddressList(m.From)
		if err != nil {
			return nil, fmt.Errorf("invalid sender: %w", err)
		}
		h.SetAddressList("From", from)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, m.Body); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	return buf.Bytes(), nil
}
