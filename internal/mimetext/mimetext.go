// Package mimetext flattens a provider message payload into plain text.
//
// A Part either carries body data itself or groups child parts, nested to any
// finite depth. Decode walks the tree and never fails: malformed base64 is
// decoded as far as it goes.
package mimetext

import (
	"encoding/base64"
	"strings"
)

// Part is one node of a message payload.
type Part struct {
	MimeType string
	Data     string // base64url body data, empty for containers
	Parts    []*Part
}

// Decode returns the text of p. Body data wins over sub-parts; sub-parts are
// joined with a newline in document order.
func Decode(p *Part) string {
	if p == nil {
		return ""
	}
	if p.Data != "" {
		return decodeData(p.Data)
	}
	if len(p.Parts) == 0 {
		return ""
	}

	texts := make([]string, len(p.Parts))
	for i, child := range p.Parts {
		texts[i] = Decode(child)
	}
	return strings.Join(texts, "\n")
}

// decodeData accepts both base64 alphabets, with or without padding.
func decodeData(data string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '-':
			return '+'
		case '_':
			return '/'
		case '=', ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, data)

	buf := make([]byte, base64.RawStdEncoding.DecodedLen(len(clean)))
	n, _ := base64.RawStdEncoding.Decode(buf, []byte(clean))
	return string(buf[:n])
}
