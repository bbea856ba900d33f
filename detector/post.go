package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Post is one observed feed item. Treat it as immutable.
type Post struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	URL        string    `json:"url,omitempty"`
	HTML       string    `json:"-"` // inner HTML of the text container, for rendering
	ObservedAt time.Time `json:"observed_at"`
}

// Same reports whether p and o are the same observation. Both the id and the
// text must match; a change in either one means a different post.
func (p Post) Same(o Post) bool {
	return p.ID == o.ID && p.Text == o.Text
}

// Preview returns at most n runes of the text, for logs.
func (p Post) Preview(n int) string {
	r := []rune(p.Text)
	if len(r) <= n {
		return p.Text
	}
	return string(r[:n]) + "..."
}

// ContentID derives a stable identifier from text when the page exposes no
// native one.
func ContentID(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:16])
}

// NormalizeAccount strips surrounding space and any leading "@".
func NormalizeAccount(account string) string {
	return strings.TrimLeft(strings.TrimSpace(account), "@")
}
