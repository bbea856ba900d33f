package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
)

// PostView is what the renderer needs from a detected post.
type PostView struct {
	ID         string
	Text       string
	HTML       string
	URL        string
	ObservedAt time.Time
}

var (
	sanitizer = bluemonday.UGCPolicy()
	markdown  = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
)

// NewPostMessage renders the new-post mail. The HTML part carries the post's
// own markup after sanitising; the text part is its markdown rendering, or
// the plain text when the post has no markup.
func NewPostMessage(account string, post PostView, recipient string) Message {
	account = strings.TrimLeft(account, "@")
	ts := post.ObservedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := ts.Format("2006-01-02 15:04:05")

	body := post.Text
	if post.HTML != "" {
		if md, err := markdown.ConvertString(post.HTML, converter.WithDomain(post.URL)); err == nil && strings.TrimSpace(md) != "" {
			body = strings.TrimSpace(md)
		}
	}

	var text strings.Builder
	fmt.Fprintf(&text, "@%s posted at %s\n\n", account, stamp)
	text.WriteString(body)
	text.WriteString("\n")
	if post.URL != "" {
		fmt.Fprintf(&text, "\n%s\n", post.URL)
	}

	content := html.EscapeString(post.Text)
	if post.HTML != "" {
		content = sanitizer.Sanitize(post.HTML)
	} else {
		content = strings.ReplaceAll(content, "\n", "<br>")
	}

	var h strings.Builder
	h.WriteString(`<div style="font-family:sans-serif;max-width:600px">`)
	fmt.Fprintf(&h, `<h3>@%s</h3><p style="color:#666">%s</p>`, html.EscapeString(account), stamp)
	fmt.Fprintf(&h, `<blockquote style="border-left:3px solid #1d9bf0;margin:0;padding-left:12px">%s</blockquote>`, content)
	if post.URL != "" {
		fmt.Fprintf(&h, `<p><a href="%s">View post</a></p>`, html.EscapeString(post.URL))
	}
	h.WriteString(`</div>`)

	return Message{
		Recipient: recipient,
		Subject:   fmt.Sprintf("New post from @%s", account),
		Text:      text.String(),
		HTML:      h.String(),
		Link:      post.URL,
	}
}

// TestMessage is the connectivity check mail.
func TestMessage(recipient string) Message {
	now := time.Now().Format("2006-01-02 15:04:05")
	return Message{
		Recipient: recipient,
		Subject:   "feedwatch test message",
		Text:      "This is a test message from feedwatch sent at " + now + ".\nIf you can read it, mail delivery works.\n",
		HTML:      "<p>This is a test message from feedwatch sent at " + now + ".</p><p>If you can read it, mail delivery works.</p>",
	}
}
