package detector

// Selectors locate the markers the detector relies on. The zero value is
// replaced by DefaultSelectors.
type Selectors struct {
	LoggedIn      string // present once the credential is accepted
	LoggedInAlt   string // fallback logged-in marker
	Post          string // one feed item
	PostText      string // text container inside a post
	SocialContext string // "Pinned" banner inside a post
}

// DefaultSelectors target the x.com web client.
var DefaultSelectors = Selectors{
	LoggedIn:      `[data-testid="primaryColumn"]`,
	LoggedInAlt:   `[role="navigation"]`,
	Post:          `[data-testid="tweet"]`,
	PostText:      `[data-testid="tweetText"]`,
	SocialContext: `[data-testid="socialContext"]`,
}

func (s *Selectors) defaults() {
	if s.LoggedIn == "" {
		s.LoggedIn = DefaultSelectors.LoggedIn
	}
	if s.LoggedInAlt == "" {
		s.LoggedInAlt = DefaultSelectors.LoggedInAlt
	}
	if s.Post == "" {
		s.Post = DefaultSelectors.Post
	}
	if s.PostText == "" {
		s.PostText = DefaultSelectors.PostText
	}
	if s.SocialContext == "" {
		s.SocialContext = DefaultSelectors.SocialContext
	}
}

// Page phrases. Matched as substrings of the rendered body text; the
// apostrophe differs between client versions so the prefix stops before it.
var (
	notFoundPhrases = []string{
		"This account doesn",
		"Hmm...this page doesn",
	}
	privatePhrases = []string{
		"These posts are protected",
		"These Tweets are protected",
	}
)

// MediaPlaceholder is the text of a post that carries media only.
const MediaPlaceholder = "[media]"

const pinnedMarker = "Pinned"
