package detector

import "testing"

const site = "https://x.com"

func postHTML(id, text string) string {
	return `<article data-testid="tweet">` +
		`<div data-testid="User-Name"><a href="/someone/status/` + id + `"><time datetime="2026-01-01T00:00:00.000Z">Jan 1</time></a></div>` +
		`<div lang="en" data-testid="tweetText"><span>` + text + `</span></div>` +
		`</article>`
}

func TestParsePost_TextURLAndNativeID(t *testing.T) {
	ex, err := ParsePost(postHTML("1790000000000000001", "hello world"), Selectors{}, site)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Text != "hello world" {
		t.Errorf("text: got %q", ex.Text)
	}
	if ex.URL != "https://x.com/someone/status/1790000000000000001" {
		t.Errorf("url: got %q", ex.URL)
	}
	if ex.NativeID != "1790000000000000001" {
		t.Errorf("native id: got %q", ex.NativeID)
	}
	if ex.HTML != "<span>hello world</span>" {
		t.Errorf("html: got %q", ex.HTML)
	}
	if ex.Pinned {
		t.Error("unexpected pinned")
	}
}

func TestParsePost_MediaOnlyUsesPlaceholder(t *testing.T) {
	frag := `<article data-testid="tweet"><a href="/someone/status/42"><time>now</time></a>` +
		`<div data-testid="tweetPhoto"><img src="x.jpg" alt="Image"></div></article>`
	ex, err := ParsePost(frag, Selectors{}, site)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Text != MediaPlaceholder {
		t.Errorf("text: got %q, want %q", ex.Text, MediaPlaceholder)
	}
	if ex.NativeID != "42" {
		t.Errorf("native id: got %q", ex.NativeID)
	}
}

func TestParsePost_EmojiAndLineBreaks(t *testing.T) {
	frag := `<article data-testid="tweet"><div data-testid="tweetText">` +
		`<span>launch day </span><img alt="🚀" src="e.svg"><br><span>see you</span>` +
		`</div></article>`
	ex, err := ParsePost(frag, Selectors{}, site)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Text != "launch day 🚀\nsee you" {
		t.Errorf("text: got %q", ex.Text)
	}
	if ex.URL != "" || ex.NativeID != "" {
		t.Errorf("expected no permalink, got url=%q id=%q", ex.URL, ex.NativeID)
	}
}

func TestParsePost_AbsolutePermalinkKept(t *testing.T) {
	frag := `<article data-testid="tweet"><a href="https://twitter.com/a/status/7"><time>t</time></a>` +
		`<div data-testid="tweetText">x</div></article>`
	ex, err := ParsePost(frag, Selectors{}, site)
	if err != nil {
		t.Fatal(err)
	}
	if ex.URL != "https://twitter.com/a/status/7" {
		t.Errorf("url: got %q", ex.URL)
	}
}

func TestParsePost_Pinned(t *testing.T) {
	frag := `<article data-testid="tweet"><div data-testid="socialContext"><span>Pinned</span></div>` +
		`<div data-testid="tweetText">old news</div></article>`
	ex, err := ParsePost(frag, Selectors{}, site)
	if err != nil {
		t.Fatal(err)
	}
	if !ex.Pinned {
		t.Error("expected pinned")
	}
}

func TestParseSimpleSelector(t *testing.T) {
	cases := []struct {
		in   string
		want simpleSelector
	}{
		{`[data-testid="tweet"]`, simpleSelector{attrKey: "data-testid", attrVal: "tweet"}},
		{`[role=navigation]`, simpleSelector{attrKey: "role", attrVal: "navigation"}},
		{`time`, simpleSelector{tag: "time"}},
		{`a[href]`, simpleSelector{tag: "a", attrKey: "href"}},
	}
	for _, c := range cases {
		if got := parseSimpleSelector(c.in); got != c.want {
			t.Errorf("parseSimpleSelector(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestCookieDomain(t *testing.T) {
	cases := []struct {
		landed, site, want string
	}{
		{"https://x.com/home", "https://twitter.com", ".x.com"},
		{"https://twitter.com/", "https://twitter.com", ".twitter.com"},
		{"https://mobile.x.com/", "https://x.com", ".x.com"},
		{"https://www.example.org/feed", "https://example.org", ".example.org"},
		{"", "https://x.com", ".x.com"},
	}
	for _, c := range cases {
		if got := cookieDomain(c.landed, c.site); got != c.want {
			t.Errorf("cookieDomain(%q, %q) = %q, want %q", c.landed, c.site, got, c.want)
		}
	}
}

func TestPostSame(t *testing.T) {
	a := Post{ID: "1", Text: "hi"}
	if !a.Same(Post{ID: "1", Text: "hi"}) {
		t.Error("identical posts should be the same")
	}
	if a.Same(Post{ID: "2", Text: "hi"}) {
		t.Error("different id should differ")
	}
	if a.Same(Post{ID: "1", Text: "edited"}) {
		t.Error("different text should differ")
	}
}

func TestNormalizeAccount(t *testing.T) {
	for in, want := range map[string]string{"@someone": "someone", " someone ": "someone", "@@x": "x", "": ""} {
		if got := NormalizeAccount(in); got != want {
			t.Errorf("NormalizeAccount(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentIDStable(t *testing.T) {
	if ContentID("abc") != ContentID("abc") {
		t.Fatal("content id not stable")
	}
	if ContentID("abc") == ContentID("abd") {
		t.Fatal("content id collides on different text")
	}
	if len(ContentID("abc")) != 32 {
		t.Fatalf("content id length: got %d", len(ContentID("abc")))
	}
}
