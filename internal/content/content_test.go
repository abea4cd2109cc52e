package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"autopost/internal/account"
	"autopost/internal/failure"
	logx "autopost/pkg/logx"
)

func nopLog() logx.Logger { return logx.Nop() }

var fixedNow = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

func testAccount(t *testing.T) account.Account {
	t.Helper()
	a, err := account.File{
		ID:        "bread",
		Name:      "Daily Bread",
		Site:      "https://bread.example",
		Tone:      "warm",
		Keywords:  []string{"sourdough", "baking"},
		Hashtags:  []string{"#bread"},
		Platforms: []string{"twitter", "blog"},
	}.Build("")
	if err != nil {
		t.Fatal(err)
	}
	return a
}

const tipTOML = `
name = "Daily tip"
format = "caption"
platforms = ["twitter"]
temperature = 0.5
prompt = "Write a {{.Tone}} tip about {{join .Keywords \", \"}}{{if .Trending}} mentioning {{index .Trending 0}}{{end}}."
`

const postTOML = `
name = "Blog post"
format = "markdown"
title = "{{.Name}}: {{index .Keywords 0}}"
prompt = "Write a post for {{.Site}}."

[schedule]
days = ["mon"]
time = "09:00"
max_per_day = 1
`

func writeTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{"tip.toml": tipTOML, "post.toml": postTOML} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

type recordingClient struct {
	got  Request
	text string
	err  error
}

func (c *recordingClient) Complete(_ context.Context, req Request) (Completion, error) {
	c.got = req
	return Completion{Text: c.text, Model: "fake"}, c.err
}

func TestLoadTemplatesAndRender(t *testing.T) {
	t.Parallel()
	ts, err := LoadTemplates(writeTemplates(t), nopLog())
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	if len(ts.List()) != 2 {
		t.Fatalf("templates = %d", len(ts.List()))
	}
	post, err := ts.Get("post")
	if err != nil {
		t.Fatal(err)
	}
	if post.Format != FormatMarkdown || post.Schedule == nil || post.Schedule.Template != "post" {
		t.Fatalf("post template = %+v", post)
	}

	_, err = ts.Get("missing")
	if failure.ReasonOf(err) != failure.ReasonMissingTemplate || !failure.IsPermanent(err) {
		t.Fatalf("missing template err = %v", err)
	}
}

func TestParseTemplateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown key", body: "prompt = \"x\"\nbogus = 1\n"},
		{name: "no prompt", body: "name = \"x\"\n"},
		{name: "bad syntax", body: "prompt = \"{{.Tone\"\n"},
		{name: "bad format", body: "prompt = \"x\"\nformat = \"video\"\n"},
		{name: "bad schedule", body: "prompt = \"x\"\n[schedule]\ntime = \"27:00\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseTemplate("x.toml", []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGenerateCaption(t *testing.T) {
	t.Parallel()
	ts, err := LoadTemplates(writeTemplates(t), nopLog())
	if err != nil {
		t.Fatal(err)
	}
	client := &recordingClient{text: "Feed your starter daily."}
	g := NewGenerator(ts, client, WithGeneratorClock(func() time.Time { return fixedNow }))
	hints := []Hint{{Keyword: "sourdough discard", Rising: true, Score: 80}}

	c, err := g.Generate(context.Background(), testAccount(t), "tip", hints)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if want := "Write a warm tip about sourdough, baking mentioning sourdough discard."; client.got.Prompt != want {
		t.Fatalf("prompt = %q", client.got.Prompt)
	}
	if client.got.Temperature == nil || *client.got.Temperature != 0.5 {
		t.Fatalf("temperature = %v", client.got.Temperature)
	}
	if c.Format != FormatCaption || c.Body != "Feed your starter daily." || !c.Targets("twitter") || c.Targets("blog") {
		t.Fatalf("content = %+v", c)
	}
	if strings.Join(c.Tags, " ") != "#bread #SourdoughDiscard" {
		t.Fatalf("tags = %v", c.Tags)
	}
}

func TestGenerateMarkdownTitle(t *testing.T) {
	t.Parallel()
	ts, err := LoadTemplates(writeTemplates(t), nopLog())
	if err != nil {
		t.Fatal(err)
	}
	g := NewGenerator(ts, &recordingClient{text: "# Ignored heading\n\nBody text."}, WithGeneratorClock(func() time.Time { return fixedNow }))
	c, err := g.Generate(context.Background(), testAccount(t), "post", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Title != "Daily Bread: sourdough" || c.Body != "Body text." {
		t.Fatalf("title/body = %q / %q", c.Title, c.Body)
	}
	if c.Slug != "2026-03-04-daily-bread-sourdough" {
		t.Fatalf("slug = %q", c.Slug)
	}
}

func TestGenerateClassifiesClientErrors(t *testing.T) {
	t.Parallel()
	ts, err := LoadTemplates(writeTemplates(t), nopLog())
	if err != nil {
		t.Fatal(err)
	}
	g := NewGenerator(ts, &recordingClient{err: errors.New("boom")})
	_, err = g.Generate(context.Background(), testAccount(t), "tip", nil)
	if failure.SourceOf(err) != failure.SourceProvider || failure.IsPermanent(err) {
		t.Fatalf("err = %v, want transient provider error", err)
	}
}

func TestOpenAIClient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("request = %s %v", r.URL.Path, r.Header)
		}
		var req openAIRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "m" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("body = %+v", req)
		}
		_, _ = w.Write([]byte(`{"model":"m-1","choices":[{"message":{"role":"assistant","content":" hi "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(ClientConfig{APIURL: srv.URL, APIKey: "k", Model: "m"})
	got, err := c.Complete(context.Background(), Request{System: "s", Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "hi" || got.Model != "m-1" {
		t.Fatalf("completion = %+v", got)
	}
}

func TestAnthropicClientRateLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Anthropic-Version") == "" || r.URL.Path != "/v1/messages" {
			t.Errorf("request = %s %v", r.URL.Path, r.Header)
		}
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewAnthropicClient(ClientConfig{APIURL: srv.URL, Model: "claude"})
	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	if failure.ReasonOf(err) != failure.ReasonRateLimited || failure.RetryAfterHint(err) != 7*time.Second {
		t.Fatalf("err = %v", err)
	}
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	for _, p := range []string{"openai", "anthropic", "ollama", "mock", ""} {
		if _, err := NewClient(ClientConfig{Provider: p}); err != nil {
			t.Fatalf("NewClient(%q): %v", p, err)
		}
	}
	if _, err := NewClient(ClientConfig{Provider: "gemini"}); err == nil {
		t.Fatal("unknown provider must fail")
	}
}

func TestRankTrends(t *testing.T) {
	t.Parallel()
	trends := []Trend{
		{Keyword: "air fryer", Score: 95, Rising: true},
		{Keyword: "sourdough discard", Score: 60, Rising: true, Related: []string{"baking"}},
		{Keyword: "sourdough pizza", Score: 70},
		{Keyword: "baking soda hacks", Score: 10, Rising: true},
	}
	got := RankTrends(trends, []string{"sourdough", "baking"}, 20, 5)
	if len(got) != 2 || got[0].Keyword != "sourdough discard" || got[1].Keyword != "sourdough pizza" {
		t.Fatalf("ranked = %+v", got)
	}
	fallback := RankTrends(trends, []string{"knitting"}, 20, 5)
	if len(fallback) != 2 || fallback[0].Keyword != "air fryer" {
		t.Fatalf("fallback = %+v", fallback)
	}
}

func TestFileSourceYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trends.yaml")
	body := "keywords:\n  - keyword: sourdough discard\n    score: 60\n    rising: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	hints, err := NewFileSource(path, 3, 0).Hints(context.Background(), testAccount(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(hints) != 1 || hints[0].Keyword != "sourdough discard" {
		t.Fatalf("hints = %+v", hints)
	}
	missing, err := NewFileSource(filepath.Join(t.TempDir(), "none.json"), 3, 0).Hints(context.Background(), testAccount(t))
	if err != nil || missing != nil {
		t.Fatalf("missing file = %v, %v", missing, err)
	}
}

func TestCaption(t *testing.T) {
	t.Parallel()
	c := Content{Body: "Short tip.", Tags: []string{"#bread", "sourdough discard"}}
	if got := Caption(c, 0); got != "Short tip.\n\n#bread #SourdoughDiscard" {
		t.Fatalf("uncapped = %q", got)
	}
	if got := Caption(c, 20); got != "Short tip.\n\n#bread" {
		t.Fatalf("capped = %q", got)
	}
	long := Content{Body: strings.Repeat("word ", 100)}
	got := Caption(long, 50)
	if utf8.RuneCountInString(got) > 50 || !strings.HasSuffix(got, "…") {
		t.Fatalf("truncated = %q", got)
	}
}

func TestRenderPage(t *testing.T) {
	t.Parallel()
	page, err := RenderPage(Content{Title: "Hello", Slug: "hello", Body: "First para.\n\nSecond.", Tags: []string{"#bread"}, CreatedAt: fixedNow})
	if err != nil {
		t.Fatal(err)
	}
	s := string(page)
	for _, want := range []string{"---\ntitle: Hello\n", "slug: hello\n", "- bread\n", "description: First para.\n", "---\n\nFirst para."} {
		if !strings.Contains(s, want) {
			t.Fatalf("page missing %q:\n%s", want, s)
		}
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Feed your starter daily.", "Feed your starter daily."},
		{"emphasis", "Feed it **daily** and _warm_.", "Feed it daily and warm."},
		{"heading", "## Tip\n\nUse rye.", "Tip\n\nUse rye."},
		{"link", "Read [the guide](https://bread.example/guide).", "Read the guide (https://bread.example/guide)."},
		{"autolink", "See <https://bread.example>.", "See https://bread.example."},
		{"bullets", "Steps:\n\n- mix\n- rest\n- bake", "Steps:\n\n- mix\n- rest\n- bake"},
		{"ordered", "1. mix\n2. bake", "1. mix\n2. bake"},
		{"soft breaks kept", "line one\nline two", "line one\nline two"},
		{"inline html", "Hot <b>tip</b> today", "Hot tip today"},
		{"html block", "<div>\nBoxed <i>note</i>\n</div>", "Boxed note"},
		{"escapes", "5 \\* 3 &amp; more", "5 * 3 & more"},
		{"hashtag is not a heading", "#bread is back", "#bread is back"},
		{"image dropped", "Look ![loaf](https://x.example/l.jpg) here", "Look  here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PlainText(tt.in); got != tt.want {
				t.Fatalf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHashtagAndSlug(t *testing.T) {
	t.Parallel()
	if got := Hashtag("sourdough  discard!"); got != "#SourdoughDiscard" {
		t.Fatalf("Hashtag = %q", got)
	}
	if got := Hashtag("!!"); got != "" {
		t.Fatalf("Hashtag punctuation = %q", got)
	}
	if got := Slugify("Hello, World! 2026"); got != "hello-world-2026" {
		t.Fatalf("Slugify = %q", got)
	}
}
