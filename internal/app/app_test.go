package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autopost/internal/dispatch"
	"autopost/internal/queue"
)

const testAccountTOML = `
id = "bread"
name = "Daily Bread"
site = "https://bread.example"
keywords = ["sourdough"]
platforms = ["blog"]
`

const brokenAccountTOML = `
id = "crumbs"
name = "Crumbs"
platforms = ["twitter"]
`

const testTemplateTOML = `
name = "Blog post"
format = "markdown"
title = "{{.Name}} on {{index .Keywords 0}}"
prompt = "Write a post for {{.Site}}."
`

type env struct {
	cfgPath string
	siteDir string
}

func writeEnv(t *testing.T, accounts map[string]string) env {
	t.Helper()
	root := t.TempDir()
	e := env{cfgPath: filepath.Join(root, "config.yaml"), siteDir: filepath.Join(root, "site")}
	write := func(path, body string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	for name, body := range accounts {
		write(filepath.Join(root, "accounts", name), body)
	}
	write(filepath.Join(root, "templates", "post.toml"), testTemplateTOML)
	write(e.cfgPath, strings.NewReplacer("ROOT", root).Replace(`
logging:
  level: error
  console: false
accounts:
  dir: ROOT/accounts
templates:
  dir: ROOT/templates
content:
  provider: mock
storage:
  driver: sqlite
  path: ROOT/data/autopost.db
scheduler:
  workers: 2
dispatch:
  jitter_max: 0s
platforms:
  blog:
    enabled: true
    site_dir: ROOT/site
    base_url: https://bread.example
`))
	return e
}

func started(t *testing.T, cfgPath string) *App {
	t.Helper()
	a, err := New(cfgPath, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		_ = a.Close(context.Background())
		t.Fatalf("Start: %v", err)
	}
	return a
}

func closeApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPostNowPublishesAndPersists(t *testing.T) {
	t.Parallel()
	e := writeEnv(t, map[string]string{"bread.toml": testAccountTOML})

	a := started(t, e.cfgPath)
	results, err := a.PostNow(context.Background(), "Daily Bread", "post")
	if err != nil {
		closeApp(t, a)
		t.Fatalf("PostNow: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != dispatch.OutcomePosted {
		closeApp(t, a)
		t.Fatalf("results = %+v", results)
	}
	postID := results[0].PostID
	if !strings.HasPrefix(results[0].Receipt.URL, "https://bread.example/") {
		t.Errorf("receipt url = %q", results[0].Receipt.URL)
	}
	closeApp(t, a)

	pages, err := filepath.Glob(filepath.Join(e.siteDir, "content", "posts", "*.md"))
	if err != nil || len(pages) != 1 {
		t.Fatalf("pages = %v (err %v)", pages, err)
	}

	// A second process sees the posted post and its attempt.
	b := started(t, e.cfgPath)
	defer closeApp(t, b)
	p, err := b.Queue().Get(postID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != queue.StatusPosted || p.Origin != queue.OriginManual {
		t.Fatalf("restored post = %+v", p)
	}
	attempts, err := b.Queue().Attempts(context.Background(), postID, 0)
	if err != nil || len(attempts) != 1 {
		t.Fatalf("attempts = %+v (err %v)", attempts, err)
	}
}

func TestRunOnceReportsFailedPosts(t *testing.T) {
	t.Parallel()
	e := writeEnv(t, map[string]string{"bread.toml": testAccountTOML, "crumbs.toml": brokenAccountTOML})
	a := started(t, e.cfgPath)
	defer closeApp(t, a)

	due := time.Now().Add(-time.Minute).Truncate(time.Second)
	for _, p := range []queue.Post{
		{AccountID: "bread", Platform: "blog", Template: "post", ScheduledAt: due},
		// twitter is not enabled in the config, so this post fails.
		{AccountID: "crumbs", Platform: "twitter", Template: "post", ScheduledAt: due},
	} {
		if _, err := a.Queue().Enqueue(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}

	rep, err := a.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce must report the failed post")
	}
	if rep.Posted != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if a.Failures() != 1 {
		t.Fatalf("failures = %d", a.Failures())
	}
}

func TestPostNowRejectsUnknownTemplate(t *testing.T) {
	t.Parallel()
	e := writeEnv(t, map[string]string{"bread.toml": testAccountTOML})
	a := started(t, e.cfgPath)
	defer closeApp(t, a)

	if _, err := a.PostNow(context.Background(), "bread", "nope"); err == nil {
		t.Fatal("unknown template must fail")
	}
	if n := a.Queue().Stats().Total(); n != 0 {
		t.Fatalf("queue has %d posts after a rejected command", n)
	}
}

func TestSchedulePostAndRepeat(t *testing.T) {
	t.Parallel()
	e := writeEnv(t, map[string]string{"bread.toml": testAccountTOML})
	a := started(t, e.cfgPath)
	defer closeApp(t, a)

	posts, err := a.SchedulePost(context.Background(), "bread", "post", "fri", "09:30", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0].ScheduledAt.Weekday() != time.Friday || !posts[0].ScheduledAt.After(time.Now()) {
		t.Fatalf("posts = %+v", posts)
	}
	acct, err := a.Accounts().Get("bread")
	if err != nil {
		t.Fatal(err)
	}
	if len(acct.Schedules) != 1 || acct.Schedules[0].Time != "09:30" {
		t.Fatalf("schedules = %+v", acct.Schedules)
	}

	// Same slot again conflicts on the queue key.
	if _, err := a.SchedulePost(context.Background(), "bread", "post", "fri", "09:30", false); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("second schedule err = %v", err)
	}
}

func TestTestPromptDoesNotQueue(t *testing.T) {
	t.Parallel()
	e := writeEnv(t, map[string]string{"bread.toml": testAccountTOML})
	a, err := New(e.cfgPath, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer closeApp(t, a)

	pv, err := a.TestPrompt(context.Background(), "post", "bread", true)
	if err != nil {
		t.Fatal(err)
	}
	if pv.Prompt != "Write a post for https://bread.example." {
		t.Fatalf("prompt = %q", pv.Prompt)
	}
	if pv.Content == nil || !strings.Contains(pv.Content.Body, "mock output") {
		t.Fatalf("content = %+v", pv.Content)
	}
	if a.Queue().Stats().Total() != 0 {
		t.Fatal("test prompt must not enqueue")
	}
}

func TestNextSlot(t *testing.T) {
	t.Parallel()
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// Wednesday 2026-03-04 10:00 in Berlin.
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, berlin)
	tests := []struct {
		name      string
		day, hhmm string
		want      time.Time
		wantErr   bool
	}{
		{name: "later today", day: "wed", hhmm: "18:15", want: time.Date(2026, 3, 4, 18, 15, 0, 0, berlin)},
		{name: "earlier today rolls a week", day: "wednesday", hhmm: "09:00", want: time.Date(2026, 3, 11, 9, 0, 0, 0, berlin)},
		{name: "exactly now rolls a week", day: "wed", hhmm: "10:00", want: time.Date(2026, 3, 11, 10, 0, 0, 0, berlin)},
		{name: "next friday", day: "fri", hhmm: "07:05", want: time.Date(2026, 3, 6, 7, 5, 0, 0, berlin)},
		{name: "bad day", day: "someday", hhmm: "09:00", wantErr: true},
		{name: "bad clock", day: "mon", hhmm: "25:00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NextSlot(now, berlin, tt.day, tt.hhmm)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NextSlot = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextSlot = %v, want %v", got, tt.want)
			}
		})
	}
}
