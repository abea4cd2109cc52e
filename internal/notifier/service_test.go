package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"autopost/internal/eventbus"
	"autopost/internal/failure"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	fails int
	sent  chan string
}

func newRecordingSender(fails int) *recordingSender {
	return &recordingSender{fails: fails, sent: make(chan string, 16)}
}

func (r *recordingSender) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("telegram unavailable")
	}
	r.texts = append(r.texts, text)
	r.sent <- text
	return nil
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func started(t *testing.T, cfg Config, sender Sender, bus eventbus.Bus, st storage.Store) *Service {
	t.Helper()
	s := New(cfg, sender, logx.Nop(), bus, st)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitSent(t *testing.T, r *recordingSender) string {
	t.Helper()
	select {
	case text := <-r.sent:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not sent")
		return ""
	}
}

func TestNotifyDeduplicates(t *testing.T) {
	t.Parallel()
	r := newRecordingSender(0)
	s := started(t, testConfig(), r, nil, nil)

	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), Alert{Key: "k", Priority: 9, Text: "boom"}); err != nil {
			t.Fatal(err)
		}
	}
	if text := waitSent(t, r); text != "🚨 boom" {
		t.Fatalf("text = %q", text)
	}
	select {
	case extra := <-r.sent:
		t.Fatalf("duplicate alert sent: %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	r := newRecordingSender(2)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	s := started(t, testConfig(), r, bus, nil)

	if err := s.Notify(context.Background(), Alert{Text: "retry me"}); err != nil {
		t.Fatal(err)
	}
	waitSent(t, r)
	if e := <-events; e.Type != eventbus.AlertSent {
		t.Fatalf("event = %+v", e)
	}
	if h := s.Snapshot(); len(h) != 1 || !h[0].Sent {
		t.Fatalf("history = %+v", h)
	}
}

func TestExhaustedSendIsDropped(t *testing.T) {
	t.Parallel()
	r := newRecordingSender(100)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	cfg := testConfig()
	cfg.RetryMax = 1
	s := started(t, cfg, r, bus, nil)

	if err := s.Notify(context.Background(), Alert{Text: "lost"}); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.AlertDropped || e.Data.(AlertEvent).Error == "" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no drop event")
	}
}

func TestDisabledAndStopped(t *testing.T) {
	t.Parallel()
	off := New(Config{}, nil, logx.Nop(), nil, nil)
	off.Start(context.Background())
	if err := off.Notify(context.Background(), Alert{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}

	s := New(testConfig(), newRecordingSender(0), logx.Nop(), nil, nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), Alert{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped err = %v", err)
	}
}

func TestWatchAlertsOnFailedPosts(t *testing.T) {
	t.Parallel()
	r := newRecordingSender(0)
	bus := eventbus.New()
	s := started(t, testConfig(), r, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Watch(ctx, bus) }()
	// Give the watcher time to subscribe.
	time.Sleep(20 * time.Millisecond)

	eventbus.Emit(bus, eventbus.PostPosted, eventbus.PostEvent{PostID: "ok"})
	eventbus.Emit(bus, eventbus.PostFailed, eventbus.PostEvent{
		PostID: "p1", AccountID: "bread", Platform: "twitter", Template: "tip",
		Reason: failure.ReasonAuth, Err: "401 unauthorized", Attempt: 1,
	})
	text := waitSent(t, r)
	for _, want := range []string{"bread on twitter", "reason: auth", "401 unauthorized", "post: p1"} {
		if !strings.Contains(text, want) {
			t.Errorf("alert %q misses %q", text, want)
		}
	}
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	cfg := testConfig()
	cfg.PersistDedup = true

	first := newRecordingSender(0)
	s1 := New(cfg, first, logx.Nop(), nil, st)
	s1.Start(context.Background())
	if err := s1.Notify(context.Background(), Alert{Key: "same", Text: "once"}); err != nil {
		t.Fatal(err)
	}
	waitSent(t, first)
	s1.Stop(context.Background())

	if _, ok, err := st.GetDedup(context.Background(), dedupKey(Alert{Key: "same"})); err != nil || !ok {
		t.Fatalf("dedup entry not persisted (ok=%v err=%v)", ok, err)
	}

	second := newRecordingSender(0)
	s2 := started(t, cfg, second, nil, st)
	if err := s2.Notify(context.Background(), Alert{Key: "same", Text: "once"}); err != nil {
		t.Fatal(err)
	}
	select {
	case text := <-second.sent:
		t.Fatalf("alert re-sent after restart: %q", text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		body = string(raw)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(Config{Token: "T0K", ChatID: -100, ThreadID: 3, APIURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := tg.Send(context.Background(), "hello\nreason: a<b"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if path != "/botT0K/sendMessage" {
		t.Fatalf("path = %q", path)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(body), &sent); err != nil {
		t.Fatalf("body = %q: %v", body, err)
	}
	if sent["parse_mode"] != "HTML" {
		t.Fatalf("parse_mode = %v", sent["parse_mode"])
	}
	if text, _ := sent["text"].(string); text != "<b>hello</b>\nreason: a&lt;b" {
		t.Fatalf("text = %q", text)
	}

	if _, err := NewTelegram(Config{Token: "T0K"}); err == nil {
		t.Fatal("missing chat id must fail")
	}
}
