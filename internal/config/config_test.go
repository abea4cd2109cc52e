package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file: { enabled: false, path: "" }
accounts: { dir: ./accounts }
templates: { dir: ./templates }
content:
  provider: openai
  model: gpt-4o-mini
  api_key: ${AUTOPOST_TEST_KEY}
storage: { driver: sqlite, path: ./data/autopost.db, busy_timeout: 5s }
scheduler: { tick: 30s, workers: 2 }
dispatch: { retry_max: 2, retry_base: 1m, jitter_max: 0s }
platforms:
  twitter: { enabled: true, rate_per_minute: 5 }
  blog: { enabled: true, site_dir: ./site }
metrics: { enabled: false }
`

func TestDecodeYAMLWithEnv(t *testing.T) {
	t.Setenv("AUTOPOST_TEST_KEY", "sk-test")
	cfg, err := Decode("autopost.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Content.APIKey != "sk-test" {
		t.Fatalf("api_key = %q, want env expansion", cfg.Content.APIKey)
	}
	if cfg.Dispatch.RetryMax == nil || *cfg.Dispatch.RetryMax != 2 {
		t.Fatalf("retry_max = %v", cfg.Dispatch.RetryMax)
	}
	if !cfg.Platforms["blog"].Enabled || cfg.Platforms["blog"].SiteDir != "./site" {
		t.Fatalf("blog platform = %+v", cfg.Platforms["blog"])
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"accounts":{"dir":"a"},"bogus":1}`))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
	_, err = Decode("c.json", []byte(`{"accounts":{"dir":"a"}}{}`))
	if err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	retry := -1
	cfg := &Config{
		Content:   ContentConfig{Provider: "gemini"},
		Storage:   &StorageConfig{Driver: "sqlite"},
		Scheduler: SchedulerConfig{Tick: "soon"},
		Dispatch:  DispatchConfig{RetryMax: &retry},
		Platforms: map[string]PlatformConfig{"myspace": {Enabled: true}, "blog": {Enabled: true}},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"accounts.dir", "templates.dir", "unknown provider", "storage.path",
		"scheduler.tick", "retry_max", "platforms.myspace", "site_dir",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: " 90s ", want: 90 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x", tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseDurationField(%q) err = %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	if got := MustDuration("", time.Minute); got != time.Minute {
		t.Fatalf("MustDuration default = %v", got)
	}
}

func TestManagerReloadPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autopost.json")
	write := func(tick string) {
		body := `{"accounts":{"dir":"a"},"templates":{"dir":"t"},"scheduler":{"tick":"` + tick + `"}}`
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("30s")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	if published, err := m.Reload(context.Background()); err != nil || published {
		t.Fatalf("unchanged reload = %v, %v", published, err)
	}

	write("10s")
	published, err := m.Reload(context.Background())
	if err != nil || !published {
		t.Fatalf("changed reload = %v, %v", published, err)
	}
	got := <-sub
	if got.Scheduler.Tick != "10s" || m.Get().Scheduler.Tick != "10s" {
		t.Fatalf("published tick = %q", got.Scheduler.Tick)
	}

	write("never")
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("invalid config must be rejected")
	}
	if m.Get().Scheduler.Tick != "10s" {
		t.Fatal("rejected config must not be committed")
	}
	m.Unsubscribe(sub)
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Content: ContentConfig{Provider: "mock"}}
	b := &Config{
		Content:   ContentConfig{Provider: "openai", Model: "m", APIKey: "secret"},
		Platforms: map[string]PlatformConfig{"twitter": {Enabled: true}},
	}
	changed, attrs := SummarizeChange(a, b)
	if strings.Join(changed, ",") != "content,platforms" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
}

func TestExpandEnvLeavesBareDollar(t *testing.T) {
	t.Setenv("AUTOPOST_X", "y")
	if got := ExpandEnv("cost $5 ${AUTOPOST_X}"); got != "cost $5 y" {
		t.Fatalf("ExpandEnv = %q", got)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	t.Setenv("AUTOPOST_PRESET", "from-process")
	t.Cleanup(func() { os.Unsetenv("AUTOPOST_FROM_FILE") })

	dir := t.TempDir()
	path := filepath.Join(dir, "creds.env")
	body := "AUTOPOST_FROM_FILE=abc123\nAUTOPOST_PRESET=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadEnvFiles(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0] != path {
		t.Fatalf("loaded = %v", loaded)
	}
	if got := ExpandEnv("${AUTOPOST_FROM_FILE}"); got != "abc123" {
		t.Fatalf("AUTOPOST_FROM_FILE = %q", got)
	}
	if got := os.Getenv("AUTOPOST_PRESET"); got != "from-process" {
		t.Fatalf("process value overridden: %q", got)
	}
}
