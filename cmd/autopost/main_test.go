package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const cliConfig = `
logging:
  level: error
accounts:
  dir: ROOT/accounts
templates:
  dir: ROOT/templates
content:
  provider: mock
storage:
  driver: file
  path: ROOT/data/autopost
dispatch:
  jitter_max: 0s
platforms:
  blog:
    enabled: true
    site_dir: ROOT/site
`

const cliTemplate = `
name = "Note"
format = "markdown"
title = "Note for {{.Name}}"
prompt = "Write a short note for {{.Name}}."
`

func cliEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"accounts", "templates"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "templates", "note.toml"), []byte(cliTemplate), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := filepath.Join(root, "config.yaml")
	if err := os.WriteFile(cfg, []byte(strings.ReplaceAll(cliConfig, "ROOT", root)), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// Commands share package-level flag variables, so these run sequentially.
func TestCommands(t *testing.T) {
	cfg := cliEnv(t)

	steps := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "create", args: []string{"account", "new", "bread", "--name", "Daily Bread", "--platforms", "blog"}, want: "created bread"},
		{name: "duplicate", args: []string{"account", "new", "bread", "--platforms", "blog"}, wantErr: true},
		{name: "list", args: []string{"account", "list"}, want: "Daily Bread"},
		{name: "prompt", args: []string{"test", "prompt", "note", "bread"}, want: "Write a short note for Daily Bread."},
		{name: "pause", args: []string{"account", "pause", "Daily Bread"}, want: "is now paused"},
		{name: "post while paused", args: []string{"post", "now", "bread", "note"}, wantErr: true},
		{name: "resume", args: []string{"account", "resume", "bread"}, want: "is now active"},
		{name: "post", args: []string{"post", "now", "bread", "note"}, want: "posted"},
		{name: "queue", args: []string{"queue", "list"}, want: "posted 1"},
		{name: "unknown template", args: []string{"schedule", "add", "bread", "nope", "mon", "09:00"}, wantErr: true},
		{name: "run all", args: []string{"run", "all"}, want: "due 0"},
	}
	for _, s := range steps {
		out, err := execute(t, append(s.args, "--config", cfg)...)
		if s.wantErr {
			if err == nil {
				t.Fatalf("%s: expected an error, output:\n%s", s.name, out)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v\n%s", s.name, err, out)
		}
		if !strings.Contains(out, s.want) {
			t.Fatalf("%s: output misses %q:\n%s", s.name, s.want, out)
		}
	}
}
