package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/pelletier/go-toml/v2"

	"autopost/internal/account"
	"autopost/internal/config"
	"autopost/internal/failure"
	logx "autopost/pkg/logx"
)

// TemplateFile is the on-disk template definition.
type TemplateFile struct {
	ID          string            `toml:"id" json:"id"`
	Name        string            `toml:"name" json:"name"`
	Description string            `toml:"description" json:"description"`
	Model       string            `toml:"model" json:"model"`
	Temperature *float64          `toml:"temperature" json:"temperature"`
	MaxTokens   int               `toml:"max_tokens" json:"max_tokens"`
	Format      string            `toml:"format" json:"format"`
	Platforms   []string          `toml:"platforms" json:"platforms"`
	System      string            `toml:"system" json:"system"`
	Title       string            `toml:"title" json:"title"`
	Prompt      string            `toml:"prompt" json:"prompt"`
	PromptFile  string            `toml:"prompt_file" json:"prompt_file"`
	Schedule    *account.Schedule `toml:"schedule" json:"schedule"`
}

// Template is a parsed, ready-to-render template.
type Template struct {
	ID          string
	Name        string
	Description string
	Model       string
	Temperature *float64
	MaxTokens   int
	Format      Format
	Platforms   []string
	System      string
	Schedule    *account.Schedule
	Path        string

	prompt *template.Template
	title  *template.Template
}

// PromptData is what prompt and title templates see.
type PromptData struct {
	Account  account.Account
	Name     string
	Site     string
	Tone     string
	Keywords []string
	Hashtags []string
	Hints    []Hint
	Trending []string
	Theme    ThemeTerms
	Template string
	Date     string
	Now      time.Time
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"hashtag": func(s string) string {
		return Hashtag(s)
	},
	"default": func(def, v string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	},
}

func IsTemplateFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// decodeStrict decodes a TOML, YAML or JSON definition into v, rejecting
// unknown keys.
func decodeStrict(path string, raw []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	case ".yaml", ".yml", ".json":
		if config.IsYAMLPath(path) {
			jb, err := config.YAMLToJSON(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			raw = jb
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	default:
		return fmt.Errorf("%s: unsupported file type", filepath.Base(path))
	}
	return nil
}

// fileID is the id a definition gets when it does not set one.
func fileID(path, id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseTemplate decodes and compiles one template file.
func ParseTemplate(path string, raw []byte) (*Template, error) {
	var f TemplateFile
	if err := decodeStrict(path, raw, &f); err != nil {
		return nil, err
	}
	id := fileID(path, f.ID)
	format, ok := ParseFormat(strings.ToLower(strings.TrimSpace(f.Format)))
	if !ok {
		return nil, fmt.Errorf("template %s: unknown format %q", id, f.Format)
	}

	promptSrc := f.Prompt
	if f.PromptFile != "" {
		if promptSrc != "" {
			return nil, fmt.Errorf("template %s: set prompt or prompt_file, not both", id)
		}
		p := f.PromptFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(path), p)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", id, err)
		}
		promptSrc = string(b)
	}
	if strings.TrimSpace(promptSrc) == "" {
		return nil, fmt.Errorf("template %s: prompt is required", id)
	}
	prompt, err := template.New(id).Funcs(funcs).Option("missingkey=error").Parse(promptSrc)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", id, err)
	}
	t := &Template{
		ID:          id,
		Name:        firstNonEmpty(f.Name, id),
		Description: f.Description,
		Model:       f.Model,
		Temperature: f.Temperature,
		MaxTokens:   f.MaxTokens,
		Format:      format,
		Platforms:   f.Platforms,
		System:      f.System,
		Schedule:    f.Schedule,
		Path:        path,
		prompt:      prompt,
	}
	if strings.TrimSpace(f.Title) != "" {
		t.title, err = template.New(id + ".title").Funcs(funcs).Parse(f.Title)
		if err != nil {
			return nil, fmt.Errorf("template %s title: %w", id, err)
		}
	}
	if t.Schedule != nil {
		t.Schedule.Template = id
		if _, err := t.Schedule.Parse(time.UTC); err != nil {
			return nil, fmt.Errorf("template %s schedule: %w", id, err)
		}
	}
	return t, nil
}

func newPromptData(acct account.Account, templateID string, hints []Hint, theme ThemeTerms, now time.Time) PromptData {
	trending := make([]string, 0, len(hints))
	for _, h := range hints {
		trending = append(trending, h.Keyword)
	}
	local := now.In(acct.Location())
	return PromptData{
		Account:  acct,
		Name:     acct.Name,
		Site:     acct.Site,
		Tone:     acct.Tone,
		Keywords: acct.Keywords,
		Hashtags: acct.Hashtags,
		Hints:    hints,
		Trending: trending,
		Theme:    theme,
		Template: templateID,
		Date:     local.Format("2006-01-02"),
		Now:      local,
	}
}

// Render executes the prompt. Execution errors are permanent
// invalid_template failures.
func (t *Template) Render(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := t.prompt.Execute(&buf, data); err != nil {
		return "", failure.Provider(failure.Permanent, failure.ReasonInvalidTemplate, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// RenderTitle executes the title template, if any.
func (t *Template) RenderTitle(data PromptData) (string, error) {
	if t.title == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.title.Execute(&buf, data); err != nil {
		return "", failure.Provider(failure.Permanent, failure.ReasonInvalidTemplate, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Templates is the loaded template set.
type Templates struct {
	dir string
	log logx.Logger

	mu   sync.RWMutex
	byID map[string]*Template
}

// NewTemplates builds an in-memory set.
func NewTemplates(ts ...*Template) *Templates {
	s := &Templates{byID: map[string]*Template{}}
	for _, t := range ts {
		s.byID[t.ID] = t
	}
	return s
}

// LoadTemplates reads every template file in dir.
func LoadTemplates(dir string, log logx.Logger) (*Templates, error) {
	s := &Templates{dir: dir, log: log, byID: map[string]*Template{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the directory; the previous set is kept on error.
func (s *Templates) Reload() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read templates dir: %w", err)
	}
	next := map[string]*Template{}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !IsTemplateFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t, err := ParseTemplate(path, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := next[t.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate template id %q", t.ID))
			continue
		}
		next[t.ID] = t
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.mu.Lock()
	s.byID = next
	s.mu.Unlock()
	s.log.Info("templates loaded", logx.String("dir", s.dir), logx.Int("count", len(next)))
	return nil
}

// Get returns a template. A missing template is a permanent config error.
func (s *Templates) Get(id string) (*Template, error) {
	s.mu.RLock()
	t, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, failure.Config(failure.ReasonMissingTemplate, "template %q not found", id)
	}
	return t, nil
}

func (s *Templates) List() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Template, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch reloads on file changes until ctx ends.
func (s *Templates) Watch(ctx context.Context) error {
	if s.dir == "" {
		<-ctx.Done()
		return nil
	}
	return config.WatchDir(ctx, config.WatchOptions{
		Dir: s.dir,
		Log: s.log,
		OnChange: func() {
			if err := s.Reload(); err != nil {
				s.log.Warn("template reload rejected; keeping previous set", logx.Err(err))
			}
		},
	})
}
