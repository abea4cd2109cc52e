package content

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autopost/internal/account"
	"autopost/internal/failure"
	logx "autopost/pkg/logx"
)

// Generator is the Provider backed by templates and a language model.
type Generator struct {
	templates *Templates
	themes    *Themes
	client    Client
	log       logx.Logger
	now       func() time.Time

	// Defaults applied when a template leaves them unset.
	System      string
	MaxTokens   int
	Temperature *float64
	MaxHashtags int
}

type GeneratorOption func(*Generator)

func WithGeneratorLogger(log logx.Logger) GeneratorOption {
	return func(g *Generator) { g.log = log }
}

// WithThemes sets the themes accounts refer to by name.
func WithThemes(t *Themes) GeneratorOption {
	return func(g *Generator) { g.themes = t }
}

func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(templates *Templates, client Client, opts ...GeneratorOption) *Generator {
	g := &Generator{templates: templates, client: client, now: time.Now, MaxHashtags: 5}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Generator) Templates() *Templates { return g.templates }

// Prompt renders the prompt a Generate call would send.
func (g *Generator) Prompt(acct account.Account, templateID string, hints []Hint) (*Template, string, error) {
	t, data, err := g.promptData(acct, templateID, hints)
	if err != nil {
		return nil, "", err
	}
	prompt, err := t.Render(data)
	if err != nil {
		return nil, "", err
	}
	return t, prompt, nil
}

func (g *Generator) promptData(acct account.Account, templateID string, hints []Hint) (*Template, PromptData, error) {
	t, err := g.templates.Get(templateID)
	if err != nil {
		return nil, PromptData{}, err
	}
	now := g.now()
	theme, err := g.themes.ForAccount(acct, now)
	if err != nil {
		return nil, PromptData{}, err
	}
	return t, newPromptData(acct, t.ID, hints, theme, now), nil
}

// Generate implements Provider.
func (g *Generator) Generate(ctx context.Context, acct account.Account, templateID string, hints []Hint) (Content, error) {
	t, data, err := g.promptData(acct, templateID, hints)
	if err != nil {
		return Content{}, err
	}
	prompt, err := t.Render(data)
	if err != nil {
		return Content{}, err
	}
	req := Request{
		System:      firstNonEmpty(t.System, g.System),
		Prompt:      prompt,
		Model:       t.Model,
		MaxTokens:   firstPositive(t.MaxTokens, g.MaxTokens),
		Temperature: t.Temperature,
	}
	if req.Temperature == nil {
		req.Temperature = g.Temperature
	}

	started := g.now()
	comp, err := g.client.Complete(ctx, req)
	if err != nil {
		if _, ok := failure.As(err); !ok && ctx.Err() == nil {
			err = failure.Provider(failure.Transient, failure.ReasonProviderUnavailable, err)
		}
		return Content{}, err
	}
	g.log.Debug("content generated",
		logx.String("account", acct.ID),
		logx.String("template", t.ID),
		logx.String("model", comp.Model),
		logx.Int("chars", len(comp.Text)),
		logx.Duration("took", g.now().Sub(started)),
	)

	if avoided := data.Theme.Tone.AvoidedIn(comp.Text); len(avoided) > 0 {
		g.log.Warn("generated text uses terms the tone avoids",
			logx.String("account", acct.ID),
			logx.String("tone", data.Theme.Tone.Name),
			logx.Strings("terms", avoided),
		)
	}
	c := Content{
		Body:         comp.Text,
		Format:       t.Format,
		Platforms:    t.Platforms,
		Tags:         g.tags(acct, data.Theme.Hashtags, hints),
		PlatformTags: data.Theme.PlatformHashtags,
		Link:         acct.Site,
		Template:     t.ID,
		Model:        comp.Model,
		CreatedAt:    g.now().UTC(),
	}
	if len(acct.Images) > 0 {
		c.ImageURL = acct.Images[int(g.now().Unix()/86400)%len(acct.Images)]
	}
	if t.Format == FormatMarkdown {
		title, body := splitTitle(comp.Text)
		if rendered, err := t.RenderTitle(data); err != nil {
			return Content{}, err
		} else if rendered != "" {
			title = rendered
		}
		if title == "" {
			title = t.Name + " " + data.Date
		}
		c.Title, c.Body = title, body
		c.Slug = Slugify(data.Date + " " + title)
		c.Link = ""
	} else {
		// Models often answer in markdown even when asked for a caption.
		c.Body = PlainText(comp.Text)
	}
	return c, nil
}

// tags merges account, theme and trend hashtags, without duplicates.
func (g *Generator) tags(acct account.Account, theme []string, hints []Hint) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		h := Hashtag(s)
		if h == "" || seen[strings.ToLower(h)] {
			return
		}
		seen[strings.ToLower(h)] = true
		out = append(out, h)
	}
	for _, h := range acct.Hashtags {
		add(h)
	}
	for _, h := range theme {
		add(h)
	}
	for _, h := range hints {
		if g.MaxHashtags > 0 && len(out) >= g.MaxHashtags {
			break
		}
		add(h.Keyword)
	}
	return out
}

// Archive writes a generated piece under dir/<date>/<account>/ as
// blog.md, caption.txt and debug.json.
func Archive(dir string, acct account.Account, prompt string, c Content) (string, error) {
	out := filepath.Join(dir, c.CreatedAt.Format("2006-01-02"), acct.ID)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", err
	}
	page, err := RenderPage(c)
	if err != nil {
		return "", err
	}
	debug, err := json.MarshalIndent(map[string]any{
		"prompt":   prompt,
		"content":  c,
		"keywords": acct.Keywords,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	files := map[string][]byte{
		"blog.md":     page,
		"caption.txt": []byte(Caption(c, 0) + "\n"),
		"debug.json":  debug,
	}
	for name, b := range files {
		if err := os.WriteFile(filepath.Join(out, name), b, 0o644); err != nil {
			return "", fmt.Errorf("archive %s: %w", name, err)
		}
	}
	return out, nil
}
