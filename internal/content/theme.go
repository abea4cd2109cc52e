package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"autopost/internal/account"
	"autopost/internal/config"
	"autopost/internal/failure"
	logx "autopost/pkg/logx"
)

// ThemeFile is the on-disk theme: the keyword sets an account's posts
// draw on (TOML, YAML or JSON).
type ThemeFile struct {
	ID            string          `toml:"id" json:"id"`
	Name          string          `toml:"name" json:"name"`
	Description   string          `toml:"description" json:"description"`
	Categories    []ThemeCategory `toml:"categories" json:"categories"`
	Seasons       []Season        `toml:"seasons" json:"seasons"`
	Tones         []Tone          `toml:"tones" json:"tones"`
	TrendKeywords []string        `toml:"trend_keywords" json:"trend_keywords"`
	CallsToAction []string        `toml:"calls_to_action" json:"calls_to_action"`
	Engagement    []string        `toml:"engagement_phrases" json:"engagement_phrases"`
}

type ThemeCategory struct {
	Name      string                   `toml:"name" json:"name"`
	Primary   []string                 `toml:"primary" json:"primary"`
	Secondary []string                 `toml:"secondary" json:"secondary"`
	Related   []string                 `toml:"related" json:"related"`
	Platforms map[string]PlatformTerms `toml:"platforms" json:"platforms"`
}

// PlatformTerms are the extra keywords and hashtags a category uses on
// one platform.
type PlatformTerms struct {
	Keywords []string `toml:"keywords" json:"keywords"`
	Hashtags []string `toml:"hashtags" json:"hashtags"`
}

// Season applies its keywords and hashtags in the listed months (1-12).
type Season struct {
	Name     string   `toml:"name" json:"name"`
	Months   []int    `toml:"months" json:"months"`
	Keywords []string `toml:"keywords" json:"keywords"`
	Hashtags []string `toml:"hashtags" json:"hashtags"`
}

// Tone is a voice an account can write in.
type Tone struct {
	Name        string   `toml:"name" json:"name"`
	Description string   `toml:"description" json:"description"`
	Keywords    []string `toml:"keywords" json:"keywords"`
	Avoid       []string `toml:"avoid" json:"avoid"`
	Examples    []string `toml:"examples" json:"examples"`
}

// AvoidedIn returns the avoid terms text contains, case-insensitively.
func (t Tone) AvoidedIn(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, term := range t.Avoid {
		if term = strings.TrimSpace(term); term != "" && strings.Contains(lower, strings.ToLower(term)) {
			out = append(out, term)
		}
	}
	return out
}

// Theme is a validated theme file.
type Theme struct {
	ThemeFile
	Path string
}

// ThemeTerms is what a theme contributes to one account's post: prompt
// data, hashtags and per-platform hashtags.
type ThemeTerms struct {
	Name             string
	Categories       []string
	Keywords         []string
	Seasonal         []string
	Season           string
	Hashtags         []string
	PlatformHashtags map[string][]string
	Tone             Tone
	CallsToAction    []string
	Engagement       []string
}

// ParseTheme decodes and validates one theme file.
func ParseTheme(path string, raw []byte) (*Theme, error) {
	var f ThemeFile
	if err := decodeStrict(path, raw, &f); err != nil {
		return nil, err
	}
	f.ID = fileID(path, f.ID)
	f.Name = firstNonEmpty(f.Name, f.ID)
	for i, c := range f.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("theme %s: categories[%d]: name is required", f.ID, i)
		}
		if len(c.Platforms) > 0 {
			norm := make(map[string]PlatformTerms, len(c.Platforms))
			for p, terms := range c.Platforms {
				norm[strings.ToLower(strings.TrimSpace(p))] = terms
			}
			f.Categories[i].Platforms = norm
		}
	}
	for i, s := range f.Seasons {
		if len(s.Months) == 0 {
			return nil, fmt.Errorf("theme %s: seasons[%d]: months are required", f.ID, i)
		}
		for _, m := range s.Months {
			if m < 1 || m > 12 {
				return nil, fmt.Errorf("theme %s: seasons[%d]: month %d out of range 1-12", f.ID, i, m)
			}
		}
	}
	return &Theme{ThemeFile: f, Path: path}, nil
}

// selected returns the categories named in want, or all of them when
// want is empty.
func (t *Theme) selected(want []string) []ThemeCategory {
	if len(want) == 0 {
		return t.Categories
	}
	var out []ThemeCategory
	for _, c := range t.Categories {
		if slices.ContainsFunc(want, func(w string) bool { return strings.EqualFold(strings.TrimSpace(w), c.Name) }) {
			out = append(out, c)
		}
	}
	return out
}

func (t *Theme) seasons(month time.Month) []Season {
	var out []Season
	for _, s := range t.Seasons {
		if slices.Contains(s.Months, int(month)) {
			out = append(out, s)
		}
	}
	return out
}

// Terms resolves the theme for an account: its preferred categories (all
// when none), its tone, its platforms and the local month.
func (t *Theme) Terms(categories []string, tone string, platforms []string, month time.Month) ThemeTerms {
	out := ThemeTerms{Name: t.Name, CallsToAction: t.CallsToAction, Engagement: t.Engagement}
	var keywords, hashtags terms
	cats := t.selected(categories)
	for _, c := range cats {
		out.Categories = append(out.Categories, c.Name)
		keywords.add(c.Primary...)
		keywords.add(c.Secondary...)
	}
	var seasonal terms
	var names []string
	for _, s := range t.seasons(month) {
		names = append(names, s.Name)
		seasonal.add(s.Keywords...)
		hashtags.add(s.Hashtags...)
	}
	out.Keywords, out.Seasonal, out.Hashtags = keywords.list, seasonal.list, hashtags.list
	out.Season = strings.Join(names, ", ")

	for _, p := range platforms {
		var tags terms
		for _, c := range cats {
			tags.add(c.Platforms[p].Hashtags...)
		}
		if len(tags.list) > 0 {
			if out.PlatformHashtags == nil {
				out.PlatformHashtags = map[string][]string{}
			}
			out.PlatformHashtags[p] = tags.list
		}
	}
	for _, tn := range t.Tones {
		if strings.EqualFold(tn.Name, strings.TrimSpace(tone)) {
			out.Tone = tn
			break
		}
	}
	return out
}

// SeedKeywords are the terms trend data is matched against: category
// keywords and related terms, platform keywords, seasonal keywords and
// the theme's trend keywords.
func (t *Theme) SeedKeywords(categories []string, platforms []string, month time.Month) []string {
	var out terms
	for _, c := range t.selected(categories) {
		out.add(c.Primary...)
		out.add(c.Secondary...)
		out.add(c.Related...)
		for _, p := range platforms {
			out.add(c.Platforms[p].Keywords...)
		}
	}
	for _, s := range t.seasons(month) {
		out.add(s.Keywords...)
	}
	out.add(t.TrendKeywords...)
	return out.list
}

// terms is an ordered set, case-insensitive.
type terms struct {
	seen map[string]bool
	list []string
}

func (s *terms) add(vs ...string) {
	for _, v := range vs {
		v = strings.TrimSpace(v)
		k := strings.ToLower(v)
		if v == "" || s.seen[k] {
			continue
		}
		if s.seen == nil {
			s.seen = map[string]bool{}
		}
		s.seen[k] = true
		s.list = append(s.list, v)
	}
}

// Themes is the loaded theme set. A nil *Themes holds no themes.
type Themes struct {
	dir string
	log logx.Logger

	mu   sync.RWMutex
	byID map[string]*Theme
}

func NewThemes(ts ...*Theme) *Themes {
	s := &Themes{byID: map[string]*Theme{}}
	for _, t := range ts {
		s.byID[t.ID] = t
	}
	return s
}

// LoadThemes reads every theme file in dir.
func LoadThemes(dir string, log logx.Logger) (*Themes, error) {
	s := &Themes{dir: dir, log: log, byID: map[string]*Theme{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the directory; the previous set is kept on error.
func (s *Themes) Reload() error {
	if s == nil || s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read themes dir: %w", err)
	}
	next := map[string]*Theme{}
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
		t, err := ParseTheme(path, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := next[t.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate theme id %q", t.ID))
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
	s.log.Info("themes loaded", logx.String("dir", s.dir), logx.Int("count", len(next)))
	return nil
}

// Get returns a theme. A missing theme is a permanent config error.
func (s *Themes) Get(id string) (*Theme, error) {
	var (
		t  *Theme
		ok bool
	)
	if s != nil {
		s.mu.RLock()
		t, ok = s.byID[id]
		s.mu.RUnlock()
	}
	if !ok {
		return nil, failure.Config(failure.ReasonMissingTheme, "theme %q not found", id)
	}
	return t, nil
}

func (s *Themes) List() []*Theme {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Theme, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForAccount resolves the account's theme. Accounts without a theme get
// zero terms.
func (s *Themes) ForAccount(acct account.Account, now time.Time) (ThemeTerms, error) {
	if acct.Theme == "" {
		return ThemeTerms{}, nil
	}
	t, err := s.Get(acct.Theme)
	if err != nil {
		return ThemeTerms{}, err
	}
	return t.Terms(acct.Categories, acct.Tone, acct.Platforms, now.In(acct.Location()).Month()), nil
}

// Watch reloads on file changes until ctx ends.
func (s *Themes) Watch(ctx context.Context) error {
	if s == nil || s.dir == "" {
		<-ctx.Done()
		return nil
	}
	return config.WatchDir(ctx, config.WatchOptions{
		Dir: s.dir,
		Log: s.log,
		OnChange: func() {
			if err := s.Reload(); err != nil {
				s.log.Warn("theme reload rejected; keeping previous set", logx.Err(err))
			}
		},
	})
}
