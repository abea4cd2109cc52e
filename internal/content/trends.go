package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"autopost/internal/account"
	"autopost/internal/config"
)

// TrendFile is the trend-scan data file (JSON or YAML).
type TrendFile struct {
	UpdatedAt time.Time `json:"updated_at"`
	Keywords  []Trend   `json:"keywords"`
}

type Trend struct {
	Keyword  string   `json:"keyword"`
	Category string   `json:"category"`
	Score    float64  `json:"score"`
	Growth   float64  `json:"growth"`
	Rising   bool     `json:"rising"`
	Related  []string `json:"related"`
}

// FileSource ranks trends from a data file against account keywords.
// The file is re-read when its modification time changes.
type FileSource struct {
	path     string
	maxHints int
	minScore float64
	themes   *Themes
	now      func() time.Time

	mu      sync.Mutex
	modTime time.Time
	trends  []Trend
}

func NewFileSource(path string, maxHints int, minScore float64) *FileSource {
	if maxHints <= 0 {
		maxHints = 5
	}
	return &FileSource{path: path, maxHints: maxHints, minScore: minScore, now: time.Now}
}

// WithThemes adds each account's theme seed keywords to the terms trends
// are ranked against.
func (s *FileSource) WithThemes(t *Themes) *FileSource {
	s.themes = t
	return s
}

// keywords returns the account keywords followed by its theme's seed
// keywords for the current local month.
func (s *FileSource) keywords(acct account.Account) []string {
	if s.themes == nil || acct.Theme == "" {
		return acct.Keywords
	}
	th, err := s.themes.Get(acct.Theme)
	if err != nil {
		return acct.Keywords
	}
	month := s.now().In(acct.Location()).Month()
	return append(slices.Clone(acct.Keywords), th.SeedKeywords(acct.Categories, acct.Platforms, month)...)
}

func (s *FileSource) load() ([]Trend, error) {
	st, err := os.Stat(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trends != nil && st.ModTime().Equal(s.modTime) {
		return s.trends, nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if config.IsYAMLPath(s.path) {
		if raw, err = config.YAMLToJSON(raw); err != nil {
			return nil, fmt.Errorf("trend file: %w", err)
		}
	}
	var f TrendFile
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&f); err != nil {
		return nil, fmt.Errorf("trend file: %w", err)
	}
	s.trends = f.Keywords
	if s.trends == nil {
		s.trends = []Trend{}
	}
	s.modTime = st.ModTime()
	return s.trends, nil
}

// Hints returns up to maxHints trends relevant to acct. A missing file
// yields no hints.
func (s *FileSource) Hints(ctx context.Context, acct account.Account) ([]Hint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trends, err := s.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return RankTrends(trends, s.keywords(acct), s.minScore, s.maxHints), nil
}

// RankTrends orders trends by keyword overlap, then rising, then score.
// When nothing overlaps, the top rising trends are returned instead.
func RankTrends(trends []Trend, keywords []string, minScore float64, limit int) []Hint {
	type scored struct {
		t   Trend
		rel int
	}
	var cands []scored
	anyRelevant := false
	for _, t := range trends {
		if strings.TrimSpace(t.Keyword) == "" || t.Score < minScore {
			continue
		}
		rel := relevance(t, keywords)
		if rel > 0 {
			anyRelevant = true
		}
		cands = append(cands, scored{t, rel})
	}
	if anyRelevant {
		kept := cands[:0]
		for _, c := range cands {
			if c.rel > 0 {
				kept = append(kept, c)
			}
		}
		cands = kept
	} else {
		kept := cands[:0]
		for _, c := range cands {
			if c.t.Rising {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.rel != b.rel {
			return a.rel > b.rel
		}
		if a.t.Rising != b.t.Rising {
			return a.t.Rising
		}
		if a.t.Score != b.t.Score {
			return a.t.Score > b.t.Score
		}
		return a.t.Keyword < b.t.Keyword
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]Hint, 0, len(cands))
	for _, c := range cands {
		out = append(out, Hint{
			Keyword:  c.t.Keyword,
			Category: c.t.Category,
			Score:    c.t.Score,
			Growth:   c.t.Growth,
			Rising:   c.t.Rising,
			Related:  c.t.Related,
		})
	}
	return out
}

// relevance counts account keyword words found in the trend keyword or
// its related terms.
func relevance(t Trend, keywords []string) int {
	hay := map[string]bool{}
	for _, s := range append([]string{t.Keyword, t.Category}, t.Related...) {
		for _, w := range strings.Fields(strings.ToLower(s)) {
			hay[strings.Trim(w, "#,.")] = true
		}
	}
	n := 0
	for _, k := range keywords {
		for _, w := range strings.Fields(strings.ToLower(k)) {
			if hay[strings.Trim(w, "#,.")] {
				n++
			}
		}
	}
	return n
}
