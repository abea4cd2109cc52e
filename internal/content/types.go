package content

import (
	"context"
	"slices"
	"strings"
	"time"

	"autopost/internal/account"
)

// Format is the rendered shape of a piece of content.
type Format string

const (
	FormatMarkdown Format = "markdown" // static-site page with front matter
	FormatCaption  Format = "caption"  // social caption
	FormatText     Format = "text"
)

func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatMarkdown, FormatCaption, FormatText:
		return Format(s), true
	case "":
		return FormatCaption, true
	}
	return "", false
}

// Content is what a Provider returns and what publishers post.
type Content struct {
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	Format    Format    `json:"format"`
	Platforms []string  `json:"platforms,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Link      string    `json:"link,omitempty"`
	Slug      string    `json:"slug,omitempty"`
	Template  string    `json:"template,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// PlatformTags are extra hashtags used only on the keyed platform.
	PlatformTags map[string][]string `json:"platform_tags,omitempty"`
}

// Targets reports whether the content may go to platform. Empty
// Platforms means any.
func (c Content) Targets(platform string) bool {
	if len(c.Platforms) == 0 {
		return true
	}
	for _, p := range c.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// For returns the content as posted on platform: the shared tags followed
// by that platform's own.
func (c Content) For(platform string) Content {
	extra := c.PlatformTags[platform]
	if len(extra) == 0 {
		return c
	}
	tags := make([]string, 0, len(c.Tags)+len(extra))
	tags = append(tags, c.Tags...)
	for _, t := range extra {
		if !slices.ContainsFunc(tags, func(have string) bool { return strings.EqualFold(Hashtag(have), Hashtag(t)) }) {
			tags = append(tags, t)
		}
	}
	c.Tags = tags
	return c
}

// Hint is a trend signal passed to generation.
type Hint struct {
	Keyword  string   `json:"keyword"`
	Category string   `json:"category,omitempty"`
	Score    float64  `json:"score"`
	Growth   float64  `json:"growth,omitempty"`
	Rising   bool     `json:"rising,omitempty"`
	Related  []string `json:"related,omitempty"`
}

// Provider generates content for an account from a template.
//
// Errors are classified with the failure package: rate_limited,
// invalid_template, provider_unavailable, auth.
type Provider interface {
	Generate(ctx context.Context, acct account.Account, templateID string, hints []Hint) (Content, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, acct account.Account, templateID string, hints []Hint) (Content, error)

func (f ProviderFunc) Generate(ctx context.Context, acct account.Account, templateID string, hints []Hint) (Content, error) {
	return f(ctx, acct, templateID, hints)
}

// HintSource returns trend hints for an account.
type HintSource interface {
	Hints(ctx context.Context, acct account.Account) ([]Hint, error)
}
