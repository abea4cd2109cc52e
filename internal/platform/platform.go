// Package platform holds the publishers: one per target platform, all
// behind the Publisher contract so the dispatcher never switches on
// platform names.
package platform

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"autopost/internal/account"
	"autopost/internal/config"
	"autopost/internal/content"
	"autopost/internal/failure"
	logx "autopost/pkg/logx"
)

// Receipt identifies a published post on the remote side.
type Receipt struct {
	RemoteID string
	URL      string
}

// Capabilities describe what a platform accepts.
type Capabilities struct {
	MaxTextLen    int              // 0 means no limit
	Formats       []content.Format // accepted content formats
	Images        bool             // can attach an image
	RequiresImage bool
	Credentials   []string // required credential keys
}

func (c Capabilities) Accepts(f content.Format) bool {
	return len(c.Formats) == 0 || slices.Contains(c.Formats, f)
}

// Publisher posts content for an account on one platform.
//
// Errors are classified with failure.Publish: transient for network,
// rate limits, timeouts and 5xx; permanent for bad credentials, rejected
// or unsupported content.
type Publisher interface {
	Platform() string
	Capabilities() Capabilities
	Publish(ctx context.Context, acct account.Account, c content.Content) (Receipt, error)
}

var socialFormats = []content.Format{content.FormatCaption, content.FormatText}

// Check validates c and the account credentials against caps before any
// network call. Failures are permanent.
func Check(p Publisher, acct account.Account, c content.Content) error {
	caps := p.Capabilities()
	name := p.Platform()
	if !c.Targets(name) {
		return failure.Publish(failure.Permanent, failure.ReasonUnsupported,
			fmt.Errorf("content is not meant for %s", name))
	}
	if !caps.Accepts(c.Format) {
		return failure.Publish(failure.Permanent, failure.ReasonUnsupported,
			fmt.Errorf("%s does not accept %s content", name, c.Format))
	}
	if caps.RequiresImage && strings.TrimSpace(c.ImageURL) == "" {
		return failure.Publish(failure.Permanent, failure.ReasonUnsupported,
			fmt.Errorf("%s requires an image", name))
	}
	if strings.TrimSpace(c.Body) == "" {
		return failure.Publish(failure.Permanent, failure.ReasonRejected,
			fmt.Errorf("empty content body"))
	}
	var missing []string
	for _, k := range caps.Credentials {
		if strings.TrimSpace(acct.Credential(name, k)) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return failure.Config(failure.ReasonMissingCredentials,
			"account %s: missing %s credentials: %s", acct.ID, name, strings.Join(missing, ", "))
	}
	return nil
}

// Registry maps platform names to publishers.
type Registry struct {
	byName map[string]Publisher
}

func NewRegistry(pubs ...Publisher) *Registry {
	r := &Registry{byName: map[string]Publisher{}}
	for _, p := range pubs {
		r.byName[p.Platform()] = p
	}
	return r
}

// Get returns the publisher for platform. A missing one is a permanent
// config error.
func (r *Registry) Get(platform string) (Publisher, error) {
	if r != nil {
		if p, ok := r.byName[platform]; ok {
			return p, nil
		}
	}
	return nil, failure.Config(failure.ReasonUnknownPlatform, "no publisher enabled for platform %q", platform)
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// limited gates a publisher behind a token bucket. Waiting is bounded by
// the publish context.
type limited struct {
	Publisher
	lim *rate.Limiter
}

// WithRateLimit wraps p with a limit of perMinute calls and the given
// burst. perMinute <= 0 returns p unchanged.
func WithRateLimit(p Publisher, perMinute, burst int) Publisher {
	if perMinute <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &limited{Publisher: p, lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)}
}

func (l *limited) Publish(ctx context.Context, acct account.Account, c content.Content) (Receipt, error) {
	if err := l.lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Receipt{}, ctx.Err()
		}
		// Wait fails early when the deadline cannot fit the next token.
		return Receipt{}, failure.Publish(failure.Transient, failure.ReasonRateLimited, err)
	}
	return l.Publisher.Publish(ctx, acct, c)
}

// Build creates the publishers enabled in cfg, each behind its configured
// rate limit.
func Build(cfg map[string]config.PlatformConfig, log logx.Logger) *Registry {
	var pubs []Publisher
	for _, name := range config.PlatformNames {
		pc, ok := cfg[name]
		if !ok || !pc.Enabled {
			continue
		}
		timeout := config.MustDuration(pc.Timeout, 30*time.Second)
		var p Publisher
		switch name {
		case "twitter":
			p = NewTwitter(pc.APIURL, timeout)
		case "facebook":
			p = NewFacebook(pc.APIURL, timeout)
		case "instagram":
			p = NewInstagram(pc.APIURL, timeout)
		case "pinterest":
			p = NewPinterest(pc.APIURL, timeout)
		case "telegram":
			p = NewTelegram(pc.APIURL, timeout)
		case "blog":
			p = NewBlog(BlogConfig{
				SiteDir:    pc.SiteDir,
				ContentDir: pc.ContentDir,
				BaseURL:    pc.BaseURL,
				BuildCmd:   pc.BuildCmd,
				Timeout:    timeout,
			}, log.With(logx.String("platform", "blog")))
		}
		pubs = append(pubs, WithRateLimit(p, pc.RatePerMinute, pc.Burst))
		log.Debug("publisher enabled", logx.String("platform", name), logx.Int("rate_per_minute", pc.RatePerMinute))
	}
	return NewRegistry(pubs...)
}
