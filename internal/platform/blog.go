package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"autopost/internal/account"
	"autopost/internal/content"
	"autopost/internal/failure"
	logx "autopost/pkg/logx"
)

type BlogConfig struct {
	SiteDir    string
	ContentDir string // relative to SiteDir; default "content/posts"
	BaseURL    string
	BuildCmd   []string // run in SiteDir after each page, e.g. ["hugo", "--minify"]
	Timeout    time.Duration
}

// Blog writes markdown pages into a static site and optionally rebuilds
// it. An account may override site_dir and base_url in its blog
// credentials.
type Blog struct {
	cfg BlogConfig
	log logx.Logger
}

func NewBlog(cfg BlogConfig, log logx.Logger) *Blog {
	if cfg.ContentDir == "" {
		cfg.ContentDir = filepath.Join("content", "posts")
	}
	return &Blog{cfg: cfg, log: log}
}

func (b *Blog) Platform() string { return "blog" }

func (b *Blog) Capabilities() Capabilities {
	return Capabilities{Formats: []content.Format{content.FormatMarkdown}, Images: true}
}

func (b *Blog) Publish(ctx context.Context, acct account.Account, c content.Content) (Receipt, error) {
	if err := Check(b, acct, c); err != nil {
		return Receipt{}, err
	}
	site := firstNonEmpty(acct.Credential("blog", "site_dir"), b.cfg.SiteDir)
	if site == "" {
		return Receipt{}, failure.Config(failure.ReasonMissingCredentials, "account %s: blog site_dir is not set", acct.ID)
	}
	slug := c.Slug
	if slug == "" {
		slug = content.Slugify(c.CreatedAt.Format("2006-01-02") + " " + firstNonEmpty(c.Title, c.Template))
	}
	if slug == "" {
		return Receipt{}, failure.Publish(failure.Permanent, failure.ReasonRejected, errors.New("page has no title or slug"))
	}

	page, err := content.RenderPage(c)
	if err != nil {
		return Receipt{}, failure.Publish(failure.Permanent, failure.ReasonRejected, err)
	}
	dir := filepath.Join(site, b.cfg.ContentDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Receipt{}, failure.Publish(failure.Transient, failure.ReasonUpstream, err)
	}
	path := filepath.Join(dir, slug+".md")
	if err := writeFileAtomic(path, page); err != nil {
		return Receipt{}, failure.Publish(failure.Transient, failure.ReasonUpstream, err)
	}
	b.log.Info("page written", logx.String("account", acct.ID), logx.String("path", path))

	if len(b.cfg.BuildCmd) > 0 {
		if err := b.build(ctx, site); err != nil {
			return Receipt{}, err
		}
	}

	r := Receipt{RemoteID: slug}
	if base := firstNonEmpty(acct.Credential("blog", "base_url"), b.cfg.BaseURL, acct.Site); base != "" {
		r.URL = strings.TrimRight(base, "/") + "/" + slug + "/"
	}
	return r, nil
}

func (b *Blog) build(ctx context.Context, site string) error {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, b.cfg.BuildCmd[0], b.cfg.BuildCmd[1:]...)
	cmd.Dir = site
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	started := time.Now()
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(out.String())
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		if ctx.Err() != nil {
			return failure.Publish(failure.Transient, failure.ReasonTimeout, fmt.Errorf("site build: %w", ctx.Err()))
		}
		return failure.Publish(failure.Transient, failure.ReasonUpstream, fmt.Errorf("site build: %w: %s", err, tail))
	}
	b.log.Debug("site built", logx.String("site", site), logx.Duration("took", time.Since(started)))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
