// Package dispatch runs one due post through generation, jitter, the
// platform breaker and publishing, and applies the retry policy to the
// outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"autopost/internal/account"
	"autopost/internal/config"
	"autopost/internal/content"
	"autopost/internal/eventbus"
	"autopost/internal/failure"
	"autopost/internal/platform"
	"autopost/internal/queue"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

// Config holds the per-post limits and the retry policy.
type Config struct {
	PublishTimeout  time.Duration
	GenerateTimeout time.Duration
	JitterMax       time.Duration

	// RetryMax is how many times a transiently failing post is requeued
	// before it fails with retries_exhausted.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// BreakerFailures consecutive transient failures open a platform's
	// breaker for BreakerDelay. 0 disables the breaker.
	BreakerFailures int
	BreakerDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		PublishTimeout:  30 * time.Second,
		GenerateTimeout: 90 * time.Second,
		JitterMax:       5 * time.Minute,
		RetryMax:        3,
		RetryBase:       time.Minute,
		RetryMaxDelay:   30 * time.Minute,
		BreakerFailures: 5,
		BreakerDelay:    2 * time.Minute,
	}
}

// ConfigFrom maps the dispatch section of the config file onto Config.
func ConfigFrom(c config.DispatchConfig) Config {
	d := DefaultConfig()
	d.PublishTimeout = config.MustDuration(c.PublishTimeout, d.PublishTimeout)
	d.GenerateTimeout = config.MustDuration(c.GenerateTimeout, d.GenerateTimeout)
	if c.JitterMax != "" {
		d.JitterMax, _ = config.ParseDurationField("", c.JitterMax)
	}
	if c.RetryMax != nil {
		d.RetryMax = max(*c.RetryMax, 0)
	}
	d.RetryBase = config.MustDuration(c.RetryBase, d.RetryBase)
	d.RetryMaxDelay = config.MustDuration(c.RetryMaxDelay, d.RetryMaxDelay)
	if c.BreakerFailures != 0 {
		d.BreakerFailures = max(c.BreakerFailures, 0)
	}
	d.BreakerDelay = config.MustDuration(c.BreakerDelay, d.BreakerDelay)
	return d
}

// Accounts resolves account ids; *account.Store implements it.
type Accounts interface {
	Get(id string) (account.Account, error)
}

// Publishers resolves platform names; *platform.Registry implements it.
type Publishers interface {
	Get(platform string) (platform.Publisher, error)
}

// DailyCaps reports how many posts an account may publish on a platform
// per local day; 0 means no cap. *scheduler.Planner implements it.
type DailyCaps interface {
	DailyCap(acct account.Account, platform string) int
}

// Outcome is what happened to a post in one dispatch.
type Outcome string

const (
	OutcomePosted   Outcome = "posted"
	OutcomeRequeued Outcome = "requeued"
	OutcomeDeferred Outcome = "deferred"
	OutcomeFailed   Outcome = "failed"
	OutcomeReleased Outcome = "released"
	OutcomeSkipped  Outcome = "skipped"
)

// Result reports one dispatch.
type Result struct {
	PostID    string
	AccountID string
	Platform  string
	Outcome   Outcome
	Reason    string
	Err       error
	Next      time.Time // requeued or deferred target
	Receipt   platform.Receipt
	Took      time.Duration
}

type Dispatcher struct {
	cfg        Config
	queue      *queue.Queue
	accounts   Accounts
	publishers Publishers
	provider   content.Provider
	hints      content.HintSource
	caps       DailyCaps

	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time
	jitter   JitterFunc
	breakers *breakers

	// generations shares one provider call between the per-platform posts
	// of a slot that are dispatched together.
	generations singleflight.Group
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(d *Dispatcher) { d.bus = b } }

func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// WithJitter replaces the random jitter source.
func WithJitter(j JitterFunc) Option { return func(d *Dispatcher) { d.jitter = j } }

// WithHints sets the trend hint source used before generation.
func WithHints(h content.HintSource) Option { return func(d *Dispatcher) { d.hints = h } }

// WithDailyCaps sets the per-day post limits checked before generation.
func WithDailyCaps(c DailyCaps) Option { return func(d *Dispatcher) { d.caps = c } }

func New(cfg Config, q *queue.Queue, accounts Accounts, publishers Publishers, provider content.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		queue:      q,
		accounts:   accounts,
		publishers: publishers,
		provider:   provider,
		now:        time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.jitter == nil {
		d.jitter = NewJitter(0)
	}
	d.log = d.log.With(logx.String("comp", "dispatch"))
	d.breakers = newBreakers(cfg.BreakerFailures, cfg.BreakerDelay, d.log)
	return d
}

// OpenBreakers reports how many platform breakers are open.
func (d *Dispatcher) OpenBreakers() int { return d.breakers.openCount() }

// Dispatch processes one due post. Queue bookkeeping uses a context
// detached from ctx so a cancelled dispatch still leaves the post in a
// consistent state.
func (d *Dispatcher) Dispatch(ctx context.Context, p queue.Post) (res Result) {
	started := d.now()
	res = Result{PostID: p.ID, AccountID: p.AccountID, Platform: p.Platform}
	bg := context.WithoutCancel(ctx)

	post, err := d.queue.MarkInFlight(bg, p.ID)
	if err != nil {
		res.Outcome, res.Err = OutcomeSkipped, err
		d.log.Debug("post skipped", logx.String("post", p.ID), logx.Err(err))
		eventbus.Emit(d.bus, eventbus.PostSkipped, d.event(p, res))
		return res
	}
	log := d.log.With(
		logx.String("post", post.ID),
		logx.String("account", post.AccountID),
		logx.String("platform", post.Platform),
	)
	// A panicking provider or publisher fails this post instead of leaving
	// it in flight, which would block its account and platform.
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("dispatch panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		if cur, err := d.queue.Get(post.ID); err != nil || cur.Status != queue.StatusInFlight {
			res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("panic: %v", r)
			return
		}
		res = d.finish(bg, log, post, res, started, platform.Receipt{}, panicError(failure.SourcePublish, r))
	}()

	acct, err := d.accounts.Get(post.AccountID)
	if err != nil {
		return d.finish(bg, log, post, res, started, platform.Receipt{}, err)
	}
	if !acct.Active() {
		return d.release(bg, log, post, res, "account_"+string(acct.Status))
	}
	if !acct.HasPlatform(post.Platform) {
		err := failure.Config(failure.ReasonUnknownPlatform, "account %s does not post to %s", acct.ID, post.Platform)
		return d.finish(bg, log, post, res, started, platform.Receipt{}, err)
	}

	if last, ok := d.queue.LastPosted(post.AccountID, post.Platform); ok {
		if next := last.Add(acct.Cadence(post.Platform)); d.now().Before(next) {
			return d.deferTo(bg, log, post, res, next, "cadence")
		}
	}
	if d.caps != nil {
		if limit := d.caps.DailyCap(acct, post.Platform); limit > 0 {
			day, next := localDay(d.now(), acct.Location())
			if n := d.queue.PostedBetween(post.AccountID, post.Platform, day, next); n >= limit {
				return d.deferTo(bg, log, post, res, next, "daily_cap")
			}
		}
	}

	pub, err := d.publishers.Get(post.Platform)
	if err != nil {
		return d.finish(bg, log, post, res, started, platform.Receipt{}, err)
	}

	c := post.Content
	if c == nil {
		gen, err := d.generate(ctx, log, acct, post)
		if err != nil {
			if ctx.Err() != nil {
				return d.release(bg, log, post, res, "cancelled")
			}
			return d.finish(bg, log, post, res, started, platform.Receipt{}, err)
		}
		if err := d.queue.SetContent(bg, post.ID, gen); err != nil {
			log.Warn("store generated content failed", logx.Err(err))
		}
		c = &gen
	}

	if wait := d.jitter(d.cfg.JitterMax); wait > 0 {
		log.Debug("jitter", logx.Duration("wait", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return d.release(bg, log, post, res, "cancelled")
		case <-t.C:
		}
	}
	if ctx.Err() != nil {
		return d.release(bg, log, post, res, "cancelled")
	}

	receipt, err := d.breakers.run(post.Platform, func() (platform.Receipt, error) {
		pctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
		defer cancel()
		return pub.Publish(pctx, acct, c.For(post.Platform))
	})
	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown, not by the platform.
		return d.release(bg, log, post, res, "cancelled")
	}
	return d.finish(bg, log, post, res, started, receipt, err)
}

// localDay returns the start of the local day containing t and the start
// of the next one.
func localDay(t time.Time, loc *time.Location) (time.Time, time.Time) {
	l := t.In(loc)
	start := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func panicError(src failure.Source, r any) error {
	err := fmt.Errorf("panic: %v", r)
	if src == failure.SourceProvider {
		return failure.Provider(failure.Permanent, failure.ReasonPanic, err)
	}
	return failure.Publish(failure.Permanent, failure.ReasonPanic, err)
}

// deferTo moves the post to at without using an attempt.
func (d *Dispatcher) deferTo(ctx context.Context, log logx.Logger, post queue.Post, res Result, at time.Time, reason string) Result {
	moved, err := d.queue.Defer(ctx, post.ID, at)
	if err != nil {
		log.Error("defer failed", logx.Err(err))
		return d.release(ctx, log, post, res, "defer_failed")
	}
	res.Outcome, res.Reason, res.Next = OutcomeDeferred, reason, moved.ScheduledAt
	log.Info("post deferred", logx.String("reason", reason), logx.Time("until", moved.ScheduledAt))
	eventbus.Emit(d.bus, eventbus.PostDeferred, d.event(moved, res))
	return res
}

func (d *Dispatcher) generate(ctx context.Context, log logx.Logger, acct account.Account, post queue.Post) (content.Content, error) {
	key := acct.ID + "|" + post.Template + "|" + strconv.FormatInt(post.ScheduledAt.Unix(), 10)
	ch := d.generations.DoChan(key, func() (v any, err error) {
		// singleflight re-panics on its own goroutine, where nothing can
		// recover it.
		defer func() {
			if r := recover(); r != nil {
				log.Error("generate panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				v, err = content.Content{}, panicError(failure.SourceProvider, r)
			}
		}()
		// The call outlives a cancelled waiter so the others still get it.
		return d.generateOnce(context.WithoutCancel(ctx), log, acct, post.Template)
	})
	select {
	case <-ctx.Done():
		return content.Content{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			log.Debug("generated content shared", logx.String("slot", key))
		}
		if r.Err != nil {
			return content.Content{}, r.Err
		}
		return r.Val.(content.Content), nil
	}
}

func (d *Dispatcher) generateOnce(ctx context.Context, log logx.Logger, acct account.Account, templateID string) (content.Content, error) {
	gctx, cancel := context.WithTimeout(ctx, d.cfg.GenerateTimeout)
	defer cancel()
	var hints []content.Hint
	if d.hints != nil {
		h, err := d.hints.Hints(gctx, acct)
		if err != nil {
			log.Warn("trend hints unavailable", logx.Err(err))
		}
		hints = h
	}
	c, err := d.provider.Generate(gctx, acct, templateID, hints)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		if _, ok := failure.As(err); !ok {
			err = failure.Provider(failure.Transient, failure.ReasonTimeout, err)
		}
	}
	return c, err
}

func (d *Dispatcher) release(ctx context.Context, log logx.Logger, post queue.Post, res Result, reason string) Result {
	if _, err := d.queue.Release(ctx, post.ID); err != nil {
		log.Error("release failed", logx.Err(err))
	}
	res.Outcome, res.Reason = OutcomeReleased, reason
	log.Info("post released", logx.String("reason", reason))
	return res
}

// finish applies the outcome of a publish (or an earlier failure) to the
// queue and records the attempt.
func (d *Dispatcher) finish(ctx context.Context, log logx.Logger, post queue.Post, res Result, started time.Time, receipt platform.Receipt, err error) Result {
	now := d.now()
	res.Took = now.Sub(started)
	attempt := storage.Attempt{
		PostID:     post.ID,
		AccountID:  post.AccountID,
		Platform:   post.Platform,
		Number:     post.Attempts + 1,
		At:         now.UTC(),
		DurationMS: res.Took.Milliseconds(),
	}

	var (
		updated queue.Post
		qerr    error
		typ     string
	)
	switch {
	case err == nil:
		updated, qerr = d.queue.MarkPosted(ctx, post.ID, receipt.RemoteID, receipt.URL)
		res.Outcome, res.Receipt = OutcomePosted, receipt
		attempt.Outcome, attempt.RemoteID = string(OutcomePosted), receipt.RemoteID
		typ = eventbus.PostPosted
		log.Info("post published", logx.String("remote_id", receipt.RemoteID), logx.String("url", receipt.URL), logx.Duration("took", res.Took))

	case !failure.IsPermanent(err) && post.Attempts < d.cfg.RetryMax:
		res.Reason, res.Err = failure.ReasonOf(err), err
		at := Backoff(post.Attempts+1, d.cfg.RetryBase, d.cfg.RetryMaxDelay, failure.RetryAfterHint(err))
		base := post.ScheduledAt
		if now.After(base) {
			base = now
		}
		updated, qerr = d.queue.Requeue(ctx, post.ID, base.Add(at), res.Reason, err)
		res.Outcome, res.Next = OutcomeRequeued, updated.ScheduledAt
		attempt.Outcome, attempt.Retryable = string(OutcomeRequeued), true
		typ = eventbus.PostRequeued
		log.Warn("post requeued", logx.String("reason", res.Reason), logx.Int("attempt", attempt.Number), logx.Time("next", updated.ScheduledAt), logx.Err(err))

	default:
		res.Err = err
		res.Reason = failure.ReasonOf(err)
		if !failure.IsPermanent(err) {
			res.Err = fmt.Errorf("%s after %d attempts: %w", failure.ReasonRetriesExhausted, attempt.Number, err)
			res.Reason = failure.ReasonRetriesExhausted
		}
		updated, qerr = d.queue.MarkFailed(ctx, post.ID, res.Reason, err)
		res.Outcome = OutcomeFailed
		attempt.Outcome = string(OutcomeFailed)
		typ = eventbus.PostFailed
		log.Error("post failed", logx.String("reason", res.Reason), logx.Int("attempt", attempt.Number), logx.Err(err))
	}
	if err != nil {
		attempt.ErrorKind, attempt.Error = res.Reason, err.Error()
	}
	if qerr != nil {
		// The post stays in flight in memory; Flush resets it at teardown.
		log.Error("queue update failed", logx.Err(qerr))
		res.Err = errors.Join(res.Err, qerr)
		updated = post
	}
	if aerr := d.queue.RecordAttempt(ctx, attempt); aerr != nil {
		log.Warn("attempt log write failed", logx.Err(aerr))
	}
	eventbus.Emit(d.bus, typ, d.event(updated, res))
	return res
}

func (d *Dispatcher) event(p queue.Post, res Result) eventbus.PostEvent {
	e := eventbus.PostEvent{
		PostID:    p.ID,
		AccountID: p.AccountID,
		Platform:  p.Platform,
		Template:  p.Template,
		Attempt:   p.Attempts,
		Reason:    res.Reason,
		RemoteID:  res.Receipt.RemoteID,
		URL:       res.Receipt.URL,
		Next:      res.Next,
		Took:      res.Took,
	}
	if res.Err != nil {
		e.Err = res.Err.Error()
	}
	return e
}
