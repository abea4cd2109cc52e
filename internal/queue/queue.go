// Package queue holds scheduled posts keyed by (account, platform,
// scheduled time) and performs their status transitions.
//
// All transitions are check-and-set under one mutex and written through
// to the configured storage.Store before they become visible; a failed
// write leaves the post unchanged.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autopost/internal/content"
	"autopost/internal/eventbus"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

var (
	// ErrConflict is the queue conflict: a duplicate schedule, or a
	// transition the post's current state does not allow.
	ErrConflict = errors.New("queue conflict")
	ErrNotFound = errors.New("post not found")
)

// nudge is how far a requeued post moves when its target time is taken.
const nudge = time.Second

type Option func(*Queue)

func WithLogger(log logx.Logger) Option { return func(q *Queue) { q.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(q *Queue) { q.bus = b } }

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// Queue is the process-wide post queue. Create it with New, call Restore
// once at startup and Flush at teardown.
type Queue struct {
	store storage.Store // nil: memory only
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	mu         sync.Mutex
	posts      map[string]*Post
	keys       map[Key]string
	inFlight   map[pair]string
	lastPosted map[pair]time.Time
}

func New(store storage.Store, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		now:        time.Now,
		posts:      map[string]*Post{},
		keys:       map[Key]string{},
		inFlight:   map[pair]string{},
		lastPosted: map[pair]time.Time{},
	}
	for _, o := range opts {
		o(q)
	}
	q.log = q.log.With(logx.String("comp", "queue"))
	return q
}

// Restore loads posts from the store. Posts left in flight by a previous
// process are reset to pending.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	recs, err := q.store.LoadPosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load posts: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	reset := 0
	for _, r := range recs {
		p, err := fromRecord(r)
		if err != nil {
			q.log.Warn("skipping unreadable post", logx.String("post", r.ID), logx.Err(err))
			continue
		}
		// The file driver does not enforce key uniqueness. The most
		// recently updated record owns the key.
		if other, clash := q.keys[p.Key()]; clash {
			prev := q.posts[other]
			keep, drop := p, *prev
			if !p.UpdatedAt.After(prev.UpdatedAt) {
				keep, drop = *prev, p
			}
			q.log.Warn("duplicate post key in store",
				logx.String("account", p.AccountID),
				logx.String("platform", p.Platform),
				logx.Time("scheduled_at", p.ScheduledAt),
				logx.String("kept", keep.ID),
				logx.String("ignored", drop.ID),
			)
			if keep.ID == other {
				continue
			}
			delete(q.posts, other)
		}
		if p.Status == StatusInFlight {
			p.Status = StatusPending
			p.UpdatedAt = q.now().UTC()
			if err := q.persist(ctx, p); err != nil {
				return reset, err
			}
			reset++
		}
		q.index(p)
	}
	if reset > 0 {
		q.log.Warn("reset interrupted posts to pending", logx.Int("count", reset))
	}
	q.log.Info("queue restored", logx.Int("posts", len(q.posts)))
	return len(q.posts), nil
}

func (q *Queue) index(p Post) {
	cp := p
	q.posts[p.ID] = &cp
	q.keys[p.Key()] = p.ID
	if p.Status == StatusPosted {
		at := p.UpdatedAt
		if prev, ok := q.lastPosted[p.pair()]; !ok || at.After(prev) {
			q.lastPosted[p.pair()] = at
		}
	}
}

func (q *Queue) persist(ctx context.Context, p Post) error {
	if q.store == nil {
		return nil
	}
	r, err := p.record()
	if err != nil {
		return err
	}
	if err := q.store.SavePost(ctx, r); err != nil {
		return fmt.Errorf("persist post %s: %w", p.ID, err)
	}
	return nil
}

// Enqueue adds a pending post. A post with the same key in any status is
// a conflict.
func (q *Queue) Enqueue(ctx context.Context, p Post) (Post, error) {
	p.AccountID = strings.TrimSpace(p.AccountID)
	p.Platform = strings.TrimSpace(p.Platform)
	p.Template = strings.TrimSpace(p.Template)
	if p.AccountID == "" || p.Platform == "" || p.Template == "" {
		return Post{}, errors.New("post needs account, platform and template")
	}
	if p.ScheduledAt.IsZero() {
		return Post{}, errors.New("post needs a scheduled time")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := q.now().UTC()
	p.ScheduledAt = p.ScheduledAt.UTC().Truncate(time.Millisecond)
	p.Status = StatusPending
	p.Attempts = 0
	p.RemoteID, p.URL, p.LastError, p.ErrorKind = "", "", "", ""
	p.CreatedAt, p.UpdatedAt = now, now

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.posts[p.ID]; dup {
		return Post{}, fmt.Errorf("%w: post id %s already exists", ErrConflict, p.ID)
	}
	if other, dup := q.keys[p.Key()]; dup {
		return Post{}, fmt.Errorf("%w: %s/%s at %s already scheduled as %s",
			ErrConflict, p.AccountID, p.Platform, p.ScheduledAt.Format(time.RFC3339), other)
	}
	if err := q.persist(ctx, p); err != nil {
		return Post{}, err
	}
	q.index(p)
	eventbus.Emit(q.bus, eventbus.PostEnqueued, eventbus.PostEvent{
		PostID: p.ID, AccountID: p.AccountID, Platform: p.Platform, Template: p.Template, Next: p.ScheduledAt,
	})
	return p, nil
}

// DueItems returns pending posts scheduled at or before now, ordered by
// time, then account, platform and id.
func (q *Queue) DueItems(now time.Time) []Post {
	q.mu.Lock()
	var out []Post
	for _, p := range q.posts {
		if p.Status == StatusPending && !p.ScheduledAt.After(now) {
			out = append(out, *p)
		}
	}
	q.mu.Unlock()
	sortPosts(out)
	return out
}

func sortPosts(ps []Post) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.ID < b.ID
	})
}

// transition applies fn to a copy of the post when it is in state from,
// persists the result and commits it.
func (q *Queue) transition(ctx context.Context, id string, from Status, fn func(p *Post) error) (Post, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.posts[id]
	if !ok {
		return Post{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur.Status != from {
		return Post{}, fmt.Errorf("%w: post %s is %s, not %s", ErrConflict, id, cur.Status, from)
	}
	next := *cur
	if err := fn(&next); err != nil {
		return Post{}, err
	}
	next.UpdatedAt = q.now().UTC()
	if err := q.persist(ctx, next); err != nil {
		return Post{}, err
	}

	delete(q.keys, cur.Key())
	if cur.Status == StatusInFlight {
		delete(q.inFlight, cur.pair())
	}
	*cur = next
	q.keys[cur.Key()] = cur.ID
	switch cur.Status {
	case StatusInFlight:
		q.inFlight[cur.pair()] = cur.ID
	case StatusPosted:
		q.lastPosted[cur.pair()] = cur.UpdatedAt
	}
	return *cur, nil
}

// MarkInFlight moves a pending post to in_flight. It fails with
// ErrConflict when the post is not pending or another post for the same
// account and platform is already in flight.
func (q *Queue) MarkInFlight(ctx context.Context, id string) (Post, error) {
	return q.transition(ctx, id, StatusPending, func(p *Post) error {
		if other, busy := q.inFlight[p.pair()]; busy {
			return fmt.Errorf("%w: %s/%s already has %s in flight", ErrConflict, p.AccountID, p.Platform, other)
		}
		p.Status = StatusInFlight
		return nil
	})
}

// MarkPosted records a successful publish. Terminal.
func (q *Queue) MarkPosted(ctx context.Context, id, remoteID, url string) (Post, error) {
	return q.transition(ctx, id, StatusInFlight, func(p *Post) error {
		p.Status = StatusPosted
		p.Attempts++
		p.RemoteID, p.URL = remoteID, url
		p.LastError, p.ErrorKind = "", ""
		return nil
	})
}

// MarkFailed records a terminal failure with its reason.
func (q *Queue) MarkFailed(ctx context.Context, id, reason string, cause error) (Post, error) {
	return q.transition(ctx, id, StatusInFlight, func(p *Post) error {
		p.Status = StatusFailed
		p.Attempts++
		p.ErrorKind = reason
		if cause != nil {
			p.LastError = cause.Error()
		}
		return nil
	})
}

// Requeue returns an in-flight post to pending at a strictly later time
// and consumes one attempt. A taken target time is nudged forward.
func (q *Queue) Requeue(ctx context.Context, id string, at time.Time, reason string, cause error) (Post, error) {
	return q.transition(ctx, id, StatusInFlight, func(p *Post) error {
		if err := q.reschedule(p, at); err != nil {
			return err
		}
		p.Status = StatusPending
		p.Attempts++
		p.ErrorKind = reason
		if cause != nil {
			p.LastError = cause.Error()
		}
		return nil
	})
}

// Defer moves an in-flight post to a later time without consuming an
// attempt (cadence not yet elapsed, or daily cap reached).
func (q *Queue) Defer(ctx context.Context, id string, at time.Time) (Post, error) {
	return q.transition(ctx, id, StatusInFlight, func(p *Post) error {
		if err := q.reschedule(p, at); err != nil {
			return err
		}
		p.Status = StatusPending
		return nil
	})
}

// Release returns an in-flight post to pending unchanged.
func (q *Queue) Release(ctx context.Context, id string) (Post, error) {
	return q.transition(ctx, id, StatusInFlight, func(p *Post) error {
		p.Status = StatusPending
		return nil
	})
}

// reschedule must run under q.mu.
func (q *Queue) reschedule(p *Post, at time.Time) error {
	at = at.UTC().Truncate(time.Millisecond)
	if !at.After(p.ScheduledAt) {
		return fmt.Errorf("post %s: new time %s is not after %s", p.ID,
			at.Format(time.RFC3339), p.ScheduledAt.Format(time.RFC3339))
	}
	for {
		k := Key{AccountID: p.AccountID, Platform: p.Platform, ScheduledAt: at.UnixMilli()}
		if owner, taken := q.keys[k]; !taken || owner == p.ID {
			break
		}
		at = at.Add(nudge)
	}
	p.ScheduledAt = at
	return nil
}

// SetContent stores generated content on a pending or in-flight post.
func (q *Queue) SetContent(ctx context.Context, id string, c content.Content) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.posts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("%w: post %s is %s", ErrConflict, id, cur.Status)
	}
	next := *cur
	next.Content = &c
	next.UpdatedAt = q.now().UTC()
	if err := q.persist(ctx, next); err != nil {
		return err
	}
	*cur = next
	return nil
}

// Flush resets every in-flight post to pending. Called at teardown.
func (q *Queue) Flush(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	var errs []error
	for _, id := range q.inFlight {
		cur := q.posts[id]
		next := *cur
		next.Status = StatusPending
		next.UpdatedAt = q.now().UTC()
		if err := q.persist(ctx, next); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(q.inFlight, cur.pair())
		*cur = next
		n++
	}
	if n > 0 {
		q.log.Info("flushed in-flight posts", logx.Int("count", n))
	}
	return n, errors.Join(errs...)
}

// LastPosted returns when the account last posted on platform.
func (q *Queue) LastPosted(accountID, platform string) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.lastPosted[pair{accountID, platform}]
	return t, ok
}

// PostedBetween counts the account's posts published on platform in
// [from, to).
func (q *Queue) PostedBetween(accountID, platform string, from, to time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.posts {
		if p.Status != StatusPosted || p.AccountID != accountID || p.Platform != platform {
			continue
		}
		if !p.UpdatedAt.Before(from) && p.UpdatedAt.Before(to) {
			n++
		}
	}
	return n
}

func (q *Queue) Get(id string) (Post, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.posts[id]
	if !ok {
		return Post{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *p, nil
}

// Filter selects posts for List. Zero fields match everything.
type Filter struct {
	AccountID string
	Platform  string
	Statuses  []Status
	From, To  time.Time // scheduled time range [From, To)
	Limit     int
}

func (f Filter) match(p *Post) bool {
	if f.AccountID != "" && p.AccountID != f.AccountID {
		return false
	}
	if f.Platform != "" && p.Platform != f.Platform {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if p.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && p.ScheduledAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !p.ScheduledAt.Before(f.To) {
		return false
	}
	return true
}

// List returns matching posts in due order.
func (q *Queue) List(f Filter) []Post {
	q.mu.Lock()
	var out []Post
	for _, p := range q.posts {
		if f.match(p) {
			out = append(out, *p)
		}
	}
	q.mu.Unlock()
	sortPosts(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Count returns how many posts match f.
func (q *Queue) Count(f Filter) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.posts {
		if f.match(p) {
			n++
		}
	}
	return n
}

type Stats struct {
	Pending  int
	InFlight int
	Posted   int
	Failed   int
}

func (s Stats) Total() int { return s.Pending + s.InFlight + s.Posted + s.Failed }

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	for _, p := range q.posts {
		switch p.Status {
		case StatusPending:
			s.Pending++
		case StatusInFlight:
			s.InFlight++
		case StatusPosted:
			s.Posted++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Attempts returns the attempt log for a post (or all posts when id is
// empty). Memory-only queues keep no attempt log.
func (q *Queue) Attempts(ctx context.Context, id string, limit int) ([]storage.Attempt, error) {
	if q.store == nil {
		return nil, nil
	}
	return q.store.ListAttempts(ctx, id, limit)
}

// RecordAttempt appends to the attempt log.
func (q *Queue) RecordAttempt(ctx context.Context, a storage.Attempt) error {
	if q.store == nil {
		return nil
	}
	return q.store.AppendAttempt(ctx, a)
}
