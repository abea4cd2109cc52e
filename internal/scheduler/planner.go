package scheduler

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"autopost/internal/account"
	"autopost/internal/content"
	"autopost/internal/queue"
	logx "autopost/pkg/logx"
)

// maxPlannedPerSchedule bounds one schedule's expansion over a horizon.
const maxPlannedPerSchedule = 500

// Accounts lists the accounts the planner and loop work on.
type Accounts interface {
	List() []account.Account
}

// Templates lists template definitions; template schedules apply to the
// accounts that use the template as their default.
type Templates interface {
	List() []*content.Template
}

// Planner turns account and template schedules into pending posts.
// Re-planning is idempotent: an existing (account, platform, time) key is a
// queue conflict and is ignored.
type Planner struct {
	accounts  Accounts
	templates Templates
	queue     *queue.Queue
	horizon   time.Duration
	log       logx.Logger
}

func NewPlanner(accounts Accounts, templates Templates, q *queue.Queue, horizon time.Duration, log logx.Logger) *Planner {
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}
	return &Planner{accounts: accounts, templates: templates, queue: q, horizon: horizon, log: log.With(logx.String("comp", "planner"))}
}

// Plan enqueues every occurrence in [now, now+horizon] for active
// accounts. onlyAccount limits planning to one account id.
func (p *Planner) Plan(ctx context.Context, now time.Time, onlyAccount string) (int, error) {
	if p == nil {
		return 0, nil
	}
	var (
		added int
		errs  []error
	)
	for _, acct := range p.accounts.List() {
		if onlyAccount != "" && acct.ID != onlyAccount {
			continue
		}
		if !acct.Active() {
			continue
		}
		for _, s := range p.schedulesFor(acct) {
			n, err := p.planSchedule(ctx, acct, s, now)
			added += n
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	if added > 0 {
		p.log.Info("posts planned", logx.Int("count", added), logx.Time("until", now.Add(p.horizon)))
	}
	return added, errors.Join(errs...)
}

// schedulesFor returns the account's own schedules plus the schedule of
// its default template when the account has none for that template.
func (p *Planner) schedulesFor(acct account.Account) []account.Schedule {
	out := append([]account.Schedule(nil), acct.Schedules...)
	if p.templates == nil || acct.DefaultTemplate == "" {
		return out
	}
	for _, s := range out {
		if s.Template == acct.DefaultTemplate {
			return out
		}
	}
	for _, t := range p.templates.List() {
		if t.ID != acct.DefaultTemplate || t.Schedule == nil {
			continue
		}
		s := *t.Schedule
		s.Template = t.ID
		if len(s.Platforms) == 0 {
			s.Platforms = t.Platforms
		}
		out = append(out, s)
	}
	return out
}

func (p *Planner) planSchedule(ctx context.Context, acct account.Account, s account.Schedule, now time.Time) (int, error) {
	spec, err := s.Parse(acct.Location())
	if err != nil {
		return 0, err
	}
	platforms := schedulePlatforms(acct, s)
	end := now.Add(p.horizon)
	added := 0
	// Next is strict; stepping back one nanosecond includes an occurrence
	// exactly at now.
	at := spec.Next(now.Add(-time.Nanosecond))
	for i := 0; i < maxPlannedPerSchedule && !at.IsZero() && !at.After(end); i++ {
		for _, platform := range platforms {
			if s.MaxPerDay > 0 && p.postsOnDay(acct, platform, at) >= s.MaxPerDay {
				continue
			}
			_, err := p.queue.Enqueue(ctx, queue.Post{
				AccountID:   acct.ID,
				Platform:    platform,
				Template:    s.Template,
				ScheduledAt: at,
				Origin:      queue.OriginPlanner,
			})
			switch {
			case err == nil:
				added++
			case errors.Is(err, queue.ErrConflict):
			default:
				return added, err
			}
		}
		at = spec.Next(at)
	}
	return added, nil
}

// DailyCap returns the smallest max_per_day among the schedules that post
// for acct on platform, or 0 when none sets one.
func (p *Planner) DailyCap(acct account.Account, platform string) int {
	if p == nil {
		return 0
	}
	limit := 0
	for _, s := range p.schedulesFor(acct) {
		if s.MaxPerDay <= 0 || !slices.Contains(schedulePlatforms(acct, s), platform) {
			continue
		}
		if limit == 0 || s.MaxPerDay < limit {
			limit = s.MaxPerDay
		}
	}
	return limit
}

// postsOnDay counts the account's posts on platform during the local day
// containing at.
func (p *Planner) postsOnDay(acct account.Account, platform string, at time.Time) int {
	local := at.In(acct.Location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return p.queue.Count(queue.Filter{
		AccountID: acct.ID,
		Platform:  platform,
		From:      start,
		To:        start.AddDate(0, 0, 1),
	})
}

// schedulePlatforms is the schedule's platform list narrowed to the
// account's platforms, or every account platform when the schedule names
// none.
func schedulePlatforms(acct account.Account, s account.Schedule) []string {
	if len(s.Platforms) == 0 {
		return acct.Platforms
	}
	var out []string
	for _, name := range s.Platforms {
		name = strings.ToLower(strings.TrimSpace(name))
		if acct.HasPlatform(name) {
			out = append(out, name)
		}
	}
	return out
}
