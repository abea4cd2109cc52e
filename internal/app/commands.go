package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autopost/internal/account"
	"autopost/internal/content"
	"autopost/internal/dispatch"
	"autopost/internal/queue"
	logx "autopost/pkg/logx"
)

// PostNow enqueues one post per account platform at the current second
// and dispatches each immediately, without jitter. Cadence still applies.
func (a *App) PostNow(ctx context.Context, accountRef, templateID string) ([]dispatch.Result, error) {
	acct, err := a.accounts.Resolve(accountRef)
	if err != nil {
		return nil, err
	}
	if _, err := a.templates.Get(templateID); err != nil {
		return nil, err
	}
	if !acct.Active() {
		return nil, fmt.Errorf("account %s is %s", acct.ID, acct.Status)
	}
	now := time.Now().Truncate(time.Second)
	var results []dispatch.Result
	var errs []error
	for _, p := range acct.Platforms {
		post, err := a.queue.Enqueue(ctx, queue.Post{
			AccountID:   acct.ID,
			Platform:    p,
			Template:    templateID,
			ScheduledAt: now,
			Origin:      queue.OriginManual,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		res := a.immediate.Dispatch(ctx, post)
		results = append(results, res)
		if res.Outcome == dispatch.OutcomeFailed {
			errs = append(errs, fmt.Errorf("%s: %w", p, res.Err))
		}
	}
	return results, errors.Join(errs...)
}

// SchedulePost enqueues one post per account platform at the next
// occurrence of day and clock in the account timezone. With repeat the
// slot is also saved to the account file as a weekly schedule.
func (a *App) SchedulePost(ctx context.Context, accountRef, templateID, day, clock string, repeat bool) ([]queue.Post, error) {
	acct, err := a.accounts.Resolve(accountRef)
	if err != nil {
		return nil, err
	}
	if _, err := a.templates.Get(templateID); err != nil {
		return nil, err
	}
	at, err := NextSlot(time.Now(), acct.Location(), day, clock)
	if err != nil {
		return nil, err
	}

	var posts []queue.Post
	var errs []error
	for _, p := range acct.Platforms {
		post, err := a.queue.Enqueue(ctx, queue.Post{
			AccountID:   acct.ID,
			Platform:    p,
			Template:    templateID,
			ScheduledAt: at,
			Origin:      queue.OriginSchedule,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		posts = append(posts, post)
	}
	if repeat {
		if _, err := a.accounts.AddSchedule(acct.ID, account.Schedule{
			Template: templateID,
			Days:     []string{day},
			Time:     clock,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return posts, errors.Join(errs...)
}

// NextSlot returns the first instant strictly after now that falls on day
// at clock (HH:MM) in loc.
func NextSlot(now time.Time, loc *time.Location, day, clock string) (time.Time, error) {
	wd, err := account.ParseWeekday(day)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := account.ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	for i := 0; i <= 7; i++ {
		d := local.AddDate(0, 0, i)
		at := time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc)
		if at.Weekday() == wd && at.After(now) {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("no %s %s slot found", day, clock)
}

// PromptPreview is what a generation would send and, when requested,
// what came back.
type PromptPreview struct {
	Template *content.Template
	Account  account.Account
	Hints    []content.Hint
	Prompt   string
	Content  *content.Content
}

// TestPrompt renders the prompt for templateID and account. With generate
// it also calls the configured provider; nothing is queued or published.
func (a *App) TestPrompt(ctx context.Context, templateID, accountRef string, generate bool) (PromptPreview, error) {
	acct, err := a.accounts.Resolve(accountRef)
	if err != nil {
		return PromptPreview{}, err
	}
	var hints []content.Hint
	if p := strings.TrimSpace(a.Config().Trends.Path); p != "" {
		cfg := a.Config().Trends
		hints, err = content.NewFileSource(p, cfg.MaxHints, cfg.MinScore).WithThemes(a.themes).Hints(ctx, acct)
		if err != nil {
			a.log.Warn("trend hints unavailable", logx.Err(err))
			hints = nil
		}
	}
	tpl, prompt, err := a.generator.Prompt(acct, templateID, hints)
	if err != nil {
		return PromptPreview{}, err
	}
	pv := PromptPreview{Template: tpl, Account: acct, Hints: hints, Prompt: prompt}
	if !generate {
		return pv, nil
	}
	c, err := a.generator.Generate(ctx, acct, templateID, hints)
	if err != nil {
		return pv, err
	}
	pv.Content = &c
	return pv, nil
}
