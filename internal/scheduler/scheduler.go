// Package scheduler runs the posting loop: every tick it plans upcoming
// posts, scans the queue for due ones and dispatches them through the
// bounded task engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"autopost/internal/config"
	"autopost/internal/dispatch"
	"autopost/internal/eventbus"
	"autopost/internal/queue"
	"autopost/internal/task/engine"
	logx "autopost/pkg/logx"
)

// State is the loop position.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

type Config struct {
	Tick         time.Duration
	PlanHorizon  time.Duration
	DrainTimeout time.Duration

	// Account limits the loop to one account id; empty means all.
	Account string
}

func DefaultConfig() Config {
	return Config{Tick: 30 * time.Second, PlanHorizon: 24 * time.Hour, DrainTimeout: 30 * time.Second}
}

// ConfigFrom maps the scheduler section of the config file onto Config.
func ConfigFrom(c config.SchedulerConfig) Config {
	d := DefaultConfig()
	d.Tick = config.MustDuration(c.Tick, d.Tick)
	d.PlanHorizon = config.MustDuration(c.PlanHorizon, d.PlanHorizon)
	d.DrainTimeout = config.MustDuration(c.DrainTimeout, d.DrainTimeout)
	return d
}

// Dispatcher processes one due post; *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, p queue.Post) dispatch.Result
}

// TickReport summarizes one tick.
type TickReport struct {
	At         time.Time
	Planned    int
	Due        int
	Dispatched int
	Posted     int
	Requeued   int
	Deferred   int
	Released   int
	Failed     int
	Skipped    int
	Took       time.Duration
	Results    []dispatch.Result
}

// Err reports the posts that failed terminally during the tick.
func (r TickReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Outcome == dispatch.OutcomeFailed {
			errs = append(errs, fmt.Errorf("post %s (%s/%s): %s", res.PostID, res.AccountID, res.Platform, res.Reason))
		}
	}
	return errors.Join(errs...)
}

func (r *TickReport) add(res dispatch.Result) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case dispatch.OutcomePosted:
		r.Posted++
	case dispatch.OutcomeRequeued:
		r.Requeued++
	case dispatch.OutcomeDeferred:
		r.Deferred++
	case dispatch.OutcomeReleased:
		r.Released++
	case dispatch.OutcomeFailed:
		r.Failed++
	case dispatch.OutcomeSkipped:
		r.Skipped++
	}
}

type Service struct {
	cfg        Config
	queue      *queue.Queue
	dispatcher Dispatcher
	engine     *engine.Service
	planner    *Planner

	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	state    atomic.Int32
	tickMu   sync.Mutex
	failures atomic.Int64
	last     atomic.Pointer[TickReport]
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option     { return func(s *Service) { s.log = log } }
func WithBus(b eventbus.Bus) Option         { return func(s *Service) { s.bus = b } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithPlanner(p *Planner) Option         { return func(s *Service) { s.planner = p } }

func New(cfg Config, q *queue.Queue, d Dispatcher, eng *engine.Service, opts ...Option) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	s := &Service{cfg: cfg, queue: q, dispatcher: d, engine: eng, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))
	return s
}

func (s *Service) State() State { return State(s.state.Load()) }

// Failures is the number of posts that failed terminally since start.
func (s *Service) Failures() int64 { return s.failures.Load() }

// LastTick returns the most recent tick report, if any.
func (s *Service) LastTick() (TickReport, bool) {
	r := s.last.Load()
	if r == nil {
		return TickReport{}, false
	}
	return *r, true
}

// Run ticks until ctx ends. The first tick runs immediately. A tick in
// progress when ctx ends finishes once its dispatches complete or are
// stopped by Shutdown.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("scheduler loop started",
		logx.Duration("tick", s.cfg.Tick),
		logx.String("account", s.cfg.Account),
	)
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler loop stopped", logx.Err(context.Cause(ctx)))
			return nil
		case <-t.C:
		}
	}
}

// Tick runs one idle → scanning → dispatching → idle cycle. Ticks never
// overlap; a second caller waits for the first.
func (s *Service) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	defer s.state.Store(int32(StateIdle))

	started := s.now()
	rep := TickReport{At: started}
	if ctx.Err() != nil {
		return rep
	}

	s.state.Store(int32(StateScanning))
	if s.planner != nil {
		n, err := s.planner.Plan(ctx, started, s.cfg.Account)
		rep.Planned = n
		if err != nil {
			s.log.Warn("planning failed", logx.Err(err))
		}
	}
	due := s.dueItems(started)
	rep.Due = len(due)

	if len(due) > 0 {
		s.state.Store(int32(StateDispatching))
		s.dispatchAll(ctx, due, &rep)
	}

	rep.Took = s.now().Sub(started)
	s.failures.Add(int64(rep.Failed))
	s.last.Store(&rep)
	if rep.Due > 0 || rep.Planned > 0 {
		s.log.Info("tick done",
			logx.Int("planned", rep.Planned),
			logx.Int("due", rep.Due),
			logx.Int("posted", rep.Posted),
			logx.Int("requeued", rep.Requeued),
			logx.Int("failed", rep.Failed),
			logx.Duration("took", rep.Took),
		)
	}
	eventbus.Emit(s.bus, eventbus.TickDone, eventbus.TickEvent{
		Due:        rep.Due,
		Dispatched: rep.Dispatched,
		Posted:     rep.Posted,
		Requeued:   rep.Requeued,
		Failed:     rep.Failed,
		Skipped:    rep.Skipped,
		Took:       rep.Took,
	})
	return rep
}

func (s *Service) dueItems(now time.Time) []queue.Post {
	due := s.queue.DueItems(now)
	if s.cfg.Account == "" {
		return due
	}
	out := due[:0]
	for _, p := range due {
		if p.AccountID == s.cfg.Account {
			out = append(out, p)
		}
	}
	return out
}

// dispatchAll submits due posts in order, keyed by account and platform,
// and waits for all of them.
func (s *Service) dispatchAll(ctx context.Context, due []queue.Post, rep *TickReport) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i, p := range due {
		wg.Add(1)
		err := s.engine.Submit(ctx, engine.Task{
			Name: "dispatch",
			Key:  p.AccountID + "|" + p.Platform,
			Run: func(tctx context.Context) error {
				res := s.dispatcher.Dispatch(tctx, p)
				mu.Lock()
				rep.add(res)
				mu.Unlock()
				if res.Outcome == dispatch.OutcomeFailed {
					return res.Err
				}
				return nil
			},
			Done: func(error) { wg.Done() },
		})
		if err == nil {
			mu.Lock()
			rep.Dispatched++
			mu.Unlock()
			continue
		}
		wg.Done()
		if errors.Is(err, engine.ErrOverlapSkip) {
			mu.Lock()
			rep.Skipped++
			mu.Unlock()
			continue
		}
		// The engine is stopping or full; the rest of the tick stays
		// pending for the next one.
		left := len(due) - i
		mu.Lock()
		rep.Skipped += left
		mu.Unlock()
		s.log.Warn("dispatch not submitted", logx.String("post", p.ID), logx.Int("skipped", left), logx.Err(err))
		break
	}
	wg.Wait()
}

// RunOnce runs a single tick and returns an error naming every post that
// failed terminally.
func (s *Service) RunOnce(ctx context.Context) (TickReport, error) {
	rep := s.Tick(ctx)
	return rep, rep.Err()
}

// Shutdown stops the engine (bounded by DrainTimeout) and resets in-flight
// posts to pending.
func (s *Service) Shutdown(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()
	s.engine.Stop(dctx)
	if _, err := s.queue.Flush(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("flush queue: %w", err)
	}
	return nil
}
