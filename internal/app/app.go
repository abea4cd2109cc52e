package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"autopost/internal/account"
	"autopost/internal/config"
	"autopost/internal/content"
	"autopost/internal/dispatch"
	"autopost/internal/eventbus"
	"autopost/internal/notifier"
	"autopost/internal/observability/metrics"
	"autopost/internal/observability/server"
	"autopost/internal/platform"
	"autopost/internal/queue"
	rtsup "autopost/internal/runtime/supervisor"
	"autopost/internal/scheduler"
	"autopost/internal/storage"
	"autopost/internal/task/engine"
	logx "autopost/pkg/logx"
)

// Options tune one process.
type Options struct {
	// Account limits the scheduler to one account, by id or name. Empty
	// means all.
	Account string
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// App owns every component and their lifecycle. Build it with New, then
// either Serve (daemon) or Start + RunOnce (one pass). Close always.
type App struct {
	cfgPath string
	opts    Options

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	accounts   *account.Store
	templates  *content.Templates
	themes     *content.Themes
	generator  *content.Generator
	queue      *queue.Queue
	publishers *platform.Registry
	dispatcher *dispatch.Dispatcher
	immediate  *dispatch.Dispatcher
	engine     *engine.Service
	planner    *scheduler.Planner
	sched      *scheduler.Service
	schedCfg   scheduler.Config
	notif      *notifier.Service
	metrics    *metrics.Metrics
	http       *server.Service

	opened  bool
	serving atomic.Bool
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg.Logging, opts.LogLevel))
	log = log.With(logx.String("comp", "app"))

	a := &App{cfgPath: cfgPath, opts: opts, cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New()}
	if err := a.build(cfg); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	root := a.log

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return err
		}
		a.store = st
		root.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	accounts, err := account.Load(cfg.Accounts.Dir, root.With(logx.String("comp", "accounts")))
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	a.accounts = accounts

	templates, err := content.LoadTemplates(cfg.Templates.Dir, root.With(logx.String("comp", "templates")))
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	a.templates = templates

	if dir := strings.TrimSpace(cfg.Themes.Dir); dir != "" {
		themes, err := content.LoadThemes(dir, root.With(logx.String("comp", "themes")))
		if err != nil {
			return fmt.Errorf("load themes: %w", err)
		}
		a.themes = themes
	}

	client, err := content.NewClient(clientConfig(cfg.Content))
	if err != nil {
		return err
	}
	gen := content.NewGenerator(templates, client,
		content.WithGeneratorLogger(root.With(logx.String("comp", "content"))),
		content.WithThemes(a.themes),
	)
	gen.System = cfg.Content.System
	gen.MaxTokens = cfg.Content.MaxTokens
	gen.Temperature = cfg.Content.Temperature
	a.generator = gen

	a.queue = queue.New(a.store,
		queue.WithLogger(root),
		queue.WithBus(a.bus),
	)
	a.publishers = platform.Build(cfg.Platforms, root.With(logx.String("comp", "platform")))

	a.schedCfg = scheduler.ConfigFrom(cfg.Scheduler)
	if ref := strings.TrimSpace(a.opts.Account); ref != "" {
		acct, err := accounts.Resolve(ref)
		if err != nil {
			return err
		}
		a.schedCfg.Account = acct.ID
	}
	a.planner = scheduler.NewPlanner(accounts, templates, a.queue, a.schedCfg.PlanHorizon, root)

	dcfg := dispatch.ConfigFrom(cfg.Dispatch)
	dopts := []dispatch.Option{dispatch.WithLogger(root), dispatch.WithBus(a.bus), dispatch.WithDailyCaps(a.planner)}
	if p := strings.TrimSpace(cfg.Trends.Path); p != "" {
		dopts = append(dopts, dispatch.WithHints(content.NewFileSource(p, cfg.Trends.MaxHints, cfg.Trends.MinScore).WithThemes(a.themes)))
	}
	withJitter := func(j dispatch.JitterFunc) []dispatch.Option {
		return append(slices.Clone(dopts), dispatch.WithJitter(j))
	}
	a.dispatcher = dispatch.New(dcfg, a.queue, accounts, a.publishers, gen, withJitter(dispatch.NewJitter(cfg.Dispatch.Seed))...)
	// Manual posts skip the jitter.
	a.immediate = dispatch.New(dcfg, a.queue, accounts, a.publishers, gen, withJitter(dispatch.NoJitter)...)

	a.engine = engine.New(engine.Config{
		Workers:     cfg.Scheduler.Workers,
		QueueSize:   cfg.Scheduler.QueueSize,
		HistorySize: cfg.Scheduler.HistorySize,
	}, root.With(logx.String("comp", "engine")))

	a.sched = scheduler.New(a.schedCfg, a.queue, a.dispatcher, a.engine,
		scheduler.WithLogger(root),
		scheduler.WithBus(a.bus),
		scheduler.WithPlanner(a.planner),
	)

	ncfg := notifierConfig(cfg)
	sender, err := alertSender(ncfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, sender, root, a.bus, a.store)

	a.metrics = metrics.New()
	a.metrics.WatchQueue(a.queue.Stats)
	a.metrics.WatchBreakers(a.dispatcher.OpenBreakers)
	a.http = server.New(server.ConfigFrom(cfg.Metrics), a.metrics.Handler(), a.health, root)
	return nil
}

func logConfig(c config.LoggingConfig, level string) logx.Config {
	lc := logx.Config{
		Level:   c.Level,
		Console: c.Console,
		Format:  c.Format,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
	if strings.TrimSpace(level) != "" {
		lc.Level = level
	}
	return lc
}

func clientConfig(c config.ContentConfig) content.ClientConfig {
	return content.ClientConfig{
		Provider:  c.Provider,
		Model:     c.Model,
		APIKey:    c.APIKey,
		APIURL:    c.APIURL,
		MaxTokens: c.MaxTokens,
		Timeout:   config.MustDuration(c.Timeout, 90*time.Second),
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	if cfg.Notifier == nil {
		return notifier.Config{}
	}
	return notifier.ConfigFrom(*cfg.Notifier)
}

// alertSender picks Telegram when credentials are configured and the log
// otherwise.
func alertSender(cfg notifier.Config) (notifier.Sender, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.Token) == "" {
		return nil, nil
	}
	return notifier.NewTelegram(cfg)
}

// validate is the reload hook: it rejects configs that parse but could not
// be applied.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := content.NewClient(clientConfig(cfg.Content)); err != nil {
		return err
	}
	ncfg := notifierConfig(cfg)
	if ncfg.Enabled && strings.TrimSpace(ncfg.Token) != "" && ncfg.ChatID == 0 {
		return errors.New("notifier.chat_id is required with notifier.token")
	}
	return nil
}

// Config returns the active config.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Log() logx.Logger { return a.log }

func (a *App) Accounts() *account.Store { return a.accounts }

func (a *App) Queue() *queue.Queue { return a.queue }

func (a *App) Generator() *content.Generator { return a.generator }

// Done is closed when the app supervisor context is canceled (fatal error or Close).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Open restores the persisted queue. Commands that only read or enqueue
// need nothing else; Start calls it.
func (a *App) Open(ctx context.Context) error {
	if a.opened {
		return nil
	}
	n, err := a.queue.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}
	if n > 0 {
		a.log.Info("queue restored", logx.Int("posts", n))
	}
	a.opened = true
	return nil
}

// Start restores the queue and starts the worker pool, alerting and
// metrics. It does not start the scheduler loop.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if err := a.Open(ctx); err != nil {
		return err
	}

	sctx := a.sup.Context()
	a.engine.Start(sctx)
	if a.notif.Enabled() {
		a.notif.Start(sctx)
	}
	a.sup.Go("notifier.watch", func(c context.Context) error { return a.notif.Watch(c, a.bus) })
	a.sup.Go("metrics.consume", func(c context.Context) error { return a.metrics.Consume(c, a.bus) })
	a.http.Start(sctx)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
	return nil
}

// Serve runs the scheduler loop with hot reload until ctx ends or a
// supervised goroutine fails.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	cfg := a.cfgm.Get()
	restart := []rtsup.RestartOption{rtsup.WithRestartBackoff(time.Second, 30*time.Second)}

	a.sup.GoRestart("config.watch", a.cfgm.Watch, restart...)
	if cfg.Accounts.Watch {
		a.sup.GoRestart("accounts.watch", a.accounts.Watch, restart...)
		a.sup.GoRestart("templates.watch", a.templates.Watch, restart...)
		if a.themes != nil {
			a.sup.GoRestart("themes.watch", a.themes.Watch, restart...)
		}
	}
	a.sup.Go0("config.reload", a.reloadLoop)

	a.serving.Store(true)
	a.sup.Go("scheduler.loop", a.sched.Run)
	a.log.Info("autopost started",
		logx.String("config", a.cfgPath),
		logx.Int("accounts", len(a.accounts.List())),
		logx.Strings("platforms", a.publishers.Names()),
	)

	<-a.sup.Context().Done()
	a.serving.Store(false)
	if err := a.sup.Err(); err != nil {
		return err
	}
	return nil
}

// RunOnce plans and dispatches every due post once. It needs Start.
func (a *App) RunOnce(ctx context.Context) (scheduler.TickReport, error) {
	return a.sched.RunOnce(ctx)
}

// Failures reports how many posts failed terminally since start.
func (a *App) Failures() int64 { return a.sched.Failures() }

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies the live-reloadable sections. Everything else is
// logged as requiring a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change summary", fields...)

	var restart []string
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logConfig(next.Logging, a.opts.LogLevel))
		case "notifier":
			a.applyNotifier(ctx, notifierConfig(prev), notifierConfig(next))
		case "metrics":
			a.http.Reconfigure(ctx, server.ConfigFrom(next.Metrics))
		default:
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.Strings("sections", restart))
	}
}

func (a *App) applyNotifier(ctx context.Context, prev, next notifier.Config) {
	if prev.Token != next.Token || prev.ChatID != next.ChatID || prev.ThreadID != next.ThreadID {
		a.log.Warn("notifier credentials changed; restart required for the new target")
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(next)
	switch {
	case wasEnabled && !next.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && next.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}

// health fails when the scheduler loop stops ticking.
func (a *App) health() error {
	if err := a.Err(); err != nil {
		return err
	}
	if !a.serving.Load() {
		return nil
	}
	last, ok := a.sched.LastTick()
	if !ok {
		return nil
	}
	if limit := 3*a.schedCfg.Tick + a.schedCfg.DrainTimeout; time.Since(last.At) > limit {
		return fmt.Errorf("scheduler stalled: last tick %s ago", time.Since(last.At).Round(time.Second))
	}
	return nil
}

// Close drains the worker pool, flushes the queue and releases resources.
// It is safe to call on a partially built or never started App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.sup != nil {
		if err := a.sched.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		a.notif.Stop(stopCtx)
		a.http.Stop(stopCtx)
		a.sup.Cancel()
		if err := a.sup.Wait(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("supervisor stopped with error", logx.Err(err))
		}
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
