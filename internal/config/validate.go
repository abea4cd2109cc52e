package config

import (
	"errors"
	"fmt"
	"strings"
)

// PlatformNames lists the publisher keys accepted under platforms.
var PlatformNames = []string{"twitter", "facebook", "instagram", "pinterest", "telegram", "blog"}

// Validate checks values that can be checked without touching the network.
// It returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Accounts.Dir) == "" {
		errs = append(errs, errors.New("accounts.dir is required"))
	}
	if strings.TrimSpace(cfg.Templates.Dir) == "" {
		errs = append(errs, errors.New("templates.dir is required"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Content.Provider)) {
	case "", "mock":
	case "openai", "anthropic", "ollama":
		if strings.TrimSpace(cfg.Content.Model) == "" {
			errs = append(errs, fmt.Errorf("content.model is required for provider %q", cfg.Content.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("content.provider: unknown provider %q", cfg.Content.Provider))
	}
	if t := cfg.Content.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("content.temperature must be within [0, 2]"))
	}
	dur("content.timeout", cfg.Content.Timeout)

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required for driver %q", st.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	dur("scheduler.tick", cfg.Scheduler.Tick)
	dur("scheduler.plan_horizon", cfg.Scheduler.PlanHorizon)
	dur("scheduler.drain_timeout", cfg.Scheduler.DrainTimeout)
	if cfg.Scheduler.Workers < 0 || cfg.Scheduler.QueueSize < 0 {
		errs = append(errs, errors.New("scheduler.workers and scheduler.queue_size must be >= 0"))
	}

	d := cfg.Dispatch
	dur("dispatch.publish_timeout", d.PublishTimeout)
	dur("dispatch.generate_timeout", d.GenerateTimeout)
	dur("dispatch.jitter_max", d.JitterMax)
	dur("dispatch.retry_base", d.RetryBase)
	dur("dispatch.retry_max_delay", d.RetryMaxDelay)
	dur("dispatch.breaker_delay", d.BreakerDelay)
	if d.RetryMax != nil && *d.RetryMax < 0 {
		errs = append(errs, errors.New("dispatch.retry_max must be >= 0"))
	}

	for name, pc := range cfg.Platforms {
		if !knownPlatform(name) {
			errs = append(errs, fmt.Errorf("platforms.%s: unknown platform (known: %s)", name, strings.Join(PlatformNames, ", ")))
			continue
		}
		dur("platforms."+name+".timeout", pc.Timeout)
		if pc.RatePerMinute < 0 || pc.Burst < 0 {
			errs = append(errs, fmt.Errorf("platforms.%s: rate_per_minute and burst must be >= 0", name))
		}
		if name == "blog" && pc.Enabled && strings.TrimSpace(pc.SiteDir) == "" {
			errs = append(errs, errors.New("platforms.blog.site_dir is required when blog is enabled"))
		}
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	return errors.Join(errs...)
}

func knownPlatform(name string) bool {
	for _, p := range PlatformNames {
		if p == name {
			return true
		}
	}
	return false
}
