package config

import (
	"reflect"
	"sort"

	logx "autopost/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ and safe log
// fields describing the new values. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if !reflect.DeepEqual(oldCfg.Accounts, newCfg.Accounts) {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.String("accounts.dir", newCfg.Accounts.Dir))
	}
	if !reflect.DeepEqual(oldCfg.Templates, newCfg.Templates) {
		changed = append(changed, "templates")
	}
	if !reflect.DeepEqual(oldCfg.Themes, newCfg.Themes) {
		changed = append(changed, "themes")
	}
	if !reflect.DeepEqual(oldCfg.Trends, newCfg.Trends) {
		changed = append(changed, "trends")
	}
	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		changed = append(changed, "content")
		attrs = append(attrs,
			logx.String("content.provider", newCfg.Content.Provider),
			logx.String("content.model", newCfg.Content.Model),
			logx.Bool("content.api_key_set", newCfg.Content.APIKey != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.tick", newCfg.Scheduler.Tick), logx.Int("scheduler.workers", newCfg.Scheduler.Workers))
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
	}
	if !reflect.DeepEqual(oldCfg.Platforms, newCfg.Platforms) {
		changed = append(changed, "platforms")
		names := make([]string, 0, len(newCfg.Platforms))
		for name, pc := range newCfg.Platforms {
			if pc.Enabled {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		attrs = append(attrs, logx.Strings("platforms.enabled", names))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled), logx.String("metrics.addr", newCfg.Metrics.Addr))
	}
	return changed, attrs
}
