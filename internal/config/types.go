package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings ("500ms", "30s", "4h"). Secrets may
// reference environment variables as ${NAME}.
type Config struct {
	Logging   LoggingConfig             `json:"logging"`
	Accounts  AccountsConfig            `json:"accounts"`
	Templates TemplatesConfig           `json:"templates"`
	Themes    ThemesConfig              `json:"themes"`
	Trends    TrendsConfig              `json:"trends"`
	Content   ContentConfig             `json:"content"`
	Storage   *StorageConfig            `json:"storage,omitempty"`
	Scheduler SchedulerConfig           `json:"scheduler"`
	Dispatch  DispatchConfig            `json:"dispatch"`
	Platforms map[string]PlatformConfig `json:"platforms"`
	Notifier  *NotifierConfig           `json:"notifier,omitempty"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "console" (default) | "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AccountsConfig points at the directory of per-account files.
type AccountsConfig struct {
	Dir   string `json:"dir"`
	Watch bool   `json:"watch,omitempty"`
}

type TemplatesConfig struct {
	Dir string `json:"dir"`
}

// ThemesConfig points at the directory of theme files (category,
// seasonal and tone keyword sets). Optional.
type ThemesConfig struct {
	Dir string `json:"dir,omitempty"`
}

// TrendsConfig points at the latest trend-scan export.
type TrendsConfig struct {
	Path     string  `json:"path,omitempty"`
	MaxHints int     `json:"max_hints,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`
}

// ContentConfig selects the language-model backend.
//
// Provider values: "openai" (any OpenAI-compatible endpoint), "anthropic",
// "ollama", "mock".
type ContentConfig struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model,omitempty"`
	APIKey      string   `json:"api_key,omitempty"`
	APIURL      string   `json:"api_url,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	System      string   `json:"system,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
}

// StorageConfig controls queue persistence.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/autopost.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the tick loop and its worker pool.
//
// Defaults: tick 30s, workers 4, queue_size 64, plan_horizon 24h,
// drain_timeout 30s.
type SchedulerConfig struct {
	Tick         string `json:"tick,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
	PlanHorizon  string `json:"plan_horizon,omitempty"`
	DrainTimeout string `json:"drain_timeout,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// DispatchConfig controls per-post timeouts, jitter and the retry policy.
//
// Defaults: publish_timeout 30s, generate_timeout 90s, jitter_max 5m,
// retry_max 3, retry_base 1m, retry_max_delay 30m, breaker_failures 5,
// breaker_delay 2m.
type DispatchConfig struct {
	PublishTimeout  string `json:"publish_timeout,omitempty"`
	GenerateTimeout string `json:"generate_timeout,omitempty"`
	JitterMax       string `json:"jitter_max,omitempty"`
	RetryMax        *int   `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	BreakerFailures int    `json:"breaker_failures,omitempty"`
	BreakerDelay    string `json:"breaker_delay,omitempty"`
	Seed            int64  `json:"seed,omitempty"`
}

// PlatformConfig enables one publisher and tunes its client.
//
// Keys of Config.Platforms are platform names: twitter, facebook, instagram,
// pinterest, telegram, blog.
type PlatformConfig struct {
	Enabled       bool   `json:"enabled"`
	APIURL        string `json:"api_url,omitempty"`
	RatePerMinute int    `json:"rate_per_minute,omitempty"`
	Burst         int    `json:"burst,omitempty"`
	Timeout       string `json:"timeout,omitempty"`

	// blog only
	SiteDir    string   `json:"site_dir,omitempty"`
	ContentDir string   `json:"content_dir,omitempty"`
	BaseURL    string   `json:"base_url,omitempty"`
	BuildCmd   []string `json:"build_cmd,omitempty"`
}

// NotifierConfig controls operator alerts for permanent failures.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Token           string `json:"token,omitempty"`
	ChatID          int64  `json:"chat_id,omitempty"`
	ThreadID        int    `json:"thread_id,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9464"
	Path    string `json:"path,omitempty"` // default "/metrics"
	Pprof   bool   `json:"pprof,omitempty"`

	// Token is required when Addr is not a loopback address, unless
	// AllowInsecure is set.
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
