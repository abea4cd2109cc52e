package notifier

import (
	"time"

	"autopost/internal/config"
)

// Config controls the async alert pipeline.
type Config struct {
	Enabled         bool
	Token           string
	ChatID          int64
	ThreadID        int
	APIURL          string
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// ConfigFrom maps the notifier section of the config file onto Config.
func ConfigFrom(c config.NotifierConfig) Config {
	return Config{
		Enabled:         c.Enabled,
		Token:           c.Token,
		ChatID:          c.ChatID,
		ThreadID:        c.ThreadID,
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		RatePerSec:      c.RatePerSec,
		RetryMax:        c.RetryMax,
		RetryBase:       config.MustDuration(c.RetryBase, 0),
		RetryMaxDelay:   config.MustDuration(c.RetryMaxDelay, 0),
		DedupWindow:     config.MustDuration(c.DedupWindow, 10*time.Minute),
		DedupMaxEntries: c.DedupMaxEntries,
		PersistDedup:    c.PersistDedup,
	}
}

// Alert is one operator message. Alerts with the same Key are suppressed
// within the dedup window; an empty Key falls back to the text.
type Alert struct {
	Key      string
	Priority int
	Text     string
}

type HistoryItem struct {
	At   time.Time
	Text string
	Sent bool
}

// AlertEvent is the payload of alert.* bus events.
type AlertEvent struct {
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
