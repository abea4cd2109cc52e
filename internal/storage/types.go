package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the queue and the notifier.
type Store interface {
	// SavePost inserts or replaces a post by id.
	SavePost(ctx context.Context, p PostRecord) error
	LoadPosts(ctx context.Context) ([]PostRecord, error)

	AppendAttempt(ctx context.Context, a Attempt) error
	// ListAttempts returns attempts oldest first. An empty postID lists
	// every post; limit <= 0 means no limit (newest entries are kept).
	ListAttempts(ctx context.Context, postID string, limit int) ([]Attempt, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// PostRecord is the stored form of a scheduled post. Content holds the
// materialized content as JSON, nil until generated.
type PostRecord struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Platform    string    `json:"platform"`
	Template    string    `json:"template"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	Content     []byte    `json:"content,omitempty"`
	RemoteID    string    `json:"remote_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Attempt is one dispatch outcome.
type Attempt struct {
	PostID     string    `json:"post_id"`
	AccountID  string    `json:"account_id"`
	Platform   string    `json:"platform"`
	Number     int       `json:"number"`
	At         time.Time `json:"at"`
	Outcome    string    `json:"outcome"`
	RemoteID   string    `json:"remote_id,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}
