package queue

import (
	"encoding/json"
	"time"

	"autopost/internal/content"
	"autopost/internal/storage"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusPosted   Status = "posted"
	StatusFailed   Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusPosted || s == StatusFailed }

// Origin values for Post.Origin.
const (
	OriginManual   = "manual"
	OriginSchedule = "schedule"
	OriginPlanner  = "planner"
)

// Post is a scheduled post. Values returned by the queue are copies.
type Post struct {
	ID          string
	AccountID   string
	Platform    string
	Template    string
	ScheduledAt time.Time
	Status      Status
	Attempts    int
	Content     *content.Content
	RemoteID    string
	URL         string
	LastError   string
	ErrorKind   string
	Origin      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key is the idempotency key of a post.
type Key struct {
	AccountID   string
	Platform    string
	ScheduledAt int64 // unix milli
}

func (p Post) Key() Key {
	return Key{AccountID: p.AccountID, Platform: p.Platform, ScheduledAt: p.ScheduledAt.UnixMilli()}
}

type pair struct{ account, platform string }

func (p Post) pair() pair { return pair{p.AccountID, p.Platform} }

func (p Post) record() (storage.PostRecord, error) {
	r := storage.PostRecord{
		ID:          p.ID,
		AccountID:   p.AccountID,
		Platform:    p.Platform,
		Template:    p.Template,
		ScheduledAt: p.ScheduledAt,
		Status:      string(p.Status),
		Attempts:    p.Attempts,
		RemoteID:    p.RemoteID,
		URL:         p.URL,
		LastError:   p.LastError,
		ErrorKind:   p.ErrorKind,
		Origin:      p.Origin,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Content != nil {
		b, err := json.Marshal(p.Content)
		if err != nil {
			return storage.PostRecord{}, err
		}
		r.Content = b
	}
	return r, nil
}

func fromRecord(r storage.PostRecord) (Post, error) {
	p := Post{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Platform:    r.Platform,
		Template:    r.Template,
		ScheduledAt: r.ScheduledAt.UTC(),
		Status:      Status(r.Status),
		Attempts:    r.Attempts,
		RemoteID:    r.RemoteID,
		URL:         r.URL,
		LastError:   r.LastError,
		ErrorKind:   r.ErrorKind,
		Origin:      r.Origin,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Content) > 0 {
		var c content.Content
		if err := json.Unmarshal(r.Content, &c); err != nil {
			return Post{}, err
		}
		p.Content = &c
	}
	return p, nil
}
