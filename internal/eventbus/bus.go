package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Post lifecycle and loop event types.
const (
	PostEnqueued = "post.enqueued"
	PostPosted   = "post.posted"
	PostRequeued = "post.requeued"
	PostDeferred = "post.deferred"
	PostFailed   = "post.failed"
	PostSkipped  = "post.skipped"
	TickDone     = "tick.completed"
	AlertSent    = "alert.sent"
	AlertDropped = "alert.dropped"
)

// Event is a small in-memory signal.
//
// Publish never blocks; subscribers get buffered channels and slow ones drop
// events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// PostEvent is the payload of post.* events.
type PostEvent struct {
	PostID    string
	AccountID string
	Platform  string
	Template  string
	Attempt   int
	Reason    string
	Err       string
	RemoteID  string
	URL       string
	Next      time.Time // requeued/deferred target
	Took      time.Duration
}

// TickEvent is the payload of tick.completed.
type TickEvent struct {
	Due        int
	Dispatched int
	Posted     int
	Requeued   int
	Failed     int
	Skipped    int
	Took       time.Duration
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus with no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Emit publishes on b when b is non-nil.
func Emit(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-progress Publish calls.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
