package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	Emit(b, PostPosted, "p1")

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != PostPosted || e.Data != "p1" || e.Time.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	Emit(b, PostFailed, 1)
	Emit(b, PostFailed, 2)

	if got := (<-ch).Data; got != 1 {
		t.Fatalf("first event = %v", got)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected drop, got %+v", e)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	Emit(b, TickDone, nil)
	Emit(nil, TickDone, nil)
}
