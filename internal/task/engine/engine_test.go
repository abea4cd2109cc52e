package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "autopost/pkg/logx"
)

func started(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSubmitRunsTasks(t *testing.T) {
	t.Parallel()
	s := started(t, Config{Workers: 3})

	var (
		wg   sync.WaitGroup
		runs atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := s.Submit(context.Background(), Task{
			Name: "count",
			Key:  string(rune('a' + i)),
			Run: func(context.Context) error {
				runs.Add(1)
				return nil
			},
			Done: func(error) { wg.Done() },
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	if runs.Load() != 10 {
		t.Fatalf("runs = %d", runs.Load())
	}
	if snap := s.Snapshot(); snap.Completed != 10 || len(snap.History) != 10 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSameKeyIsSkippedWhileQueuedOrRunning(t *testing.T) {
	t.Parallel()
	s := started(t, Config{Workers: 2})

	release := make(chan struct{})
	done := make(chan error, 1)
	if err := s.Submit(context.Background(), Task{
		Name: "slow",
		Key:  "bread|twitter",
		Run: func(context.Context) error {
			<-release
			return nil
		},
		Done: func(err error) { done <- err },
	}); err != nil {
		t.Fatal(err)
	}
	err := s.Submit(context.Background(), Task{Name: "again", Key: "bread|twitter", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second submit err = %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	// The key is free again once the first task finished.
	if err := s.Submit(context.Background(), Task{Name: "third", Key: "bread|twitter", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("third submit err = %v", err)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := started(t, Config{Workers: 1})
	done := make(chan error, 1)
	_ = s.Submit(context.Background(), Task{
		Name: "boom",
		Run:  func(context.Context) error { panic("boom") },
		Done: func(err error) { done <- err },
	})
	if err := <-done; err == nil {
		t.Fatal("expected panic error")
	}
}

func TestTimeoutApplies(t *testing.T) {
	t.Parallel()
	s := started(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	done := make(chan error, 1)
	_ = s.Submit(context.Background(), Task{
		Name: "wait",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Done: func(err error) { done <- err },
	})
	if err := <-done; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestStopDrainsRunningAndDropsQueued(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop())
	parent, cancelParent := context.WithCancel(context.Background())
	s.Start(parent)

	running := make(chan struct{})
	var first, second error
	var wg sync.WaitGroup
	wg.Add(2)
	_ = s.Submit(context.Background(), Task{
		Name: "first",
		Key:  "a",
		Run: func(ctx context.Context) error {
			close(running)
			select {
			case <-time.After(50 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		Done: func(err error) { first = err; wg.Done() },
	})
	<-running
	_ = s.Submit(context.Background(), Task{
		Name: "second",
		Key:  "b",
		Run:  func(context.Context) error { return nil },
		Done: func(err error) { second = err; wg.Done() },
	})

	// Cancelling the parent must not cancel the running task.
	cancelParent()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	wg.Wait()

	if first != nil {
		t.Fatalf("running task err = %v, want completion", first)
	}
	if !errors.Is(second, ErrStopped) {
		t.Fatalf("queued task err = %v, want ErrStopped", second)
	}
	if err := s.Submit(context.Background(), Task{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("submit after stop err = %v", err)
	}
}

func TestStopDeadlineCancelsRunningTasks(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, logx.Nop())
	s.Start(context.Background())

	running := make(chan struct{})
	done := make(chan error, 1)
	_ = s.Submit(context.Background(), Task{
		Name: "stuck",
		Run: func(ctx context.Context) error {
			close(running)
			<-ctx.Done()
			return ctx.Err()
		},
		Done: func(err error) { done <- err },
	})
	<-running
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Stop(ctx)
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
