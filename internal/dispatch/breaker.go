package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"autopost/internal/failure"
	"autopost/internal/platform"
	logx "autopost/pkg/logx"
)

// breakers holds one circuit breaker per platform. Only transient publish
// failures count: a rejected post says nothing about the platform's health.
type breakers struct {
	failures uint
	delay    time.Duration
	log      logx.Logger

	mu     sync.Mutex
	byName map[string]circuitbreaker.CircuitBreaker[platform.Receipt]
}

func newBreakers(failures int, delay time.Duration, log logx.Logger) *breakers {
	return &breakers{failures: uint(failures), delay: delay, log: log, byName: map[string]circuitbreaker.CircuitBreaker[platform.Receipt]{}}
}

func (b *breakers) get(name string) circuitbreaker.CircuitBreaker[platform.Receipt] {
	if b == nil || b.failures == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.byName[name]; ok {
		return cb
	}
	cb := circuitbreaker.NewBuilder[platform.Receipt]().
		HandleIf(func(_ platform.Receipt, err error) bool {
			return err != nil && !failure.IsPermanent(err) && !errors.Is(err, context.Canceled)
		}).
		WithFailureThreshold(b.failures).
		WithDelay(b.delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			b.log.Warn("circuit breaker state change",
				logx.String("platform", name),
				logx.String("from", stateName(e.OldState)),
				logx.String("to", stateName(e.NewState)),
			)
		}).
		Build()
	b.byName[name] = cb
	return cb
}

// run executes fn behind the platform breaker. An open breaker is a
// transient circuit_open failure with the breaker delay as retry hint.
func (b *breakers) run(name string, fn func() (platform.Receipt, error)) (platform.Receipt, error) {
	cb := b.get(name)
	if cb == nil {
		return fn()
	}
	r, err := failsafe.With(cb).Get(fn)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return r, failure.WithRetryAfter(failure.Publish(failure.Transient, failure.ReasonCircuitOpen, err), b.delay)
	}
	return r, err
}

// openCount reports how many breakers are open.
func (b *breakers) openCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, cb := range b.byName {
		if cb.IsOpen() {
			n++
		}
	}
	return n
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half_open"
	default:
		return "closed"
	}
}
