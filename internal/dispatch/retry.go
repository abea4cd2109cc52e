package dispatch

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff returns the delay before retry number attempt (1-based): base
// doubled per attempt, capped at maxDelay. A server hint longer than that
// wins.
func Backoff(attempt int, base, maxDelay, hint time.Duration) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if maxDelay < base {
		maxDelay = base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	return max(d, hint)
}

// Jitter draws a delay in [0, bound) from r. bound <= 0 yields 0.
func Jitter(r *rand.Rand, bound time.Duration) time.Duration {
	if bound <= 0 || r == nil {
		return 0
	}
	return time.Duration(r.Int64N(int64(bound)))
}

// JitterFunc draws a delay in [0, bound).
type JitterFunc func(bound time.Duration) time.Duration

// NewJitter returns a goroutine-safe JitterFunc. seed 0 seeds from the
// clock.
func NewJitter(seed int64) JitterFunc {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var mu sync.Mutex
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
	return func(bound time.Duration) time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return Jitter(r, bound)
	}
}

// NoJitter never waits.
func NoJitter(time.Duration) time.Duration { return 0 }
