package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/metrics"
)

// LeakyBucketLimiter permits calls at an average rate with a burst
// capacity, for generic site HTTP traffic (as opposed to WindowLimiter,
// which matches the tracker API's own sliding-window quota policy). The
// token-bucket math is delegated to golang.org/x/time/rate; this type
// adds the blocking/non-blocking toggle and broadcast-wake-on-terminate
// behavior that rate.Limiter does not provide on its own.
type LeakyBucketLimiter struct {
	// Name labels this limiter's LimiterWaitSeconds observations.
	// Defaults to "leaky"; set it (e.g. to "site") before first Acquire
	// to distinguish multiple leaky-bucket limiters in the same process.
	Name string

	limiter *rate.Limiter

	mu       sync.Mutex
	blocking bool
	wake     chan struct{}
}

// NewLeakyBucketLimiter builds a limiter permitting r calls/second on
// average with burst capacity b. It starts in blocking mode.
func NewLeakyBucketLimiter(r float64, burst int) *LeakyBucketLimiter {
	return &LeakyBucketLimiter{
		Name:     "leaky",
		limiter:  rate.NewLimiter(rate.Limit(r), burst),
		blocking: true,
		wake:     make(chan struct{}),
	}
}

// Acquire blocks (if blocking mode is on) until a token is available, or
// returns *WouldBlock immediately if not.
func (l *LeakyBucketLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.LimiterWaitSeconds.WithLabelValues(l.Name).Observe(time.Since(start).Seconds())
	}()
	for {
		l.mu.Lock()
		reservation := l.limiter.Reserve()
		if !reservation.OK() {
			l.mu.Unlock()
			return &WouldBlock{Wait: 0}
		}
		delay := reservation.Delay()
		if delay <= 0 {
			l.mu.Unlock()
			return nil
		}
		if !l.blocking {
			reservation.Cancel()
			l.mu.Unlock()
			return &WouldBlock{Wait: delay.Seconds()}
		}
		wakeCh := l.wake
		l.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-wakeCh:
			timer.Stop()
			l.mu.Lock()
			reservation.Cancel()
			l.mu.Unlock()
			continue
		case <-timer.C:
			return nil
		case <-ctx.Done():
			timer.Stop()
			l.mu.Lock()
			reservation.Cancel()
			l.mu.Unlock()
			return ctx.Err()
		}
	}
}

// SetBlocking toggles blocking mode, waking every parked Acquire call so
// it re-evaluates (and returns *WouldBlock if now non-blocking).
func (l *LeakyBucketLimiter) SetBlocking(blocking bool) {
	l.mu.Lock()
	l.blocking = blocking
	close(l.wake)
	l.wake = make(chan struct{})
	l.mu.Unlock()
}

// GetBlocking reports the current blocking mode.
func (l *LeakyBucketLimiter) GetBlocking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocking
}
