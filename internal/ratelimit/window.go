package ratelimit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/metrics"
)

// WindowLimiter enforces at most MaxCalls acquisitions in any sliding
// window of Period. State is a sorted list of monotonic timestamps of
// past successful acquisitions; a sliding (not fixed) window is used so
// the limiter matches a server that counts calls the same way, and so
// it doesn't permit a burst at a fixed-window boundary.
type WindowLimiter struct {
	// Name labels this limiter's LimiterWaitSeconds observations.
	// Defaults to "window"; set it (e.g. to "api") before first Acquire
	// to distinguish multiple window limiters in the same process.
	Name string

	maxCalls int
	period   time.Duration

	mu       sync.Mutex
	blocking bool
	calls    []time.Time
	wake     chan struct{}
}

// NewWindowLimiter builds a limiter permitting maxCalls acquisitions per
// period. It starts in blocking mode.
func NewWindowLimiter(maxCalls int, period time.Duration) *WindowLimiter {
	return &WindowLimiter{
		Name:     "window",
		maxCalls: maxCalls,
		period:   period,
		blocking: true,
		wake:     make(chan struct{}),
	}
}

func (l *WindowLimiter) trim(now time.Time) {
	cutoff := now.Add(-l.period)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	l.calls = l.calls[i:]
	j := len(l.calls)
	for j > 0 && l.calls[j-1].After(now) {
		j--
	}
	l.calls = l.calls[:j]
}

// Acquire blocks (if blocking mode is on) until a gate passage is
// available, or returns *WouldBlock immediately if not. ctx cancellation
// is honored even while blocked waiting for the window to open.
func (l *WindowLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.LimiterWaitSeconds.WithLabelValues(l.Name).Observe(time.Since(start).Seconds())
	}()
	for {
		l.mu.Lock()
		now := time.Now()
		l.trim(now)
		if len(l.calls)+1 <= l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}
		nthOldest := l.calls[len(l.calls)-l.maxCalls]
		wait := nthOldest.Add(l.period).Sub(now)
		if wait < 0 {
			wait = 0
		}
		if !l.blocking {
			l.mu.Unlock()
			return &WouldBlock{Wait: wait.Seconds()}
		}
		wakeCh := l.wake
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-wakeCh:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// SetRemaining adjusts the window so that exactly remaining acquisitions
// are usable right now. If remaining is smaller than the limiter's
// current view of what's left, it synthesizes fake passages spread
// evenly across the window; if larger, it discards the most recent real
// passages. This is how an out-of-band "quota exceeded" reply from the
// server reconverges the local view to the server's.
func (l *WindowLimiter) SetRemaining(remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.trim(now)
	delta := l.maxCalls - len(l.calls) - remaining
	switch {
	case delta > 0:
		for i := 0; i < delta; i++ {
			l.calls = append(l.calls, now.Add(-time.Duration(i)*l.period/time.Duration(delta)))
		}
		sort.Slice(l.calls, func(a, b int) bool { return l.calls[a].Before(l.calls[b]) })
	case delta < 0:
		drop := -delta
		if drop > len(l.calls) {
			drop = len(l.calls)
		}
		l.calls = l.calls[:len(l.calls)-drop]
	}
	l.broadcastLocked()
}

// SetBlocking toggles blocking mode. Switching to non-blocking wakes
// every acquirer parked in Acquire so it returns *WouldBlock instead of
// waiting further — this is the daemon framework's termination hook.
func (l *WindowLimiter) SetBlocking(blocking bool) {
	l.mu.Lock()
	l.blocking = blocking
	l.broadcastLocked()
	l.mu.Unlock()
}

// GetBlocking reports the current blocking mode.
func (l *WindowLimiter) GetBlocking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocking
}

func (l *WindowLimiter) broadcastLocked() {
	close(l.wake)
	l.wake = make(chan struct{})
}

// LogState logs the current remaining-call count at debug level; useful
// from a daemon's step() to explain its own pacing.
func (l *WindowLimiter) LogState(logger *slog.Logger) {
	l.mu.Lock()
	now := time.Now()
	l.trim(now)
	remaining := l.maxCalls - len(l.calls)
	l.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	logger.Debug("window limiter state", slog.Int("remaining", remaining))
}
