package daemon

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/metrics"
)

const maxBackoff = 300 * time.Second

// Daemon repeatedly invokes a Step until it terminates or fails.
// Between steps it sleeps for the wait duration the step reports,
// scaled up by an exponential fail-streak backoff whenever the step
// reports a non-fatal error. The sleep is interruptible: canceling the
// context passed to Run, or calling Terminate, wakes it immediately.
type Daemon struct {
	Name   string
	Step   Step
	Logger *slog.Logger

	// OnTerminate, if set, runs on every call to Terminate, before the
	// termination context is canceled. Canceling the context passed to
	// Run does not invoke it. Scrapers use it to
	// flip their rate limiter to non-blocking mode so an in-flight
	// Acquire unblocks with ratelimit.WouldBlock instead of hanging.
	OnTerminate func()

	terminate context.Context
	cancel     context.CancelFunc
}

// New builds a Daemon. logger must not be nil. Terminate is safe to
// call even before Run, since the termination context is created here
// rather than lazily inside Run.
func New(name string, step Step, logger *slog.Logger) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{Name: name, Step: step, Logger: logger, terminate: ctx, cancel: cancel}
}

// Terminate requests a clean shutdown. It is safe to call before Run
// or concurrently with it; a call before Run simply makes the first
// Run return immediately.
func (d *Daemon) Terminate() {
	if d.OnTerminate != nil {
		d.OnTerminate()
	}
	d.cancel()
}

// Run drives the step loop until ctx is canceled, Terminate is called,
// the step reports ErrTerminal, or the step reports a fatal error. It
// returns nil on clean termination and the fatal error otherwise.
func (d *Daemon) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.terminate.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	failStreak := 0
	for {
		select {
		case <-runCtx.Done():
			d.Logger.Info("daemon stopping", slog.String("daemon", d.Name))
			return nil
		default:
		}

		wait, err := d.Step(runCtx)
		switch {
		case err == nil:
			failStreak = 0
			metrics.ScrapeCyclesTotal.WithLabelValues(d.Name, "ok").Inc()
		case errors.Is(err, ErrTerminal):
			d.Logger.Info("daemon terminated", slog.String("daemon", d.Name))
			return nil
		default:
			var nf *NonFatalError
			if !errors.As(err, &nf) {
				d.Logger.Error("daemon failed", slog.String("daemon", d.Name), slog.String("error", err.Error()))
				metrics.ScrapeCyclesTotal.WithLabelValues(d.Name, "fatal").Inc()
				return err
			}
			failStreak++
			backoff := backoffFor(failStreak)
			if backoff > wait {
				wait = backoff
			}
			metrics.ScrapeCyclesTotal.WithLabelValues(d.Name, "non_fatal").Inc()
			metrics.DaemonBackoffSeconds.WithLabelValues(d.Name).Set(wait.Seconds())
			d.Logger.Warn("daemon step failed, backing off",
				slog.String("daemon", d.Name),
				slog.Int("fail_streak", failStreak),
				slog.Duration("wait", wait),
				slog.String("error", nf.Unwrap().Error()),
			)
		}

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-runCtx.Done():
			timer.Stop()
			d.Logger.Info("daemon stopping", slog.String("daemon", d.Name))
			return nil
		case <-timer.C:
		}
	}
}

func backoffFor(failStreak int) time.Duration {
	seconds := math.Pow(2, float64(failStreak))
	if seconds > maxBackoff.Seconds() {
		seconds = maxBackoff.Seconds()
	}
	return time.Duration(seconds * float64(time.Second))
}
