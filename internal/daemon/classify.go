package daemon

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/httpx"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/ratelimit"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker/site"
)

// Step runs one unit of a daemon's work and reports how long to sleep
// before the next one. A non-nil error is classified by whatever
// classification middleware wraps the step (see With*Classification
// below); an unwrapped step returning a plain error is treated as
// fatal.
type Step func(ctx context.Context) (wait time.Duration, err error)

// WithAPIClassification wraps a step that calls the tracker's JSON-RPC
// API through a quota-gated client. It mirrors the tracker daemons'
// exception handling: a blocked gate or canceled context ends the
// daemon cleanly, a call-limit-exceeded reply is swallowed and retried
// immediately (the client has already slammed the limiter's quota to
// zero), a 4xx reply is fatal, and any other transport failure is
// non-fatal.
func WithAPIClassification(step Step) Step {
	return func(ctx context.Context) (time.Duration, error) {
		wait, err := step(ctx)
		if err == nil {
			return wait, nil
		}
		if isTermination(err) {
			return 0, ErrTerminal
		}
		var cle *tracker.CallLimitExceededError
		if errors.As(err, &cle) {
			return 0, nil
		}
		var te *tracker.TransportError
		if errors.As(err, &te) {
			if te.StatusCode >= 400 && te.StatusCode < 500 {
				return wait, &FatalError{Err: err}
			}
			return wait, &NonFatalError{Err: err}
		}
		var iae *tracker.InvalidAPIKeyError
		if errors.As(err, &iae) {
			return wait, &FatalError{Err: err}
		}
		return wait, err
	}
}

// WithUserAccessClassification wraps a step that fetches resources
// through an authenticated site.Client. It classifies the same way as
// WithAPIClassification but has no call-limit-exceeded case, since the
// site surface carries no machine-readable quota signal.
func WithUserAccessClassification(step Step) Step {
	return func(ctx context.Context) (time.Duration, error) {
		wait, err := step(ctx)
		if err == nil {
			return wait, nil
		}
		if isTermination(err) {
			return 0, ErrTerminal
		}
		var ce *site.ConfigError
		if errors.As(err, &ce) {
			return wait, &FatalError{Err: err}
		}
		var te *tracker.TransportError
		if errors.As(err, &te) {
			if te.StatusCode >= 400 && te.StatusCode < 500 {
				return wait, &FatalError{Err: err}
			}
			return wait, &NonFatalError{Err: err}
		}
		return wait, &NonFatalError{Err: err}
	}
}

// WithPoolClassification wraps a step that writes to a SQLite-backed
// store through database/sql. A "database is locked" busy error is
// non-fatal (the writer retries on its own schedule); anything else is
// left for an outer classifier, or propagates as fatal if this is the
// outermost one.
func WithPoolClassification(step Step) Step {
	return func(ctx context.Context) (time.Duration, error) {
		wait, err := step(ctx)
		if err == nil {
			return wait, nil
		}
		if isTermination(err) {
			return 0, ErrTerminal
		}
		if strings.Contains(err.Error(), "database is locked") {
			return wait, &NonFatalError{Err: err}
		}
		return wait, err
	}
}

func isTermination(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, httpx.ErrWouldBlock) {
		return true
	}
	var wb *ratelimit.WouldBlock
	return errors.As(err, &wb)
}
