package ratelimit

import "fmt"

// WouldBlock is returned by a limiter's Acquire in non-blocking mode when
// the caller would otherwise have to wait. Wait reports how long the caller
// would have waited, for logging/backoff purposes.
type WouldBlock struct {
	Wait float64 // seconds
}

func (e *WouldBlock) Error() string {
	return fmt.Sprintf("rate limit: would block for %.1fs", e.Wait)
}
