// Package supervisor runs a set of daemons concurrently and tears the
// whole group down as soon as any one of them stops, whether cleanly
// or with an error.
package supervisor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/daemon"
)

// Run starts every daemon's Run loop and blocks until the first one
// returns. At that point it calls Terminate on every daemon (including
// the one that already stopped, which is a no-op) and waits for the
// rest to unwind. It returns the first non-nil error seen, matching
// errgroup.Group's own first-error-wins semantics — which is exactly
// the "signal terminate() to all others, wait, re-raise the first
// exception" contract this package implements.
func Run(ctx context.Context, daemons ...*daemon.Daemon) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, d := range daemons {
		d := d
		g.Go(func() error {
			err := d.Run(gctx)
			for _, other := range daemons {
				other.Terminate()
			}
			return err
		})
	}

	return g.Wait()
}
