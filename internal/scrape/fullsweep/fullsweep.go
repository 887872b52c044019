// Package fullsweep implements the background, continuously-running
// scrape of the entire tracker catalog, the only scraper whose pages
// reach every part of it for deletion inference (see
// internal/dbops.UnfilteredSweepApply).
package fullsweep

import (
	"context"
	"database/sql"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/daemon"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/dbops"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/metrics"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
)

// Scraper walks the tracker's unfiltered getTorrents pages in a loop,
// wrapping around to offset 0 once it reaches the end of the catalog.
type Scraper struct {
	API    *tracker.RateLimitedClient
	DB     *sql.DB
	Logger *slog.Logger

	offset int
}

// New builds a Scraper. logger must not be nil.
func New(api *tracker.RateLimitedClient, db *sql.DB, logger *slog.Logger) *Scraper {
	return &Scraper{API: api, DB: db, Logger: logger}
}

// Step fetches one page at the current offset, applies it (inferring
// deletions along the way), and advances the offset. The one-row
// overlap on a non-wrapping advance gives the next page's deletion
// inference a junction to align on; see dbops.UnfilteredSweepApply.
func (s *Scraper) Step(ctx context.Context) (time.Duration, error) {
	s.Logger.Info("scraping metadata", slog.Int("offset", s.offset))

	result, err := s.API.GetTorrents(ctx, math.MaxInt32, s.offset, nil)
	if err != nil {
		return 0, err
	}

	update, err := dbops.NewUnfilteredSweepApply(s.offset, result)
	if err != nil {
		return 0, err
	}
	update.Scraper = "fullsweep"

	start := time.Now()
	tx, err := s.DB.Begin()
	if err != nil {
		return 0, err
	}
	if err := update.Apply(tx); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	metrics.WriterTxDuration.WithLabelValues("metadata").Observe(time.Since(start).Seconds())

	total, err := strconv.Atoi(result.Results)
	if err != nil {
		return 0, err
	}
	n := len(result.Torrents)
	if s.offset+n >= total {
		s.offset = 0
	} else {
		s.offset += n - 1
	}
	return 0, nil
}

// NewDaemon wraps Step with the API/Pool exception classification and
// wires Terminate to unblock the scraper's rate limiter.
func (s *Scraper) NewDaemon(logger *slog.Logger) *daemon.Daemon {
	step := daemon.WithAPIClassification(daemon.WithPoolClassification(s.Step))
	d := daemon.New("fullsweep", step, logger)
	d.OnTerminate = func() { s.API.GetRateLimiter().SetBlocking(false) }
	return d
}
