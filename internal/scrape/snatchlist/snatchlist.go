// Package snatchlist implements the periodic full pass over the
// authenticated user's snatch history.
package snatchlist

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/daemon"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/dbops"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/metrics"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
)

const defaultBlockSize = 10000

// Scraper pages through getUserSnatchlist once per Period, then sleeps
// out the remainder of the period before starting the next pass.
type Scraper struct {
	API       *tracker.RateLimitedClient
	DB        *sql.DB
	Logger    *slog.Logger
	Period    time.Duration
	BlockSize int

	offset    int
	startTime time.Time
}

// New builds a Scraper. If period is zero, it defaults to one hour; if
// blockSize is zero or negative, it defaults to 10000 entries per page.
func New(api *tracker.RateLimitedClient, db *sql.DB, period time.Duration, blockSize int, logger *slog.Logger) *Scraper {
	if period <= 0 {
		period = time.Hour
	}
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	return &Scraper{API: api, DB: db, Logger: logger, Period: period, BlockSize: blockSize, startTime: time.Now()}
}

// Step fetches one block of the snatchlist at the current offset and
// applies it. Once the whole list has been paged through, it resets
// the offset to 0 and reports however much of Period remains, so a
// full pass happens roughly once per Period regardless of how long the
// pass itself took.
func (s *Scraper) Step(ctx context.Context) (time.Duration, error) {
	s.Logger.Info("scraping snatchlist", slog.Int("offset", s.offset))

	result, err := s.API.GetUserSnatchlist(ctx, s.BlockSize, s.offset)
	if err != nil {
		return 0, err
	}

	entries := make([]tracker.SnatchEntry, 0, len(result.Torrents))
	for _, entry := range result.Torrents {
		entries = append(entries, entry)
	}
	update, parseErrs := dbops.NewSnatchEntriesUpdate(entries...)
	for _, e := range parseErrs {
		s.Logger.Warn("skipping malformed snatchlist entry", slog.String("error", e.Error()))
	}

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
	metrics.WriterTxDuration.WithLabelValues("user").Observe(time.Since(start).Seconds())

	total, err := strconv.Atoi(result.Results)
	if err != nil {
		return 0, err
	}
	s.offset += len(result.Torrents)
	if s.offset < total {
		return 0, nil
	}

	now := time.Now()
	wait := s.Period - now.Sub(s.startTime)
	s.offset = 0
	s.startTime = now
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

// NewDaemon wraps Step with the API/Pool exception classification and
// wires Terminate to unblock the scraper's rate limiter.
func (s *Scraper) NewDaemon(logger *slog.Logger) *daemon.Daemon {
	step := daemon.WithAPIClassification(daemon.WithPoolClassification(s.Step))
	d := daemon.New("snatchlist", step, logger)
	d.OnTerminate = func() { s.API.GetRateLimiter().SetBlocking(false) }
	return d
}
