// Package tip implements the feed-triggered scraper that keeps the
// cache's freshest entries near real time without re-sweeping the
// whole catalog on every tick: a cheap feed poll decides whether the
// expensive, rate-limited full getTorrents(offset=0) call is worth
// making.
package tip

import (
	"context"
	"database/sql"
	"log/slog"
	"math"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/daemon"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/dbops"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/metrics"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker/site"
)

const idleWait = 60 * time.Second

// Scraper tracks whether the tracker's torrents_all feed has diverged
// from the cache's current view of the most recent entries.
type Scraper struct {
	API    *tracker.RateLimitedClient
	Site   *site.Client
	DB     *sql.DB
	Logger *slog.Logger

	changesPending bool
}

// New builds a Scraper.
func New(api *tracker.RateLimitedClient, siteClient *site.Client, db *sql.DB, logger *slog.Logger) *Scraper {
	return &Scraper{API: api, Site: siteClient, DB: db, Logger: logger}
}

// Step checks the feed for divergence (if no change is already
// pending), and if one is found or was already pending, re-sweeps page
// 0 of the catalog and clears the pending flag.
func (s *Scraper) Step(ctx context.Context) (time.Duration, error) {
	if !s.changesPending {
		changed, err := s.checkChanges(ctx)
		if err != nil {
			return 0, err
		}
		if !changed {
			return idleWait, nil
		}
		s.changesPending = true
	}

	result, err := s.API.GetTorrents(ctx, math.MaxInt32, 0, nil)
	if err != nil {
		return 0, err
	}
	update, err := dbops.NewUnfilteredSweepApply(0, result)
	if err != nil {
		return 0, err
	}
	update.Scraper = "tip"

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

	s.changesPending = false
	return idleWait, nil
}

// checkChanges fetches the torrents_all feed, parses its entry ids in
// feed order, and compares them against the top len(feed) non-deleted
// torrent entry ids currently cached, ordered the same way the
// tracker's getTorrents does.
func (s *Scraper) checkChanges(ctx context.Context) (bool, error) {
	resp, err := s.Site.GetFeed(ctx, "torrents_all")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, &tracker.TransportError{StatusCode: resp.StatusCode}
	}

	feedIDs, err := site.ParseFeedEntryIDs(resp.Body)
	if err != nil {
		return false, err
	}

	rows, err := s.DB.QueryContext(ctx,
		"select id from torrent_entry where not deleted order by time desc, id desc limit ?",
		len(feedIDs),
	)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	var dbIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return false, err
		}
		dbIDs = append(dbIDs, id)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	changed := len(feedIDs) != len(dbIDs)
	if !changed {
		for i := range feedIDs {
			if feedIDs[i] != dbIDs[i] {
				changed = true
				break
			}
		}
	}
	if changed {
		s.Logger.Info("feed indicates changes, scraping metadata")
	} else if len(feedIDs) > 0 {
		s.Logger.Info("feed indicates no changes", slog.Int("latest", feedIDs[0]))
	}
	return changed, nil
}

// NewDaemon wraps Step with the API/Pool/UserAccess exception
// classification and wires Terminate to unblock both the API quota
// limiter and the site client's rate limiter.
func (s *Scraper) NewDaemon(logger *slog.Logger, siteLimiter interface{ SetBlocking(bool) }) *daemon.Daemon {
	step := daemon.WithAPIClassification(
		daemon.WithPoolClassification(
			daemon.WithUserAccessClassification(s.Step),
		),
	)
	d := daemon.New("tip", step, logger)
	d.OnTerminate = func() {
		s.API.GetRateLimiter().SetBlocking(false)
		if siteLimiter != nil {
			siteLimiter.SetBlocking(false)
		}
	}
	return d
}
