package dbops

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/metrics"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
)

// UnfilteredSweepApply upserts a page of an unfiltered, time-descending
// getTorrents sweep and infers deletions from the gap (or lack of one)
// between consecutive pages. The server's contract is that successive
// calls with increasing offset return a contiguous slice of the
// catalog ordered by (time desc, id desc); when that holds, any row
// that should have appeared in this slice's id range but didn't is
// gone from the tracker.
type UnfilteredSweepApply struct {
	// Scraper labels this apply's DeletionsTotal observations (e.g.
	// "fullsweep" or "tip"). Left unset, it labels as "unknown".
	Scraper string

	upsert *EntityUpsert
	offset int
	total  int64
}

// NewUnfilteredSweepApply parses result's torrents and total count for
// a page fetched at offset.
func NewUnfilteredSweepApply(offset int, result *tracker.GetTorrentsResult) (*UnfilteredSweepApply, error) {
	entries := make([]tracker.TorrentEntry, 0, len(result.Torrents))
	for _, entry := range result.Torrents {
		entries = append(entries, entry)
	}
	upsert, err := NewEntityUpsert(entries...)
	if err != nil {
		return nil, err
	}
	total, err := strconv.ParseInt(result.Results, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("dbops: results %q: %w", result.Results, err)
	}
	return &UnfilteredSweepApply{upsert: upsert, offset: offset, total: total}, nil
}

// Apply upserts every entry in the page, then marks deleted any
// previously-known torrent entry that falls strictly between the
// page's oldest and newest entries (by (time desc, id desc)) without
// itself appearing in the page, and, if this page reaches the end of
// the catalog, marks deleted everything strictly older than the
// page's oldest entry too.
func (s *UnfilteredSweepApply) Apply(tx *sql.Tx) error {
	if err := s.upsert.Apply(tx); err != nil {
		return err
	}

	ids := s.upsert.TorrentEntryIDs()
	if len(ids) == 0 {
		return nil
	}

	rows := make([]torrentEntryRow, len(ids))
	for i, id := range ids {
		rows[i] = s.upsert.torrentEntry(id)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Time != rows[j].Time {
			return rows[i].Time > rows[j].Time
		}
		return rows[i].ID > rows[j].ID
	})
	newest, oldest := rows[0], rows[len(rows)-1]

	if _, err := tx.Exec("create temp table ids (id integer not null primary key)"); err != nil {
		return fmt.Errorf("dbops: create temp ids table: %w", err)
	}
	defer tx.Exec("drop table temp.ids")

	insertStmt, err := tx.Prepare("insert into temp.ids (id) values (?)")
	if err != nil {
		return fmt.Errorf("dbops: prepare temp ids insert: %w", err)
	}
	defer insertStmt.Close()
	for _, id := range ids {
		if _, err := insertStmt.Exec(id); err != nil {
			return fmt.Errorf("dbops: insert temp id %d: %w", id, err)
		}
	}

	scraper := s.Scraper
	if scraper == "" {
		scraper = "unknown"
	}

	if s.offset+len(ids) >= int(s.total) {
		res, err := tx.Exec(
			`update torrent_entry set deleted = 1
			 where (time, id) < (?, ?) and not deleted`,
			oldest.Time, oldest.ID,
		)
		if err != nil {
			return fmt.Errorf("dbops: mark deleted older than oldest: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			metrics.DeletionsTotal.WithLabelValues(scraper).Add(float64(n))
		}
	}

	res, err := tx.Exec(
		`update torrent_entry set deleted = 1
		 where (not deleted) and (time, id) < (?, ?) and (time, id) > (?, ?)
		 and id not in (select id from temp.ids)`,
		newest.Time, newest.ID, oldest.Time, oldest.ID,
	)
	if err != nil {
		return fmt.Errorf("dbops: mark deleted between extremes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		metrics.DeletionsTotal.WithLabelValues(scraper).Add(float64(n))
	}

	return nil
}
