package dbops

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
)

type snatchEntryRow struct {
	ID         int64
	Downloaded int64
	Uploaded   int64
	SeedTime   int64
	Seeding    bool
	SnatchTime int64
}

const snatchTimeLayout = "2006-01-02 15:04:05"

func snatchEntryToRow(entry tracker.SnatchEntry) (snatchEntryRow, error) {
	id, err := parseInt64(entry.TorrentID)
	if err != nil {
		return snatchEntryRow{}, fmt.Errorf("dbops: TorrentID %q: %w", entry.TorrentID, err)
	}
	downloaded, err := parseInt64(entry.Downloaded)
	if err != nil {
		return snatchEntryRow{}, fmt.Errorf("dbops: Downloaded %q: %w", entry.Downloaded, err)
	}
	uploaded, err := parseInt64(entry.Uploaded)
	if err != nil {
		return snatchEntryRow{}, fmt.Errorf("dbops: Uploaded %q: %w", entry.Uploaded, err)
	}
	seedTime, err := parseInt64(entry.Seedtime)
	if err != nil {
		return snatchEntryRow{}, fmt.Errorf("dbops: Seedtime %q: %w", entry.Seedtime, err)
	}
	seedingRaw, err := strconv.ParseBool(entry.IsSeeding)
	if err != nil {
		return snatchEntryRow{}, fmt.Errorf("dbops: IsSeeding %q: %w", entry.IsSeeding, err)
	}
	snatchTime, err := time.Parse(snatchTimeLayout, entry.SnatchTime)
	if err != nil {
		return snatchEntryRow{}, fmt.Errorf("dbops: SnatchTime %q: %w", entry.SnatchTime, err)
	}
	return snatchEntryRow{
		ID:         id,
		Downloaded: downloaded,
		Uploaded:   uploaded,
		SeedTime:   seedTime,
		Seeding:    seedingRaw,
		SnatchTime: snatchTime.UTC().Unix(),
	}, nil
}

const upsertSnatchlistSQL = `insert into snatchlist
	(id, downloaded, uploaded, seed_time, seeding, snatch_time)
	values (?, ?, ?, ?, ?, ?)
	on conflict (id) do update set
		downloaded = excluded.downloaded,
		uploaded = excluded.uploaded,
		seed_time = excluded.seed_time,
		seeding = excluded.seeding,
		snatch_time = excluded.snatch_time`

// SnatchEntriesUpdate upserts scraped snatchlist columns. It never
// touches hnr_removed, which is user-owned and absent from every
// upsert this operator issues.
type SnatchEntriesUpdate struct {
	rows []snatchEntryRow
}

// NewSnatchEntriesUpdate parses entries, skipping (and reporting)
// entries with any field that fails to parse rather than failing the
// whole page.
func NewSnatchEntriesUpdate(entries ...tracker.SnatchEntry) (*SnatchEntriesUpdate, []error) {
	u := &SnatchEntriesUpdate{}
	var errs []error
	for _, entry := range entries {
		row, err := snatchEntryToRow(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		u.rows = append(u.rows, row)
	}
	return u, errs
}

// Apply upserts every parsed row.
func (u *SnatchEntriesUpdate) Apply(tx *sql.Tx) error {
	for _, row := range u.rows {
		if _, err := tx.Exec(upsertSnatchlistSQL,
			row.ID, row.Downloaded, row.Uploaded, row.SeedTime, row.Seeding, row.SnatchTime,
		); err != nil {
			return fmt.Errorf("dbops: upsert snatchlist %d: %w", row.ID, err)
		}
	}
	return nil
}
