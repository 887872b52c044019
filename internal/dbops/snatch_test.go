package dbops

import (
	"database/sql"
	"testing"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/storage"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
)

func openTestUserDB(t *testing.T) *sql.DB {
	t.Helper()
	s := storage.New(t.TempDir())
	db, err := s.OpenUserDB()
	if err != nil {
		t.Fatalf("OpenUserDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSnatchEntriesUpdate_UpsertsAndPreservesHnrRemoved(t *testing.T) {
	db := openTestUserDB(t)

	if _, err := db.Exec(
		"insert into snatchlist (id, downloaded, uploaded, seed_time, seeding, snatch_time, hnr_removed) values (1, 0, 0, 0, 0, 0, 1)",
	); err != nil {
		t.Fatalf("seed snatchlist: %v", err)
	}

	entry := tracker.SnatchEntry{
		TorrentID:  "1",
		Downloaded: "100",
		Uploaded:   "50",
		Seedtime:   "3600",
		IsSeeding:  "1",
		SnatchTime: "2024-01-15 12:30:00",
	}
	u, errs := NewSnatchEntriesUpdate(entry)
	if len(errs) != 0 {
		t.Fatalf("NewSnatchEntriesUpdate errs: %v", errs)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := u.Apply(tx); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	var downloaded int64
	var hnrRemoved int
	var snatchTime int64
	if err := db.QueryRow(
		"select downloaded, hnr_removed, snatch_time from snatchlist where id = 1",
	).Scan(&downloaded, &hnrRemoved, &snatchTime); err != nil {
		t.Fatalf("query: %v", err)
	}
	if downloaded != 100 {
		t.Fatalf("downloaded = %d, want 100", downloaded)
	}
	if hnrRemoved != 1 {
		t.Fatal("hnr_removed was overwritten by the scraped upsert")
	}
	want := time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC).Unix()
	if snatchTime != want {
		t.Fatalf("snatch_time = %d, want %d", snatchTime, want)
	}
}

func TestSnatchEntriesUpdate_SkipsMalformedRowsWithoutFailingBatch(t *testing.T) {
	good := tracker.SnatchEntry{
		TorrentID:  "1",
		Downloaded: "1",
		Uploaded:   "1",
		Seedtime:   "1",
		IsSeeding:  "0",
		SnatchTime: "2024-01-15 12:30:00",
	}
	bad := tracker.SnatchEntry{
		TorrentID:  "2",
		Downloaded: "1",
		Uploaded:   "1",
		Seedtime:   "1",
		IsSeeding:  "0",
		SnatchTime: "not-a-timestamp",
	}
	u, errs := NewSnatchEntriesUpdate(good, bad)
	if len(errs) != 1 {
		t.Fatalf("errs = %d, want 1", len(errs))
	}
	if len(u.rows) != 1 {
		t.Fatalf("rows = %d, want 1 (good entry still applied)", len(u.rows))
	}
}
