package dbops

import (
	"strconv"
	"testing"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
)

func pageResult(entries ...tracker.TorrentEntry) *tracker.GetTorrentsResult {
	torrents := make(map[string]tracker.TorrentEntry, len(entries))
	for _, e := range entries {
		torrents[e.TorrentID] = e
	}
	return &tracker.GetTorrentsResult{
		Results:  "5",
		Torrents: torrents,
	}
}

func TestUnfilteredSweepApply_DeletesGapBetweenPages(t *testing.T) {
	db := openTestMetadataDB(t)

	// Seed entries 1..5 at times 1000..1004 (entry N at time 1000+N-1),
	// as if a prior sweep saw the full catalog.
	for i := 1; i <= 5; i++ {
		e := sampleEntry(strconv.Itoa(i), "10", "100", "1", strconv.Itoa(999+i))
		u, err := NewEntityUpsert(e)
		if err != nil {
			t.Fatalf("NewEntityUpsert: %v", err)
		}
		tx, _ := db.Begin()
		u.Apply(tx)
		tx.Commit()
	}

	// Now a fresh sweep page only returns entries 1, 2, and 5 (3 and 4
	// vanished from the tracker). The slice's extremes are entry 5
	// (oldest, time 1000) and entry 1 (newest, time 1004).
	result := pageResult(
		sampleEntry("1", "10", "100", "1", "1004"),
		sampleEntry("2", "10", "100", "1", "1003"),
		sampleEntry("5", "10", "100", "1", "1000"),
	)
	sweep, err := NewUnfilteredSweepApply(0, result)
	if err != nil {
		t.Fatalf("NewUnfilteredSweepApply: %v", err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := sweep.Apply(tx); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for _, tc := range []struct {
		id      int
		deleted bool
	}{
		{1, false},
		{2, false},
		{3, true},
		{4, true},
		{5, false},
	} {
		var deleted bool
		if err := db.QueryRow("select deleted from torrent_entry where id = ?", tc.id).Scan(&deleted); err != nil {
			t.Fatalf("query id %d: %v", tc.id, err)
		}
		if deleted != tc.deleted {
			t.Errorf("id %d deleted = %v, want %v", tc.id, deleted, tc.deleted)
		}
	}
}

func TestUnfilteredSweepApply_LastPageDeletesEverythingOlder(t *testing.T) {
	db := openTestMetadataDB(t)

	for i := 1; i <= 3; i++ {
		e := sampleEntry(strconv.Itoa(i), "10", "100", "1", strconv.Itoa(999+i))
		u, _ := NewEntityUpsert(e)
		tx, _ := db.Begin()
		u.Apply(tx)
		tx.Commit()
	}
	// A stale entry older than anything in the new page, not itself
	// present in this page.
	stale := sampleEntry("99", "10", "100", "1", "500")
	u, _ := NewEntityUpsert(stale)
	tx, _ := db.Begin()
	u.Apply(tx)
	tx.Commit()

	result := &tracker.GetTorrentsResult{
		Results: "3",
		Torrents: map[string]tracker.TorrentEntry{
			"1": sampleEntry("1", "10", "100", "1", "1002"),
			"2": sampleEntry("2", "10", "100", "1", "1001"),
			"3": sampleEntry("3", "10", "100", "1", "1000"),
		},
	}
	sweep, err := NewUnfilteredSweepApply(0, result)
	if err != nil {
		t.Fatalf("NewUnfilteredSweepApply: %v", err)
	}
	tx, _ = db.Begin()
	if err := sweep.Apply(tx); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	tx.Commit()

	var deleted bool
	if err := db.QueryRow("select deleted from torrent_entry where id = 99").Scan(&deleted); err != nil {
		t.Fatalf("query: %v", err)
	}
	if !deleted {
		t.Fatal("entry 99 (older than the last page's oldest) should be marked deleted")
	}
}
