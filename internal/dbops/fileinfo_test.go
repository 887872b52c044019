package dbops

import (
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

func TestParsedTorrentInfoUpdate_SingleFile(t *testing.T) {
	info := metainfo.Info{Name: "movie.mkv", Length: 12345}
	u, err := NewParsedTorrentInfoUpdate(info)
	if err != nil {
		t.Fatalf("NewParsedTorrentInfoUpdate: %v", err)
	}
	if len(u.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(u.rows))
	}
	row := u.rows[0]
	if row.FileIndex != 0 || row.Start != 0 || row.Stop != 12345 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.Encoding.Valid {
		t.Fatalf("encoding = %v, want unset (no .utf-8 fields present)", row.Encoding)
	}
	var path []string
	if err := bencode.Unmarshal(row.Path, &path); err != nil {
		t.Fatalf("decode path: %v", err)
	}
	if len(path) != 1 || path[0] != "movie.mkv" {
		t.Fatalf("path = %v, want [movie.mkv]", path)
	}
}

func TestParsedTorrentInfoUpdate_MultiFileUTF8(t *testing.T) {
	info := metainfo.Info{
		Name:     "show",
		NameUtf8: "show",
		Files: []metainfo.FileInfo{
			{Length: 100, Path: []string{"a.mkv"}, PathUtf8: []string{"a.mkv"}},
			{Length: 200, Path: []string{"b.mkv"}, PathUtf8: []string{"b.mkv"}},
		},
	}
	u, err := NewParsedTorrentInfoUpdate(info)
	if err != nil {
		t.Fatalf("NewParsedTorrentInfoUpdate: %v", err)
	}
	if len(u.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(u.rows))
	}
	if u.rows[0].Start != 0 || u.rows[0].Stop != 100 {
		t.Fatalf("row 0 span = [%d,%d), want [0,100)", u.rows[0].Start, u.rows[0].Stop)
	}
	if u.rows[1].Start != 100 || u.rows[1].Stop != 300 {
		t.Fatalf("row 1 span = [%d,%d), want [100,300)", u.rows[1].Start, u.rows[1].Stop)
	}
	for i, row := range u.rows {
		if !row.Encoding.Valid || row.Encoding.String != "utf-8" {
			t.Fatalf("row %d encoding = %v, want utf-8", i, row.Encoding)
		}
	}
}

func TestParsedTorrentInfoUpdate_PartialUTF8FallsBackToLegacy(t *testing.T) {
	info := metainfo.Info{
		Name:     "show",
		NameUtf8: "show",
		Files: []metainfo.FileInfo{
			{Length: 100, Path: []string{"a.mkv"}, PathUtf8: []string{"a.mkv"}},
			{Length: 200, Path: []string{"b.mkv"}}, // no PathUtf8
		},
	}
	u, err := NewParsedTorrentInfoUpdate(info)
	if err != nil {
		t.Fatalf("NewParsedTorrentInfoUpdate: %v", err)
	}
	for i, row := range u.rows {
		if row.Encoding.Valid {
			t.Fatalf("row %d encoding = %v, want unset (partial utf-8 falls back)", i, row.Encoding)
		}
	}
}

func TestTorrentInfoUpdate_UpsertsIntoMetadataDB(t *testing.T) {
	db := openTestMetadataDB(t)

	// Parent rows must exist first per the foreign-key invariant.
	entry := sampleEntry("1", "10", "100", "3", "1000")
	eu, err := NewEntityUpsert(entry)
	if err != nil {
		t.Fatalf("NewEntityUpsert: %v", err)
	}
	tx, _ := db.Begin()
	eu.Apply(tx)
	tx.Commit()

	info := metainfo.Info{Name: "movie.mkv", Length: 999}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("bencode.Marshal: %v", err)
	}

	update, err := NewTorrentInfoUpdate(1, infoBytes)
	if err != nil {
		t.Fatalf("NewTorrentInfoUpdate: %v", err)
	}
	tx, err = db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := update.Apply(tx); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	var stop int64
	if err := db.QueryRow("select stop from file_info where id = 1 and file_index = 0").Scan(&stop); err != nil {
		t.Fatalf("query file_info: %v", err)
	}
	if stop != 999 {
		t.Fatalf("stop = %d, want 999", stop)
	}
}
