package dbops

import (
	"bytes"
	"database/sql"
	"fmt"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

type fileInfoRow struct {
	FileIndex int
	Path      []byte
	Encoding  sql.NullString
	Start     int64
	Stop      int64
}

const upsertFileInfoSQL = `insert into file_info (id, file_index, path, encoding, start, stop)
	values (?, ?, ?, ?, ?, ?)
	on conflict (id, file_index) do update set
		path = excluded.path,
		encoding = excluded.encoding,
		start = excluded.start,
		stop = excluded.stop`

// ParsedTorrentInfoUpdate derives file_info rows from an already-decoded
// metainfo.Info, deferring the torrent entry id until Apply so the same
// parse can be reused for a batch of entries sharing one metafile (rare
// in practice, but mirrors the original library split between decode
// and apply).
type ParsedTorrentInfoUpdate struct {
	rows []fileInfoRow
}

// NewParsedTorrentInfoUpdate derives one row per file (or a single row
// for single-file torrents), preferring the UTF-8 name/path fields only
// when the root name and every file's path are present in UTF-8 form.
func NewParsedTorrentInfoUpdate(info metainfo.Info) (*ParsedTorrentInfoUpdate, error) {
	u := &ParsedTorrentInfoUpdate{}

	if len(info.Files) > 0 {
		utf8 := info.NameUtf8 != ""
		if utf8 {
			for _, f := range info.Files {
				if len(f.PathUtf8) == 0 {
					utf8 = false
					break
				}
			}
		}

		var offset int64
		for index, f := range info.Files {
			var path []string
			var encoding sql.NullString
			if utf8 {
				path = append([]string{info.NameUtf8}, f.PathUtf8...)
				encoding = sql.NullString{String: "utf-8", Valid: true}
			} else {
				path = append([]string{info.Name}, f.Path...)
			}
			pathBytes, err := bencode.Marshal(path)
			if err != nil {
				return nil, fmt.Errorf("dbops: bencode file path: %w", err)
			}
			u.rows = append(u.rows, fileInfoRow{
				FileIndex: index,
				Path:      pathBytes,
				Encoding:  encoding,
				Start:     offset,
				Stop:      offset + f.Length,
			})
			offset += f.Length
		}
		return u, nil
	}

	var path []string
	var encoding sql.NullString
	if info.NameUtf8 != "" {
		path = []string{info.NameUtf8}
		encoding = sql.NullString{String: "utf-8", Valid: true}
	} else {
		path = []string{info.Name}
	}
	pathBytes, err := bencode.Marshal(path)
	if err != nil {
		return nil, fmt.Errorf("dbops: bencode file path: %w", err)
	}
	u.rows = append(u.rows, fileInfoRow{
		FileIndex: 0,
		Path:      pathBytes,
		Encoding:  encoding,
		Start:     0,
		Stop:      info.Length,
	})
	return u, nil
}

// Apply upserts the rows for torrentEntryID.
func (u *ParsedTorrentInfoUpdate) Apply(tx *sql.Tx, torrentEntryID int64) error {
	for _, row := range u.rows {
		if _, err := tx.Exec(upsertFileInfoSQL,
			torrentEntryID, row.FileIndex, row.Path, row.Encoding, row.Start, row.Stop,
		); err != nil {
			return fmt.Errorf("dbops: upsert file_info (%d, %d): %w", torrentEntryID, row.FileIndex, err)
		}
	}
	return nil
}

// TorrentInfoUpdate decodes a bencoded info dictionary (the payload of
// a metafile's top-level "info" key) and derives file_info rows for a
// specific torrent entry.
type TorrentInfoUpdate struct {
	torrentEntryID int64
	inner          *ParsedTorrentInfoUpdate
}

// NewTorrentInfoUpdate decodes infoBytes as a bencoded metainfo.Info.
func NewTorrentInfoUpdate(torrentEntryID int64, infoBytes []byte) (*TorrentInfoUpdate, error) {
	var info metainfo.Info
	if err := bencode.Unmarshal(infoBytes, &info); err != nil {
		return nil, fmt.Errorf("dbops: decode info dict: %w", err)
	}
	inner, err := NewParsedTorrentInfoUpdate(info)
	if err != nil {
		return nil, err
	}
	return &TorrentInfoUpdate{torrentEntryID: torrentEntryID, inner: inner}, nil
}

// NewTorrentFileUpdate decodes a full .torrent metafile and derives
// file_info rows for its info dict.
func NewTorrentFileUpdate(torrentEntryID int64, torrentFileBytes []byte) (*TorrentInfoUpdate, error) {
	mi, err := metainfo.Load(bytes.NewReader(torrentFileBytes))
	if err != nil {
		return nil, fmt.Errorf("dbops: load metafile: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("dbops: unmarshal info dict: %w", err)
	}
	inner, err := NewParsedTorrentInfoUpdate(info)
	if err != nil {
		return nil, err
	}
	return &TorrentInfoUpdate{torrentEntryID: torrentEntryID, inner: inner}, nil
}

// Apply upserts the file_info rows derived at construction time.
func (u *TorrentInfoUpdate) Apply(tx *sql.Tx) error {
	return u.inner.Apply(tx, u.torrentEntryID)
}
