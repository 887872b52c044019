// Package dbops implements the metadata-db and user-db update
// operators: pure values built from a parsed API result whose Apply
// method performs one idempotent writer transaction.
package dbops

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
)

type seriesRow struct {
	ID             int64
	ImdbID         sql.NullString
	Name           sql.NullString
	Banner         sql.NullString
	Poster         sql.NullString
	TvdbID         sql.NullInt64
	TvrageID       sql.NullInt64
	YoutubeTrailer sql.NullString
}

type groupRow struct {
	ID       int64
	Category string
	Name     sql.NullString
	SeriesID int64
}

type torrentEntryRow struct {
	ID          int64
	Codec       sql.NullString
	Container   sql.NullString
	GroupID     int64
	InfoHash    string
	Origin      sql.NullString
	ReleaseName sql.NullString
	Resolution  sql.NullString
	Size        int64
	Source      sql.NullString
	Time        int64
	Snatched    int64
	Seeders     int64
	Leechers    int64
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64FromString(s string) sql.NullInt64 {
	if s == "" || s == "0" {
		return sql.NullInt64{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func entryToRows(entry tracker.TorrentEntry) (seriesRow, groupRow, torrentEntryRow, error) {
	seriesID, err := parseInt64(entry.SeriesID)
	if err != nil {
		return seriesRow{}, groupRow{}, torrentEntryRow{}, fmt.Errorf("dbops: SeriesID %q: %w", entry.SeriesID, err)
	}
	groupID, err := parseInt64(entry.GroupID)
	if err != nil {
		return seriesRow{}, groupRow{}, torrentEntryRow{}, fmt.Errorf("dbops: GroupID %q: %w", entry.GroupID, err)
	}
	torrentID, err := parseInt64(entry.TorrentID)
	if err != nil {
		return seriesRow{}, groupRow{}, torrentEntryRow{}, fmt.Errorf("dbops: TorrentID %q: %w", entry.TorrentID, err)
	}
	size, err := parseInt64(entry.Size)
	if err != nil {
		return seriesRow{}, groupRow{}, torrentEntryRow{}, fmt.Errorf("dbops: Size %q: %w", entry.Size, err)
	}
	uploadTime, err := parseInt64(entry.Time)
	if err != nil {
		return seriesRow{}, groupRow{}, torrentEntryRow{}, fmt.Errorf("dbops: Time %q: %w", entry.Time, err)
	}
	snatched, err := parseInt64(entry.Snatched)
	if err != nil {
		return seriesRow{}, groupRow{}, torrentEntryRow{}, fmt.Errorf("dbops: Snatched %q: %w", entry.Snatched, err)
	}
	seeders, err := parseInt64(entry.Seeders)
	if err != nil {
		return seriesRow{}, groupRow{}, torrentEntryRow{}, fmt.Errorf("dbops: Seeders %q: %w", entry.Seeders, err)
	}
	leechers, err := parseInt64(entry.Leechers)
	if err != nil {
		return seriesRow{}, groupRow{}, torrentEntryRow{}, fmt.Errorf("dbops: Leechers %q: %w", entry.Leechers, err)
	}

	trailer := nullString(entry.YoutubeTrailer)
	if trailer.String == "0" {
		trailer = sql.NullString{}
	}
	imdbID := nullString(entry.ImdbID)
	if imdbID.String == "0" {
		imdbID = sql.NullString{}
	}

	series := seriesRow{
		ID:             seriesID,
		Name:           nullString(entry.Series),
		Banner:         nullString(entry.SeriesBanner),
		Poster:         nullString(entry.SeriesPoster),
		ImdbID:         imdbID,
		TvdbID:         nullInt64FromString(entry.TvdbID),
		TvrageID:       nullInt64FromString(entry.TvrageID),
		YoutubeTrailer: trailer,
	}
	group := groupRow{
		ID:       groupID,
		Category: entry.Category,
		Name:     nullString(entry.GroupName),
		SeriesID: seriesID,
	}
	te := torrentEntryRow{
		ID:          torrentID,
		Codec:       nullString(entry.Codec),
		Container:   nullString(entry.Container),
		GroupID:     groupID,
		InfoHash:    entry.InfoHash,
		Origin:      nullString(entry.Origin),
		ReleaseName: nullString(entry.ReleaseName),
		Resolution:  nullString(entry.Resolution),
		Size:        size,
		Source:      nullString(entry.Source),
		Time:        uploadTime,
		Snatched:    snatched,
		Seeders:     seeders,
		Leechers:    leechers,
	}
	return series, group, te, nil
}

const upsertSeriesSQL = `insert into series
	(id, imdb_id, name, banner, poster, tvdb_id, tvrage_id, youtube_trailer, deleted)
	values (?, ?, ?, ?, ?, ?, ?, ?, 0)
	on conflict (id) do update set
		imdb_id = excluded.imdb_id,
		name = excluded.name,
		banner = excluded.banner,
		poster = excluded.poster,
		tvdb_id = excluded.tvdb_id,
		tvrage_id = excluded.tvrage_id,
		youtube_trailer = excluded.youtube_trailer
	where
		imdb_id is not excluded.imdb_id or
		name is not excluded.name or
		banner is not excluded.banner or
		poster is not excluded.poster or
		tvdb_id is not excluded.tvdb_id or
		tvrage_id is not excluded.tvrage_id or
		youtube_trailer is not excluded.youtube_trailer`

const upsertGroupSQL = `insert into torrent_entry_group
	(id, category, name, series_id, deleted)
	values (?, ?, ?, ?, 0)
	on conflict (id) do update set
		category = excluded.category,
		name = excluded.name,
		series_id = excluded.series_id
	where
		category is not excluded.category or
		name is not excluded.name or
		series_id is not excluded.series_id`

const upsertTorrentEntrySQL = `insert into torrent_entry
	(id, codec, container, group_id, info_hash, origin, release_name,
	 resolution, size, source, time, snatched, seeders, leechers, deleted)
	values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	on conflict (id) do update set
		codec = excluded.codec,
		container = excluded.container,
		group_id = excluded.group_id,
		info_hash = excluded.info_hash,
		origin = excluded.origin,
		release_name = excluded.release_name,
		resolution = excluded.resolution,
		size = excluded.size,
		source = excluded.source,
		time = excluded.time,
		snatched = excluded.snatched,
		seeders = excluded.seeders,
		leechers = excluded.leechers
	where
		codec is not excluded.codec or
		container is not excluded.container or
		group_id is not excluded.group_id or
		info_hash is not excluded.info_hash or
		origin is not excluded.origin or
		release_name is not excluded.release_name or
		resolution is not excluded.resolution or
		size is not excluded.size or
		source is not excluded.source or
		time is not excluded.time or
		snatched is not excluded.snatched or
		seeders is not excluded.seeders or
		leechers is not excluded.leechers`

// EntityUpsert derives and upserts the Series, Group, and TorrentEntry
// rows implied by a set of API torrent-entry records. Parents are
// written before children so foreign-key references never dangle.
type EntityUpsert struct {
	series   map[int64]seriesRow
	groups   map[int64]groupRow
	torrents map[int64]torrentEntryRow
	order    []int64 // torrent entry ids, in the order first seen
}

// NewEntityUpsert parses entries into rows. Later entries for the same
// id overwrite earlier ones, matching the tracker's own "last write
// wins within a page" semantics.
func NewEntityUpsert(entries ...tracker.TorrentEntry) (*EntityUpsert, error) {
	u := &EntityUpsert{
		series:   make(map[int64]seriesRow),
		groups:   make(map[int64]groupRow),
		torrents: make(map[int64]torrentEntryRow),
	}
	for _, entry := range entries {
		series, group, te, err := entryToRows(entry)
		if err != nil {
			return nil, err
		}
		u.series[series.ID] = series
		u.groups[group.ID] = group
		if _, seen := u.torrents[te.ID]; !seen {
			u.order = append(u.order, te.ID)
		}
		u.torrents[te.ID] = te
	}
	return u, nil
}

// Apply performs the upserts inside tx; the caller commits or rolls
// back.
func (u *EntityUpsert) Apply(tx *sql.Tx) error {
	for _, row := range u.series {
		if _, err := tx.Exec(upsertSeriesSQL,
			row.ID, row.ImdbID, row.Name, row.Banner, row.Poster,
			row.TvdbID, row.TvrageID, row.YoutubeTrailer,
		); err != nil {
			return fmt.Errorf("dbops: upsert series %d: %w", row.ID, err)
		}
	}
	for _, row := range u.groups {
		if _, err := tx.Exec(upsertGroupSQL, row.ID, row.Category, row.Name, row.SeriesID); err != nil {
			return fmt.Errorf("dbops: upsert group %d: %w", row.ID, err)
		}
	}
	for _, id := range u.order {
		row := u.torrents[id]
		if _, err := tx.Exec(upsertTorrentEntrySQL,
			row.ID, row.Codec, row.Container, row.GroupID, row.InfoHash,
			row.Origin, row.ReleaseName, row.Resolution, row.Size, row.Source,
			row.Time, row.Snatched, row.Seeders, row.Leechers,
		); err != nil {
			return fmt.Errorf("dbops: upsert torrent_entry %d: %w", row.ID, err)
		}
	}
	return nil
}

// TorrentEntryIDs returns the torrent entry ids touched by this
// upsert, in first-seen order; UnfilteredSweepApply uses it to compute
// the slice's time/id extremes.
func (u *EntityUpsert) TorrentEntryIDs() []int64 {
	return u.order
}

func (u *EntityUpsert) torrentEntry(id int64) torrentEntryRow {
	return u.torrents[id]
}
