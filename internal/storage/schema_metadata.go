package storage

// metadataApplicationID stamps metadata.db so a future schema revision
// can refuse to open a file from an incompatible earlier major version.
const metadataApplicationID int32 = -1353141288

var metadataMigrations = []Migration{
	{
		Version: 1,
		Statements: []string{
			`create table series (
				id integer primary key,
				imdb_id text,
				name text,
				banner text,
				poster text,
				tvdb_id integer,
				tvrage_id integer,
				youtube_trailer text,
				deleted tinyint not null default 0
			)`,
			`create table torrent_entry_group (
				id integer primary key,
				category text not null,
				name text,
				series_id integer not null references series (id),
				deleted tinyint not null default 0
			)`,
			`create index torrent_entry_group_series_id on torrent_entry_group (series_id)`,
			`create table torrent_entry (
				id integer primary key,
				codec text,
				container text,
				group_id integer not null references torrent_entry_group (id),
				info_hash text not null,
				origin text,
				release_name text,
				resolution text,
				size integer not null,
				source text,
				time integer not null,
				snatched integer not null default 0,
				seeders integer not null default 0,
				leechers integer not null default 0,
				deleted tinyint not null default 0
			)`,
			`create index torrent_entry_group_id on torrent_entry (group_id)`,
			`create index torrent_entry_time_id on torrent_entry (time desc, id desc)`,
			`create table file_info (
				id integer not null references torrent_entry (id),
				file_index integer not null,
				path blob not null,
				encoding text,
				start integer not null,
				stop integer not null,
				primary key (id, file_index)
			)`,
		},
	},
}
