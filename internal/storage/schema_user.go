package storage

const userApplicationID int32 = 1194369890

var userMigrations = []Migration{
	{
		Version: 1,
		Statements: []string{
			`create table snatchlist (
				id integer primary key,
				downloaded integer,
				uploaded integer,
				seed_time integer,
				seeding tinyint,
				snatch_time integer,
				hnr_removed tinyint not null default 0
			)`,
		},
	},
}
