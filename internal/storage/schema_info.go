package storage

const infoApplicationID int32 = 257675987

var infoMigrations = []Migration{
	{
		Version: 1,
		Statements: []string{
			`create table info (id integer primary key, info blob not null)`,
		},
	},
}
