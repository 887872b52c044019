// Package storage opens and migrates the cache directory's three
// SQLite databases (metadata.db, user.db, info.db) and loads the
// tracker session credentials alongside them.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker/site"
)

// Storage resolves the well-known file names inside a cache directory.
type Storage struct {
	Dir string
}

// New returns a Storage rooted at dir. It does not create dir; callers
// that expect a fresh cache directory should os.MkdirAll it first.
func New(dir string) *Storage {
	return &Storage{Dir: dir}
}

func (s *Storage) MetadataDBPath() string { return filepath.Join(s.Dir, "metadata.db") }
func (s *Storage) UserDBPath() string     { return filepath.Join(s.Dir, "user.db") }
func (s *Storage) InfoDBPath() string     { return filepath.Join(s.Dir, "info.db") }
func (s *Storage) AuthFilePath() string   { return filepath.Join(s.Dir, "auth.json") }

// OpenMetadataDB opens (creating and migrating if necessary) the
// torrent-catalog database.
func (s *Storage) OpenMetadataDB() (*sql.DB, error) {
	return open(s.MetadataDBPath(), metadataApplicationID, metadataMigrations)
}

// OpenUserDB opens the snatchlist database.
func (s *Storage) OpenUserDB() (*sql.DB, error) {
	return open(s.UserDBPath(), userApplicationID, userMigrations)
}

// OpenInfoDB opens the torrent-metafile cache, keyed by torrent entry
// id. None of the scrapers in this module read or write it.
func (s *Storage) OpenInfoDB() (*sql.DB, error) {
	return open(s.InfoDBPath(), infoApplicationID, infoMigrations)
}

// LoadUserAuth reads the session credentials used by the site client
// (internal/tracker/site) from auth.json in the cache directory.
func (s *Storage) LoadUserAuth() (site.UserAuth, error) {
	data, err := os.ReadFile(s.AuthFilePath())
	if err != nil {
		return site.UserAuth{}, fmt.Errorf("storage: read auth file: %w", err)
	}
	var auth site.UserAuth
	if err := json.Unmarshal(data, &auth); err != nil {
		return site.UserAuth{}, fmt.Errorf("storage: parse auth file: %w", err)
	}
	return auth, nil
}

func open(path string, applicationID int32, migrations []Migration) (*sql.DB, error) {
	// _txlock=immediate makes every transaction acquire SQLite's write
	// lock at BEGIN rather than lazily on the first write statement, so a
	// writer never discovers mid-transaction that it lost a race for the
	// lock to a concurrent reader.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// WAL plus a single writer connection sidesteps SQLITE_BUSY between
	// our own goroutines; database/sql's pool would otherwise hand out
	// concurrent connections that serialize against each other anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA trusted_schema = OFF",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: %s: %s: %w", path, pragma, err)
		}
	}

	if err := Migrate(db, applicationID, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
