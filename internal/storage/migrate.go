package storage

import (
	"database/sql"
	"fmt"
)

// Migration is one version step's worth of DDL, applied inside a single
// transaction when the database's current user_version is below
// Version.
type Migration struct {
	Version    int
	Statements []string
}

// Migrate brings db's schema up to the highest version in migrations,
// stamping applicationID into PRAGMA application_id on a fresh database
// and refusing to touch one stamped with a different, nonzero
// application_id (a mismatched major version is a configuration error,
// not something to silently migrate past).
func Migrate(db *sql.DB, applicationID int32, migrations []Migration) error {
	var gotAppID int
	if err := db.QueryRow("PRAGMA application_id").Scan(&gotAppID); err != nil {
		return fmt.Errorf("storage: read application_id: %w", err)
	}
	if gotAppID != 0 && int32(gotAppID) != applicationID {
		return fmt.Errorf("storage: database has application_id %d, want %d", gotAppID, applicationID)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("storage: read user_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("storage: begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range m.Statements {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("storage: migration %d: %w", m.Version, err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: migration %d: set user_version: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage: commit migration %d: %w", m.Version, err)
		}
		version = m.Version
	}

	if gotAppID == 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA application_id = %d", applicationID)); err != nil {
			return fmt.Errorf("storage: set application_id: %w", err)
		}
	}
	return nil
}
