package storage

import (
	"database/sql"

	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig controls where the Feed Store's SQLite database lives.
// An in-memory store (the zero value) is the common case for tests
// and short-lived tools; OnDisk persists a single gtfs.db under
// Directory so that a refreshed feed survives process restarts.
type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

// NewSQLiteStorage opens (creating if necessary) a SQLite-backed Feed
// Store holding every feed ever ingested into it.
func NewSQLiteStorage(cfg ...SQLiteConfig) (Storage, error) {
	onDisk := false
	directory := "."
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = directory + "/gtfs.db"
	}

	db, err := sql.Open("sqlite3", sourceName+"?_foreign_keys=off")
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}
	// A single *sql.DB backed by file-mode SQLite only tolerates one
	// writer at a time; ingestion already serializes writes inside
	// one transaction, so pin the pool to one connection rather than
	// let database/sql hand out concurrent ones that SQLITE_BUSY on
	// each other.
	db.SetMaxOpenConns(1)

	return openSQLStore(db, sqliteDialect)
}
