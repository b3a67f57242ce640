package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
    id           TEXT PRIMARY KEY,
    subject      TEXT NOT NULL,
    recipient    TEXT NOT NULL,
    status       TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    attempted_at INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_attempted ON deliveries(attempted_at DESC);

CREATE TABLE IF NOT EXISTS limits (
    id                     INTEGER PRIMARY KEY CHECK (id = 1),
    ingest_per_min         INTEGER NOT NULL,
    max_streams_per_client INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS redact_rules (
    id         TEXT PRIMARY KEY,
    pattern    TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);
`

// OpenDB opens the database at path, creates the schema and seeds the
// default limits.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return initDB(db)
}

// OpenMemoryDB opens a private in-memory database. It is pinned to one
// connection since every sqlite connection to :memory: is a new database.
func OpenMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return initDB(db)
}

func initDB(db *sql.DB) (*sql.DB, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := SeedLimits(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
