package storage

import (
	"database/sql"
	"fmt"
)

const (
	DefaultIngestPerMin        = 30
	DefaultMaxStreamsPerClient = 4
)

// Limits throttle error ingestion and live log connections per client.
type Limits struct {
	IngestPerMin        int
	MaxStreamsPerClient int
}

type LimitsRepo interface {
	Get() (*Limits, error)
}

type SQLiteLimitsRepo struct {
	db *sql.DB
}

func SeedLimits(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO limits (id, ingest_per_min, max_streams_per_client)
		VALUES (1, ?, ?)
	`, DefaultIngestPerMin, DefaultMaxStreamsPerClient)
	if err != nil {
		return fmt.Errorf("seed limits: %w", err)
	}
	return nil
}

func NewSQLiteLimitsRepo(db *sql.DB) *SQLiteLimitsRepo {
	return &SQLiteLimitsRepo{db: db}
}

func (r *SQLiteLimitsRepo) Get() (*Limits, error) {
	row := r.db.QueryRow("SELECT ingest_per_min, max_streams_per_client FROM limits WHERE id = 1")
	limits := &Limits{}
	err := row.Scan(&limits.IngestPerMin, &limits.MaxStreamsPerClient)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("limits not seeded")
	}
	if err != nil {
		return nil, fmt.Errorf("scan limits: %w", err)
	}
	return limits, nil
}

func (r *SQLiteLimitsRepo) Update(limits Limits) error {
	if limits.IngestPerMin <= 0 || limits.MaxStreamsPerClient <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	_, err := r.db.Exec(
		"UPDATE limits SET ingest_per_min = ?, max_streams_per_client = ? WHERE id = 1",
		limits.IngestPerMin, limits.MaxStreamsPerClient,
	)
	if err != nil {
		return fmt.Errorf("update limits: %w", err)
	}
	return nil
}
