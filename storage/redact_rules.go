package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

var defaultRedactPatterns = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"access_token",
	"refresh_token",
	"api_key",
	"apikey",
	"authorization",
	"cookie",
	"session",
	"sig",
	"signature",
}

// RedactRule names a route param or query key whose value never leaves the
// process in an incident report.
type RedactRule struct {
	ID        string `json:"id"`
	Pattern   string `json:"pattern"`
	CreatedAt int64  `json:"created_at"`
}

type RedactRuleRepo interface {
	GetAll() ([]*RedactRule, error)
	Create(pattern string) (*RedactRule, error)
	Delete(id string) error
	Seed() error
}

type SQLiteRedactRuleRepo struct {
	db *sql.DB
}

func NewSQLiteRedactRuleRepo(db *sql.DB) *SQLiteRedactRuleRepo {
	return &SQLiteRedactRuleRepo{db: db}
}

func (r *SQLiteRedactRuleRepo) GetAll() ([]*RedactRule, error) {
	rows, err := r.db.Query("SELECT id, pattern, created_at FROM redact_rules ORDER BY created_at ASC, pattern ASC")
	if err != nil {
		return nil, fmt.Errorf("query redact_rules: %w", err)
	}
	defer rows.Close()

	var rules []*RedactRule
	for rows.Next() {
		rule := &RedactRule{}
		if err := rows.Scan(&rule.ID, &rule.Pattern, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan redact_rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *SQLiteRedactRuleRepo) Create(pattern string) (*RedactRule, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	rule := &RedactRule{
		ID:        ulid.Make().String(),
		Pattern:   pattern,
		CreatedAt: time.Now().UnixMilli(),
	}

	_, err := r.db.Exec(
		"INSERT INTO redact_rules (id, pattern, created_at) VALUES (?, ?, ?)",
		rule.ID, rule.Pattern, rule.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert redact_rule: %w", err)
	}
	return rule, nil
}

func (r *SQLiteRedactRuleRepo) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM redact_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete redact_rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("redact rule not found")
	}
	return nil
}

func (r *SQLiteRedactRuleRepo) Seed() error {
	for _, pattern := range defaultRedactPatterns {
		_, err := r.db.Exec(
			"INSERT OR IGNORE INTO redact_rules (id, pattern, created_at) VALUES (?, ?, ?)",
			ulid.Make().String(), pattern, time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("seed redact_rule %s: %w", pattern, err)
		}
	}
	return nil
}
