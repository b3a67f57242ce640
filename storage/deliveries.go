package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// Delivery is the outcome of one incident mail attempt. The report itself
// is never stored.
type Delivery struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	Recipient   string `json:"recipient"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	AttemptedAt int64  `json:"attempted_at"`
	DurationMs  int64  `json:"duration_ms"`
}

type DeliveryRepo interface {
	Save(d *Delivery) error
	ListRecent(limit int) ([]*Delivery, error)
	Prune(olderThan time.Time) (int64, error)
}

type SQLiteDeliveryRepo struct {
	db *sql.DB
}

func NewSQLiteDeliveryRepo(db *sql.DB) *SQLiteDeliveryRepo {
	return &SQLiteDeliveryRepo{db: db}
}

func (r *SQLiteDeliveryRepo) Save(d *Delivery) error {
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	if d.AttemptedAt == 0 {
		d.AttemptedAt = time.Now().UnixMilli()
	}
	if d.Status == "" {
		d.Status = DeliverySent
	}

	_, err := r.db.Exec(`
		INSERT INTO deliveries (id, subject, recipient, status, error, attempted_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Subject, d.Recipient, d.Status, d.Error, d.AttemptedAt, d.DurationMs)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// RecordDelivery stores a mail attempt outcome; a nil sendErr means sent.
func (r *SQLiteDeliveryRepo) RecordDelivery(subject, recipient string, sendErr error, attemptedAt time.Time, duration time.Duration) error {
	d := &Delivery{
		Subject:     subject,
		Recipient:   recipient,
		Status:      DeliverySent,
		AttemptedAt: attemptedAt.UnixMilli(),
		DurationMs:  duration.Milliseconds(),
	}
	if sendErr != nil {
		d.Status = DeliveryFailed
		d.Error = sendErr.Error()
	}
	return r.Save(d)
}

func (r *SQLiteDeliveryRepo) ListRecent(limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, subject, recipient, status, error, attempted_at, duration_ms
		FROM deliveries ORDER BY attempted_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		d := &Delivery{}
		if err := rows.Scan(&d.ID, &d.Subject, &d.Recipient, &d.Status, &d.Error, &d.AttemptedAt, &d.DurationMs); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (r *SQLiteDeliveryRepo) Prune(olderThan time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM deliveries WHERE attempted_at < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return result.RowsAffected()
}
