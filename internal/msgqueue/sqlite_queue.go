package msgqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteQueue is a persistent delivery queue backed by SQLite.
// It uses simple FIFO semantics based on an auto-incrementing id, with
// polling for availability; good enough for single-process deployments
// that want inbound messages to survive a restart.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the deliveries table in the given DB and
// returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS deliveries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			payload BLOB NOT NULL,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL
		);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, d Delivery) error {
	payload, err := EncodeDelivery(d)
	if err != nil {
		return err
	}

	now := time.Now()
	enqueuedAt := now.UnixNano()
	notBefore := enqueuedAt
	if !d.NotBefore.IsZero() {
		notBefore = d.NotBefore.UnixNano()
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO deliveries (payload, enqueued_at, not_before)
		VALUES (?, ?, ?)`,
		payload, enqueuedAt, notBefore,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	// Reusable timer to avoid allocating one per idle poll.
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		d, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		tmr.Reset(q.pollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
}

// tryClaim removes and returns the oldest eligible delivery, or nil when
// the queue is empty. The SELECT and DELETE run in one transaction so two
// dispatchers never claim the same row.
func (q *SQLiteQueue) tryClaim(ctx context.Context) (*Delivery, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var seq int64
	var payload []byte
	err = tx.QueryRowContext(ctx, `
		SELECT seq, payload
		FROM deliveries
		WHERE not_before <= ?
		ORDER BY seq
		LIMIT 1`,
		time.Now().UnixNano(),
	).Scan(&seq, &payload)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM deliveries WHERE seq = ?`, seq); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return DecodeDelivery(payload)
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM deliveries`).Scan(&n); err != nil {
		return 0
	}
	return n
}
