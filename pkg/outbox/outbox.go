// Package outbox parks events that could not reach the broker so a relay can
// publish them later.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is one parked event.
type Entry struct {
	ID        int64           `db:"id"`
	EventID   string          `db:"event_id"`
	Topic     string          `db:"topic"`
	Key       string          `db:"key"`
	Payload   json.RawMessage `db:"payload"`
	Attempts  int             `db:"attempts"`
	LastError string          `db:"last_error"`
	CreatedAt time.Time       `db:"created_at"`
}

// Park stores an event for later delivery. Parking the same event twice keeps
// the first row.
func Park(ctx context.Context, db DB, eventID, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO outbox (event_id, topic, key, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, topic, key, data)
	return err
}

// Pending returns up to limit undelivered entries, oldest first.
func Pending(ctx context.Context, db DB, limit int) ([]Entry, error) {
	rows, err := db.Query(ctx, `
		SELECT id, event_id, topic, key, payload, attempts, last_error, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Entry])
}

// Sent marks entries delivered.
func Sent(ctx context.Context, db DB, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`, ids)
	return err
}

// Failed records a delivery attempt that did not reach the broker.
func Failed(ctx context.Context, db DB, id int64, cause error) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, cause.Error())
	return err
}
