package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nazeru/medstore-orders-go/pkg/contracts"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresRepository struct {
	db DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, e contracts.Event, recipient string) (bool, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return false, err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}

	fresh, err := record(ctx, tx, e, recipient, payload)
	if err != nil || !fresh {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return false, errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func record(ctx context.Context, tx pgx.Tx, e contracts.Event, recipient string, payload []byte) (bool, error) {
	tag, err := tx.Exec(ctx, `INSERT INTO inbox(event_id, received_at)
		VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`, e.EventID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `INSERT INTO notifications(event_id, order_id, type, recipient, payload)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.OrderID, e.Type, recipient, payload)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PostgresRepository) MarkMailed(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `UPDATE notifications SET mailed=TRUE WHERE event_id=$1`, eventID)
	return err
}
