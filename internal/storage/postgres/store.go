// Package postgres implements the order store on PostgreSQL through pgx.
// Stock is decremented with a conditional UPDATE, orders are locked with
// SELECT ... FOR UPDATE and written with a version check.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
)

//go:embed schema.sql
var schema string

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type Store struct {
	db DB
}

var _ store.Store = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Order(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("order %s", id)
	}
	return o, err
}

func (s *Store) OrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = (SELECT order_id FROM order_idempotency WHERE idempotency_key=$1)`,
		key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("idempotency key %s", key)
	}
	return o, err
}

const expiryQuery = `SELECT id FROM orders
WHERE payment_method = 'bank_transfer'
  AND order_status IN ('PENDING', 'CREATED', 'PAYMENT_PENDING')
  AND verification_status <> 'pending'
  AND created_at < $1
ORDER BY created_at
LIMIT $2`

// ExpiryCandidates treats a non-positive limit as no limit; LIMIT NULL is
// LIMIT ALL in Postgres.
func (s *Store) ExpiryCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.OrderID, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.db.Query(ctx, expiryQuery, cutoff, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OrderID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.db.Ping(ctx)
}

// isUniqueViolation reports a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
