// Package store defines the persistence contracts of the order core.
// Implementations live under internal/storage.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/inventory"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
)

// ErrDuplicateIdempotencyKey is returned by Tx.SaveIdempotencyKey when another
// checkout already claimed the key.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

// Store is the Order Aggregate Store.
type Store interface {
	// InTx runs fn in one transaction. Any error from fn rolls back every
	// order write and stock mutation made through the Tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Order(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	OrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	// ExpiryCandidates lists bank-transfer orders created before cutoff that are
	// still awaiting payment and have no proof under review, oldest first. A
	// limit <= 0 means no limit.
	ExpiryCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.OrderID, error)
	Ping(ctx context.Context) error
}

// Tx is the transactional view handed to InTx callbacks. It doubles as the
// catalog accessor and the inventory counter so reads and stock mutations
// share the transaction.
type Tx interface {
	catalog.Accessor
	inventory.Counter

	CreateOrder(ctx context.Context, o *domain.Order) error
	// LockOrder loads an order and serializes it against other transactions
	// until this one ends.
	LockOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	// UpdateOrder replaces the document if its version is unchanged and bumps
	// o.Version. A stale version yields domain.ErrConcurrentUpdate.
	UpdateOrder(ctx context.Context, o *domain.Order) error
	SaveIdempotencyKey(ctx context.Context, key string, id domain.OrderID) error
}

// Sequencer hands out order numbers. Values are unique and strictly increasing
// across concurrent callers; gaps are allowed.
type Sequencer interface {
	Next(ctx context.Context) (int64, error)
}
