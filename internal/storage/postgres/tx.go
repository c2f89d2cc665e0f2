package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
)

const orderColumns = `id, order_number, user_id, customer, items, total_amount, payment_method, order_status,
payment_status, transaction_id, payment_proof_ref, verification_status, rejection_reason, verified_at, verified_by,
paid_at, stock_reduced, is_delivered, delivered_at, version, created_at, updated_at`

type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) Product(ctx context.Context, id domain.ProductID) (catalog.Product, error) {
	var p catalog.Product
	err := t.tx.QueryRow(ctx, `SELECT id, name, price, stock, is_active FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, domain.NotFoundf("product %s", id)
	}
	return p, err
}

func (t *pgTx) TryDecrement(ctx context.Context, id domain.ProductID, qty int) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2`,
		id, qty,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) Increment(ctx context.Context, id domain.ProductID, qty int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, id, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("product %s", id)
	}
	return nil
}

func (t *pgTx) Stock(ctx context.Context, id domain.ProductID) (int, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, id).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.NotFoundf("product %s", id)
	}
	return stock, err
}

func (t *pgTx) CreateOrder(ctx context.Context, o *domain.Order) error {
	customer, items, err := marshalDocs(o)
	if err != nil {
		return err
	}
	if o.Version == 0 {
		o.Version = 1
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO orders(`+orderColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		o.ID, o.OrderNumber, o.UserID, customer, items, o.TotalAmount,
		string(o.PaymentMethod), string(o.OrderStatus), string(o.PaymentStatus),
		o.TransactionID, o.PaymentProofRef, string(o.VerificationStatus), o.RejectionReason,
		o.VerifiedAt, o.VerifiedBy, o.PaidAt, o.StockReduced, o.IsDelivered, o.DeliveredAt,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s (number %d) already exists: %w", o.ID, o.OrderNumber, err)
		}
		return err
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("order %s", id)
	}
	return o, err
}

const updateOrderSQL = `UPDATE orders SET
    order_status = $3, payment_status = $4, transaction_id = $5, payment_proof_ref = $6,
    verification_status = $7, rejection_reason = $8, verified_at = $9, verified_by = $10, paid_at = $11,
    stock_reduced = $12, is_delivered = $13, delivered_at = $14, updated_at = $15, version = version + 1
WHERE id = $1 AND version = $2`

func (t *pgTx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	tag, err := t.tx.Exec(ctx, updateOrderSQL,
		o.ID, o.Version,
		string(o.OrderStatus), string(o.PaymentStatus), o.TransactionID, o.PaymentProofRef,
		string(o.VerificationStatus), o.RejectionReason, o.VerifiedAt, o.VerifiedBy, o.PaidAt,
		o.StockReduced, o.IsDelivered, o.DeliveredAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s at version %d: %w", o.ID, o.Version, domain.ErrConcurrentUpdate)
	}
	o.Version++
	return nil
}

func (t *pgTx) SaveIdempotencyKey(ctx context.Context, key string, id domain.OrderID) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO order_idempotency(idempotency_key, order_id) VALUES($1, $2)`, key, id)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateIdempotencyKey
		}
		return err
	}
	return nil
}

func marshalDocs(o *domain.Order) ([]byte, []byte, error) {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return nil, nil, fmt.Errorf("encode customer: %w", err)
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("encode items: %w", err)
	}
	return customer, items, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                                     domain.Order
		customer, items                       []byte
		method, status, payment, verification string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &customer, &items, &o.TotalAmount, &method, &status,
		&payment, &o.TransactionID, &o.PaymentProofRef, &verification, &o.RejectionReason, &o.VerifiedAt, &o.VerifiedBy,
		&o.PaidAt, &o.StockReduced, &o.IsDelivered, &o.DeliveredAt, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer of %s: %w", o.ID, err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", o.ID, err)
	}
	o.PaymentMethod = domain.PaymentMethod(method)
	o.OrderStatus = domain.Status(status)
	o.PaymentStatus = domain.PaymentStatus(payment)
	o.VerificationStatus = domain.VerificationStatus(verification)
	return &o, nil
}
