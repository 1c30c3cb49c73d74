package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

// Ledger stores orders' payment transactions.
type Ledger struct {
	db DB
}

// NewLedger constructs a Ledger repository.
func NewLedger(db DB) *Ledger {
	return &Ledger{db: db}
}

var _ payment.Repository = (*Ledger)(nil)

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Order loads the ledger projection of an order.
func (l *Ledger) Order(ctx context.Context, orderID string) (payment.Order, error) {
	if l == nil || l.db == nil {
		return payment.Order{}, ErrUnavailable
	}
	return scanOrder(ctx, l.db, `SELECT id, store_id, currency, total FROM orders WHERE id = $1`, orderID)
}

// Transactions lists the order's transactions oldest first.
func (l *Ledger) Transactions(ctx context.Context, orderID string) ([]payment.Transaction, error) {
	if l == nil || l.db == nil {
		return nil, ErrUnavailable
	}
	return listTransactions(ctx, l.db, orderID)
}

// WithOrderLock runs fn inside a transaction holding a row lock on the order.
// Appends made through the LockedOrder commit only when fn succeeds.
func (l *Ledger) WithOrderLock(ctx context.Context, orderID string, fn func(context.Context, payment.LockedOrder) error) error {
	if l == nil || l.db == nil {
		return ErrUnavailable
	}
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := scanOrder(ctx, tx, `SELECT id, store_id, currency, total FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	if err != nil {
		return err
	}
	if err := fn(ctx, &lockedOrder{tx: tx, order: order}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type lockedOrder struct {
	tx    pgx.Tx
	order payment.Order
}

func (o *lockedOrder) Order() payment.Order { return o.order }

func (o *lockedOrder) Transactions(ctx context.Context) ([]payment.Transaction, error) {
	return listTransactions(ctx, o.tx, o.order.ID)
}

func (o *lockedOrder) Append(ctx context.Context, t payment.Transaction) error {
	_, err := o.tx.Exec(ctx, `INSERT INTO payment_transactions
(id, order_id, store_id, parent_id, type, amount, currency, status, created_at)
VALUES ($1, $2, $3, $4::text::uuid, $5, $6, $7, $8, $9)`,
		t.ID, t.OrderID, t.StoreID, optionalText(t.ParentID), string(t.Type), t.Amount, t.Currency, string(t.Status), t.CreatedAt)
	return err
}

func scanOrder(ctx context.Context, db queryRower, query, orderID string) (payment.Order, error) {
	var o payment.Order
	err := db.QueryRow(ctx, query, orderID).Scan(&o.ID, &o.StoreID, &o.Currency, &o.Total)
	if err != nil {
		if isNoRows(err) {
			return payment.Order{}, fmt.Errorf("order %s: %w", orderID, common.ErrNotFound)
		}
		return payment.Order{}, err
	}
	return o, nil
}

func listTransactions(ctx context.Context, db querier, orderID string) ([]payment.Transaction, error) {
	rows, err := db.Query(ctx, `SELECT id::text, order_id, store_id, parent_id::text, type, amount, currency, status, created_at
FROM payment_transactions WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []payment.Transaction
	for rows.Next() {
		var (
			t      payment.Transaction
			parent pgtype.Text
			typ    string
			status string
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.StoreID, &parent, &typ, &t.Amount, &t.Currency, &status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.ParentID = parent.String
		t.Type = payment.TxType(typ)
		t.Status = payment.TxStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

// optionalText maps an empty string to SQL NULL.
func optionalText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
