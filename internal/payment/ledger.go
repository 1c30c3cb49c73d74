package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// TxType enumerates the payment lifecycle events recorded on an order.
type TxType string

const (
	TypeAuthorize TxType = "AUTHORIZE"
	TypeCapture   TxType = "CAPTURE"
	TypeRefund    TxType = "REFUND"
)

// TxStatus is the outcome recorded with a transaction.
type TxStatus string

// StatusSuccess marks a transaction accepted by the ledger.
const StatusSuccess TxStatus = "SUCCESS"

// Transaction is an append-only ledger entry. Captures reference the authorization
// they draw from and refunds the capture they return.
type Transaction struct {
	ID        string        `json:"id"`
	OrderID   string        `json:"orderId"`
	StoreID   string        `json:"storeId"`
	ParentID  string        `json:"parentId,omitempty"`
	Type      TxType        `json:"type"`
	Amount    pricing.Money `json:"amount"`
	Currency  string        `json:"currency"`
	Status    TxStatus      `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Order is the projection of an order the ledger needs.
type Order struct {
	ID       string
	StoreID  string
	Currency string
	Total    pricing.Money
}

// LockedOrder is an order held exclusively for the duration of a ledger write.
type LockedOrder interface {
	Order() Order
	Transactions(ctx context.Context) ([]Transaction, error)
	Append(ctx context.Context, tx Transaction) error
}

// Repository loads orders and their transaction history. Transactions are returned
// oldest first. Missing orders are reported with an error wrapping common.ErrNotFound.
type Repository interface {
	Order(ctx context.Context, orderID string) (Order, error)
	Transactions(ctx context.Context, orderID string) ([]Transaction, error)
	// WithOrderLock runs fn while no other ledger write can touch the order. The
	// history read through LockedOrder reflects every committed write.
	WithOrderLock(ctx context.Context, orderID string, fn func(ctx context.Context, locked LockedOrder) error) error
}

// Request describes an authorize, capture or refund call.
type Request struct {
	StoreID  string
	OrderID  string
	Amount   pricing.Money
	Currency string
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Ledger validates and records payment lifecycle events against orders.
type Ledger struct {
	Repo Repository
	// Events receives one event per committed transaction. Emission failures are logged only.
	Events Emitter
	Now    func() time.Time
	NewID  func() string
}

// CapturableTransaction returns the most recent authorization not yet fully captured, or nil.
func (l *Ledger) CapturableTransaction(ctx context.Context, storeID, orderID string) (*Transaction, error) {
	history, err := l.history(ctx, storeID, orderID)
	if err != nil {
		return nil, err
	}
	tx, _ := capturable(history)
	return tx, nil
}

// RefundableTransaction returns the most recent capture not yet fully refunded, or nil.
func (l *Ledger) RefundableTransaction(ctx context.Context, storeID, orderID string) (*Transaction, error) {
	history, err := l.history(ctx, storeID, orderID)
	if err != nil {
		return nil, err
	}
	tx, _ := refundable(history)
	return tx, nil
}

// LastTransaction returns the newest transaction of the order, or nil when there is none.
// Orders of another store are rejected with common.ErrStoreMismatch.
func (l *Ledger) LastTransaction(ctx context.Context, storeID, orderID string) (*Transaction, error) {
	history, err := l.history(ctx, storeID, orderID)
	if err != nil {
		return nil, err
	}
	var last *Transaction
	for i := range history {
		if last == nil || !history[i].CreatedAt.Before(last.CreatedAt) {
			last = &history[i]
		}
	}
	if last == nil {
		return nil, nil
	}
	out := *last
	return &out, nil
}

// Authorize records an authorization. The authorized total may not exceed the order total.
func (l *Ledger) Authorize(ctx context.Context, req Request) (Transaction, error) {
	return l.record(ctx, TypeAuthorize, req, func(order Order, history []Transaction) (string, error) {
		if order.Total <= 0 {
			return "", nil
		}
		authorized := sumOf(history, TypeAuthorize)
		if authorized+req.Amount > order.Total {
			return "", conflict("authorization exceeds order total", req, map[string]any{
				"authorized": authorized,
				"orderTotal": order.Total,
			})
		}
		return "", nil
	})
}

// Capture draws amount from the capturable authorization.
func (l *Ledger) Capture(ctx context.Context, req Request) (Transaction, error) {
	return l.record(ctx, TypeCapture, req, func(_ Order, history []Transaction) (string, error) {
		auth, remaining := capturable(history)
		if auth == nil {
			return "", conflict("order has no capturable authorization", req, nil)
		}
		if req.Amount > remaining {
			return "", conflict("capture exceeds capturable amount", req, map[string]any{
				"authorizationId": auth.ID,
				"capturable":      remaining,
			})
		}
		return auth.ID, nil
	})
}

// Refund returns amount from the refundable capture.
func (l *Ledger) Refund(ctx context.Context, req Request) (Transaction, error) {
	return l.record(ctx, TypeRefund, req, func(_ Order, history []Transaction) (string, error) {
		capture, remaining := refundable(history)
		if capture == nil {
			return "", conflict("order has no refundable capture", req, nil)
		}
		if req.Amount > remaining {
			return "", conflict("refund exceeds refundable amount", req, map[string]any{
				"captureId":  capture.ID,
				"refundable": remaining,
			})
		}
		return capture.ID, nil
	})
}

type checkFunc func(order Order, history []Transaction) (parentID string, err error)

func (l *Ledger) record(ctx context.Context, typ TxType, req Request, check checkFunc) (tx Transaction, err error) {
	ctx, span := otel.Tracer("payment.Ledger").Start(ctx, "Ledger."+titleCase(typ))
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("store.id", req.StoreID),
		attribute.Int64("payment.amount", req.Amount),
	)
	defer func() {
		result := outcome(err)
		span.SetAttributes(attribute.String("payment.ledger.result", result))
		if err != nil && result == "error" {
			span.RecordError(err)
		}
		if obs.LedgerOperationTotal != nil {
			obs.LedgerOperationTotal.WithLabelValues(string(typ), result).Inc()
		}
	}()

	if l == nil || l.Repo == nil {
		return Transaction{}, errors.New("payment ledger not configured")
	}
	if req.Amount <= 0 {
		return Transaction{}, common.Validation(nil, "amount must be positive").
			WithDetails(map[string]any{"orderId": req.OrderID, "amount": req.Amount})
	}

	err = l.Repo.WithOrderLock(ctx, req.OrderID, func(ctx context.Context, locked LockedOrder) error {
		order := locked.Order()
		if err := checkScope(order, req.StoreID); err != nil {
			return err
		}
		currency := strings.ToUpper(strings.TrimSpace(req.Currency))
		if currency == "" {
			currency = order.Currency
		}
		if !strings.EqualFold(currency, order.Currency) {
			return common.Validation(nil, "currency does not match order").
				WithDetails(map[string]any{"orderId": order.ID, "currency": currency, "orderCurrency": order.Currency})
		}
		history, err := locked.Transactions(ctx)
		if err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}
		parentID, err := check(order, history)
		if err != nil {
			return err
		}
		tx = Transaction{
			ID:        l.newID(),
			OrderID:   order.ID,
			StoreID:   order.StoreID,
			ParentID:  parentID,
			Type:      typ,
			Amount:    req.Amount,
			Currency:  order.Currency,
			Status:    StatusSuccess,
			CreatedAt: l.now(),
		}
		return locked.Append(ctx, tx)
	})
	if err != nil {
		if errors.Is(err, common.ErrNotFound) && !common.IsAppError(err) {
			err = common.NotFound("order not found").WithDetails(map[string]any{"orderId": req.OrderID})
		}
		return Transaction{}, err
	}
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("order_id", tx.OrderID).
		Str("transaction_id", tx.ID).
		Str("type", string(tx.Type)).
		Int64("amount", tx.Amount).
		Msg("ledger_transaction_recorded")
	if l.Events != nil {
		if _, emitErr := l.Events.Emit(ctx, topicFor(tx.Type), tx.OrderID, tx); emitErr != nil {
			logger.Warn().Err(emitErr).Str("transaction_id", tx.ID).Msg("ledger_event_emit_failed")
		}
	}
	return tx, nil
}

func topicFor(t TxType) string {
	switch t {
	case TypeCapture:
		return events.TopicPaymentCaptured
	case TypeRefund:
		return events.TopicPaymentRefunded
	default:
		return events.TopicPaymentAuthorized
	}
}

func (l *Ledger) history(ctx context.Context, storeID, orderID string) ([]Transaction, error) {
	if l == nil || l.Repo == nil {
		return nil, errors.New("payment ledger not configured")
	}
	order, err := l.Repo.Order(ctx, orderID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("order not found").WithDetails(map[string]any{"orderId": orderID})
		}
		return nil, err
	}
	if err := checkScope(order, storeID); err != nil {
		return nil, err
	}
	return l.Repo.Transactions(ctx, orderID)
}

func checkScope(order Order, storeID string) error {
	if order.StoreID != storeID {
		return common.StoreMismatch("order belongs to another store").
			WithDetails(map[string]any{"orderId": order.ID, "storeId": storeID})
	}
	return nil
}

// capturable finds the newest authorization with an uncaptured remainder.
func capturable(history []Transaction) (*Transaction, pricing.Money) {
	return openParent(history, TypeAuthorize, TypeCapture)
}

// refundable finds the newest capture with an unrefunded remainder.
func refundable(history []Transaction) (*Transaction, pricing.Money) {
	return openParent(history, TypeCapture, TypeRefund)
}

func openParent(history []Transaction, parent, child TxType) (*Transaction, pricing.Money) {
	drawn := make(map[string]pricing.Money)
	for _, tx := range history {
		if tx.Type == child && tx.Status == StatusSuccess {
			drawn[tx.ParentID] += tx.Amount
		}
	}
	for i := len(history) - 1; i >= 0; i-- {
		tx := history[i]
		if tx.Type != parent || tx.Status != StatusSuccess {
			continue
		}
		if remaining := tx.Amount - drawn[tx.ID]; remaining > 0 {
			out := tx
			return &out, remaining
		}
	}
	return nil, 0
}

func sumOf(history []Transaction, typ TxType) pricing.Money {
	var total pricing.Money
	for _, tx := range history {
		if tx.Type == typ && tx.Status == StatusSuccess {
			total += tx.Amount
		}
	}
	return total
}

func conflict(message string, req Request, extra map[string]any) error {
	details := map[string]any{"orderId": req.OrderID, "amount": req.Amount}
	for k, v := range extra {
		details[k] = v
	}
	return common.TransactionStateConflict(message).WithDetails(details)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, common.ErrTransactionStateConflict):
		return "conflict"
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrStoreMismatch), errors.Is(err, common.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}

func titleCase(t TxType) string {
	s := strings.ToLower(string(t))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l *Ledger) newID() string {
	if l.NewID != nil {
		return l.NewID()
	}
	return uuid.NewString()
}
