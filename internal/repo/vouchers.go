package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/voucher"
)

// Vouchers reads voucher rules and usage history.
type Vouchers struct {
	db DB
}

// NewVouchers constructs a Vouchers repository.
func NewVouchers(db DB) *Vouchers {
	return &Vouchers{db: db}
}

var _ voucher.Source = (*Vouchers)(nil)

// VoucherByCode loads a voucher of the store by its case-insensitive code.
func (v *Vouchers) VoucherByCode(ctx context.Context, storeID, code string) (voucher.Rule, error) {
	if v == nil || v.db == nil {
		return voucher.Rule{}, ErrUnavailable
	}
	var (
		r           voucher.Rule
		maxDiscount *int64
		validFrom   time.Time
		validTo     time.Time
	)
	err := v.db.QueryRow(ctx, `SELECT id, code, title, kind, value, percent_bps, max_discount, min_spend,
usage_limit, used_count, per_user_limit, valid_from, valid_to, skus, category_ids, combinable, priority
FROM vouchers WHERE store_id = $1 AND upper(code) = $2`, storeID, strings.ToUpper(strings.TrimSpace(code))).Scan(
		&r.ID, &r.Code, &r.Title, &r.Kind, &r.Value, &r.PercentBps, &maxDiscount, &r.MinSpend,
		&r.UsageLimit, &r.UsedCount, &r.PerUserLimit, &validFrom, &validTo, &r.SKUs, &r.CategoryIDs, &r.Combinable, &r.Priority,
	)
	if err != nil {
		if isNoRows(err) {
			return voucher.Rule{}, fmt.Errorf("voucher %s: %w", code, common.ErrNotFound)
		}
		return voucher.Rule{}, err
	}
	if maxDiscount != nil {
		r.MaxDiscount = *maxDiscount
	}
	r.ValidFrom = &validFrom
	r.ValidTo = &validTo
	return r, nil
}

// CountUsageByCustomer counts orders of the customer that consumed the voucher.
func (v *Vouchers) CountUsageByCustomer(ctx context.Context, voucherID, customerID string) (int64, error) {
	if v == nil || v.db == nil {
		return 0, ErrUnavailable
	}
	var n int64
	err := v.db.QueryRow(ctx, `SELECT COUNT(*) FROM voucher_usages WHERE voucher_id = $1 AND customer_id = $2`, voucherID, customerID).Scan(&n)
	return n, err
}
