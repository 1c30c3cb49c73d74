package voucher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Source loads store vouchers and customer usage. Unknown codes yield an error
// wrapping common.ErrNotFound.
type Source interface {
	VoucherByCode(ctx context.Context, storeID, code string) (Rule, error)
	CountUsageByCustomer(ctx context.Context, voucherID, customerID string) (int64, error)
}

// Outcome lists the applied discounts and a warning per voucher that was not applied.
type Outcome struct {
	Discounts []pricing.Discount
	Warnings  []string
}

// Service evaluates cart voucher codes. It never records usage.
type Service struct {
	Source Source
	Now    func() time.Time
	// DefaultPerUserLimit applies to vouchers without their own per-customer limit.
	DefaultPerUserLimit int
}

// Evaluate applies the codes highest priority first. Once a voucher is applied,
// later vouchers are only applied if both are combinable. Discounts never exceed
// the cart subtotal in total.
func (s *Service) Evaluate(ctx context.Context, storeID string, codes []string, customer *pricing.Customer, lines []pricing.PricedLine) (Outcome, error) {
	var out Outcome
	if len(codes) == 0 {
		return out, nil
	}
	if s == nil || s.Source == nil {
		return out, errors.New("voucher service not configured")
	}

	rules, unknown, err := s.load(ctx, storeID, codes, customer)
	if err != nil {
		return Outcome{}, err
	}
	for _, code := range unknown {
		out.Warnings = append(out.Warnings, warning(code, ErrUnknownCode))
	}

	items := make([]Item, 0, len(lines))
	var subtotal pricing.Money
	for _, l := range lines {
		items = append(items, Item{SKU: l.Item.SKU, CategoryID: l.Item.CategoryID, Subtotal: l.Subtotal})
		subtotal += l.Subtotal
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	remaining := subtotal
	exclusive := false
	for _, rule := range rules {
		if len(out.Discounts) > 0 && (exclusive || !rule.Combinable) {
			out.Warnings = append(out.Warnings, warning(rule.Code, ErrNotCombinable))
			continue
		}
		if err := rule.Check(now, subtotal); err != nil {
			out.Warnings = append(out.Warnings, warning(rule.Code, err))
			continue
		}
		amount := rule.Amount(rule.Eligible(items))
		if amount <= 0 {
			out.Warnings = append(out.Warnings, warning(rule.Code, ErrNotApplicable))
			continue
		}
		if remaining <= 0 {
			out.Warnings = append(out.Warnings, warning(rule.Code, ErrFullyDiscounted))
			continue
		}
		amount = min(amount, remaining)
		remaining -= amount
		exclusive = !rule.Combinable
		out.Discounts = append(out.Discounts, pricing.Discount{Code: rule.Code, Title: rule.Title, Amount: amount})
		zerolog.Ctx(ctx).Debug().Str("voucher", rule.Code).Int64("discount", amount).Msg("voucher_applied")
	}
	return out, nil
}

// load resolves the distinct codes, sorted by descending priority. Codes the
// store does not know are returned separately.
func (s *Service) load(ctx context.Context, storeID string, codes []string, customer *pricing.Customer) ([]Rule, []string, error) {
	var (
		rules   []Rule
		unknown []string
		seen    = make(map[string]bool, len(codes))
	)
	for _, raw := range codes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true

		rule, err := s.Source.VoucherByCode(ctx, storeID, code)
		if errors.Is(err, common.ErrNotFound) {
			unknown = append(unknown, code)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load voucher %s: %w", code, err)
		}
		if err := s.customerUsage(ctx, &rule, customer); err != nil {
			return nil, nil, err
		}
		rules = append(rules, rule)
	}
	slices.SortStableFunc(rules, func(a, b Rule) int { return b.Priority - a.Priority })
	return rules, unknown, nil
}

func (s *Service) customerUsage(ctx context.Context, rule *Rule, customer *pricing.Customer) error {
	limit := int32(s.DefaultPerUserLimit)
	if rule.PerUserLimit != nil {
		limit = *rule.PerUserLimit
	}
	if limit <= 0 {
		return nil
	}
	rule.CustomerLimit = limit
	if customer == nil || customer.ID == "" {
		return nil
	}
	used, err := s.Source.CountUsageByCustomer(ctx, rule.ID, customer.ID)
	if err != nil {
		return fmt.Errorf("count usage of voucher %s: %w", rule.Code, err)
	}
	rule.CustomerUsed = int32(used)
	return nil
}

func warning(code string, reason error) string {
	return fmt.Sprintf("voucher %s: %v", code, reason)
}
