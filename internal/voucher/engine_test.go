package voucher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

func bps(v int32) *int32 { return &v }

func TestRuleAmount(t *testing.T) {
	cases := []struct {
		name     string
		rule     Rule
		eligible pricing.Money
		want     pricing.Money
	}{
		{"percent", Rule{Kind: KindPercent, PercentBps: bps(2000)}, 100_000, 20_000},
		{"percent rounds down", Rule{Kind: KindPercent, PercentBps: bps(1000)}, 999, 99},
		{"percent capped", Rule{Kind: KindPercent, PercentBps: bps(5000), MaxDiscount: 1_000}, 100_000, 1_000},
		{"percent without rate", Rule{Kind: KindPercent}, 100_000, 0},
		{"fixed bounded by eligible", Rule{Kind: KindFixed, Value: 5_000}, 3_000, 3_000},
		{"nothing eligible", Rule{Kind: KindFixed, Value: 5_000}, 0, 0},
		{"negative value", Rule{Kind: KindFixed, Value: -10}, 3_000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.rule.Amount(tc.eligible))
		})
	}
}

func TestRuleEligibleScope(t *testing.T) {
	items := []Item{
		{SKU: "sku-1", Subtotal: 50_000},
		{SKU: "SKU-2", Subtotal: 70_000},
		{SKU: "SKU-3", CategoryID: "shoes", Subtotal: 10_000},
		{SKU: "SKU-4", CategoryID: "shoes", Subtotal: 0},
	}
	require.Equal(t, pricing.Money(60_000), Rule{SKUs: []string{"SKU-1"}, CategoryIDs: []string{"shoes"}}.Eligible(items))
	require.Equal(t, pricing.Money(130_000), Rule{}.Eligible(items), "unscoped vouchers cover every line")
	require.Zero(t, Rule{CategoryIDs: []string{"bags"}}.Eligible(items))
}

func TestRuleCheck(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)
	zero := int32(0)
	two := int32(2)

	require.ErrorIs(t, Rule{ValidFrom: &later}.Check(now, 0), ErrNotStarted)
	require.ErrorIs(t, Rule{ValidTo: &earlier}.Check(now, 0), ErrExpired)
	require.ErrorIs(t, Rule{UsageLimit: &two, UsedCount: 2}.Check(now, 0), ErrUsageExhausted)
	require.ErrorIs(t, Rule{UsageLimit: &zero}.Check(now, 0), ErrUsageExhausted)
	require.ErrorIs(t, Rule{CustomerLimit: 1, CustomerUsed: 1}.Check(now, 0), ErrCustomerLimit)
	require.ErrorIs(t, Rule{MinSpend: 10}.Check(now, 5), ErrBelowMinimumSpend)
	require.ErrorIs(t, Rule{ValidTo: &earlier, MinSpend: 10}.Check(now, 5), ErrExpired, "window is checked first")
	require.NoError(t, Rule{ValidFrom: &earlier, ValidTo: &later, UsageLimit: &two, UsedCount: 1, MinSpend: 5}.Check(now, 5))
}
