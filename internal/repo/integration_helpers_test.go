package repo_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/repo"
)

// openTestDB connects to TEST_DATABASE_URL, applies migrations and truncates the
// checkout tables. Tests are skipped when no database is reachable.
func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, repo.Migrate(dsn))
	_, err = pool.Exec(ctx, `TRUNCATE domain_events, payment_transactions, shipping_quotes, orders, voucher_usages, vouchers,
tax_rules, prices, store_carriers, package_types, zones, countries, stores CASCADE`)
	require.NoError(t, err)
	return pool
}

func seedStore(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`INSERT INTO countries (code, name) VALUES ('US', 'United States'), ('DE', 'Germany')`,
		`INSERT INTO zones (country_code, code, name) VALUES ('US', 'CA', 'California'), ('US', 'NY', 'New York')`,
		`INSERT INTO stores (id, code, name, currency_code, country_code, zone_code, tax_on_shipping,
origin_country, origin_zone, origin_postal, quote_ttl_secs, total_order)
VALUES ('s1', 'main', 'Main Store', 'USD', 'US', 'CA', TRUE, 'US', 'CA', '94105', 900, '{"SUBTOTAL": 1, "SHIPPING": 2}')`,
		`INSERT INTO package_types (store_id, code, max_weight_grams, length_mm, width_mm, height_mm, handling_fee)
VALUES ('s1', 'LARGE', 20000, 600, 400, 400, 300), ('s1', 'SMALL', 5000, 300, 200, 150, 100)`,
		`INSERT INTO store_carriers (store_id, carrier, sort_order) VALUES ('s1', 'ups', 2), ('s1', 'flat', 1)`,
		`INSERT INTO orders (id, store_id, currency, total) VALUES ('o1', 's1', 'USD', 10000)`,
	}
	for _, stmt := range stmts {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
}
