package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func TestBreakerMetricsTransitions(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()
	resilience.BreakerRejectedTotal.Reset()

	breaker := resilience.NewBreaker(1, 0.5, 50*time.Millisecond).WithTarget("carrier:rates-api")
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	val := testutil.ToFloat64(resilience.BreakerState.WithLabelValues("carrier:rates-api"))
	require.Equal(t, 1.0, val)
	require.False(t, breaker.Allow(ctx))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerRejectedTotal.WithLabelValues("carrier:rates-api")))

	require.Eventually(t, func() bool {
		return breaker.Allow(ctx)
	}, 500*time.Millisecond, 5*time.Millisecond)

	val = testutil.ToFloat64(resilience.BreakerState.WithLabelValues("carrier:rates-api"))
	require.Equal(t, 2.0, val)

	breaker.Report(ctx, true)

	val = testutil.ToFloat64(resilience.BreakerState.WithLabelValues("carrier:rates-api"))
	require.Equal(t, 0.0, val)

	opened := testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("carrier:rates-api"))
	require.Equal(t, 1.0, opened)

	toOpen := testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("carrier:rates-api", "closed", "open"))
	require.Equal(t, 1.0, toOpen)

	toHalf := testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("carrier:rates-api", "open", "half_open"))
	require.Equal(t, 1.0, toHalf)

	toClosed := testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("carrier:rates-api", "half_open", "closed"))
	require.Equal(t, 1.0, toClosed)
}
