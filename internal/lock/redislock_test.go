package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockSerialisesHolders(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- locker.WithLock(ctx, "quotes:purge", time.Second, func(context.Context) error {
			record("first")
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()
	<-firstDone
	go func() {
		errs <- locker.WithLock(ctx, "quotes:purge", time.Second, func(context.Context) error {
			record("second")
			return nil
		})
	}()
	close(releaseFirst)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestTryWithLockSkipsWhenHeld(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	err := locker.TryWithLock(ctx, "quotes:purge", time.Minute, func(ctx context.Context) error {
		nested := locker.TryWithLock(ctx, "quotes:purge", time.Minute, func(context.Context) error {
			t.Error("nested holder must not run")
			return nil
		})
		require.ErrorIs(t, nested, lock.ErrHeld)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists("quotes:purge"), "released after fn returns")

	boom := errors.New("boom")
	err = locker.TryWithLock(ctx, "quotes:purge", time.Minute, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("quotes:purge"))
}
