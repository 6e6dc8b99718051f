package lock_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-laundry/internal/lock"
)

type withLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

func assertSerialized(t *testing.T, locker withLocker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, "lock:order:demo", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstDone

	go func() {
		err := locker.WithLock(ctx, "lock:order:demo", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"first"}, order)
	mu.Unlock()
	close(releaseFirst)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestWithLockSerializesTransitions(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	assertSerialized(t, lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond})
}

func TestKeyedSerializesTransitions(t *testing.T) {
	assertSerialized(t, &lock.Keyed{})
}

func TestKeyedIndependentKeys(t *testing.T) {
	k := &lock.Keyed{}
	ctx := context.Background()
	err := k.WithLock(ctx, "lock:order:a", 0, func(ctx context.Context) error {
		return k.WithLock(ctx, "lock:order:b", 0, func(context.Context) error { return nil })
	})
	require.NoError(t, err)
}

func TestKeyedHonoursContext(t *testing.T) {
	k := &lock.Keyed{}
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = k.WithLock(context.Background(), "lock:order:x", 0, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := k.WithLock(ctx, "lock:order:x", 0, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedDropsIdleKeys(t *testing.T) {
	k := &lock.Keyed{}
	ctx := context.Background()
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = k.WithLock(ctx, "lock:order:held", 0, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("lock:order:%d", i%5)
			require.NoError(t, k.WithLock(ctx, key, 0, func(context.Context) error { return nil }))
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, k.Len())

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, k.WithLock(short, "lock:order:held", 0, func(context.Context) error { return nil }), context.DeadlineExceeded)
	require.Equal(t, 1, k.Len())

	close(release)
	<-done
	require.Zero(t, k.Len())
}

func TestLockerRequiresClient(t *testing.T) {
	err := lock.Locker{}.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestLockerRenewsLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	err := locker.WithLock(context.Background(), "lock:order:slow", 60*time.Millisecond, func(context.Context) error {
		time.Sleep(150 * time.Millisecond)
		require.True(t, mr.Exists("lock:order:slow"), "lease should still be held")
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists("lock:order:slow"))
}

func TestLockerReportsLostLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client}
	err := locker.WithLock(context.Background(), "lock:order:stolen", 30*time.Millisecond, func(context.Context) error {
		mr.Set("lock:order:stolen", "someone-else")
		time.Sleep(60 * time.Millisecond)
		return nil
	})
	require.ErrorIs(t, err, lock.ErrLockLost)
	got, _ := mr.Get("lock:order:stolen")
	require.Equal(t, "someone-else", got)
}
