package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-pricing/internal/lock"
)

type withLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

func newRedisLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func assertSerialised(t *testing.T, locker withLocker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var (
		order []string
		mu    sync.Mutex
		wg    sync.WaitGroup
	)
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := locker.WithLock(ctx, "cart:lock:u1", 100*time.Millisecond, func(context.Context) error {
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
		defer wg.Done()
		err := locker.WithLock(ctx, "cart:lock:u1", 100*time.Millisecond, func(context.Context) error {
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
	wg.Wait()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestRedisLockSerialisesSameKey(t *testing.T) {
	locker, _ := newRedisLocker(t)
	assertSerialised(t, locker)
}

func TestLocalLockSerialisesSameKey(t *testing.T) {
	assertSerialised(t, &lock.Local{})
}

func TestRedisLockReleasedAfterError(t *testing.T) {
	locker, mr := newRedisLocker(t)
	boom := context.Canceled
	err := locker.WithLock(context.Background(), "cart:lock:u2", time.Second, func(context.Context) error {
		require.True(t, mr.Exists("cart:lock:u2"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("cart:lock:u2"))
}

func TestRedisLockHonoursContext(t *testing.T) {
	locker, mr := newRedisLocker(t)
	require.NoError(t, mr.Set("cart:lock:u3", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	called := false
	err := locker.WithLock(ctx, "cart:lock:u3", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, called)
	got, err := mr.Get("cart:lock:u3")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestRedisLockNotConfigured(t *testing.T) {
	err := lock.Locker{}.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, lock.ErrNotConfigured)
}

func TestLocalLockIndependentKeys(t *testing.T) {
	var l lock.Local
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := l.WithLock(ctx, "a", 0, func(ctx context.Context) error {
		return l.WithLock(ctx, "b", 0, func(context.Context) error { return nil })
	})
	require.NoError(t, err)
}

func TestLocalLockHonoursContext(t *testing.T) {
	var l lock.Local
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "a", 0, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "a", 0, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
