package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-pricing/internal/resilience"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDown = errors.New("db down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestBreakerTransitions(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	b := resilience.NewBreaker(resilience.Options{Target: "catalog", MinRequests: 2, FailureRatio: 0.5, OpenFor: time.Minute, Now: clock.Now})
	ctx := context.Background()

	require.ErrorIs(t, b.Do(ctx, fail, nil), errDown)
	require.Equal(t, resilience.Closed, b.State())
	require.ErrorIs(t, b.Do(ctx, fail, nil), errDown)
	require.Equal(t, resilience.Open, b.State())

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil }, nil)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.False(t, called)

	clock.Advance(time.Minute)
	require.NoError(t, b.Do(ctx, ok, nil))
	require.Equal(t, resilience.Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	b := resilience.NewBreaker(resilience.Options{MinRequests: 1, OpenFor: time.Second, Now: clock.Now})
	ctx := context.Background()

	require.Error(t, b.Do(ctx, fail, nil))
	require.Equal(t, resilience.Open, b.State())

	clock.Advance(time.Second)
	require.ErrorIs(t, b.Do(ctx, fail, nil), errDown)
	require.Equal(t, resilience.Open, b.State())
	require.ErrorIs(t, b.Do(ctx, ok, nil), resilience.ErrOpenCircuit)
}

func TestBreakerIgnoresExpectedErrors(t *testing.T) {
	notFound := errors.New("not found")
	b := resilience.NewBreaker(resilience.Options{MinRequests: 1})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := b.Do(ctx, func(context.Context) error { return notFound }, func(err error) bool {
			return !errors.Is(err, notFound)
		})
		require.ErrorIs(t, err, notFound)
	}
	require.Equal(t, resilience.Closed, b.State())
}
