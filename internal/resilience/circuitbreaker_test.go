package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(cooldown time.Duration) *Breaker {
	return NewBreaker("test", Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         cooldown,
	})
}

var errFeed = errors.New("feed down")

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Do(context.Background(), func() error { return errFeed })
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := testBreaker(time.Hour)
	ctx := context.Background()

	failN(b, 2)
	assert.Equal(t, StateClosed, b.State())

	failN(b, 1)
	assert.Equal(t, StateOpen, b.State())

	err := b.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)

	stats := b.Stats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(3), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.TotalRejected)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := testBreaker(time.Hour)
	ctx := context.Background()

	failN(b, 2)
	require.NoError(t, b.Do(ctx, func() error { return nil }))
	failN(b, 2)

	assert.Equal(t, StateClosed, b.State(), "the run of failures was broken")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := testBreaker(time.Millisecond)
	ctx := context.Background()

	failN(b, 3)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, b.Do(ctx, func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker(time.Millisecond)

	failN(b, 3)
	time.Sleep(5 * time.Millisecond)

	failN(b, 1)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerCancelledContextNotRecorded(t *testing.T) {
	b := testBreaker(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func() error { return errFeed })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), b.Stats().TotalRequests)
}

func TestCallReturnsResult(t *testing.T) {
	b := testBreaker(time.Hour)
	ctx := context.Background()

	got, err := Call(b, ctx, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = Call(b, ctx, func() (int, error) { return 0, errFeed })
	assert.ErrorIs(t, err, errFeed)
}

func TestBreakerReset(t *testing.T) {
	b := testBreaker(time.Hour)

	failN(b, 3)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Do(context.Background(), func() error { return nil }))
}
