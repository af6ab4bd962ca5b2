package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))

	fixed := Policy{InitialDelay: time.Second}
	assert.Equal(t, time.Second, fixed.Delay(3))
}

func TestPolicy_Do(t *testing.T) {
	boom := errors.New("boom")

	t.Run("stops on first success", func(t *testing.T) {
		calls := 0
		err := Policy{MaxAttempts: 3}.Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 2 {
				return boom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("never exceeds max attempts", func(t *testing.T) {
		calls := 0
		err := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond}.Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		calls := 0
		err := Policy{MaxAttempts: 3}.Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			return &Permanent{Err: boom}
		})
		assert.Equal(t, boom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("deadline cuts retries short", func(t *testing.T) {
		start := time.Now()
		calls := 0
		err := Policy{MaxAttempts: 3, InitialDelay: time.Second, Deadline: 50 * time.Millisecond}.Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, ErrDeadline)
		assert.Equal(t, 1, calls)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("parent cancellation is reported as such", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Policy{MaxAttempts: 3}.Do(ctx, func(ctx context.Context, attempt int) error {
			return boom
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
