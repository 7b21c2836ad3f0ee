package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() *Policy {
	return NewPolicy(time.Millisecond, slog.New(slog.DiscardHandler))
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := Do(context.Background(), testPolicy(), "quote", 3, func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), testPolicy(), "quote", 3, func(context.Context) (int, error) {
		attempts++
		return 0, errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "timeout")
}

func TestDoStopsOnTerminalError(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), testPolicy(), "send", 5, func(context.Context) (int, error) {
		attempts++
		return 0, errors.New("Transfer: insufficient lamports 100, need 200")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := Do(ctx, testPolicy(), "send", 10, func(context.Context) (int, error) {
		attempts++
		cancel()
		return 0, errors.New("flaky")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, Retryable},
		{errors.New("Blockhash not found"), Stale},
		{errors.New("block height exceeded"), Stale},
		{errors.New("custom program error: 0x1771"), Stale},
		{errors.New("custom program error: 6001"), Stale},
		{fmt.Errorf("send leg: %w", errors.New("Slippage tolerance exceeded")), Stale},
		{errors.New("Transfer: insufficient funds"), Terminal},
		{errors.New("invalid account data for instruction"), Terminal},
		{errors.New("Account does not exist 9xQeW..."), Terminal},
		{errors.New("AnchorError: ConstraintSeeds"), Terminal},
		{errors.New("i/o timeout"), Retryable},
		{errors.New("429 Too Many Requests"), Retryable},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "error: %v", tc.err)
	}
}
