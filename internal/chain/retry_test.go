package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/chain"
)

var errPermanent = errors.New("permanent")

func fastRetry() chain.RetryConfig {
	return chain.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetry_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()
	attempts := 0
	result, err := chain.RetryWithConfig(context.Background(), fastRetry(), func(context.Context) (string, error) {
		attempts++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, attempts)
}

func TestRetry_SuccessAfterRetry(t *testing.T) {
	t.Parallel()
	attempts := 0
	result, err := chain.RetryWithConfig(context.Background(), fastRetry(), func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, chain.ErrRateLimited
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()
	attempts := 0
	_, err := chain.RetryWithConfig(context.Background(), fastRetry(), func(context.Context) (int, error) {
		attempts++
		return 0, errPermanent
	})

	require.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
}

func TestRetry_Exhausted(t *testing.T) {
	t.Parallel()
	attempts := 0
	_, err := chain.RetryWithConfig(context.Background(), fastRetry(), func(context.Context) (int, error) {
		attempts++
		return 0, chain.WrapRetryable(errPermanent)
	})

	require.Error(t, err)
	require.ErrorIs(t, err, errPermanent)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_ContextCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := chain.RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second}

	attempts := 0
	_, err := chain.RetryWithConfig(ctx, cfg, func(context.Context) (int, error) {
		attempts++
		cancel()
		return 0, chain.ErrTimeout
	})

	require.ErrorIs(t, err, chain.ErrTimeout)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.False(t, chain.IsRetryable(nil))
	assert.False(t, chain.IsRetryable(errPermanent))
	assert.True(t, chain.IsRetryable(chain.ErrTimeout))
	assert.True(t, chain.IsRetryable(chain.WrapRetryable(errPermanent)))
	assert.NoError(t, chain.WrapRetryable(nil))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 3*time.Second, chain.ParseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), chain.ParseRetryAfter(""))
	assert.Equal(t, time.Duration(0), chain.ParseRetryAfter("soon"))
}

func TestNetworkName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Ethereum", chain.NetworkName(1))
	assert.Equal(t, "Sepolia", chain.NetworkName(11155111))
	assert.Equal(t, "Hardhat Local", chain.NetworkName(31337))
	assert.Equal(t, "Chain 5", chain.NetworkName(5))
}

func TestParseChainID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x7a69", 31337, false},
		{"0X1", 1, false},
		{"11155111", 11155111, false},
		{" 0xaa36a7 ", 11155111, false},
		{"0x", 0, true},
		{"0xzz", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := chain.ParseChainID(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, chain.ErrInvalidChainID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := chain.ParseHexChainID("31337")
	require.ErrorIs(t, err, chain.ErrInvalidChainID)
	assert.Equal(t, "0x7a69", chain.HexChainID(31337))
	assert.Equal(t, int64(31337), chain.BigChainID(31337).Int64())
}
