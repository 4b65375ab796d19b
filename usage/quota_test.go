package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/council/config"
	"github.com/BaSui01/council/types"
)

func quotaCaps(caps map[string]int64) config.QuotaConfig {
	return config.QuotaConfig{Backend: "db", MonthlyTokenCaps: caps}
}

func TestDBQuotaGuard_DeniesNearCap(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.August, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, &UsageRecord{
		CallerKey: "key-1", TotalTokens: 950, CreatedAt: now,
	}))

	guard := NewDBQuotaGuard(store, quotaCaps(map[string]int64{"key-1": 1000}), zap.NewNop())
	guard.now = func() time.Time { return now }

	res, err := guard.Check(ctx, "key-1", 100)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, types.ErrQuotaExceeded, types.GetErrorCode(err))

	var qerr *types.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, 402, qerr.HTTPStatus)

	// A fitting estimate still passes.
	res, err = guard.Check(ctx, "key-1", 50)
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestDBQuotaGuard_UnconfiguredCallerIsUnbounded(t *testing.T) {
	t.Parallel()

	guard := NewDBQuotaGuard(newTestStore(t), quotaCaps(nil), zap.NewNop())
	res, err := guard.Check(context.Background(), "anyone", 1<<40)
	require.NoError(t, err)
	assert.NoError(t, res.Settle(context.Background(), 1<<40))

	// A non-positive cap means unbounded as well.
	guard = NewDBQuotaGuard(newTestStore(t), quotaCaps(map[string]int64{"k": 0}), zap.NewNop())
	_, err = guard.Check(context.Background(), "k", 1<<40)
	assert.NoError(t, err)
}

func TestDBQuotaGuard_MonthRollover(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	july := time.Date(2026, time.July, 31, 23, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, &UsageRecord{
		CallerKey: "key-1", TotalTokens: 999, CreatedAt: july,
	}))

	guard := NewDBQuotaGuard(store, quotaCaps(map[string]int64{"key-1": 1000}), zap.NewNop())

	guard.now = func() time.Time { return july }
	_, err := guard.Check(ctx, "key-1", 100)
	require.Error(t, err)

	// The cap resets exactly at the UTC month boundary.
	guard.now = func() time.Time { return time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC) }
	_, err = guard.Check(ctx, "key-1", 100)
	assert.NoError(t, err)
}

func TestDBQuotaGuard_ConcurrentChecksCannotOvershoot(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	guard := NewDBQuotaGuard(store, quotaCaps(map[string]int64{"key-1": 1000}), zap.NewNop())

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := guard.Check(context.Background(), "key-1", 100); err == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	// 20 concurrent turns at 100 tokens each against a 1000 cap: exactly
	// ten reservations fit.
	assert.Equal(t, int32(10), atomic.LoadInt32(&admitted))
}

func TestDBQuotaGuard_SettleReleasesReservation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	guard := NewDBQuotaGuard(store, quotaCaps(map[string]int64{"key-1": 1000}), zap.NewNop())

	res, err := guard.Check(ctx, "key-1", 900)
	require.NoError(t, err)
	// The reservation holds the budget while the turn is in flight.
	_, err = guard.Check(ctx, "key-1", 200)
	require.Error(t, err)

	// The turn actually spent 100 tokens, recorded through the store.
	require.NoError(t, store.Append(ctx, &UsageRecord{
		CallerKey: "key-1", TotalTokens: 100, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, res.Settle(ctx, 100))

	// Settling twice must not release the budget twice.
	require.NoError(t, res.Settle(ctx, 100))
	assert.Zero(t, guard.pendingFor("key-1"))

	_, err = guard.Check(ctx, "key-1", 200)
	assert.NoError(t, err)
}
