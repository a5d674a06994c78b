package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/patrickwarner/neonshell/internal/ads"
)

func setupTestLedger(t *testing.T) (*miniredis.Miniredis, *Ledger) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewLedger(client, 48*time.Hour, zap.NewNop())
	t.Cleanup(l.Close)
	return mr, l
}

func TestRecordRewardCounts(t *testing.T) {
	mr, l := setupTestLedger(t)
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day }

	require.NoError(t, l.RecordReward("onAdRewarded", "provider", ads.Reward{Amount: 10, Type: "coins"}))
	require.NoError(t, l.RecordReward("onAdRewarded", "provider", ads.Reward{Amount: 5, Type: "coins"}))
	require.NoError(t, l.RecordReward("onAdRewarded", "test", ads.Reward{Amount: 1, Type: "test"}))
	require.NoError(t, l.RecordReward("onAdRewardedContinue", "provider", ads.Reward{Amount: 1}))

	ctx := context.Background()
	totals, err := l.Totals(ctx, "onAdRewarded", day)
	require.NoError(t, err)
	assert.Equal(t, Totals{Grants: 3, Amount: 16}, totals)

	n, err := l.SourceCount(ctx, "onAdRewarded", "test", day)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	cont, err := l.Totals(ctx, "onAdRewardedContinue", day)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cont.Grants)

	ttl := mr.TTL(grantsKey("onAdRewarded", "2026-03-14"))
	assert.Equal(t, 48*time.Hour, ttl)
}

func TestCountersExpire(t *testing.T) {
	mr, l := setupTestLedger(t)
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day }

	require.NoError(t, l.RecordReward("onAdRewarded", "provider", ads.Reward{Amount: 1}))
	mr.FastForward(49 * time.Hour)

	totals, err := l.Totals(context.Background(), "onAdRewarded", day)
	require.NoError(t, err)
	assert.Equal(t, Totals{}, totals)
}

func TestEmptyDay(t *testing.T) {
	_, l := setupTestLedger(t)
	ctx := context.Background()

	totals, err := l.Totals(ctx, "onAdRewarded", time.Now())
	require.NoError(t, err)
	assert.Equal(t, Totals{}, totals)

	n, err := l.SourceCount(ctx, "onAdRewarded", "provider", time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordRewardFailsWhenRedisDown(t *testing.T) {
	mr, l := setupTestLedger(t)
	l.Timeout = 200 * time.Millisecond
	mr.Close()

	assert.Error(t, l.RecordReward("onAdRewarded", "provider", ads.Reward{Amount: 1}))
}

func TestLedgerSatisfiesRecorder(t *testing.T) {
	var _ ads.RewardRecorder = (*Ledger)(nil)
}

func TestLogSummary(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	core, logs := observer.New(zapcore.InfoLevel)
	l := NewLedger(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour, zap.New(core))
	t.Cleanup(l.Close)
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day }

	require.NoError(t, l.RecordReward("onAdRewarded", ads.SourceProvider, ads.Reward{Amount: 10}))
	require.NoError(t, l.RecordReward("onAdRewarded", ads.SourceTestUnit, ads.Reward{Amount: 1}))
	require.NoError(t, l.LogSummary(context.Background(), day))

	entries := logs.FilterMessage("reward totals").All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "onAdRewarded", fields["callback"])
	assert.EqualValues(t, 2, fields["grants"])
	assert.EqualValues(t, 11, fields["amount"])
	assert.EqualValues(t, 1, fields["test_unit_grants"])
	assert.EqualValues(t, 0, entries[1].ContextMap()["grants"])
}

func TestOpenFailsWithoutRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	l, err := Open(ctx, addr, time.Hour, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, l)
}
