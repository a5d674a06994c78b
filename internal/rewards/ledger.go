// Package rewards keeps a Redis ledger of granted ad rewards: daily counters
// per callback and source, with a TTL so old days expire on their own.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/ads"
	"github.com/patrickwarner/neonshell/internal/delivery"
)

const dayLayout = "2006-01-02"

// Ledger wraps a redis client for reward bookkeeping.
type Ledger struct {
	Client  *redis.Client
	TTL     time.Duration
	Timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// Totals is one day's rewards for a callback.
type Totals struct {
	Grants int64
	Amount int64
}

// Open connects to Redis at addr and returns a Ledger.
func Open(ctx context.Context, addr string, ttl time.Duration, logger *zap.Logger) (*Ledger, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Connected to Redis", zap.String("addr", addr))
	return NewLedger(client, ttl, logger), nil
}

// NewLedger wraps an existing client.
func NewLedger(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		Client:  client,
		TTL:     ttl,
		Timeout: 2 * time.Second,
		logger:  logger.Named("rewards"),
		now:     time.Now,
	}
}

func grantsKey(callback, day string) string {
	return fmt.Sprintf("rewards:%s:%s:grants", callback, day)
}

func amountKey(callback, day string) string {
	return fmt.Sprintf("rewards:%s:%s:amount", callback, day)
}

func sourceKey(callback, source, day string) string {
	return fmt.Sprintf("rewards:%s:%s:source:%s", callback, day, source)
}

// RecordReward increments today's counters for callback. It satisfies
// ads.RewardRecorder.
func (l *Ledger) RecordReward(callback, source string, r ads.Reward) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.Timeout)
	defer cancel()

	day := l.now().UTC().Format(dayLayout)
	keys := []string{grantsKey(callback, day), amountKey(callback, day), sourceKey(callback, source, day)}

	_, err := l.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, keys[0])
		pipe.IncrBy(ctx, keys[1], int64(r.Amount))
		pipe.Incr(ctx, keys[2])
		if l.TTL > 0 {
			for _, k := range keys {
				pipe.Expire(ctx, k, l.TTL)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record reward %s: %w", callback, err)
	}
	l.logger.Debug("reward recorded", zap.String("callback", callback), zap.String("source", source), zap.String("day", day))
	return nil
}

// Totals returns the counters for callback on the given day.
func (l *Ledger) Totals(ctx context.Context, callback string, day time.Time) (Totals, error) {
	d := day.UTC().Format(dayLayout)
	vals, err := l.Client.MGet(ctx, grantsKey(callback, d), amountKey(callback, d)).Result()
	if err != nil {
		return Totals{}, fmt.Errorf("read reward totals: %w", err)
	}
	return Totals{Grants: toInt(vals[0]), Amount: toInt(vals[1])}, nil
}

// SourceCount returns how many grants on day came from source.
func (l *Ledger) SourceCount(ctx context.Context, callback, source string, day time.Time) (int64, error) {
	n, err := l.Client.Get(ctx, sourceKey(callback, source, day.UTC().Format(dayLayout))).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// LogSummary logs the day's counters for both rewarded callbacks.
func (l *Ledger) LogSummary(ctx context.Context, day time.Time) error {
	for _, callback := range []string{delivery.OnAdRewarded, delivery.OnAdRewardedContinue} {
		totals, err := l.Totals(ctx, callback, day)
		if err != nil {
			return err
		}
		synthetic, err := l.SourceCount(ctx, callback, ads.SourceTestUnit, day)
		if err != nil {
			return fmt.Errorf("read reward sources: %w", err)
		}
		l.logger.Info("reward totals",
			zap.String("callback", callback),
			zap.String("day", day.UTC().Format(dayLayout)),
			zap.Int64("grants", totals.Grants),
			zap.Int64("amount", totals.Amount),
			zap.Int64("test_unit_grants", synthetic),
		)
	}
	return nil
}

// Close shuts down the Redis client.
func (l *Ledger) Close() {
	if l != nil && l.Client != nil {
		if err := l.Client.Close(); err != nil {
			l.logger.Error("redis close", zap.Error(err))
		}
	}
}

func toInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	if _, err := fmt.Sscan(s, &n); err != nil {
		return 0
	}
	return n
}
