// Package haptics implements the vibrate bridge call. Requests are clamped to
// a maximum duration and throttled with a token bucket so content cannot keep
// the motor running.
package haptics

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/delivery"
	"github.com/patrickwarner/neonshell/internal/observability"
)

// Vibrator drives the device's haptic motor.
type Vibrator interface {
	Vibrate(d time.Duration) error
}

// Config holds the throttling configuration.
type Config struct {
	Capacity   int // burst allowance
	RefillRate int // vibrations per second, sustained
	MaxMs      int // longest single vibration
}

// Haptics throttles and clamps vibration requests before passing them on.
type Haptics struct {
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	vibrator Vibrator
	bucket   *TokenBucket
	maxMs    int64
}

// New creates a Haptics forwarding to v.
func New(cfg Config, v Vibrator, logger *zap.Logger, metrics observability.MetricsRegistry) *Haptics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	// without a configured maximum, still keep the conversion to time.Duration in range
	maxMs := int64(cfg.MaxMs)
	if maxMs <= 0 {
		maxMs = math.MaxInt64 / int64(time.Millisecond)
	}
	return &Haptics{
		logger:   logger.Named("haptics"),
		metrics:  metrics,
		vibrator: v,
		bucket:   NewTokenBucket(cfg.Capacity, cfg.RefillRate),
		maxMs:    maxMs,
	}
}

// Vibrate runs the motor for ms milliseconds. Non-positive durations are
// ignored and throttled requests are dropped; neither is an error.
func (h *Haptics) Vibrate(ms int64) error {
	if ms <= 0 {
		return nil
	}
	if ms > h.maxMs {
		ms = h.maxMs
	}
	d := time.Duration(ms) * time.Millisecond
	if !h.bucket.Allow() {
		h.metrics.IncrementVibrationsThrottled()
		h.logger.Debug("vibration throttled", zap.Int64("ms", ms))
		return nil
	}
	if err := h.vibrator.Vibrate(d); err != nil {
		return fmt.Errorf("vibrate %s: %w", d, err)
	}
	return nil
}

// Stats returns throttling counters.
func (h *Haptics) Stats() (throttled, total int64) {
	return h.bucket.Stats()
}

// LogVibrator only logs; hosts without a motor use it.
type LogVibrator struct {
	Logger *zap.Logger
}

// Vibrate implements Vibrator.
func (v LogVibrator) Vibrate(d time.Duration) error {
	v.Logger.Debug("vibrate", zap.Duration("duration", d))
	return nil
}

// ScriptVibrator forwards vibrations to the content's navigator.vibrate, for
// renderers running on hardware that exposes the Vibration API.
type ScriptVibrator struct {
	Evaluator delivery.Evaluator
	// Timeout bounds each evaluation; zero uses delivery.DefaultEvaluateTimeout.
	Timeout time.Duration
}

// Vibrate implements Vibrator.
func (v ScriptVibrator) Vibrate(d time.Duration) error {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = delivery.DefaultEvaluateTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return v.Evaluator.Evaluate(ctx, fmt.Sprintf("navigator.vibrate && navigator.vibrate(%d);", d.Milliseconds()))
}
