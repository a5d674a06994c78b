package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components receive it by injection instead of touching the Prometheus globals.
type MetricsRegistry interface {
	// Asset server metrics
	IncrementAssetRequests(method, status string)
	RecordAssetLatency(status string, duration time.Duration)
	AddAssetBytes(contentType string, n int64)

	// Ad lifecycle metrics
	IncrementAdTransition(slot, from, to string)
	IncrementAdFailure(slot, stage string)
	IncrementRewards(callback, source string)

	// Identity metrics
	IncrementIdentityOutcome(outcome string)

	// Bridge metrics
	IncrementBridgeCalls(function, status string)
	IncrementBridgeMessages(name, status string)

	// Haptics metrics
	IncrementVibrationsThrottled()
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementAssetRequests(method, status string) {
	AssetRequestCount.WithLabelValues(method, status).Inc()
}

func (r *PrometheusRegistry) RecordAssetLatency(status string, duration time.Duration) {
	AssetRequestLatency.WithLabelValues(status).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) AddAssetBytes(contentType string, n int64) {
	AssetBytes.WithLabelValues(contentType).Add(float64(n))
}

func (r *PrometheusRegistry) IncrementAdTransition(slot, from, to string) {
	AdTransitions.WithLabelValues(slot, from, to).Inc()
}

func (r *PrometheusRegistry) IncrementAdFailure(slot, stage string) {
	AdFailures.WithLabelValues(slot, stage).Inc()
}

func (r *PrometheusRegistry) IncrementRewards(callback, source string) {
	RewardsGranted.WithLabelValues(callback, source).Inc()
}

func (r *PrometheusRegistry) IncrementIdentityOutcome(outcome string) {
	IdentityOutcomes.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementBridgeCalls(function, status string) {
	BridgeCalls.WithLabelValues(function, status).Inc()
}

func (r *PrometheusRegistry) IncrementBridgeMessages(name, status string) {
	BridgeMessages.WithLabelValues(name, status).Inc()
}

func (r *PrometheusRegistry) IncrementVibrationsThrottled() {
	VibrationsThrottled.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementAssetRequests(method, status string)             {}
func (r *NoOpRegistry) RecordAssetLatency(status string, duration time.Duration) {}
func (r *NoOpRegistry) AddAssetBytes(contentType string, n int64)                {}
func (r *NoOpRegistry) IncrementAdTransition(slot, from, to string)              {}
func (r *NoOpRegistry) IncrementAdFailure(slot, stage string)                    {}
func (r *NoOpRegistry) IncrementRewards(callback, source string)                 {}
func (r *NoOpRegistry) IncrementIdentityOutcome(outcome string)                  {}
func (r *NoOpRegistry) IncrementBridgeCalls(function, status string)             {}
func (r *NoOpRegistry) IncrementBridgeMessages(name, status string)              {}
func (r *NoOpRegistry) IncrementVibrationsThrottled()                            {}
