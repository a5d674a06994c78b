package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// asset requests per status code
	AssetRequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neonshell_asset_requests_total",
			Help: "Total asset requests served by the loopback server",
		},
		[]string{"method", "status"},
	)

	// time to first byte plus streaming, per status
	AssetRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neonshell_asset_request_duration_seconds",
			Help:    "Histogram of asset request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// bytes streamed per content type
	AssetBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neonshell_asset_bytes_total",
			Help: "Total asset bytes streamed",
		},
		[]string{"content_type"},
	)

	// ad slot state transitions
	AdTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neonshell_ad_transitions_total",
			Help: "Ad slot state transitions",
		},
		[]string{"slot", "from", "to"},
	)

	// ad load/show failures
	AdFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neonshell_ad_failures_total",
			Help: "Ad load and presentation failures",
		},
		[]string{"slot", "stage"},
	)

	// reward signals delivered to content, labelled by callback
	RewardsGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neonshell_rewards_granted_total",
			Help: "Reward signals delivered to content",
		},
		[]string{"callback", "source"},
	)

	// identity hand-off outcomes
	IdentityOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neonshell_identity_outcomes_total",
			Help: "Identity hand-off outcomes",
		},
		[]string{"outcome"},
	)

	// bridge calls from content
	BridgeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neonshell_bridge_calls_total",
			Help: "Bridge calls received from content",
		},
		[]string{"function", "status"},
	)

	// bridge messages delivered to content
	BridgeMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neonshell_bridge_messages_total",
			Help: "Bridge messages delivered to content",
		},
		[]string{"name", "status"},
	)

	// vibrations dropped by throttling
	VibrationsThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neonshell_vibrations_throttled_total",
			Help: "Vibration requests dropped by throttling",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AssetRequestCount,
		AssetRequestLatency,
		AssetBytes,
		AdTransitions,
		AdFailures,
		RewardsGranted,
		IdentityOutcomes,
		BridgeCalls,
		BridgeMessages,
		VibrationsThrottled,
	)
}
