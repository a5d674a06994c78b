package observability

import (
	"strings"
	"sync"
	"time"
)

var _ MetricsRegistry = (*MockMetricsRegistry)(nil)

// MockMetricsRegistry records counter increments for assertions in tests.
// Keys are the metric name followed by its label values, joined by "|".
type MockMetricsRegistry struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMockMetricsRegistry creates an empty MockMetricsRegistry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{counts: make(map[string]int)}
}

func (m *MockMetricsRegistry) inc(parts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[strings.Join(parts, "|")]++
}

// Count returns how many times the metric with the given labels was incremented.
func (m *MockMetricsRegistry) Count(parts ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[strings.Join(parts, "|")]
}

func (m *MockMetricsRegistry) IncrementAssetRequests(method, status string) {
	m.inc("asset_requests", method, status)
}
func (m *MockMetricsRegistry) RecordAssetLatency(status string, duration time.Duration) {}
func (m *MockMetricsRegistry) AddAssetBytes(contentType string, n int64)                {}
func (m *MockMetricsRegistry) IncrementAdTransition(slot, from, to string) {
	m.inc("ad_transition", slot, from, to)
}
func (m *MockMetricsRegistry) IncrementAdFailure(slot, stage string) {
	m.inc("ad_failure", slot, stage)
}
func (m *MockMetricsRegistry) IncrementRewards(callback, source string) {
	m.inc("rewards", callback, source)
}
func (m *MockMetricsRegistry) IncrementIdentityOutcome(outcome string) {
	m.inc("identity", outcome)
}
func (m *MockMetricsRegistry) IncrementBridgeCalls(function, status string) {
	m.inc("bridge_calls", function, status)
}
func (m *MockMetricsRegistry) IncrementBridgeMessages(name, status string) {
	m.inc("bridge_messages", name, status)
}
func (m *MockMetricsRegistry) IncrementVibrationsThrottled() {
	m.inc("vibrations_throttled")
}
