package ads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/delivery"
	"github.com/patrickwarner/neonshell/internal/dispatch"
	"github.com/patrickwarner/neonshell/internal/observability"
)

const (
	prodUnit = "ca-app-pub-1111111111111111/2222222222"
	testUnit = "ca-app-pub-3940256099942544/5224354917"
)

// fakeProvider records load requests and lets the test complete them.
type fakeProvider struct {
	mu      sync.Mutex
	initFn  func()
	pending map[SlotKind][]func(Unit, error)
	calls   map[SlotKind]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		pending: make(map[SlotKind][]func(Unit, error)),
		calls:   make(map[SlotKind]int),
	}
}

func (p *fakeProvider) Initialize(done func()) { p.initFn = done }

func (p *fakeProvider) Load(kind SlotKind, unitID string, done func(Unit, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[kind]++
	p.pending[kind] = append(p.pending[kind], done)
}

func (p *fakeProvider) Calls(kind SlotKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[kind]
}

func (p *fakeProvider) complete(t *testing.T, kind SlotKind, u Unit, err error) {
	t.Helper()
	p.mu.Lock()
	require.NotEmpty(t, p.pending[kind], "no pending load for %s", kind)
	done := p.pending[kind][0]
	p.pending[kind] = p.pending[kind][1:]
	p.mu.Unlock()
	done(u, err)
}

// fakeUnit captures the callbacks of its presentation.
type fakeUnit struct {
	shown int
	cb    ShowCallbacks
}

func (u *fakeUnit) Show(cb ShowCallbacks) {
	u.shown++
	u.cb = cb
}

type recordingLedger struct {
	mu      sync.Mutex
	entries []string
	done    chan struct{}
}

func (l *recordingLedger) RecordReward(callback, source string, r Reward) error {
	l.mu.Lock()
	l.entries = append(l.entries, callback+"/"+source)
	l.mu.Unlock()
	l.done <- struct{}{}
	return nil
}

type fixture struct {
	manager  *Manager
	provider *fakeProvider
	poster   *dispatch.Manual
	rec      *delivery.Recorder
	metrics  *observability.MockMetricsRegistry
}

func newFixture(rewardedUnit string) *fixture {
	f := &fixture{
		provider: newFakeProvider(),
		poster:   &dispatch.Manual{},
		rec:      &delivery.Recorder{},
		metrics:  observability.NewMockMetricsRegistry(),
	}
	f.manager = NewManager(Options{
		Logger:             zap.NewNop(),
		Metrics:            f.metrics,
		Provider:           f.provider,
		Poster:             f.poster,
		Deliverer:          f.rec,
		InterstitialUnitID: prodUnit,
		RewardedUnitID:     rewardedUnit,
	})
	return f
}

// ready loads kind and returns the unit placed in the slot.
func (f *fixture) ready(t *testing.T, kind SlotKind) *fakeUnit {
	t.Helper()
	f.manager.Load(kind)
	u := &fakeUnit{}
	f.provider.complete(t, kind, u, nil)
	f.poster.RunPending()
	require.Equal(t, Ready, f.manager.State(kind))
	return u
}

func TestLoadWhileLoadingIsNoOp(t *testing.T) {
	f := newFixture(prodUnit)

	f.manager.Load(Interstitial)
	assert.Equal(t, Loading, f.manager.State(Interstitial))
	f.manager.Load(Interstitial)
	f.manager.Load(Interstitial)

	assert.Equal(t, Loading, f.manager.State(Interstitial))
	assert.Equal(t, 1, f.provider.Calls(Interstitial))
	assert.Equal(t, 0, f.provider.Calls(Rewarded))
}

func TestLoadCompletionIsMarshaledOntoLoop(t *testing.T) {
	f := newFixture(prodUnit)
	f.manager.Load(Rewarded)

	f.provider.complete(t, Rewarded, &fakeUnit{}, nil)
	assert.Equal(t, Loading, f.manager.State(Rewarded), "state must not change before the loop runs")
	assert.Equal(t, 1, f.poster.Pending())

	f.poster.RunPending()
	assert.True(t, f.manager.IsReady(Rewarded))
	assert.False(t, f.manager.IsReady(Interstitial))
}

func TestLoadFailureReturnsToEmpty(t *testing.T) {
	f := newFixture(prodUnit)
	f.manager.Load(Interstitial)
	f.provider.complete(t, Interstitial, nil, errors.New("no fill"))
	f.poster.RunPending()

	assert.Equal(t, Empty, f.manager.State(Interstitial))
	assert.Equal(t, 1, f.provider.Calls(Interstitial), "failure must not schedule a retry")
	assert.Equal(t, 1, f.metrics.Count("ad_failure", "interstitial", "load"))

	f.manager.Load(Interstitial)
	assert.Equal(t, 2, f.provider.Calls(Interstitial))
}

func TestLoadWithoutUnitIsFailure(t *testing.T) {
	f := newFixture(prodUnit)
	f.manager.Load(Rewarded)
	f.provider.complete(t, Rewarded, nil, nil)
	f.poster.RunPending()
	assert.Equal(t, Empty, f.manager.State(Rewarded))
}

func TestIsReadyDoesNotMutate(t *testing.T) {
	f := newFixture(prodUnit)
	for i := 0; i < 3; i++ {
		assert.False(t, f.manager.IsReady(Rewarded))
	}
	assert.Equal(t, Empty, f.manager.State(Rewarded))
	assert.Equal(t, 0, f.provider.Calls(Rewarded))
}

func TestRewardedShowGrantsExactlyOnce(t *testing.T) {
	f := newFixture(prodUnit)
	unit := f.ready(t, Rewarded)

	f.manager.Show(Rewarded, delivery.OnAdRewarded)
	assert.Equal(t, Presenting, f.manager.State(Rewarded))
	require.Equal(t, 1, unit.shown)

	unit.cb.OnReward(Reward{Amount: 10, Type: "coins"})
	unit.cb.OnReward(Reward{Amount: 10, Type: "coins"})
	unit.cb.OnDismissed()
	f.poster.RunPending()

	assert.Len(t, f.rec.Named(delivery.OnAdRewarded), 1)
	assert.Len(t, f.rec.Messages(), 1)
	assert.Equal(t, 1, f.metrics.Count("rewards", delivery.OnAdRewarded, "provider"))

	// back to Empty, then exactly one fresh load
	assert.Equal(t, Loading, f.manager.State(Rewarded))
	assert.Equal(t, 2, f.provider.Calls(Rewarded))
	assert.Equal(t, 1, f.metrics.Count("ad_transition", "rewarded", "presenting", "empty"))
}

func TestRewardAfterDismissStillGrantsOnce(t *testing.T) {
	f := newFixture(prodUnit)
	unit := f.ready(t, Rewarded)

	f.manager.Show(Rewarded, delivery.OnAdRewardedContinue)
	unit.cb.OnDismissed()
	unit.cb.OnReward(Reward{Amount: 1, Type: "continue"})
	f.poster.RunPending()

	assert.Len(t, f.rec.Named(delivery.OnAdRewardedContinue), 1)
	assert.Empty(t, f.rec.Named(delivery.OnAdRewarded))
}

func TestDismissWithoutRewardGrantsNothing(t *testing.T) {
	f := newFixture(prodUnit)
	unit := f.ready(t, Rewarded)

	f.manager.Show(Rewarded, delivery.OnAdRewarded)
	unit.cb.OnDismissed()
	f.poster.RunPending()

	assert.Empty(t, f.rec.Messages())
	assert.Equal(t, Loading, f.manager.State(Rewarded))
	assert.Equal(t, 2, f.provider.Calls(Rewarded))
}

func TestShowFailureRefills(t *testing.T) {
	f := newFixture(prodUnit)
	unit := f.ready(t, Interstitial)

	f.manager.Show(Interstitial, "")
	unit.cb.OnFailed(errors.New("activity gone"))
	unit.cb.OnDismissed()
	f.poster.RunPending()

	assert.Equal(t, Loading, f.manager.State(Interstitial))
	assert.Equal(t, 2, f.provider.Calls(Interstitial))
	assert.Equal(t, 1, f.metrics.Count("ad_failure", "interstitial", "show"))
}

func TestInterstitialShowEmitsNoMessage(t *testing.T) {
	f := newFixture(prodUnit)
	unit := f.ready(t, Interstitial)

	f.manager.Show(Interstitial, delivery.OnAdRewarded)
	unit.cb.OnReward(Reward{Amount: 1})
	unit.cb.OnDismissed()
	f.poster.RunPending()

	assert.Empty(t, f.rec.Messages())
}

func TestShowWhenNotReadyTriggersLoad(t *testing.T) {
	f := newFixture(prodUnit)

	f.manager.Show(Rewarded, delivery.OnAdRewarded)
	assert.Equal(t, Loading, f.manager.State(Rewarded))
	assert.Equal(t, 1, f.provider.Calls(Rewarded))
	assert.Empty(t, f.rec.Messages())

	// still loading: neither a second load nor a presentation
	f.manager.Show(Rewarded, delivery.OnAdRewarded)
	assert.Equal(t, 1, f.provider.Calls(Rewarded))
}

func TestTestUnitGrantsSyntheticReward(t *testing.T) {
	f := newFixture(testUnit)

	f.manager.Show(Rewarded, delivery.OnAdRewardedContinue)

	require.Len(t, f.rec.Messages(), 1)
	assert.Equal(t, delivery.OnAdRewardedContinue, f.rec.Messages()[0].Name)
	assert.Equal(t, Loading, f.manager.State(Rewarded))
	assert.Equal(t, 1, f.metrics.Count("rewards", delivery.OnAdRewardedContinue, "test"))
}

func TestInitializeLoadsBothSlots(t *testing.T) {
	f := newFixture(prodUnit)
	f.manager.Initialize()
	require.NotNil(t, f.provider.initFn)
	assert.Equal(t, 0, f.provider.Calls(Interstitial))

	f.provider.initFn()
	f.poster.RunPending()

	assert.Equal(t, 1, f.provider.Calls(Interstitial))
	assert.Equal(t, 1, f.provider.Calls(Rewarded))
}

func TestRewardIsRecordedInLedger(t *testing.T) {
	f := newFixture(prodUnit)
	ledger := &recordingLedger{done: make(chan struct{}, 1)}
	f.manager.ledger = ledger
	unit := f.ready(t, Rewarded)

	f.manager.Show(Rewarded, delivery.OnAdRewarded)
	unit.cb.OnReward(Reward{Amount: 5, Type: "coins"})
	f.poster.RunPending()

	select {
	case <-ledger.done:
	case <-time.After(time.Second):
		t.Fatal("ledger was not written")
	}
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	assert.Equal(t, []string{"onAdRewarded/provider"}, ledger.entries)
}

func TestSimulatedProviderOnLoop(t *testing.T) {
	loop := dispatch.NewLoop(zap.NewNop(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Close()

	rec := &delivery.Recorder{}
	provider := &SimulatedProvider{LoadDelay: time.Millisecond, ShowDuration: time.Millisecond}
	m := NewManager(Options{
		Provider:       provider,
		Poster:         loop,
		Deliverer:      rec,
		RewardedUnitID: prodUnit,
	})

	require.NoError(t, loop.Call(ctx, m.Initialize))
	require.Eventually(t, func() bool {
		var ready bool
		_ = loop.Call(ctx, func() { ready = m.IsReady(Rewarded) })
		return ready
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, loop.Call(ctx, func() { m.Show(Rewarded, delivery.OnAdRewarded) }))
	require.Eventually(t, func() bool {
		return len(rec.Named(delivery.OnAdRewarded)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return provider.loadCount() >= 3
	}, time.Second, 5*time.Millisecond)
}
