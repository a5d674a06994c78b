package ads

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/delivery"
	"github.com/patrickwarner/neonshell/internal/dispatch"
	"github.com/patrickwarner/neonshell/internal/observability"
)

// ErrNoUnit is reported when a provider signals success without a unit.
var ErrNoUnit = errors.New("provider returned no ad unit")

// RewardRecorder persists granted rewards. It is called off the bridge loop.
type RewardRecorder interface {
	RecordReward(callback, source string, r Reward) error
}

// Options configures a Manager.
type Options struct {
	Logger             *zap.Logger
	Metrics            observability.MetricsRegistry
	Provider           Provider
	Poster             dispatch.Poster
	Deliverer          delivery.Deliverer
	Ledger             RewardRecorder
	InterstitialUnitID string
	RewardedUnitID     string
}

// Manager owns the state of both ad slots.
type Manager struct {
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
	provider  Provider
	poster    dispatch.Poster
	deliverer delivery.Deliverer
	ledger    RewardRecorder
	slots     [2]*slot
}

// NewManager constructs a Manager with both slots Empty.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewNoOpRegistry()
	}
	return &Manager{
		logger:    opts.Logger.Named("ads"),
		metrics:   opts.Metrics,
		provider:  opts.Provider,
		poster:    opts.Poster,
		deliverer: opts.Deliverer,
		ledger:    opts.Ledger,
		slots: [2]*slot{
			Interstitial: {kind: Interstitial, unitID: opts.InterstitialUnitID},
			Rewarded:     {kind: Rewarded, unitID: opts.RewardedUnitID},
		},
	}
}

func (m *Manager) slot(kind SlotKind) *slot {
	if kind != Interstitial && kind != Rewarded {
		return nil
	}
	return m.slots[kind]
}

// Initialize starts the provider SDK and loads both slots once it is ready.
func (m *Manager) Initialize() {
	m.logger.Info("Initializing ad provider")
	m.provider.Initialize(func() {
		m.post(func() {
			m.logger.Info("Ad provider initialized")
			m.Load(Interstitial)
			m.Load(Rewarded)
		})
	})
}

// State returns the slot's current state.
func (m *Manager) State(kind SlotKind) State {
	if s := m.slot(kind); s != nil {
		return s.state
	}
	return Empty
}

// IsReady reports whether the slot holds a loaded unit. It never mutates state.
func (m *Manager) IsReady(kind SlotKind) bool {
	return m.State(kind) == Ready
}

// Load requests a unit for an Empty slot. It is a no-op in any other state:
// a load already in flight is never restarted.
func (m *Manager) Load(kind SlotKind) {
	s := m.slot(kind)
	if s == nil {
		return
	}
	if s.state != Empty {
		m.logger.Debug("load skipped", zap.Stringer("slot", kind), zap.Stringer("state", s.state))
		return
	}

	m.transition(s, Loading)
	m.logger.Debug("loading ad", zap.Stringer("slot", kind), zap.String("unit_id", s.unitID))
	m.provider.Load(kind, s.unitID, func(u Unit, err error) {
		m.post(func() { m.loadFinished(s, u, err) })
	})
}

func (m *Manager) loadFinished(s *slot, u Unit, err error) {
	if s.state != Loading {
		m.logger.Warn("stale load completion", zap.Stringer("slot", s.kind), zap.Stringer("state", s.state))
		return
	}
	if err == nil && u == nil {
		err = ErrNoUnit
	}
	if err != nil {
		// no automatic retry; the next show or explicit load tries again
		m.logger.Warn("ad load failed", zap.Stringer("slot", s.kind), zap.Error(err))
		m.metrics.IncrementAdFailure(s.kind.String(), "load")
		m.transition(s, Empty)
		return
	}
	s.unit = u
	m.transition(s, Ready)
	m.logger.Info("ad loaded", zap.Stringer("slot", s.kind))
}

// Show presents the slot's unit if it is Ready. callback names the content
// function that receives the reward signal; it is ignored for interstitials.
//
// When the slot is not Ready, Show only triggers a load. For a rewarded slot
// configured with a test unit id, it also grants a synthetic reward so offline
// and test builds keep working.
func (m *Manager) Show(kind SlotKind, callback string) {
	s := m.slot(kind)
	if s == nil {
		return
	}
	if kind == Interstitial {
		callback = ""
	}

	if s.state != Ready {
		m.logger.Info("ad not ready, loading", zap.Stringer("slot", kind), zap.Stringer("state", s.state))
		m.Load(kind)
		if kind == Rewarded && callback != "" && s.testUnit() {
			m.logger.Info("test unit: granting synthetic reward", zap.String("callback", callback))
			m.grant(callback, SourceTestUnit, Reward{Amount: 1, Type: "test"})
		}
		return
	}

	unit := s.unit
	s.unit = nil
	p := &presentation{callback: callback}
	s.current = p
	m.transition(s, Presenting)
	m.logger.Info("showing ad", zap.Stringer("slot", kind), zap.String("callback", callback))

	unit.Show(ShowCallbacks{
		OnReward: func(r Reward) {
			m.post(func() { m.rewardEarned(s, p, r) })
		},
		OnDismissed: func() {
			m.post(func() { m.presentationEnded(s, p, nil) })
		},
		OnFailed: func(err error) {
			m.post(func() { m.presentationEnded(s, p, err) })
		},
	})
}

func (m *Manager) rewardEarned(s *slot, p *presentation, r Reward) {
	if s.kind != Rewarded || p.callback == "" {
		return
	}
	if p.rewarded {
		m.logger.Warn("duplicate reward callback ignored", zap.Stringer("slot", s.kind))
		return
	}
	p.rewarded = true
	m.logger.Info("user earned reward",
		zap.Int("amount", r.Amount),
		zap.String("type", r.Type),
		zap.String("callback", p.callback),
	)
	m.grant(p.callback, SourceProvider, r)
}

func (m *Manager) presentationEnded(s *slot, p *presentation, err error) {
	if p.finished {
		return
	}
	p.finished = true
	if err != nil {
		m.logger.Warn("ad presentation failed", zap.Stringer("slot", s.kind), zap.Error(err))
		m.metrics.IncrementAdFailure(s.kind.String(), "show")
	} else {
		m.logger.Debug("ad dismissed", zap.Stringer("slot", s.kind), zap.Bool("rewarded", p.rewarded))
	}
	if s.current != p || s.state != Presenting {
		return
	}
	s.current = nil
	m.transition(s, Empty)
	m.Load(s.kind)
}

func (m *Manager) grant(callback, source string, r Reward) {
	if err := m.deliverer.Deliver(delivery.Message{Name: callback}); err != nil {
		m.logger.Warn("reward signal not delivered", zap.String("callback", callback), zap.Error(err))
	}
	m.metrics.IncrementRewards(callback, source)
	if m.ledger == nil {
		return
	}
	go func() {
		if err := m.ledger.RecordReward(callback, source, r); err != nil {
			m.logger.Warn("reward ledger write failed", zap.Error(err))
		}
	}()
}

func (m *Manager) transition(s *slot, to State) {
	m.metrics.IncrementAdTransition(s.kind.String(), s.state.String(), to.String())
	s.state = to
}

func (m *Manager) post(fn func()) {
	if err := m.poster.Post(fn); err != nil {
		m.logger.Warn("ad completion dropped", zap.Error(err))
	}
}

func containsMarker(unitID string) bool {
	return strings.Contains(unitID, TestUnitMarker)
}
