package ads

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSimulatedNoFill is returned by SimulatedProvider loads when NoFill is set.
var ErrSimulatedNoFill = errors.New("simulated provider: no fill")

// SimulatedProvider stands in for the ad SDK on desktop hosts. Loads complete
// after LoadDelay and presentations dismiss after ShowDuration, granting the
// reward for rewarded units.
type SimulatedProvider struct {
	Logger       *zap.Logger
	LoadDelay    time.Duration
	ShowDuration time.Duration
	// NoFill makes every load fail.
	NoFill bool

	mu    sync.Mutex
	loads int
}

// Initialize implements Provider.
func (p *SimulatedProvider) Initialize(done func()) {
	time.AfterFunc(p.LoadDelay, done)
}

// Load implements Provider.
func (p *SimulatedProvider) Load(kind SlotKind, unitID string, done func(Unit, error)) {
	p.mu.Lock()
	p.loads++
	n := p.loads
	p.mu.Unlock()

	p.logger().Debug("simulated load", zap.Stringer("slot", kind), zap.String("unit_id", unitID), zap.Int("load", n))
	time.AfterFunc(p.LoadDelay, func() {
		if p.NoFill {
			done(nil, ErrSimulatedNoFill)
			return
		}
		done(&simulatedUnit{kind: kind, duration: p.ShowDuration}, nil)
	})
}

func (p *SimulatedProvider) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

func (p *SimulatedProvider) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

type simulatedUnit struct {
	kind     SlotKind
	duration time.Duration
}

func (u *simulatedUnit) Show(cb ShowCallbacks) {
	time.AfterFunc(u.duration, func() {
		if u.kind == Rewarded && cb.OnReward != nil {
			cb.OnReward(Reward{Amount: 1, Type: "coins"})
		}
		if cb.OnDismissed != nil {
			cb.OnDismissed()
		}
	})
}
