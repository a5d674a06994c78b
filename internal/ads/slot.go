// Package ads owns the lifecycle of the two ad slots (interstitial and
// rewarded) the content can request.
//
// Each slot moves Empty -> Loading -> Ready -> Presenting -> Empty. At most one
// load per slot is in flight, presentation starts only from Ready, and a slot
// refills itself as soon as a presentation completes. Every method of Manager
// must run on the serialized bridge loop; provider callbacks, which may arrive
// on any goroutine, are posted back onto it before they touch slot state.
package ads

import "fmt"

// Reward sources recorded alongside each grant.
const (
	SourceProvider = "provider"
	SourceTestUnit = "test"
)

// TestUnitMarker is the publisher segment shared by the ad network's public
// test unit ids.
const TestUnitMarker = "3940256099942544"

// SlotKind identifies one of the independently tracked ad slots.
type SlotKind int

const (
	Interstitial SlotKind = iota
	Rewarded
)

func (k SlotKind) String() string {
	switch k {
	case Interstitial:
		return "interstitial"
	case Rewarded:
		return "rewarded"
	default:
		return fmt.Sprintf("slot(%d)", int(k))
	}
}

// State is the lifecycle state of a slot.
type State int

const (
	Empty State = iota
	Loading
	Ready
	Presenting
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Presenting:
		return "presenting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reward is what the provider reports when the user earned a reward.
type Reward struct {
	Amount int    `json:"amount"`
	Type   string `json:"type"`
}

// ShowCallbacks receive the outcome of one presentation. OnReward may be
// called before or after OnDismissed; exactly one of OnDismissed or OnFailed
// ends the presentation.
type ShowCallbacks struct {
	OnReward    func(Reward)
	OnDismissed func()
	OnFailed    func(error)
}

// Unit is a loaded ad that can be presented once.
type Unit interface {
	Show(cb ShowCallbacks)
}

// Provider is the external ad inventory SDK. Callbacks may be invoked on any
// goroutine.
type Provider interface {
	// Initialize starts the SDK and calls done once it is ready to load.
	Initialize(done func())
	// Load requests one ad for the given unit id.
	Load(kind SlotKind, unitID string, done func(Unit, error))
}

// presentation tracks one Show of a unit.
type presentation struct {
	callback string
	rewarded bool
	finished bool
}

type slot struct {
	kind    SlotKind
	unitID  string
	state   State
	unit    Unit
	current *presentation
}

func (s *slot) testUnit() bool {
	return containsMarker(s.unitID)
}
