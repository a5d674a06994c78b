package identity

import (
	"time"

	"github.com/google/uuid"
)

// SimulatedProvider resolves every sign-in after Delay. With a Token set it
// returns that token; otherwise it mints an opaque random one. Fail forces
// the given error instead.
type SimulatedProvider struct {
	Delay time.Duration
	Token string
	Fail  error
}

// LaunchPicker implements Provider.
func (p *SimulatedProvider) LaunchPicker(done func(Outcome)) {
	time.AfterFunc(p.Delay, func() {
		if p.Fail != nil {
			done(Outcome{Err: p.Fail})
			return
		}
		token := p.Token
		if token == "" {
			token = "simulated." + uuid.NewString()
		}
		done(Outcome{Token: token})
	})
}

// SignOut implements Provider.
func (p *SimulatedProvider) SignOut() error { return nil }
