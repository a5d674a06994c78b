// Package identity coordinates the native sign-in round trip and hands the
// resulting credential token to the content context.
//
// The coordinator moves Idle -> AwaitingExternalResult -> Resolved|Failed ->
// Idle. Only one hand-off is outstanding per host session; a second sign-in
// while one is pending is rejected and reported to the content. All methods
// must run on the bridge loop.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/delivery"
	"github.com/patrickwarner/neonshell/internal/dispatch"
	"github.com/patrickwarner/neonshell/internal/observability"
)

var (
	// ErrSignInInProgress is returned by BeginSignIn while a hand-off is outstanding.
	ErrSignInInProgress = errors.New("sign-in already in progress")
	// ErrEmptyToken is the failure reported when the provider succeeds without a token.
	ErrEmptyToken = errors.New("no identity token returned")
	// ErrCancelled is the failure a provider reports when the user dismissed the picker.
	ErrCancelled = errors.New("sign-in cancelled")
)

// Messages reported through onNativeAuthResult.
const (
	msgInProgress = "Sign-in already in progress"
	msgSignedOut  = "Signed out"
	msgFailed     = "Google Sign In failed: "
)

// State of the hand-off state machine.
type State int

const (
	Idle State = iota
	AwaitingExternalResult
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingExternalResult:
		return "awaiting_external_result"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is what the external picker returns.
type Outcome struct {
	Token string
	Err   error
}

// Provider is the external identity federation SDK.
type Provider interface {
	// LaunchPicker starts the account picker. done is called exactly once, on
	// any goroutine, with the outcome.
	LaunchPicker(done func(Outcome))
	// SignOut signs the user out of the provider. Errors are best effort.
	SignOut() error
}

// Request is the single outstanding hand-off.
type Request struct {
	ID        string
	StartedAt time.Time
}

// Coordinator owns the outstanding hand-off request.
type Coordinator struct {
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
	provider  Provider
	poster    dispatch.Poster
	deliverer delivery.Deliverer
	now       func() time.Time

	state   State
	current *Request
}

// NewCoordinator creates an Idle coordinator.
func NewCoordinator(logger *zap.Logger, metrics observability.MetricsRegistry, provider Provider, poster dispatch.Poster, deliverer delivery.Deliverer) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Coordinator{
		logger:    logger.Named("identity"),
		metrics:   metrics,
		provider:  provider,
		poster:    poster,
		deliverer: deliverer,
		now:       time.Now,
	}
}

// State returns the current state.
func (c *Coordinator) State() State { return c.state }

// Pending returns the outstanding request, if any.
func (c *Coordinator) Pending() (Request, bool) {
	if c.current == nil {
		return Request{}, false
	}
	return *c.current, true
}

// BeginSignIn launches the external picker. A call while a hand-off is
// outstanding returns ErrSignInInProgress and notifies the content; the
// outstanding request is left untouched.
func (c *Coordinator) BeginSignIn() error {
	if c.state != Idle {
		c.logger.Warn("sign-in rejected", zap.String("request_id", c.current.ID))
		c.metrics.IncrementIdentityOutcome("rejected")
		c.notify(false, msgInProgress)
		return ErrSignInInProgress
	}

	req := &Request{ID: uuid.NewString(), StartedAt: c.now()}
	c.current = req
	c.state = AwaitingExternalResult
	c.logger.Info("launching sign-in picker", zap.String("request_id", req.ID))

	c.provider.LaunchPicker(func(o Outcome) {
		if err := c.poster.Post(func() { c.complete(req, o) }); err != nil {
			c.logger.Warn("sign-in result dropped", zap.String("request_id", req.ID), zap.Error(err))
		}
	})
	return nil
}

// OnExternalResult resolves the outstanding hand-off with outcome. Results
// with nothing outstanding are ignored.
func (c *Coordinator) OnExternalResult(o Outcome) {
	c.complete(c.current, o)
}

func (c *Coordinator) complete(req *Request, o Outcome) {
	if req == nil || c.current != req || c.state != AwaitingExternalResult {
		c.logger.Warn("ignoring sign-in result with no outstanding request")
		return
	}

	err := o.Err
	if err == nil && o.Token == "" {
		err = ErrEmptyToken
	}
	elapsed := c.now().Sub(req.StartedAt)

	if err != nil {
		c.state = Failed
		c.logger.Warn("sign-in failed",
			zap.String("request_id", req.ID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		c.metrics.IncrementIdentityOutcome(outcomeLabel(err))
		c.notify(false, msgFailed+err.Error())
	} else {
		c.state = Resolved
		c.logger.Info("sign-in succeeded",
			zap.String("request_id", req.ID),
			zap.Duration("elapsed", elapsed),
			zap.Int("token_length", len(o.Token)),
		)
		c.metrics.IncrementIdentityOutcome("resolved")
		msg := delivery.Message{
			Target: delivery.CredentialHandler,
			Name:   delivery.CredentialMethod,
			Args:   []any{o.Token},
		}
		if err := c.deliverer.Deliver(msg); err != nil {
			c.logger.Warn("credential not delivered", zap.String("request_id", req.ID), zap.Error(err))
		}
	}

	c.current = nil
	c.state = Idle
}

// SignOut signs out of the provider and reports success unconditionally.
func (c *Coordinator) SignOut() {
	if err := c.provider.SignOut(); err != nil {
		c.logger.Warn("provider sign-out failed", zap.Error(err))
	}
	c.metrics.IncrementIdentityOutcome("signed_out")
	c.notify(true, msgSignedOut)
}

func (c *Coordinator) notify(success bool, message string) {
	msg := delivery.Message{Name: delivery.OnNativeAuthResult, Args: []any{success, message}}
	if err := c.deliverer.Deliver(msg); err != nil {
		c.logger.Warn("auth result not delivered", zap.Error(err))
	}
}

func outcomeLabel(err error) string {
	if errors.Is(err, ErrCancelled) {
		return "cancelled"
	}
	return "failed"
}
