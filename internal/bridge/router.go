// Package bridge exposes the fixed set of native functions the embedded
// content can call. The Router holds no state of its own: every call is
// forwarded, on the bridge loop, to the component that owns the state.
//
// Calls that start asynchronous work return immediately. Their results reach
// the content later as separately named messages (see package delivery).
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/ads"
	"github.com/patrickwarner/neonshell/internal/delivery"
	"github.com/patrickwarner/neonshell/internal/identity"
	"github.com/patrickwarner/neonshell/internal/observability"
)

var (
	// ErrUnknownFunction is returned by Invoke for names outside the call surface.
	ErrUnknownFunction = errors.New("unknown bridge function")
	// ErrBadArguments is returned by Invoke when arguments do not match the function.
	ErrBadArguments = errors.New("bad bridge arguments")
)

// Content-callable function names.
const (
	FnVibrate                   = "vibrate"
	FnShowInterstitial          = "showInterstitial"
	FnShowRewardedAd            = "showRewardedAd"
	FnShowRewardedAdForContinue = "showRewardedAdForContinue"
	FnIsAdReady                 = "isAdReady"
	FnIsRewardedAdReady         = "isRewardedAdReady"
	FnSignInWithGoogle          = "signInWithGoogle"
	FnSignOut                   = "signOut"
)

// Functions lists the call surface in a stable order.
var Functions = []string{
	FnVibrate,
	FnShowInterstitial,
	FnShowRewardedAd,
	FnShowRewardedAdForContinue,
	FnIsAdReady,
	FnIsRewardedAdReady,
	FnSignInWithGoogle,
	FnSignOut,
}

// Loop runs work on the serialized bridge sequence.
type Loop interface {
	Post(fn func()) error
	Call(ctx context.Context, fn func()) error
}

// Vibrator is the haptics capability.
type Vibrator interface {
	Vibrate(ms int64) error
}

// Router dispatches content calls to their owners.
type Router struct {
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	loop     Loop
	ads      *ads.Manager
	identity *identity.Coordinator
	haptics  Vibrator
}

// NewRouter builds a Router. All collaborators are required.
func NewRouter(logger *zap.Logger, metrics observability.MetricsRegistry, loop Loop, adm *ads.Manager, id *identity.Coordinator, haptics Vibrator) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Router{
		logger:   logger.Named("bridge"),
		metrics:  metrics,
		loop:     loop,
		ads:      adm,
		identity: id,
		haptics:  haptics,
	}
}

// Vibrate runs the haptic motor. It does not touch ad or identity state.
func (r *Router) Vibrate(ms int64) {
	r.post(FnVibrate, func() {
		if err := r.haptics.Vibrate(ms); err != nil {
			r.logger.Warn("vibrate failed", zap.Error(err))
		}
	})
}

// ShowInterstitial presents the interstitial, or loads one if none is ready.
func (r *Router) ShowInterstitial() {
	r.post(FnShowInterstitial, func() { r.ads.Show(ads.Interstitial, "") })
}

// ShowRewardedAd presents the rewarded ad; the reward arrives as onAdRewarded.
func (r *Router) ShowRewardedAd() {
	r.post(FnShowRewardedAd, func() { r.ads.Show(ads.Rewarded, delivery.OnAdRewarded) })
}

// ShowRewardedAdForContinue presents the rewarded ad; the reward arrives as
// onAdRewardedContinue.
func (r *Router) ShowRewardedAdForContinue() {
	r.post(FnShowRewardedAdForContinue, func() { r.ads.Show(ads.Rewarded, delivery.OnAdRewardedContinue) })
}

// IsAdReady reports whether an interstitial is loaded.
func (r *Router) IsAdReady(ctx context.Context) (bool, error) {
	return r.ready(ctx, FnIsAdReady, ads.Interstitial)
}

// IsRewardedAdReady reports whether a rewarded ad is loaded.
func (r *Router) IsRewardedAdReady(ctx context.Context) (bool, error) {
	return r.ready(ctx, FnIsRewardedAdReady, ads.Rewarded)
}

// SignInWithGoogle starts the identity hand-off. The credential or failure
// arrives later as a message.
func (r *Router) SignInWithGoogle() {
	r.post(FnSignInWithGoogle, func() {
		if err := r.identity.BeginSignIn(); err != nil {
			r.logger.Info("sign-in not started", zap.Error(err))
		}
	})
}

// SignOut signs out and reports onNativeAuthResult(true, "Signed out").
func (r *Router) SignOut() {
	r.post(FnSignOut, r.identity.SignOut)
}

func (r *Router) ready(ctx context.Context, fn string, kind ads.SlotKind) (bool, error) {
	var ready bool
	if err := r.loop.Call(ctx, func() { ready = r.ads.IsReady(kind) }); err != nil {
		r.metrics.IncrementBridgeCalls(fn, "error")
		return false, fmt.Errorf("%s: %w", fn, err)
	}
	r.metrics.IncrementBridgeCalls(fn, "ok")
	return ready, nil
}

func (r *Router) post(fn string, work func()) {
	if err := r.loop.Post(work); err != nil {
		r.metrics.IncrementBridgeCalls(fn, "error")
		r.logger.Warn("bridge call dropped", zap.String("function", fn), zap.Error(err))
		return
	}
	r.metrics.IncrementBridgeCalls(fn, "ok")
}

// Invoke dispatches a call by name for transports that receive calls as data.
// Asynchronous functions return a nil result.
func (r *Router) Invoke(ctx context.Context, name string, args []json.RawMessage) (any, error) {
	switch name {
	case FnVibrate:
		if len(args) != 1 {
			return nil, r.badArgs(name, "want 1 argument, got %d", len(args))
		}
		var ms float64
		if err := json.Unmarshal(args[0], &ms); err != nil {
			return nil, r.badArgs(name, "duration: %v", err)
		}
		r.Vibrate(int64(ms))
		return nil, nil
	case FnIsAdReady:
		return r.IsAdReady(ctx)
	case FnIsRewardedAdReady:
		return r.IsRewardedAdReady(ctx)
	}

	noArgs, ok := map[string]func(){
		FnShowInterstitial:          r.ShowInterstitial,
		FnShowRewardedAd:            r.ShowRewardedAd,
		FnShowRewardedAdForContinue: r.ShowRewardedAdForContinue,
		FnSignInWithGoogle:          r.SignInWithGoogle,
		FnSignOut:                   r.SignOut,
	}[name]
	if !ok {
		r.metrics.IncrementBridgeCalls("unknown", "error")
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownFunction)
	}
	if len(args) != 0 {
		return nil, r.badArgs(name, "takes no arguments, got %d", len(args))
	}
	noArgs()
	return nil, nil
}

func (r *Router) badArgs(name, format string, a ...any) error {
	r.metrics.IncrementBridgeCalls(name, "bad_arguments")
	return fmt.Errorf("%s: %s: %w", name, fmt.Sprintf(format, a...), ErrBadArguments)
}
