// Package delivery carries bridge messages from native code into the content
// execution context. Delivery is one-way and at-most-once: a message whose
// handler the content has not registered is silently dropped.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/observability"
)

// Global callback names the content must define.
const (
	OnAdMobReady         = "onAdMobReady"
	OnAdRewarded         = "onAdRewarded"
	OnAdRewardedContinue = "onAdRewardedContinue"
	OnNativeAuthResult   = "onNativeAuthResult"
)

// Credential delivery goes to a method on a content-defined handler object.
const (
	CredentialHandler = "firebaseHandler"
	CredentialMethod  = "signInWithGoogleCredential"
)

// ErrInvalidName is returned for function or target names that are not plain
// dotted identifiers.
var ErrInvalidName = errors.New("invalid callback name")

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Message is one outbound notification for the content context.
type Message struct {
	// Name is the function to call.
	Name string
	// Target is an optional dotted path to the object owning Name, resolved
	// from window. Empty means Name is a global function.
	Target string
	Args   []any
}

// Deliverer hands a message to the content context. Implementations must not
// block on the content and must not retry.
type Deliverer interface {
	Deliver(msg Message) error
}

// ValidName reports whether name is a dotted identifier path.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if !identRe.MatchString(part) {
			return false
		}
	}
	return true
}

// Script renders msg as a guarded call expression. The call only happens if
// the content registered the handler; otherwise the script is a no-op.
func Script(msg Message) (string, error) {
	if !identRe.MatchString(msg.Name) {
		return "", fmt.Errorf("%q: %w", msg.Name, ErrInvalidName)
	}
	if msg.Target != "" && !ValidName(msg.Target) {
		return "", fmt.Errorf("%q: %w", msg.Target, ErrInvalidName)
	}

	args := make([]string, 0, len(msg.Args))
	for _, a := range msg.Args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encode argument for %s: %w", msg.Name, err)
		}
		args = append(args, string(b))
	}
	call := "(" + strings.Join(args, ",") + ");"

	if msg.Target == "" {
		return fmt.Sprintf("if (typeof %[1]s === 'function') %[1]s%[2]s", msg.Name, call), nil
	}

	// guard every segment of the owner path
	owner := "window"
	var guards []string
	for _, part := range strings.Split(msg.Target, ".") {
		owner += "." + part
		guards = append(guards, owner)
	}
	fn := owner + "." + msg.Name
	return fmt.Sprintf("if (%s && typeof %s === 'function') %s%s",
		strings.Join(guards, " && "), fn, fn, call), nil
}

// DefaultEvaluateTimeout bounds a single script evaluation. A frozen or hung
// page costs the bridge loop at most this long per message.
const DefaultEvaluateTimeout = 2 * time.Second

// Evaluator runs a script in the content context without waiting for a
// result. It must give up once ctx is done.
type Evaluator interface {
	Evaluate(ctx context.Context, script string) error
}

// ScriptDeliverer delivers messages by evaluating rendered scripts.
type ScriptDeliverer struct {
	Evaluator Evaluator
	Logger    *zap.Logger
	Metrics   observability.MetricsRegistry
	// Timeout bounds each evaluation; zero uses DefaultEvaluateTimeout.
	Timeout time.Duration
}

// Deliver renders and evaluates msg.
func (d *ScriptDeliverer) Deliver(msg Message) error {
	script, err := Script(msg)
	if err != nil {
		d.Metrics.IncrementBridgeMessages(msg.Name, "invalid")
		return err
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultEvaluateTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.Evaluator.Evaluate(ctx, script); err != nil {
		d.Metrics.IncrementBridgeMessages(msg.Name, "error")
		d.Logger.Warn("bridge message not delivered", zap.String("name", msg.Name), zap.Error(err))
		return fmt.Errorf("evaluate %s: %w", msg.Name, err)
	}
	d.Metrics.IncrementBridgeMessages(msg.Name, "ok")
	return nil
}

// Fanout delivers every message to all registered deliverers. Failures of one
// deliverer do not stop the others.
type Fanout struct {
	mu      sync.RWMutex
	targets map[string]Deliverer
}

// NewFanout returns an empty Fanout.
func NewFanout() *Fanout {
	return &Fanout{targets: make(map[string]Deliverer)}
}

// Add registers d under key, replacing any previous deliverer with that key.
func (f *Fanout) Add(key string, d Deliverer) {
	f.mu.Lock()
	f.targets[key] = d
	f.mu.Unlock()
}

// Remove unregisters key.
func (f *Fanout) Remove(key string) {
	f.mu.Lock()
	delete(f.targets, key)
	f.mu.Unlock()
}

// Deliver implements Deliverer.
func (f *Fanout) Deliver(msg Message) error {
	f.mu.RLock()
	targets := make([]Deliverer, 0, len(f.targets))
	for _, d := range f.targets {
		targets = append(targets, d)
	}
	f.mu.RUnlock()

	var errs []error
	for _, d := range targets {
		if err := d.Deliver(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is an in-memory Deliverer for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Deliver records msg.
func (r *Recorder) Deliver(msg Message) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	return nil
}

// Messages returns a copy of everything delivered so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Named returns the delivered messages with the given name.
func (r *Recorder) Named(name string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}
