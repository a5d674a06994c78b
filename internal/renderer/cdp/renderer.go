// Package cdp renders the content in a Chrome window driven over the DevTools
// protocol. It installs the native call surface through a runtime binding and
// delivers bridge messages with Runtime.evaluate.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/bridge"
)

// ErrNotStarted is returned by operations on a renderer that is not running.
var ErrNotStarted = errors.New("renderer not started")

const (
	callTimeout = 5 * time.Second
	// binding calls waiting for the call worker
	callQueueSize = 256
)

// Options configures a Renderer.
type Options struct {
	Logger *zap.Logger
	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath string
	Headless bool
	// RemoteURL attaches to an already running browser instead of launching one.
	RemoteURL string
	// Invoker receives calls the content makes through the binding.
	Invoker bridge.Invoker
	// OnPageFinished runs after each top-level page load, on its own goroutine.
	OnPageFinished func(url string)
}

// Renderer owns one Chrome tab.
type Renderer struct {
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	url         string

	// content calls are served one at a time, in the order they were made
	calls      chan string
	quit       chan struct{}
	workerOnce sync.Once
	quitOnce   sync.Once
}

// New creates a Renderer. Call Start to launch the browser.
func New(opts Options) *Renderer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Renderer{
		opts:   opts,
		logger: opts.Logger.Named("cdp"),
		calls:  make(chan string, callQueueSize),
		quit:   make(chan struct{}),
	}
}

func (r *Renderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("app", "about:blank"),
	)
	if r.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.opts.ExecPath))
	}
	if r.opts.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// Start launches (or attaches to) the browser and prepares the tab: the
// binding, the content shim and the event listeners.
func (r *Renderer) Start(ctx context.Context) error {
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if r.opts.RemoteURL != "" {
		r.logger.Info("Connecting to Chrome", zap.String("url", r.opts.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, r.opts.RemoteURL)
	} else {
		r.logger.Info("Launching Chrome", zap.Bool("headless", r.opts.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(r.logger.Sugar().Debugf),
		chromedp.WithErrorf(r.logger.Sugar().Errorf),
	)
	chromedp.ListenTarget(tabCtx, r.onEvent)

	if err := chromedp.Run(tabCtx,
		runtime.Enable(),
		page.Enable(),
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(shimScript).Do(ctx)
			return err
		}),
	); err != nil {
		cancel()
		allocCancel()
		return fmt.Errorf("cannot start Chrome: %w", err)
	}

	r.mu.Lock()
	r.ctx, r.cancel, r.allocCancel = tabCtx, cancel, allocCancel
	r.mu.Unlock()
	return nil
}

func (r *Renderer) tab() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return nil, ErrNotStarted
	}
	return r.ctx, nil
}

// onEvent runs on chromedp's event goroutine and must not block.
func (r *Renderer) onEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		if ev.Name != BindingName {
			return
		}
		r.workerOnce.Do(func() { go r.serveCalls() })
		select {
		case r.calls <- ev.Payload:
		default:
			r.logger.Warn("binding call dropped, call queue full")
		}
	case *page.EventFrameNavigated:
		if ev.Frame.ParentID == "" {
			r.mu.Lock()
			r.url = ev.Frame.URL
			r.mu.Unlock()
		}
	case *page.EventLoadEventFired:
		if r.opts.OnPageFinished != nil {
			go r.opts.OnPageFinished(r.URL())
		}
	case *runtime.EventExceptionThrown:
		r.logger.Debug("content exception", zap.String("text", ev.ExceptionDetails.Error()))
	}
}

func (r *Renderer) serveCalls() {
	for {
		select {
		case <-r.quit:
			return
		case payload := <-r.calls:
			r.handleCall(payload)
		}
	}
}

func (r *Renderer) handleCall(payload string) {
	var call bridge.Call
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		r.logger.Warn("malformed binding payload", zap.Error(err))
		return
	}
	if r.opts.Invoker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	rep := bridge.Serve(ctx, r.opts.Invoker, call)

	b, err := json.Marshal(rep)
	if err != nil {
		r.logger.Error("encode reply", zap.Error(err))
		return
	}
	script := fmt.Sprintf("window.__neonReply && window.__neonReply(%s);", b)
	if err := r.Evaluate(ctx, script); err != nil {
		r.logger.Debug("reply not delivered", zap.String("fn", call.Fn), zap.Error(err))
	}
}

// URL returns the current top-level URL.
func (r *Renderer) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// LoadURL navigates the tab without waiting for the load to finish.
func (r *Renderer) LoadURL(url string) error {
	tab, err := r.tab()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(tab, callTimeout)
	defer cancel()
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate %s: %w", url, err)
		}
		if errText != "" {
			return fmt.Errorf("navigate %s: %s", url, errText)
		}
		return nil
	}))
}

// Evaluate runs script in the page and gives up when ctx is done or after
// callTimeout, whichever comes first. It implements delivery.Evaluator.
func (r *Renderer) Evaluate(ctx context.Context, script string) error {
	tab, err := r.tab()
	if err != nil {
		return err
	}
	// chromedp needs the tab context; the caller's only bounds the wait
	runCtx, cancel := context.WithTimeout(tab, callTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, exc, err := runtime.Evaluate(script).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		return nil
	}))
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("evaluate: %w", ctx.Err())
	}
	return err
}

// Back navigates one history entry back. It reports false when there is no
// earlier entry, leaving the decision to close to the caller.
func (r *Renderer) Back() (bool, error) {
	tab, err := r.tab()
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(tab, callTimeout)
	defer cancel()
	handled := false
	err = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cur, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		if cur <= 0 || int(cur) >= len(entries) {
			return nil
		}
		handled = true
		return page.NavigateToHistoryEntry(entries[cur-1].ID).Do(ctx)
	}))
	return handled, err
}

// Pause freezes the page; timers and rendering stop until Resume.
func (r *Renderer) Pause() error {
	return r.lifecycle(page.SetWebLifecycleStateStateFrozen)
}

// Resume thaws a paused page.
func (r *Renderer) Resume() error {
	return r.lifecycle(page.SetWebLifecycleStateStateActive)
}

func (r *Renderer) lifecycle(state page.SetWebLifecycleStateState) error {
	tab, err := r.tab()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(tab, callTimeout)
	defer cancel()
	return chromedp.Run(ctx, page.SetWebLifecycleState(state))
}

// Destroy closes the tab and the browser it launched.
func (r *Renderer) Destroy() error {
	r.quitOnce.Do(func() { close(r.quit) })

	r.mu.Lock()
	cancel, allocCancel := r.cancel, r.allocCancel
	r.ctx, r.cancel, r.allocCancel = nil, nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	allocCancel()
	r.logger.Info("Chrome closed")
	return nil
}
