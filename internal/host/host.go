// Package host wires the asset server, the bridge and the renderer together
// and forwards the host runtime's lifecycle events to them.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/ads"
	"github.com/patrickwarner/neonshell/internal/delivery"
	"github.com/patrickwarner/neonshell/internal/dispatch"
	"github.com/patrickwarner/neonshell/internal/observability"
)

// ErrNotCreated is returned by lifecycle calls made before Create.
var ErrNotCreated = errors.New("host not created")

// Renderer is the embedded content renderer.
type Renderer interface {
	LoadURL(url string) error
	// Back navigates back in history and reports whether it did.
	Back() (bool, error)
	Pause() error
	Resume() error
	Destroy() error
}

// AssetServer is the local loopback server.
type AssetServer interface {
	Start() error
	Addr() string
	Stop(ctx context.Context) error
}

// Options configures a Host.
type Options struct {
	Logger     *zap.Logger
	Server     AssetServer
	Renderer   Renderer
	Poster     dispatch.Poster
	Ads        *ads.Manager
	Deliverer  delivery.Deliverer
	AppVersion string
}

// Host owns the lifecycle of one content session.
type Host struct {
	logger    *zap.Logger
	server    AssetServer
	renderer  Renderer
	poster    dispatch.Poster
	ads       *ads.Manager
	deliverer delivery.Deliverer
	version   string
	now       func() time.Time

	created bool
	paused  bool
}

// New creates a Host.
func New(opts Options) *Host {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Host{
		logger:    opts.Logger.Named("host"),
		server:    opts.Server,
		renderer:  opts.Renderer,
		poster:    opts.Poster,
		ads:       opts.Ads,
		deliverer: opts.Deliverer,
		version:   opts.AppVersion,
		now:       time.Now,
	}
}

// InitialURL is the first page the renderer loads. The version and timestamp
// parameters defeat renderer caching across upgrades and launches.
func InitialURL(port, version string, t time.Time) string {
	return "http://localhost:" + port + "/index.html?v=" + url.QueryEscape(version) +
		"&t=" + strconv.FormatInt(t.UnixMilli(), 10)
}

// Create starts the asset server, initializes the ad provider and loads the
// initial page.
func (h *Host) Create(ctx context.Context) error {
	_, span := observability.Tracer("host").Start(ctx, "host.create")
	defer span.End()

	if h.created {
		return nil
	}
	if err := h.server.Start(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("start asset server: %w", err)
	}
	h.created = true

	if h.ads != nil {
		if err := h.poster.Post(h.ads.Initialize); err != nil {
			h.logger.Warn("ad initialization not scheduled", zap.Error(err))
		}
	}

	_, port, err := net.SplitHostPort(h.server.Addr())
	if err != nil {
		return fmt.Errorf("asset server address: %w", err)
	}
	u := InitialURL(port, h.version, h.now())
	span.SetAttributes(attribute.String("initial_url", u))
	h.logger.Info("Loading content", zap.String("url", u))
	if err := h.renderer.LoadURL(u); err != nil {
		span.RecordError(err)
		return fmt.Errorf("load %s: %w", u, err)
	}
	return nil
}

// PageFinished tells the content the ad bridge is available. It may be
// called from any goroutine.
func (h *Host) PageFinished(url string) {
	h.logger.Debug("page loaded", zap.String("url", url))
	err := h.poster.Post(func() {
		if err := h.deliverer.Deliver(delivery.Message{Name: delivery.OnAdMobReady}); err != nil {
			h.logger.Debug("onAdMobReady not delivered", zap.Error(err))
		}
	})
	if err != nil {
		h.logger.Warn("onAdMobReady dropped", zap.Error(err))
	}
}

// NewIntent forwards a deep link to the renderer exactly as received.
func (h *Host) NewIntent(link string) error {
	if link == "" {
		return nil
	}
	if !h.created {
		return ErrNotCreated
	}
	h.logger.Info("Deep link received", zap.String("url", link))
	return h.renderer.LoadURL(link)
}

// Back navigates the content back. It returns false when the content has no
// history left and the host should close.
func (h *Host) Back() bool {
	if !h.created {
		return false
	}
	handled, err := h.renderer.Back()
	if err != nil {
		h.logger.Warn("back navigation failed", zap.Error(err))
		return false
	}
	return handled
}

// Pause suspends the renderer.
func (h *Host) Pause() error {
	if !h.created || h.paused {
		return nil
	}
	h.paused = true
	return h.renderer.Pause()
}

// Resume resumes a paused renderer.
func (h *Host) Resume() error {
	if !h.created || !h.paused {
		return nil
	}
	h.paused = false
	return h.renderer.Resume()
}

// Destroy stops the asset server and tears down the renderer.
func (h *Host) Destroy(ctx context.Context) error {
	if !h.created {
		return nil
	}
	h.created = false

	var errs []error
	if err := h.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := h.renderer.Destroy(); err != nil {
		errs = append(errs, fmt.Errorf("destroy renderer: %w", err))
	}
	return errors.Join(errs...)
}

// LogRenderer is used when no renderer is attached: content is opened in an
// external browser and reaches the bridge over the websocket transport.
type LogRenderer struct {
	Logger *zap.Logger
}

func (r LogRenderer) LoadURL(url string) error {
	r.Logger.Info("Open this URL in a browser", zap.String("url", url))
	return nil
}

func (LogRenderer) Back() (bool, error) { return false, nil }
func (LogRenderer) Pause() error        { return nil }
func (LogRenderer) Resume() error       { return nil }
func (LogRenderer) Destroy() error      { return nil }
