package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/patrickwarner/neonshell/internal/assets"
	"github.com/patrickwarner/neonshell/internal/config"
	"github.com/patrickwarner/neonshell/internal/middleware"
	"github.com/patrickwarner/neonshell/internal/observability"
)

// NativePrefix is reserved for host endpoints; it is never resolved against the bundle.
const NativePrefix = "/__native"

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("asset server already started")

// Server is the loopback HTTP server that streams the bundled assets to the
// renderer. Handlers share nothing mutable besides the read-only bundle.
type Server struct {
	Logger   *zap.Logger
	Resolver *assets.Resolver
	Metrics  observability.MetricsRegistry
	Config   config.Config

	streams *semaphore.Weighted
	sampler *observability.Sampler
	bridge  http.Handler

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, resolver *assets.Resolver, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	limit := cfg.MaxConcurrentStreams
	if limit <= 0 {
		limit = 64
	}
	return &Server{
		Logger:   logger,
		Resolver: resolver,
		Metrics:  metrics,
		Config:   cfg,
		streams:  semaphore.NewWeighted(limit),
		sampler:  observability.NewSampler(observability.GetSamplingRate()),
	}
}

// SetBridgeHandler mounts the content bridge transport under NativePrefix.
// It must be called before Start.
func (s *Server) SetBridgeHandler(h http.Handler) {
	s.bridge = h
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	// the resolver does its own normalization; mux must not redirect on unclean paths
	r.SkipClean(true)
	r.Use(middleware.Recover(s.Logger, s.notFound))
	r.Use(middleware.WithTraceLogger(s.Logger))

	native := r.PathPrefix(NativePrefix).Subrouter()
	native.HandleFunc("/health", s.HealthHandler).Methods("GET")
	native.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if s.bridge != nil {
		native.Handle("/bridge", s.bridge)
	}
	native.NotFoundHandler = http.HandlerFunc(s.notFound)
	native.MethodNotAllowedHandler = http.HandlerFunc(s.notFound)

	r.PathPrefix("/").HandlerFunc(s.AssetHandler)
	r.NotFoundHandler = http.HandlerFunc(s.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.notFound)

	if s.Config.TracingEnabled {
		return otelhttp.NewHandler(r, "assetserver")
	}
	return r
}

// Start binds the loopback listener and serves on a dedicated goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.Config.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Config.Addr(), err)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.httpSrv = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  s.Config.ReadTimeout,
		WriteTimeout: s.Config.WriteTimeout,
		ErrorLog:     zap.NewStdLog(s.Logger.Named("http")),
	}

	srv, done := s.httpSrv, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("asset server stopped", zap.Error(err))
		}
	}()

	s.Logger.Info("Asset server running", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.Config.Addr()
}

// Stop stops accepting connections and waits for in-flight responses until
// ctx expires; responses still streaming at that point are abandoned.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpSrv, s.done
	s.httpSrv, s.listener = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	<-done
	observability.LogSamplingStats(s.Logger, s.sampler)
	s.Logger.Info("Asset server stopped")
	if err != nil {
		return fmt.Errorf("asset server shutdown: %w", err)
	}
	return nil
}
