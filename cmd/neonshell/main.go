package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/ads"
	"github.com/patrickwarner/neonshell/internal/api"
	"github.com/patrickwarner/neonshell/internal/assets"
	"github.com/patrickwarner/neonshell/internal/bridge"
	"github.com/patrickwarner/neonshell/internal/bridge/wsbridge"
	"github.com/patrickwarner/neonshell/internal/config"
	"github.com/patrickwarner/neonshell/internal/delivery"
	"github.com/patrickwarner/neonshell/internal/dispatch"
	"github.com/patrickwarner/neonshell/internal/haptics"
	"github.com/patrickwarner/neonshell/internal/host"
	"github.com/patrickwarner/neonshell/internal/identity"
	"github.com/patrickwarner/neonshell/internal/observability"
	"github.com/patrickwarner/neonshell/internal/renderer/cdp"
	"github.com/patrickwarner/neonshell/internal/rewards"
)

func main() {
	// a missing .env is fine; the environment still applies
	_ = godotenv.Load()

	cfg := config.Load()
	if err := parseFlags(&cfg, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("host error", zap.Error(err))
		os.Exit(1)
	}
}

// parseFlags lets the command line override the environment.
func parseFlags(cfg *config.Config, args []string) error {
	flagSet := pflag.NewFlagSet("neonshell", pflag.ContinueOnError)
	flagSet.StringVarP(&cfg.Port, "port", "p", cfg.Port, "loopback port for the asset server")
	flagSet.StringVar(&cfg.AssetRoot, "assets", cfg.AssetRoot, "directory holding the bundled web application")
	flagSet.StringVar(&cfg.RendererMode, "renderer", cfg.RendererMode, `content renderer: "cdp" or "none"`)
	flagSet.StringVar(&cfg.ChromePath, "chrome", cfg.ChromePath, "path to the Chrome binary")
	flagSet.BoolVar(&cfg.Headless, "headless", cfg.Headless, "run Chrome headless")
	flagSet.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address for the reward ledger (empty disables it)")
	return flagSet.Parse(args)
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.AppVersion, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	// the bridge loop plays the role of the UI thread
	loop := dispatch.NewLoop(logger.Named("dispatch"), cfg.BridgeQueueSize)
	go loop.Run(ctx)
	defer func() {
		loop.Close()
		<-loop.Done()
	}()

	var (
		ledger ads.RewardRecorder
		store  *rewards.Ledger
	)
	if cfg.RedisAddr != "" {
		l, err := rewards.Open(ctx, cfg.RedisAddr, cfg.RewardLedgerTTL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer l.Close()
		ledger, store = l, l
	}

	events := delivery.NewFanout()

	adManager := ads.NewManager(ads.Options{
		Logger:  logger,
		Metrics: metricsRegistry,
		Provider: &ads.SimulatedProvider{
			Logger:       logger.Named("ads.simulated"),
			LoadDelay:    cfg.SimulatedLatency,
			ShowDuration: cfg.SimulatedLatency,
			NoFill:       cfg.SimulatedNoFill,
		},
		Poster:             loop,
		Deliverer:          events,
		Ledger:             ledger,
		InterstitialUnitID: cfg.InterstitialUnitID,
		RewardedUnitID:     cfg.RewardedUnitID,
	})
	coordinator := identity.NewCoordinator(logger, metricsRegistry,
		&identity.SimulatedProvider{Delay: cfg.SimulatedLatency}, loop, events)

	// the renderer is built before the router it calls into; calls only
	// arrive once it is started
	var (
		shell    *host.Host
		router   *bridge.Router
		renderer host.Renderer
		vibrator haptics.Vibrator = haptics.LogVibrator{Logger: logger.Named("haptics")}
		browser  *cdp.Renderer
	)
	switch cfg.RendererMode {
	case "cdp":
		browser = cdp.New(cdp.Options{
			Logger:   logger,
			ExecPath: cfg.ChromePath,
			Headless: cfg.Headless,
			Invoker: bridge.InvokerFunc(func(ctx context.Context, name string, args []json.RawMessage) (any, error) {
				return router.Invoke(ctx, name, args)
			}),
			OnPageFinished: func(url string) { shell.PageFinished(url) },
		})
		events.Add("renderer", &delivery.ScriptDeliverer{Evaluator: browser, Logger: logger, Metrics: metricsRegistry})
		vibrator = haptics.ScriptVibrator{Evaluator: browser}
		renderer = browser
	case "none":
		renderer = host.LogRenderer{Logger: logger}
	default:
		return fmt.Errorf("unknown renderer %q", cfg.RendererMode)
	}

	motor := haptics.New(haptics.Config{
		Capacity:   cfg.VibrateCapacity,
		RefillRate: cfg.VibrateRefillRate,
		MaxMs:      cfg.VibrateMaxMs,
	}, vibrator, logger, metricsRegistry)
	router = bridge.NewRouter(logger, metricsRegistry, loop, adManager, coordinator, motor)

	resolver, err := assets.OpenDir(cfg.AssetRoot, cfg.DefaultDocument)
	if err != nil {
		return err
	}
	defer resolver.Close()
	srv := api.NewServer(logger, resolver, metricsRegistry, cfg)
	srv.SetBridgeHandler(wsbridge.NewHandler(logger, router, events))

	shell = host.New(host.Options{
		Logger:     logger,
		Server:     srv,
		Renderer:   renderer,
		Poster:     loop,
		Ads:        adManager,
		Deliverer:  events,
		AppVersion: cfg.AppVersion,
	})

	if browser != nil {
		if err := browser.Start(ctx); err != nil {
			return err
		}
	}
	if err := shell.Create(ctx); err != nil {
		_ = renderer.Destroy()
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = shell.Destroy(shutdownCtx)

	throttled, total := motor.Stats()
	logger.Info("haptics stats", zap.Int64("requests", total), zap.Int64("throttled", throttled))
	if store != nil {
		if err := store.LogSummary(shutdownCtx, time.Now()); err != nil {
			logger.Warn("reward summary unavailable", zap.Error(err))
		}
	}
	return err
}
