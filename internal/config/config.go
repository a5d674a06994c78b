package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AssetRoot       string
	DefaultDocument string
	// Maximum number of asset bodies streamed at the same time
	MaxConcurrentStreams int64
	AppVersion           string
	ServiceName          string
	// Ad inventory configuration
	InterstitialUnitID string
	RewardedUnitID     string
	// Simulated ad and identity providers
	SimulatedLatency time.Duration
	SimulatedNoFill  bool
	// Haptics throttling
	VibrateCapacity   int
	VibrateRefillRate int
	VibrateMaxMs      int
	// Bridge
	BridgeQueueSize int
	RendererMode    string
	ChromePath      string
	Headless        bool
	// Reward ledger (disabled when empty)
	RedisAddr       string
	RewardLedgerTTL time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8080")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	// large media is streamed, so writes get more room than reads
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 60*time.Second)
	cfg.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
	cfg.AssetRoot = getenv("ASSET_ROOT", "assets")
	cfg.DefaultDocument = getenv("DEFAULT_DOCUMENT", "index.html")
	cfg.MaxConcurrentStreams = int64(envInt("MAX_CONCURRENT_STREAMS", 64))
	cfg.AppVersion = getenv("APP_VERSION", "4.0.1")
	cfg.ServiceName = getenv("SERVICE_NAME", "neonshell")

	cfg.InterstitialUnitID = getenv("INTERSTITIAL_UNIT_ID", "ca-app-pub-3940256099942544/1033173712")
	cfg.RewardedUnitID = getenv("REWARDED_UNIT_ID", "ca-app-pub-3940256099942544/5224354917")

	cfg.SimulatedLatency = envDuration("SIMULATED_LATENCY", 500*time.Millisecond)
	cfg.SimulatedNoFill = envBool("SIMULATED_NO_FILL", false)

	cfg.VibrateCapacity = envInt("VIBRATE_CAPACITY", 10)
	cfg.VibrateRefillRate = envInt("VIBRATE_REFILL_RATE", 5)
	cfg.VibrateMaxMs = envInt("VIBRATE_MAX_MS", 5000)

	cfg.BridgeQueueSize = envInt("BRIDGE_QUEUE_SIZE", 256)
	// "cdp" drives a Chrome window, "none" only serves assets and the websocket bridge
	cfg.RendererMode = getenv("RENDERER", "cdp")
	cfg.ChromePath = getenv("CHROME_PATH", "")
	cfg.Headless = envBool("HEADLESS", false)

	cfg.RedisAddr = getenv("REDIS_ADDR", "")
	cfg.RewardLedgerTTL = envDuration("REWARD_LEDGER_TTL", 7*24*time.Hour)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// Addr returns the loopback listen address for the asset server.
func (c Config) Addr() string {
	return "127.0.0.1:" + c.Port
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
