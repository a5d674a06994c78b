package observability

import (
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLoggerWithService constructs a production zap.Logger named after serviceName.
// The returned logger should be passed to other components for structured logging.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	return InitLoggerWithLevel(getLogLevel(), serviceName)
}

// InitLoggerWithLevel constructs a zap.Logger at the provided level.
// The returned logger is named with the service name and installed as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// the host usually runs attached to a terminal during development
	if isDevelopment() {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	logger = logger.Named(serviceName).With(zap.String("service", serviceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func isDevelopment() bool {
	env := strings.ToLower(os.Getenv("ENV"))
	return env == "development" || env == "dev"
}

// getLogLevel determines the log level from ENV and LOG_LEVEL.
func getLogLevel() zapcore.Level {
	logLevel := strings.ToUpper(os.Getenv("LOG_LEVEL"))
	if logLevel == "" {
		if isDevelopment() {
			return zap.DebugLevel
		}
		return zap.InfoLevel
	}

	switch logLevel {
	case "DEBUG":
		return zap.DebugLevel
	case "INFO":
		return zap.InfoLevel
	case "WARN":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Sampler decides whether a high-volume log line (one per served asset, for
// example) should be emitted. It is safe for concurrent use.
type Sampler struct {
	rate    float64
	total   atomic.Int64
	sampled atomic.Int64
}

// NewSampler returns a Sampler keeping roughly rate (0.0-1.0) of the lines.
func NewSampler(rate float64) *Sampler {
	return &Sampler{rate: rate}
}

// Sample reports whether the current line should be logged.
func (s *Sampler) Sample() bool {
	if s == nil {
		return true
	}
	s.total.Add(1)
	ok := s.rate >= 1.0 || (s.rate > 0 && rand.Float64() < s.rate)
	if ok {
		s.sampled.Add(1)
	}
	return ok
}

// Stats returns the number of lines considered and the number kept.
func (s *Sampler) Stats() (total, sampled int64) {
	return s.total.Load(), s.sampled.Load()
}

// GetSamplingRate returns the per-request log sampling rate for the environment.
func GetSamplingRate() float64 {
	env := strings.ToLower(os.Getenv("ENV"))
	switch env {
	case "development", "dev":
		return 1.0
	case "staging", "test":
		return 0.5
	default:
		return 0.1
	}
}

// LogSamplingStats logs the sampler's counters.
func LogSamplingStats(logger *zap.Logger, s *Sampler) {
	total, sampled := s.Stats()
	if total == 0 {
		return
	}
	logger.Info("sampling stats",
		zap.Float64("target_rate", s.rate),
		zap.Float64("actual_rate", float64(sampled)/float64(total)),
		zap.Int64("total_logs", total),
		zap.Int64("sampled_logs", sampled),
	)
}
