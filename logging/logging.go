// Package logging builds the zap logger used by the bridge client.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogLevel overrides the configured level with a zap level name.
const EnvLogLevel = "BRIDGE_LOG_LEVEL"

// Level maps a bridge log level (0..7, the value sent to the host) onto zap.
// ok is false for level 0, which disables logging.
func Level(bridgeLevel *int) (level zapcore.Level, ok bool) {
	if bridgeLevel == nil {
		return zapcore.InfoLevel, true
	}
	switch l := *bridgeLevel; {
	case l <= 0:
		return zapcore.InfoLevel, false
	case l <= 2:
		return zapcore.ErrorLevel, true
	case l == 3:
		return zapcore.WarnLevel, true
	case l == 4:
		return zapcore.InfoLevel, true
	default:
		return zapcore.DebugLevel, true
	}
}

// New returns a production JSON logger at the level derived from bridgeLevel.
func New(bridgeLevel *int) (*zap.Logger, error) {
	level, ok := Level(bridgeLevel)
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level, ok = parsed, true
		}
	}
	if !ok {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("bridge"), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
