// Package logger builds the zap logger shared by every component.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger for production or a console logger when dev is
// set.  level is a zap level name such as "debug" or "info".
func New(level string, dev bool) (*zap.Logger, error) {
	cfg := buildConfig(dev)
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func buildConfig(dev bool) zap.Config {
	if dev {
		return zap.NewDevelopmentConfig()
	}
	prod := zap.NewProductionConfig()
	ec := &prod.EncoderConfig
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return prod
}
