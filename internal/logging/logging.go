// Package logging builds the process-wide zap logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config contains logging configuration
type Config struct {
	Level  string
	Format string // "json" or "console"
	Output string // "stdout", "stderr" or a file path
}

// New creates a zap logger from cfg. Unknown levels fall back to info.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	var ec zapcore.EncoderConfig
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
		ec = zap.NewProductionEncoderConfig()
		zc.Encoding = "json"
	} else {
		zc = zap.NewDevelopmentConfig()
		ec = zap.NewDevelopmentEncoderConfig()
		zc.Encoding = "console"
	}

	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	zc.EncoderConfig = ec
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.Output != "" && cfg.Output != "stdout" {
		zc.OutputPaths = []string{cfg.Output}
		zc.ErrorOutputPaths = []string{cfg.Output}
	}

	return zc.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// ReplaceGlobal installs l as the global logger returned by zap.L and
// returns a function restoring the previous one.
func ReplaceGlobal(l *zap.Logger) func() {
	if l == nil {
		return func() {}
	}
	return zap.ReplaceGlobals(l)
}

// Named returns l.Named(name), or the named global logger when l is nil.
func Named(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		l = zap.L()
	}
	return l.Named(name)
}
