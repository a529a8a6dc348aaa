// Package logging maps cepler's verbosity count onto a zap logger. It
// replaces the teacher's `verbose int` + infof/debugf global (git-backup.go)
// with structured logging, but keeps the same three-level scheme: 0 silent,
// 1 info, 2+ debug.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a SugaredLogger whose level follows cepler's -v counting
// flag: verbosity <= 0 is silent (only errors), 1 is info, 2+ is debug.
func New(verbosity int) *zap.SugaredLogger {
	var level zapcore.Level
	switch {
	case verbosity <= 0:
		level = zapcore.ErrorLevel
	case verbosity == 1:
		level = zapcore.InfoLevel
	default:
		level = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = ""
	cfg.DisableStacktrace = verbosity < 2

	logger, err := cfg.Build()
	if err != nil {
		// zap's own config construction failing means stdout/stderr are
		// unusable - fall back to a no-op logger rather than crash cepler
		// over a logging setup error.
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
