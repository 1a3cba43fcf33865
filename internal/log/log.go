// Package log is the collector's ambient logging facility, a thin wrapper
// around zap so the rest of the module never imports zap directly.
package log

import (
	"go.uber.org/zap"
)

// Level gates which calls actually reach the underlying logger.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

var logLevel Level

//nolint:gochecknoinits // mirrors the teacher's package-level zap bootstrap
func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

// SetLevel changes the minimum level that reaches the logger.
func SetLevel(level Level) {
	logLevel = level
}

func Debug(format string, args ...interface{}) {
	if logLevel <= DEBUG {
		zap.S().Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if logLevel <= INFO {
		zap.S().Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if logLevel <= WARNING {
		zap.S().Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if logLevel <= ERROR {
		zap.S().Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	zap.S().Fatalf(format, args...)
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = zap.S().Sync()
}
