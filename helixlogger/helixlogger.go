/*
Package helixlogger is the logging package used by all backend services. It
wraps a zap logger that tees output to the console and, outside local
environments, to Logz.io and Sentry. Packages should import it as
`logger "github.com/helixhq/helix/backend/services/helixlogger"` and never
log through fmt directly.
*/
package helixlogger // import "github.com/helixhq/helix/backend/services/helixlogger"

import (
	"context"
	"os"
	"runtime/debug"

	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func init() {
	logger = zap.New(newConsoleCore())
}

// usingProdLogging reports whether log output should be shipped to Logz.io
// and Sentry. We only ship from deployed environments.
func usingProdLogging() bool {
	return !metadata.IsLocalEnv()
}

// newConsoleCore builds the core that writes human-readable output to
// stdout/stderr. High-priority output goes to standard error, low-priority
// output to standard out.
func newConsoleCore() zapcore.Core {
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel
	})

	consoleDebugging := zapcore.Lock(os.Stdout)
	consoleErrors := zapcore.Lock(os.Stderr)

	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()

	// Enable colored output on the console
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderConfig)

	return zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, consoleErrors, highPriority),
		zapcore.NewCore(consoleEncoder, consoleDebugging, lowPriority),
	)
}

// Initialize sets up the production logging integrations. It should be called
// as close as possible to the top of main, so that any errors that occur
// during startup are shipped. On local environments it is a no-op and logs
// stay on the console only.
func Initialize() {
	if !usingProdLogging() {
		Infof("Running in app environment %s so not setting up Logz.io or Sentry.", metadata.GetAppEnvironment())
		return
	}

	cores := []zapcore.Core{newConsoleCore()}

	jsonEncoder := zapcore.NewJSONEncoder(newShippingEncoderConfig())

	logzCore, err := newLogzioCore(jsonEncoder, zapcore.InfoLevel)
	if err != nil {
		Errorf("couldn't set up Logz.io core: %s", err)
	} else {
		cores = append(cores, logzCore)
	}

	sentCore, err := newSentryCore(jsonEncoder, zapcore.ErrorLevel)
	if err != nil {
		Errorf("couldn't set up Sentry core: %s", err)
	} else {
		cores = append(cores, sentCore)
	}

	logger = zap.New(zapcore.NewTee(cores...))
}

// newShippingEncoderConfig returns a configuration that is appropriate for
// the JSON payloads shipped to Logz.io and Sentry.
func newShippingEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "type",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.EpochTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// Close flushes all production logging (i.e. Sentry and Logz.io). Call it
// before the program terminates.
func Close() {
	_ = logger.Sync()
}

// Info logs some info + timestamp, but does not send it to Sentry.
func Info(v ...interface{}) {
	logger.Sugar().Info(v...)
}

// Error logs an error and sends it to Sentry.
func Error(err error) {
	logger.Sugar().Error(err)
}

// Warning logs an error in yellow text, like Error, but doesn't send it to
// Sentry.
func Warning(err error) {
	logger.Sugar().Warn(err)
}

// Infof is identical to Info, but it respects printf syntax.
func Infof(format string, v ...interface{}) {
	logger.Sugar().Infof(format, v...)
}

// Errorf is like Error, but it respects printf syntax, i.e. takes in a format
// string and arguments, for convenience.
func Errorf(format string, v ...interface{}) {
	logger.Sugar().Errorf(format, v...)
}

// Warningf is like Warning, but it respects printf syntax.
func Warningf(format string, v ...interface{}) {
	logger.Sugar().Warnf(format, v...)
}

// Infow logs a message with the additional zap fields. Use it to attach a
// request's logging context to the message.
func Infow(msg string, fields []interface{}) {
	logger.Sugar().Infow(msg, fields...)
}

// Errorw is like Infow but logs at error level.
func Errorw(msg string, fields []interface{}) {
	logger.Sugar().Errorw(msg, fields...)
}

// Warningw is like Infow but logs at warning level.
func Warningw(msg string, fields []interface{}) {
	logger.Sugar().Warnw(msg, fields...)
}

// Panic sends an error to Sentry and "pretends" to panic on it by printing
// the stack trace and calling the provided global context-cancelling
// function. This causes all the goroutines in the program to kill themselves
// (cleanly). This function should not be used except to initiate termination
// of the entire service. Passing in a nil `globalCancel` parameter will just
// panic on `err` instead.
func Panic(globalCancel context.CancelFunc, err error) {
	PrintStackTrace()

	if globalCancel != nil {
		Error(err)
		globalCancel()
	} else {
		// If we're truly trying to panic, let's at least flush our logging
		// queues first so this error actually gets sent.
		_ = logger.Sync()
		logger.Sugar().Panic(err)
	}
}

// Panicf is like Panic, but it respects printf syntax.
func Panicf(globalCancel context.CancelFunc, format string, v ...interface{}) {
	Panic(globalCancel, utils.MakeError(format, v...))
}

// PrintStackTrace prints the stack trace, for debugging purposes.
func PrintStackTrace() {
	Info("Printing stack trace: ")
	debug.PrintStack()
}
