// Package observability provides shared logging for the CLI.
//
// Library packages take a *zap.Logger through their constructors; the CLI
// commands use the package-level CLILogger so user-facing output stays on
// stderr with a consistent console encoding.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by CLI commands.
//
// It defaults to a console logger at info level writing to stderr.
// Call Init before Execute to adjust verbosity.
var CLILogger = newConsoleLogger(zapcore.InfoLevel)

// Init reconfigures CLILogger verbosity.
func Init(verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	CLILogger = newConsoleLogger(level)
}

// Sync flushes any buffered log entries. Safe to call on exit.
func Sync() {
	_ = CLILogger.Sync()
}

func newConsoleLogger(level zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}
