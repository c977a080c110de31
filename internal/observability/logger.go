// Package observability provides the shared zap logger for CLI
// commands.
//
// Log output goes to stderr so JSONL records on stdout stay clean for
// piping into other tools.
package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger. It is a no-op until
// InitCLILogger is called, so packages can log unconditionally.
var CLILogger = zap.NewNop()

// InitCLILogger configures the global logger.
//
// level is one of debug, info, warn, or error; unknown values fall
// back to info. When jsonOutput is true, log lines are structured
// JSON; otherwise a human-readable console encoding is used.
func InitCLILogger(level string, jsonOutput bool) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	if jsonOutput {
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	} else {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		// Never fail CLI startup over logger construction.
		logger = zap.NewNop()
	}
	CLILogger = logger
}

// Sync flushes buffered log entries. Call on process exit.
func Sync() {
	_ = CLILogger.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
