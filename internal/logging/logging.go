// Package logging builds the process-wide zap logger, configured the
// way the teacher's command entrypoints do: a development encoder with
// the level and destination tunable from the CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger construction.
type Options struct {
	// Verbose enables debug-level logging.
	Verbose bool
	// LogFile, if non-empty, redirects output to the named file
	// instead of stderr (the --logs flag of spec.md §6.3).
	LogFile string
}

// New builds a *zap.SugaredLogger per Options.
func New(opts Options) (*zap.SugaredLogger, func() error, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Development = false
	if opts.Verbose {
		cfg.Level.SetLevel(zap.DebugLevel)
	} else {
		cfg.Level.SetLevel(zap.InfoLevel)
	}

	if opts.LogFile != "" {
		cfg.OutputPaths = []string{opts.LogFile}
		cfg.ErrorOutputPaths = []string{opts.LogFile}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("logging: building logger: %w", err)
	}
	return logger.Sugar(), logger.Sync, nil
}

// NewCore builds a bare zapcore.Core writing to the given sink at the
// given level, used where a full *zap.Logger isn't wanted (e.g. the
// narrow export-style loggers the teacher builds for its cgo boundary;
// this codebase has no cgo boundary, so it is exposed only for tests
// that want a minimal core).
func NewCore(sink zapcore.WriteSyncer, level zapcore.Level) zapcore.Core {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), sink, level)
}
