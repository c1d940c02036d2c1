// Package logging builds the operational zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder and extra sinks.
type Options struct {
	Development bool
	// FilePath, when set, receives a copy of every log line in addition to stderr.
	FilePath string
}

// New builds a zap.Logger: console encoding with colored levels in
// development, JSON otherwise.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.OutputPaths = []string{"stderr"}
	if opts.FilePath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, opts.FilePath)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("polla"), nil
}
