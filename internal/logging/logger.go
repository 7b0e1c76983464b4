// Package logging provides zap logger helpers and the durable log sink used by
// every archiver component.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// File names of the two append-only streams under the log folder.
const (
	StandardLogName = "archiver.log"
	ErrorLogName    = "archiver_error.log"
)

// New builds a zap.Logger configured for development or production. It is
// used for bootstrap logging before the log folder is known.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// Options toggles the optional outputs of a Sink.
type Options struct {
	// Debug lowers the standard stream to debug level.
	Debug bool
	// Verbose mirrors progress to the operator's terminal.
	Verbose bool
}

// Sink owns the standard and error log files and the logger writing to them.
type Sink struct {
	logger   *zap.Logger
	standard *os.File
	errs     *os.File
}

// NewSink opens (or creates) both log streams under dir in append mode and
// returns a sink whose logger tees entries to them.
func NewSink(dir string, opts Options) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	standard, err := openAppend(filepath.Join(dir, StandardLogName))
	if err != nil {
		return nil, err
	}
	errs, err := openAppend(filepath.Join(dir, ErrorLogName))
	if err != nil {
		_ = standard.Close()
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileEncoder := zapcore.NewJSONEncoder(encCfg)

	standardLevel := zapcore.InfoLevel
	if opts.Debug {
		standardLevel = zapcore.DebugLevel
	}
	cores := []zapcore.Core{
		zapcore.NewCore(fileEncoder, zapcore.AddSync(standard), standardLevel),
		zapcore.NewCore(fileEncoder.Clone(), zapcore.AddSync(errs), zapcore.ErrorLevel),
	}
	if opts.Verbose {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.TimeKey = "ts"
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stderr),
			standardLevel,
		))
	}

	return &Sink{
		logger:   zap.New(zapcore.NewTee(cores...)),
		standard: standard,
		errs:     errs,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	// #nosec G304 -- path is built from the configured log folder.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return f, nil
}

// For returns a logger tagged with the component name.
func (s *Sink) For(section string) *zap.Logger {
	return s.logger.Named(section)
}

// LogStandard appends a line to the standard stream tagged with section.
func (s *Sink) LogStandard(section, message string, fields ...zap.Field) {
	s.For(section).Info(message, fields...)
}

// LogError appends a line to both streams tagged with section.
func (s *Sink) LogError(section, message string, fields ...zap.Field) {
	s.For(section).Error(message, fields...)
}

// Close flushes the logger and closes both files.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	// Sync on a tee with a terminal core can fail with EINVAL; the files are
	// unbuffered so there is nothing to lose.
	_ = s.logger.Sync()
	return errors.Join(s.standard.Close(), s.errs.Close())
}
