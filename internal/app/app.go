// Package app initializes and holds the services of one archiver run, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archiver"
	"github.com/JakeFAU/bookmark-archiver/internal/clock/system"
	"github.com/JakeFAU/bookmark-archiver/internal/config"
	"github.com/JakeFAU/bookmark-archiver/internal/dispatch"
	"github.com/JakeFAU/bookmark-archiver/internal/hash/sha256"
	"github.com/JakeFAU/bookmark-archiver/internal/id/uuid"
	"github.com/JakeFAU/bookmark-archiver/internal/logging"
	"github.com/JakeFAU/bookmark-archiver/internal/metrics"
	"github.com/JakeFAU/bookmark-archiver/internal/pinboard"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/gcs"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/local"
)

// Options carries the command-line switches that shape a run.
type Options struct {
	// Interactive enables the courtesy pause between bookmarks.
	Interactive bool
	Debug       bool
}

// App holds the long-lived services for a run.
// It is built once at startup from the loaded configuration and closed by
// the command after the run finishes.
type App struct {
	logger   *zap.Logger
	archiver *archiver.Archiver
	metrics  *metrics.Recorder
	textfile string
	closers  []func() error
}

// New builds every service the pipeline needs. It fails fast if any of them
// cannot be initialized.
func New(ctx context.Context, cfg config.Config, sink *logging.Sink, opts Options) (*App, error) {
	l := sink.For("app")
	a := &App{logger: l, textfile: cfg.Metrics.Textfile}
	l.Debug("Initializing application services...")

	// 1. Artifact store. Creating the output folder is fatal if it fails.
	store, err := local.New(cfg.OutputFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	// 2. Bookmarking service.
	source, err := pinboard.New(pinboard.Config{
		BaseURL:           cfg.Pinboard.BaseURL,
		Token:             cfg.Token,
		Timeout:           cfg.Pinboard.RequestTimeout,
		RequestsPerSecond: cfg.Pinboard.RequestsPerSecond,
		MaxAttempts:       cfg.Pinboard.MaxAttempts,
	}, sink.For("pinboard"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bookmark source: %w", err)
	}

	// 3. Renderer.
	var renderer dispatch.Renderer
	switch cfg.Renderer.Kind {
	case config.RendererCommand:
		cmd, cmdErr := dispatch.NewCommandRenderer(cfg.Renderer.Command)
		if cmdErr != nil {
			return nil, fmt.Errorf("failed to initialize renderer: %w", cmdErr)
		}
		l.Debug("Using external renderer", zap.Strings("argv", cfg.Renderer.Command))
		renderer = cmd
	case config.RendererChromedp:
		browser, cdpErr := dispatch.NewChromedpRenderer(dispatch.ChromedpConfig{
			Format:    cfg.Renderer.Format,
			UserAgent: cfg.Renderer.UserAgent,
		}, store, sink.For("chromedp"))
		if cdpErr != nil {
			return nil, fmt.Errorf("failed to initialize renderer: %w", cdpErr)
		}
		l.Debug("Using in-process headless browser")
		a.closers = append(a.closers, browser.Close)
		renderer = browser
	default:
		return nil, fmt.Errorf("unknown renderer kind: %s", cfg.Renderer.Kind)
	}

	// 4. Optional artifact mirror.
	var mirror dispatch.Mirror
	if cfg.Mirror.GCSBucket != "" {
		m, gcsErr := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Mirror.GCSBucket, Prefix: cfg.Mirror.Prefix})
		if gcsErr != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to initialize artifact mirror: %w", gcsErr)
		}
		l.Debug("Mirroring artifacts to GCS", zap.String("bucket", cfg.Mirror.GCSBucket))
		a.closers = append(a.closers, m.Close)
		mirror = m
	}

	dispatcher := dispatch.New(dispatch.Config{
		OutputDir: store.Dir(),
		Format:    cfg.Renderer.Format,
		Timeout:   cfg.Renderer.Timeout,
	}, renderer, sha256.New(), mirror, sink.For("dispatch"), dispatch.WithResolver(store))

	a.metrics = metrics.New()
	a.archiver = archiver.New(archiver.Config{
		OutputFolder: cfg.OutputFolder,
		LogFolder:    cfg.LogFolder,
		Pause:        cfg.Pipeline.Pause,
		Interactive:  opts.Interactive,
		Debug:        opts.Debug,
	}, source, dispatcher, system.New(), sink.For("pipeline"),
		archiver.WithMetrics(a.metrics),
		archiver.WithIDGenerator(uuid.New()),
	)

	l.Debug("Application services initialized successfully.")
	return a, nil
}

// Run executes the pipeline once and flushes metrics when a textfile is
// configured. A metrics write failure is logged, not returned.
func (a *App) Run(ctx context.Context) (archiver.Summary, error) {
	summary, err := a.archiver.Run(ctx)
	if wErr := a.metrics.WriteTextfile(a.textfile); wErr != nil {
		a.logger.Warn("Error writing metrics textfile", zap.Error(wErr))
	}
	return summary, err
}

// Close shuts down the services in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
