// Package archiver runs the fetch, retry and archive pipeline.
//
// A run is one pass through Init, Retrying, Fetching, Archiving and Done.
// Progress is durable after every bookmark: the retry ledger records each
// outcome and the fetch cursor advances past each processed bookmark, so an
// interrupted run loses at most the bookmark in flight.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/bookmark-archiver/internal/bookmark"
	"github.com/JakeFAU/bookmark-archiver/internal/cursor"
	"github.com/JakeFAU/bookmark-archiver/internal/dispatch"
	"github.com/JakeFAU/bookmark-archiver/internal/ledger"
	"github.com/JakeFAU/bookmark-archiver/internal/metrics"
)

// Phase names a pipeline state.
type Phase string

// Pipeline phases, in order.
const (
	PhaseInit      Phase = "init"
	PhaseRetrying  Phase = "retrying"
	PhaseFetching  Phase = "fetching"
	PhaseArchiving Phase = "archiving"
	PhaseDone      Phase = "done"
)

// Config is the orchestrator's view of the configuration.
type Config struct {
	OutputFolder string
	LogFolder    string
	// Pause is inserted after each archive when Interactive is set.
	Pause       time.Duration
	Interactive bool
	// Debug dumps every bookmark record to the standard log.
	Debug bool
}

// Summary counts what a run did.
type Summary struct {
	RunID          string
	Processed      int
	Succeeded      int
	Failed         int
	Retried        int
	RetrySucceeded int
	RetrySkipped   int
	LookupMisses   int
	Cursor         time.Time
	Duration       time.Duration
}

// LedgerOpener opens the retry ledger at path.
type LedgerOpener func(ctx context.Context, path string) (RetryLedger, error)

// CursorOpener opens the fetch cursor at path.
type CursorOpener func(path string, logger *zap.Logger) Cursor

// Archiver composes the bookmark source, dispatcher and durable stores.
type Archiver struct {
	cfg        Config
	source     bookmark.Source
	dispatcher Dispatcher
	clock      Clock
	ids        IDGenerator
	metrics    *metrics.Recorder
	logger     *zap.Logger

	openLedger LedgerOpener
	openCursor CursorOpener
}

// Option customises an Archiver.
type Option func(*Archiver)

// WithMetrics records run metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(a *Archiver) { a.metrics = r }
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(a *Archiver) { a.ids = g }
}

// WithLedgerOpener overrides how the retry ledger is opened.
func WithLedgerOpener(fn LedgerOpener) Option {
	return func(a *Archiver) { a.openLedger = fn }
}

// WithCursorOpener overrides how the fetch cursor is opened.
func WithCursorOpener(fn CursorOpener) Option {
	return func(a *Archiver) { a.openCursor = fn }
}

// New builds an Archiver. The stores are not opened until Run.
func New(cfg Config, source bookmark.Source, dispatcher Dispatcher, clock Clock, logger *zap.Logger, opts ...Option) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Archiver{
		cfg:        cfg,
		source:     source,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
		openLedger: func(ctx context.Context, path string) (RetryLedger, error) {
			return ledger.Open(ctx, path)
		},
		openCursor: func(path string, logger *zap.Logger) Cursor {
			return cursor.New(path, logger)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// run carries the per-run state.
type run struct {
	*Archiver
	logger  *zap.Logger
	ledger  RetryLedger
	cursor  Cursor
	summary *Summary
}

// Run executes one pass of the pipeline. Per-bookmark failures are logged and
// tracked in the ledger; only directory, store and fetch errors are returned.
// When ctx is cancelled the run stops before the next bookmark and returns
// the partial summary with ctx's error.
func (a *Archiver) Run(ctx context.Context) (summary Summary, err error) {
	start := a.clock.Now()
	logger := a.logger
	if a.ids != nil {
		id, idErr := a.ids.NewID()
		if idErr != nil {
			return summary, fmt.Errorf("generate run id: %w", idErr)
		}
		summary.RunID = id
		logger = logger.With(zap.String("run_id", id))
	}

	defer func() {
		summary.Duration = a.clock.Now().Sub(start)
		a.metrics.ObserveRun(summary.Processed, summary.Duration, err == nil)
	}()

	logger.Debug("phase", zap.String("phase", string(PhaseInit)))
	if err := a.prepareDirs(); err != nil {
		return summary, err
	}

	l, err := a.openLedger(ctx, filepath.Join(a.cfg.LogFolder, ledger.FileName))
	if err != nil {
		return summary, fmt.Errorf("open retry ledger: %w", err)
	}
	defer func() {
		if cErr := l.Close(); cErr != nil {
			logger.Error("close retry ledger", zap.Error(cErr))
			err = errors.Join(err, cErr)
		}
	}()

	r := &run{
		Archiver: a,
		logger:   logger,
		ledger:   l,
		cursor:   a.openCursor(filepath.Join(a.cfg.LogFolder, cursor.FileName), logger.Named("cursor")),
		summary:  &summary,
	}

	if err := r.retry(ctx); err != nil {
		return summary, err
	}
	if err := r.archiveNew(ctx); err != nil {
		return summary, err
	}

	if summary.Cursor, err = r.cursor.Read(ctx); err != nil {
		return summary, fmt.Errorf("read cursor: %w", err)
	}
	a.metrics.SetCursor(summary.Cursor)

	logger.Debug("phase", zap.String("phase", string(PhaseDone)))
	logger.Info("run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("retried", summary.Retried),
		zap.Int("retry_succeeded", summary.RetrySucceeded),
		zap.Int("retry_skipped", summary.RetrySkipped),
		zap.Int("lookup_misses", summary.LookupMisses),
		zap.Time("cursor", summary.Cursor),
	)
	return summary, nil
}

func (a *Archiver) prepareDirs() error {
	for _, dir := range []string{a.cfg.OutputFolder, a.cfg.LogFolder} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// retry replays ledger entries under the ceiling. It iterates a snapshot, so
// failures recorded during this phase wait for the next run.
func (r *run) retry(ctx context.Context) error {
	logger := r.logger.Named(string(PhaseRetrying))
	snapshot, err := r.ledger.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load retry ledger: %w", err)
	}
	logger.Debug("phase", zap.String("phase", string(PhaseRetrying)), zap.Int("entries", len(snapshot)))

	urls := make([]string, 0, len(snapshot))
	for u := range snapshot {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		count := snapshot[u]
		if !ledger.Eligible(count) {
			logger.Info("retry ceiling reached", zap.String("url", u), zap.Int("failures", count))
			r.summary.RetrySkipped++
			r.metrics.ObserveRetrySkipped()
			continue
		}

		b, found, err := r.source.Lookup(ctx, u)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Error("lookup failed", zap.String("url", u), zap.Error(err))
			continue
		}
		if !found {
			logger.Warn("bookmark no longer exists, keeping ledger entry", zap.String("url", u), zap.Int("failures", count))
			r.summary.LookupMisses++
			r.metrics.ObserveLookupMiss()
			continue
		}

		r.summary.Retried++
		status, err := r.dispatch(ctx, logger, PhaseRetrying, b)
		if err != nil {
			return err
		}
		if status.OK() {
			r.summary.RetrySucceeded++
		}
		r.pause(ctx)
	}
	return nil
}

// archiveNew fetches bookmarks created after the cursor and archives them
// oldest first, advancing the cursor after each one.
func (r *run) archiveNew(ctx context.Context) error {
	logger := r.logger.Named(string(PhaseFetching))
	since, err := r.cursor.Read(ctx)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	logger.Debug("phase", zap.String("phase", string(PhaseFetching)), zap.Time("since", since))

	batch, err := r.source.Since(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch bookmarks since %s: %w", since.Format(time.RFC3339), err)
	}
	// The service answers newest first.
	for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
		batch[i], batch[j] = batch[j], batch[i]
	}
	logger.Info("fetched bookmarks", zap.Int("count", len(batch)), zap.Time("since", since))

	logger = r.logger.Named(string(PhaseArchiving))
	for _, b := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.dump(logger, b)

		status, err := r.dispatch(ctx, logger, PhaseArchiving, b)
		if err != nil {
			return err
		}
		r.summary.Processed++
		if status.OK() {
			r.summary.Succeeded++
		} else {
			r.summary.Failed++
		}

		if _, err := r.cursor.Advance(ctx, b.Time); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		r.pause(ctx)
	}
	return nil
}

// dispatch archives b and records the outcome. An interrupted render is not
// recorded; the caller gets ctx's error instead.
func (r *run) dispatch(ctx context.Context, logger *zap.Logger, phase Phase, b bookmark.Bookmark) (dispatch.ExitStatus, error) {
	status := r.dispatcher.Archive(ctx, b)
	// Only our own context decides an interrupt; the status alone may come
	// from any dispatcher.
	if err := ctx.Err(); err != nil {
		logger.Warn("interrupted", zap.String("url", b.URL))
		return status, err
	}
	r.metrics.ObserveArchive(string(phase), status.String(), b.URL)

	if err := r.ledger.RecordOutcome(ctx, b.URL, status.OK()); err != nil {
		return status, fmt.Errorf("record outcome for %s: %w", b.URL, err)
	}
	if status.OK() {
		logger.Info("archive ok", zap.String("url", b.URL))
	} else {
		logger.Warn("archive failed", zap.String("url", b.URL), zap.Stringer("status", status))
	}
	return status, nil
}

// pause gives an operator at a terminal a window to interrupt between
// bookmarks.
func (r *run) pause(ctx context.Context) {
	if !r.cfg.Interactive || r.cfg.Pause <= 0 {
		return
	}
	timer := time.NewTimer(r.cfg.Pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (r *run) dump(logger *zap.Logger, b bookmark.Bookmark) {
	if !r.cfg.Debug {
		return
	}
	out, err := yaml.Marshal(b)
	if err != nil {
		logger.Debug("cannot dump bookmark", zap.String("url", b.URL), zap.Error(err))
		return
	}
	logger.Debug("bookmark", zap.String("record", string(out)))
}
