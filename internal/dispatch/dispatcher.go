// Package dispatch hands bookmarks to a page renderer under a hard deadline
// and classifies how the render ended.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/bookmark"
)

// DefaultTimeout bounds a single render.
const DefaultTimeout = 240 * time.Second

// ExitStatus is the outcome of one archive attempt; zero means success.
type ExitStatus int

// Statuses produced by the dispatcher itself. Other renderer exit codes pass
// through unchanged; a renderer exit code equal to one of these folds into
// StatusRejected so it cannot pose as a timeout, launch failure or interrupt.
const (
	StatusOK          ExitStatus = 0
	StatusRejected    ExitStatus = 1
	StatusTimeout     ExitStatus = 124
	StatusStartFailed ExitStatus = 127
	StatusInterrupted ExitStatus = 130
)

// OK reports whether the archive succeeded.
func (s ExitStatus) OK() bool {
	return s == StatusOK
}

func (s ExitStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRejected:
		return "rejected"
	case StatusTimeout:
		return "timeout"
	case StatusStartFailed:
		return "start_failed"
	case StatusInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("exit_%d", int(s))
	}
}

// Job describes one render.
type Job struct {
	URL string
	// Name is the artifact file name relative to the output folder.
	Name string
	// Path is the absolute artifact path.
	Path string
}

// Renderer produces the artifact for a job. Implementations must stop when
// ctx is done.
type Renderer interface {
	Render(ctx context.Context, job Job) error
}

// PathResolver maps an artifact name to the absolute path it is written to.
type PathResolver interface {
	Resolve(name string) (string, error)
}

// dirResolver joins plain file names onto a directory.
type dirResolver string

func (d dirResolver) Resolve(name string) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return "", fmt.Errorf("artifact name %q is not a plain file name", name)
	}
	return filepath.Join(string(d), name), nil
}

// Mirror copies a finished artifact somewhere else.
type Mirror interface {
	Mirror(ctx context.Context, name, path string) error
}

// ExitError carries a renderer's non-zero exit code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("renderer exited with status %d", e.Code)
	}
	return fmt.Sprintf("renderer exited with status %d: %s", e.Code, e.Stderr)
}

// ErrStart marks failures to launch the renderer at all.
var ErrStart = errors.New("renderer failed to start")

// Config controls the dispatcher.
type Config struct {
	OutputDir string
	Format    string
	Timeout   time.Duration
}

// Dispatcher archives bookmarks through a Renderer.
type Dispatcher struct {
	cfg      Config
	renderer Renderer
	hasher   bookmark.Hasher
	mirror   Mirror
	resolver PathResolver
	logger   *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithResolver routes artifact paths through r instead of joining names onto
// Config.OutputDir.
func WithResolver(r PathResolver) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.resolver = r
		}
	}
}

// New builds a dispatcher. mirror may be nil.
func New(cfg Config, renderer Renderer, hasher bookmark.Hasher, mirror Mirror, logger *zap.Logger, opts ...Option) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Format = strings.TrimPrefix(strings.ToLower(cfg.Format), ".")
	if cfg.Format == "" {
		cfg.Format = "pdf"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:      cfg,
		renderer: renderer,
		hasher:   hasher,
		mirror:   mirror,
		resolver: dirResolver(cfg.OutputDir),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ArtifactName returns the file name the bookmark is archived under.
func (d *Dispatcher) ArtifactName(b bookmark.Bookmark) (string, error) {
	stem, err := b.FileStem(d.hasher)
	if err != nil {
		return "", fmt.Errorf("derive artifact name for %s: %w", b.URL, err)
	}
	return stem + "." + d.cfg.Format, nil
}

// Archive renders b and classifies the result. It never returns an error;
// every failure is logged and folded into the status.
func (d *Dispatcher) Archive(ctx context.Context, b bookmark.Bookmark) ExitStatus {
	name, err := d.ArtifactName(b)
	if err != nil {
		d.logger.Error("cannot name artifact", zap.String("url", b.URL), zap.Error(err))
		return StatusRejected
	}
	path, err := d.resolver.Resolve(name)
	if err != nil {
		d.logger.Error("refusing artifact path", zap.String("url", b.URL), zap.String("name", name), zap.Error(err))
		return StatusRejected
	}
	job := Job{
		URL:  b.URL,
		Name: name,
		Path: path,
	}

	renderCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err = d.renderer.Render(renderCtx, job)
	status := d.classify(ctx, renderCtx, job, err, time.Since(start))

	if status.OK() && d.mirror != nil {
		if mErr := d.mirror.Mirror(ctx, job.Name, job.Path); mErr != nil {
			d.logger.Warn("artifact mirror failed", zap.String("path", job.Path), zap.Error(mErr))
		}
	}
	return status
}

func (d *Dispatcher) classify(parent, renderCtx context.Context, job Job, err error, took time.Duration) ExitStatus {
	fields := []zap.Field{
		zap.String("url", job.URL),
		zap.String("output", job.Path),
		zap.Duration("took", took),
	}
	if err == nil {
		d.logger.Info("archived", fields...)
		return StatusOK
	}

	switch {
	case parent.Err() != nil:
		d.logger.Warn("render interrupted", append(fields, zap.Error(err))...)
		return StatusInterrupted
	case errors.Is(renderCtx.Err(), context.DeadlineExceeded):
		d.logger.Error("renderer timed out",
			append(fields, zap.Duration("timeout", d.cfg.Timeout))...)
		return StatusTimeout
	}

	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr) && exitErr.Code == int(StatusRejected):
		d.logger.Error("renderer rejected page",
			append(fields, zap.Int("code", exitErr.Code), zap.String("stderr", exitErr.Stderr))...)
		return StatusRejected
	case errors.As(err, &exitErr):
		d.logger.Error("renderer exited with unexpected status",
			append(fields, zap.Int("code", exitErr.Code), zap.String("stderr", exitErr.Stderr))...)
		return rendererStatus(exitErr.Code)
	case errors.Is(err, ErrStart):
		d.logger.Error("renderer could not be started", append(fields, zap.Error(err))...)
		return StatusStartFailed
	default:
		d.logger.Error("render failed", append(fields, zap.Error(err))...)
		return StatusRejected
	}
}

// rendererStatus maps a renderer exit code that classify has not already
// claimed. Codes the dispatcher reserves for itself become StatusRejected.
func rendererStatus(code int) ExitStatus {
	switch ExitStatus(code) {
	case StatusOK, StatusTimeout, StatusStartFailed, StatusInterrupted:
		return StatusRejected
	default:
		return ExitStatus(code)
	}
}
