package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/storage/local"
)

// ErrUnsupportedFormat is returned for formats the in-process renderer cannot produce.
var ErrUnsupportedFormat = errors.New("unsupported render format")

// ChromedpConfig controls the in-process renderer.
type ChromedpConfig struct {
	Format    string
	UserAgent string
}

// ChromedpRenderer renders pages in a headless Chrome driven through chromedp
// and writes the artifact itself.
type ChromedpRenderer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	store           *local.Store
	format          string
	userAgent       string
	logger          *zap.Logger
}

// NewChromedpRenderer starts the browser and returns a renderer writing into store.
func NewChromedpRenderer(cfg ChromedpConfig, store *local.Store, logger *zap.Logger) (*ChromedpRenderer, error) {
	if cfg.Format == "" {
		cfg.Format = "pdf"
	}
	if cfg.Format != "pdf" && cfg.Format != "html" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, cfg.Format)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &ChromedpRenderer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		store:           store,
		format:          cfg.Format,
		userAgent:       cfg.UserAgent,
		logger:          logger,
	}, nil
}

// Close tears down the browser.
func (r *ChromedpRenderer) Close() error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// Render loads job.URL in a fresh tab and stores the snapshot.
func (r *ChromedpRenderer) Render(ctx context.Context, job Job) error {
	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	stopForward := forwardCancel(ctx, cancelTab)
	defer stopForward()

	var artifact []byte
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(job.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		r.captureAction(&artifact),
	}
	if r.userAgent != "" {
		tasks = append(chromedp.Tasks{emulation.SetUserAgentOverride(r.userAgent)}, tasks...)
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}

	if _, err := r.store.PutObject(ctx, job.Name, bytes.NewReader(artifact)); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	r.logger.Debug("rendered in-process", zap.String("url", job.URL), zap.Int("bytes", len(artifact)))
	return nil
}

func (r *ChromedpRenderer) captureAction(out *[]byte) chromedp.Action {
	if r.format == "html" {
		return chromedp.ActionFunc(func(ctx context.Context) error {
			var html string
			if err := chromedp.OuterHTML("html", &html, chromedp.ByQuery).Do(ctx); err != nil {
				return fmt.Errorf("capture html: %w", err)
			}
			*out = []byte(html)
			return nil
		})
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return fmt.Errorf("print to pdf: %w", err)
		}
		*out = data
		return nil
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
