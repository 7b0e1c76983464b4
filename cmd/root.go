// Package cmd defines the bookmark-archiver command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/app"
	"github.com/JakeFAU/bookmark-archiver/internal/archiver"
	"github.com/JakeFAU/bookmark-archiver/internal/config"
	"github.com/JakeFAU/bookmark-archiver/internal/logging"
)

// exitInterrupted is the conventional status for a run stopped by SIGINT.
const exitInterrupted = 130

// Runner is what the command needs from the application.
// This allows us to inject a fake app during tests.
type Runner interface {
	Run(ctx context.Context) (archiver.Summary, error)
	Close() error
}

// newRunner is the application factory. It's a variable so we can replace it
// in tests.
var newRunner = func(ctx context.Context, cfg config.Config, sink *logging.Sink, opts app.Options) (Runner, error) {
	return app.New(ctx, cfg, sink, opts)
}

// isInteractive reports whether an operator is attached to stdin.
var isInteractive = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type options struct {
	cfgFile string
	cleanup bool
	debug   bool
	verbose bool
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "bookmark-archiver",
		Short: "Archive newly created bookmarks as rendered page snapshots.",
		Long: `bookmark-archiver fetches bookmarks created since its last run, renders
each page to a file named after the bookmark's hash, and retries failed pages
on later runs up to a fixed ceiling. It is safe to interrupt and re-run.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (YAML); environment variables use the ARCHIVER_ prefix")
	flags.BoolVar(&opts.cleanup, "cleanup", false, "delete the log files and retry store, then exit")
	flags.BoolVar(&opts.debug, "debug", false, "dump full bookmark records to the standard log")
	flags.BoolVar(&opts.verbose, "verbose", false, "print progress to the terminal")
	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if opts.cleanup {
		return cleanup(cfg, opts)
	}

	sink, err := logging.NewSink(cfg.LogFolder, logging.Options{Debug: opts.debug, Verbose: opts.verbose})
	if err != nil {
		return fmt.Errorf("open logs: %w", err)
	}
	defer func() {
		if cErr := sink.Close(); cErr != nil {
			fmt.Fprintf(os.Stderr, "close logs: %v\n", cErr)
		}
	}()

	runner, err := newRunner(ctx, cfg, sink, app.Options{Interactive: isInteractive(), Debug: opts.debug})
	if err != nil {
		sink.LogError("main", "Failed to initialize application services", zap.Error(err))
		return err
	}
	defer func() {
		if cErr := runner.Close(); cErr != nil {
			sink.LogError("main", "Error shutting down services", zap.Error(cErr))
		}
	}()

	summary, err := runner.Run(ctx)
	fmt.Fprintf(out, "processed %d new bookmarks (%d ok, %d failed), retried %d (%d ok)\n",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Retried, summary.RetrySucceeded)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			sink.LogStandard("main", "Run interrupted", zap.String("run_id", summary.RunID))
		} else {
			sink.LogError("main", "Run failed", zap.String("run_id", summary.RunID), zap.Error(err))
		}
		return err
	}
	return nil
}

func cleanup(cfg config.Config, opts *options) error {
	logger := zap.NewNop()
	if opts.verbose {
		l, err := logging.New(true)
		if err != nil {
			return err
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()

	removed, err := archiver.Cleanup(cfg.LogFolder, logger)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	logger.Info("Cleanup complete", zap.Int("removed", len(removed)))
	return nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run; the
// bookmark in flight is abandoned and everything before it is kept.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		os.Exit(exitInterrupted)
	}
	os.Exit(1)
}
