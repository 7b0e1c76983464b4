package archiver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/ledger"
	"github.com/JakeFAU/bookmark-archiver/internal/logging"
)

// CleanupTargets lists the files Cleanup removes from logFolder: both log
// streams and the retry store with its SQLite side files. The fetch cursor
// is kept.
func CleanupTargets(logFolder string) []string {
	names := []string{
		logging.StandardLogName,
		logging.ErrorLogName,
		ledger.FileName,
		ledger.FileName + "-journal",
		ledger.FileName + "-wal",
		ledger.FileName + "-shm",
	}
	paths := make([]string, 0, len(names))
	for _, n := range names {
		paths = append(paths, filepath.Join(logFolder, n))
	}
	return paths
}

// Cleanup deletes the log and retry stores. Missing files are not an error.
// It returns the paths it removed.
func Cleanup(logFolder string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		removed []string
		errs    []error
	)
	for _, p := range CleanupTargets(logFolder) {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = append(removed, p)
			logger.Info("removed", zap.String("path", p))
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("nothing to remove", zap.String("path", p))
		default:
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return removed, errors.Join(errs...)
}
