// Package cursor persists the fetch high-water mark: the creation time of the
// latest archived bookmark.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FileName is the cursor file under the log folder.
const FileName = "last_run.txt"

// Epoch is returned when no cursor has been written yet.
var Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Store is a file-backed cursor. It assumes a single writer.
type Store struct {
	path   string
	logger *zap.Logger
}

// New returns a cursor stored at path.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Read returns the stored cursor, or Epoch when the file does not exist.
func (s *Store) Read(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, fmt.Errorf("read cursor: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Epoch, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read cursor %s: %w", s.path, err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return Epoch, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// Advance moves the cursor to candidate unless candidate is strictly earlier
// than the stored value. It reports whether the cursor was written.
func (s *Store) Advance(ctx context.Context, candidate time.Time) (bool, error) {
	current, err := s.Read(ctx)
	if err != nil {
		return false, err
	}
	candidate = candidate.UTC()
	if candidate.Before(current) {
		s.logger.Error("refusing to move cursor backwards",
			zap.Time("current", current),
			zap.Time("candidate", candidate),
		)
		return false, nil
	}
	if err := s.write(candidate); err != nil {
		return false, err
	}
	return true, nil
}

// write replaces the cursor file atomically.
func (s *Store) write(t time.Time) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cursor-*")
	if err != nil {
		return fmt.Errorf("create cursor temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(t.Format(time.RFC3339) + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cursor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cursor temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace cursor %s: %w", s.path, err)
	}
	return nil
}
