package archiver

import (
	"context"
	"time"

	"github.com/JakeFAU/bookmark-archiver/internal/bookmark"
	"github.com/JakeFAU/bookmark-archiver/internal/dispatch"
)

// Dispatcher archives a single bookmark and reports how the renderer exited.
type Dispatcher interface {
	Archive(ctx context.Context, b bookmark.Bookmark) dispatch.ExitStatus
}

// RetryLedger is the durable URL to failure-count store.
type RetryLedger interface {
	LoadAll(ctx context.Context) (map[string]int, error)
	RecordOutcome(ctx context.Context, url string, success bool) error
	Close() error
}

// Cursor is the durable fetch high-water mark.
type Cursor interface {
	Read(ctx context.Context) (time.Time, error)
	Advance(ctx context.Context, candidate time.Time) (bool, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
