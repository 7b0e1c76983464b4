// Package bookmark defines the bookmark record and the bookmarking-service
// capability the archiver consumes.
package bookmark

import (
	"context"
	"time"
)

// Bookmark is an immutable record sourced from the bookmarking service.
type Bookmark struct {
	URL         string    `json:"href" yaml:"url"`
	Hash        string    `json:"hash" yaml:"hash"`
	Time        time.Time `json:"time" yaml:"time"`
	Description string    `json:"description" yaml:"description"`
	Extended    string    `json:"extended,omitempty" yaml:"extended,omitempty"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Source is the bookmarking-service capability.
type Source interface {
	// Since returns every bookmark created after t, in the service's order.
	Since(ctx context.Context, t time.Time) ([]Bookmark, error)
	// Lookup resolves a single bookmark by URL. The bool is false when the
	// service has no bookmark for url.
	Lookup(ctx context.Context, url string) (Bookmark, bool, error)
}

// Hasher computes digests used as fallback filename stems.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// FileStem returns the artifact filename stem: the service's content hash, or
// a digest of the URL when the service omitted it.
func (b Bookmark) FileStem(h Hasher) (string, error) {
	if b.Hash != "" {
		return b.Hash, nil
	}
	return h.Hash([]byte(b.URL))
}
