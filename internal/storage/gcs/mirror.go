// Package gcs mirrors archive artifacts into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and object prefix artifacts are copied to.
type Config struct {
	Bucket string
	Prefix string
}

// Mirror uploads local artifacts to a bucket.
type Mirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a mirror over an existing client.
func New(client *storage.Client, cfg Config) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Dial builds a client from Application Default Credentials, checks the
// bucket is reachable and returns a mirror over it.
func Dial(ctx context.Context, cfg Config) (*Mirror, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", cfg.Bucket, err)
	}
	m, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return m, nil
}

// ObjectName returns the object key for an artifact name.
func (m *Mirror) ObjectName(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Mirror streams the file at localPath to the bucket under name.
func (m *Mirror) Mirror(ctx context.Context, name, localPath string) error {
	// #nosec G304 -- path is an artifact the dispatcher just produced.
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer f.Close()

	object := m.ObjectName(name)
	writer := m.client.Bucket(m.bucket).Object(object).NewWriter(ctx)
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		writer.ContentType = ct
	}
	if _, err := io.Copy(writer, f); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object %s: %w (close writer: %v)", object, err, closeErr)
		}
		return fmt.Errorf("copy object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", object, err)
	}
	return nil
}

// Close releases the client.
func (m *Mirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}
