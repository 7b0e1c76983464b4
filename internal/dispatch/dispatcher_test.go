package dispatch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/bookmark-archiver/internal/bookmark"
	"github.com/JakeFAU/bookmark-archiver/internal/hash/sha256"
)

// MockRenderer is a mock implementation of the Renderer interface.
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(ctx context.Context, job Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// MockMirror is a mock implementation of the Mirror interface.
type MockMirror struct {
	mock.Mock
}

func (m *MockMirror) Mirror(ctx context.Context, name, path string) error {
	args := m.Called(ctx, name, path)
	return args.Error(0)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newObserved() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

var sample = bookmark.Bookmark{
	URL:  "https://example.com/post",
	Hash: "5d41402abc4b2a76",
	Time: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
}

func TestArchiveSuccessBuildsPathAndMirrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	renderer := &MockRenderer{}
	mirror := &MockMirror{}
	want := Job{URL: sample.URL, Name: "5d41402abc4b2a76.pdf", Path: filepath.Join(dir, "5d41402abc4b2a76.pdf")}
	renderer.On("Render", mock.Anything, want).Return(nil)
	mirror.On("Mirror", mock.Anything, want.Name, want.Path).Return(errors.New("bucket down"))

	d := New(Config{OutputDir: dir}, renderer, sha256.New(), mirror, zap.NewNop())
	status := d.Archive(context.Background(), sample)

	assert.Equal(t, StatusOK, status)
	renderer.AssertExpectations(t)
	mirror.AssertExpectations(t)
}

func TestArchiveFailureSkipsMirror(t *testing.T) {
	t.Parallel()

	renderer := &MockRenderer{}
	mirror := &MockMirror{}
	renderer.On("Render", mock.Anything, mock.Anything).Return(&ExitError{Code: 1})

	d := New(Config{OutputDir: t.TempDir(), Format: ".HTML"}, renderer, sha256.New(), mirror, zap.NewNop())
	assert.Equal(t, StatusRejected, d.Archive(context.Background(), sample))
	mirror.AssertNotCalled(t, "Mirror", mock.Anything, mock.Anything, mock.Anything)

	name, err := d.ArtifactName(sample)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76.html", name)
}

func TestArtifactNameFallsBackToDigest(t *testing.T) {
	t.Parallel()

	d := New(Config{OutputDir: t.TempDir()}, &MockRenderer{}, sha256.New(), nil, nil)
	name, err := d.ArtifactName(bookmark.Bookmark{URL: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9.pdf", name)
}

func TestCommandRendererValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCommandRenderer(nil)
	assert.Error(t, err)
	_, err = NewCommandRenderer([]string{"renderer", PlaceholderOutput})
	assert.Error(t, err)

	r, err := NewCommandRenderer(DefaultCommand)
	require.NoError(t, err)
	args := r.Args(Job{URL: "https://a.example", Path: "/out/x.pdf"})
	assert.Equal(t, []string{"chromium", "--headless", "--disable-gpu", "--print-to-pdf=/out/x.pdf", "https://a.example"}, args)
}

func TestCommandRendererSuccessWritesArtifact(t *testing.T) {
	t.Parallel()
	requireShell(t)

	dir := t.TempDir()
	r, err := NewCommandRenderer([]string{"sh", "-c", `printf '%s' "$0" > "$1"`, PlaceholderURL, PlaceholderOutput})
	require.NoError(t, err)

	logger, logs := newObserved()
	d := New(Config{OutputDir: dir, Format: "txt"}, r, sha256.New(), nil, logger)
	require.Equal(t, StatusOK, d.Archive(context.Background(), sample))

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(filepath.Join(dir, "5d41402abc4b2a76.txt"))
	require.NoError(t, err)
	assert.Equal(t, sample.URL, string(data))
	assert.Equal(t, 1, logs.FilterMessage("archived").Len())
}

func TestCommandRendererClassifiesExitCodes(t *testing.T) {
	t.Parallel()
	requireShell(t)

	tests := []struct {
		name    string
		script  string
		want    ExitStatus
		message string
	}{
		{name: "rejected", script: "exit 1", want: StatusRejected, message: "renderer rejected page"},
		{name: "unexpected", script: "echo boom >&2; exit 3", want: ExitStatus(3), message: "renderer exited with unexpected status"},
		{name: "renderer exit 124", script: "exit 124", want: StatusRejected, message: "renderer exited with unexpected status"},
		{name: "renderer exit 127", script: "exit 127", want: StatusRejected, message: "renderer exited with unexpected status"},
		{name: "renderer exit 130", script: "exit 130", want: StatusRejected, message: "renderer exited with unexpected status"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewCommandRenderer([]string{"sh", "-c", tt.script, PlaceholderURL})
			require.NoError(t, err)
			logger, logs := newObserved()
			d := New(Config{OutputDir: t.TempDir()}, r, sha256.New(), nil, logger)

			assert.Equal(t, tt.want, d.Archive(context.Background(), sample))
			entries := logs.FilterMessage(tt.message).All()
			require.Len(t, entries, 1)
			assert.Equal(t, zap.ErrorLevel, entries[0].Level)
			assert.Equal(t, sample.URL, entries[0].ContextMap()["url"])
		})
	}
}

func TestRendererStatusKeepsReservedCodesDistinct(t *testing.T) {
	t.Parallel()

	for _, code := range []int{0, 124, 127, 130} {
		assert.Equal(t, StatusRejected, rendererStatus(code), "code %d", code)
	}
	assert.Equal(t, ExitStatus(2), rendererStatus(2))
	assert.Equal(t, ExitStatus(255), rendererStatus(255))
}

func TestArchiveRefusesEscapingArtifactName(t *testing.T) {
	t.Parallel()

	renderer := &MockRenderer{}
	logger, logs := newObserved()
	d := New(Config{OutputDir: t.TempDir()}, renderer, sha256.New(), nil, logger)

	for _, hash := range []string{"../../evil", "nested/evil", ".."} {
		b := sample
		b.Hash = hash
		assert.Equal(t, StatusRejected, d.Archive(context.Background(), b), "hash %q", hash)
	}
	renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
	assert.Equal(t, 3, logs.FilterMessage("refusing artifact path").Len())
}

type stubResolver struct {
	dir  string
	seen []string
}

func (s *stubResolver) Resolve(name string) (string, error) {
	s.seen = append(s.seen, name)
	if name == "blocked.pdf" {
		return "", errors.New("path traversal detected")
	}
	return filepath.Join(s.dir, "resolved-"+name), nil
}

func TestArchiveUsesResolver(t *testing.T) {
	t.Parallel()

	res := &stubResolver{dir: t.TempDir()}
	renderer := &MockRenderer{}
	want := Job{URL: sample.URL, Name: "5d41402abc4b2a76.pdf", Path: filepath.Join(res.dir, "resolved-5d41402abc4b2a76.pdf")}
	renderer.On("Render", mock.Anything, want).Return(nil).Once()

	d := New(Config{OutputDir: "/unused"}, renderer, sha256.New(), nil, zap.NewNop(), WithResolver(res))
	require.Equal(t, StatusOK, d.Archive(context.Background(), sample))

	blocked := sample
	blocked.Hash = "blocked"
	assert.Equal(t, StatusRejected, d.Archive(context.Background(), blocked))

	assert.Equal(t, []string{"5d41402abc4b2a76.pdf", "blocked.pdf"}, res.seen)
	renderer.AssertExpectations(t)
}

func TestCommandRendererTimeoutKillsProcess(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r, err := NewCommandRenderer([]string{"sh", "-c", "sleep 30", PlaceholderURL})
	require.NoError(t, err)
	logger, logs := newObserved()
	d := New(Config{OutputDir: t.TempDir(), Timeout: 200 * time.Millisecond}, r, sha256.New(), nil, logger)

	start := time.Now()
	status := d.Archive(context.Background(), sample)

	assert.Equal(t, StatusTimeout, status)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, logs.FilterMessage("renderer timed out").Len())
}

func TestCommandRendererStartFailure(t *testing.T) {
	t.Parallel()

	r, err := NewCommandRenderer([]string{"/nonexistent/renderer-binary", PlaceholderURL})
	require.NoError(t, err)
	d := New(Config{OutputDir: t.TempDir()}, r, sha256.New(), nil, zap.NewNop())
	assert.Equal(t, StatusStartFailed, d.Archive(context.Background(), sample))
}

func TestArchiveInterruptedByParent(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r, err := NewCommandRenderer([]string{"sh", "-c", "sleep 30", PlaceholderURL})
	require.NoError(t, err)
	d := New(Config{OutputDir: t.TempDir()}, r, sha256.New(), nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Equal(t, StatusInterrupted, d.Archive(ctx, sample))
}

func TestExitStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "timeout", StatusTimeout.String())
	assert.Equal(t, "exit_9", ExitStatus(9).String())
	assert.True(t, StatusOK.OK())
	assert.False(t, StatusTimeout.OK())
}
