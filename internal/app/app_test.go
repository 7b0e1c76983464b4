// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bookmark-archiver/internal/app"
	"github.com/JakeFAU/bookmark-archiver/internal/config"
	"github.com/JakeFAU/bookmark-archiver/internal/cursor"
	"github.com/JakeFAU/bookmark-archiver/internal/logging"
)

const postsJSON = `[
	{"href":"https://b.example/","description":"B","hash":"hashb","time":"2024-05-02T00:00:00Z","tags":""},
	{"href":"https://a.example/","description":"A","hash":"hasha","time":"2024-05-01T00:00:00Z","tags":""}
]`

func newPinboard(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/posts/all":
			fmt.Fprint(w, postsJSON)
		case "/posts/get":
			fmt.Fprint(w, `{"date":"","user":"u","posts":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	root := t.TempDir()
	return config.Config{
		Token:        "user:token",
		OutputFolder: filepath.Join(root, "out"),
		LogFolder:    filepath.Join(root, "logs"),
		Renderer: config.RendererConfig{
			Kind:    config.RendererCommand,
			Command: []string{"sh", "-c", `printf '%s' "$0" > "$1"`, "{url}", "{output}"},
			Format:  "html",
			Timeout: 10 * time.Second,
		},
		Pinboard: config.PinboardConfig{
			BaseURL:        baseURL,
			RequestTimeout: 5 * time.Second,
			MaxAttempts:    1,
		},
	}
}

func newSink(t *testing.T, dir string) *logging.Sink {
	t.Helper()
	sink, err := logging.NewSink(dir, logging.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestAppRunEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	server := newPinboard(t)
	cfg := testConfig(t, server.URL)
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "archiver.prom")

	a, err := app.New(context.Background(), cfg, newSink(t, cfg.LogFolder), app.Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	summary, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.NotEmpty(t, summary.RunID)

	// #nosec G304 -- test reads from the controlled temp directory.
	body, err := os.ReadFile(filepath.Join(cfg.OutputFolder, "hasha.html"))
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/", string(body))
	assert.FileExists(t, filepath.Join(cfg.OutputFolder, "hashb.html"))
	assert.FileExists(t, cfg.Metrics.Textfile)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(cfg.LogFolder, cursor.FileName))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02T00:00:00Z", strings.TrimSpace(string(raw)))

	// #nosec G304 -- test reads from the controlled temp directory.
	logData, err := os.ReadFile(filepath.Join(cfg.LogFolder, logging.StandardLogName))
	require.NoError(t, err)
	assert.Contains(t, string(logData), `"msg":"run complete"`)
	assert.NotContains(t, string(logData), "user:token")
}

func TestNewRejectsBadRenderer(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Renderer.Command = []string{"renderer", "{output}"}

	_, err := app.New(context.Background(), cfg, newSink(t, cfg.LogFolder), app.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renderer")
}

func TestNewFailsOnUnusableOutputFolder(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.OutputFolder = blocker

	_, err := app.New(context.Background(), cfg, newSink(t, cfg.LogFolder), app.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact store")
}
