package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.ObserveArchive("archiving", "ok", "https://a.example/x")
	r.ObserveArchive("archiving", "ok", "https://a.example/y")
	r.ObserveArchive("retrying", "timeout", "https://b.example/")
	r.ObserveRetrySkipped()
	r.ObserveLookupMiss()

	if got := testutil.ToFloat64(r.archivesTotal.WithLabelValues("archiving", "ok", "a.example")); got != 2 {
		t.Errorf("expected 2 ok archives, got %f", got)
	}
	if got := testutil.ToFloat64(r.retriesSkippedTotal); got != 1 {
		t.Errorf("expected 1 skipped retry, got %f", got)
	}
	if got := testutil.ToFloat64(r.lookupMissesTotal); got != 1 {
		t.Errorf("expected 1 lookup miss, got %f", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveArchive("archiving", "ok", "https://a.example")
	r.ObserveRetrySkipped()
	r.SetCursor(time.Now())
	r.ObserveRun(1, time.Second, true)
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("expected nil recorder write to succeed, got %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.SetCursor(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r.ObserveRun(3, 2*time.Second, true)

	path := filepath.Join(t.TempDir(), "archiver.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"archiver_bookmarks_processed 3",
		"archiver_run_duration_seconds 2",
		"archiver_last_run_success 1",
		"archiver_cursor_timestamp_seconds 1.7040672e+09",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in textfile:\n%s", want, out)
		}
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
