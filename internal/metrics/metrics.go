// Package metrics exposes Prometheus collectors for an archiver run.
//
// A run is a one-shot batch job, so collectors live on a private registry and
// are flushed to a node_exporter textfile when the run finishes.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the collectors for a single run.
type Recorder struct {
	registry *prometheus.Registry

	archivesTotal       *prometheus.CounterVec
	retriesSkippedTotal prometheus.Counter
	lookupMissesTotal   prometheus.Counter
	cursorTimestamp     prometheus.Gauge
	runDuration         prometheus.Gauge
	bookmarksProcessed  prometheus.Gauge
	lastRunSuccess      prometheus.Gauge
}

// New registers the archiver collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		archivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_archives_total",
				Help: "Archive attempts, labeled by phase, outcome and site.",
			},
			[]string{"phase", "outcome", "site"},
		),
		retriesSkippedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_retries_skipped_total",
				Help: "Retry ledger entries skipped because they reached the ceiling.",
			},
		),
		lookupMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_lookup_misses_total",
				Help: "Retry ledger entries the bookmarking service no longer knows.",
			},
		),
		cursorTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_cursor_timestamp_seconds",
				Help: "Fetch cursor value at the end of the run, as a Unix timestamp.",
			},
		),
		runDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_run_duration_seconds",
				Help: "Wall-clock duration of the last run.",
			},
		),
		bookmarksProcessed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_bookmarks_processed",
				Help: "New bookmarks processed by the last run.",
			},
		),
		lastRunSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_last_run_success",
				Help: "1 when the last run completed without a fatal error.",
			},
		),
	}
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveArchive counts one archive attempt.
func (r *Recorder) ObserveArchive(phase, outcome, rawURL string) {
	if r == nil {
		return
	}
	r.archivesTotal.WithLabelValues(phase, outcome, SanitizeSite(rawURL)).Inc()
}

// ObserveRetrySkipped counts a ledger entry at or above the ceiling.
func (r *Recorder) ObserveRetrySkipped() {
	if r == nil {
		return
	}
	r.retriesSkippedTotal.Inc()
}

// ObserveLookupMiss counts a ledger entry the service could not resolve.
func (r *Recorder) ObserveLookupMiss() {
	if r == nil {
		return
	}
	r.lookupMissesTotal.Inc()
}

// SetCursor records the cursor value.
func (r *Recorder) SetCursor(t time.Time) {
	if r == nil {
		return
	}
	r.cursorTimestamp.Set(float64(t.Unix()))
}

// ObserveRun records the run totals.
func (r *Recorder) ObserveRun(processed int, took time.Duration, success bool) {
	if r == nil {
		return
	}
	r.bookmarksProcessed.Set(float64(processed))
	r.runDuration.Set(took.Seconds())
	if success {
		r.lastRunSuccess.Set(1)
	} else {
		r.lastRunSuccess.Set(0)
	}
}

// WriteTextfile writes the registry in the text exposition format. The
// write is atomic, so node_exporter never scrapes a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
