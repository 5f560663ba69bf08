// Package metrics is the process-wide metrics facade used by the ingestor
// and the metadata fetcher. Core packages only see Backend; concrete
// backends (internal/metrics/datadog) are chosen by the CLI.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are the dimensions of one observation.
type Labels map[string]string

// Backend receives counters and histogram samples.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by this module.
const (
	RunsTotal            = "ingest_runs_total"
	RowsTotal            = "ingest_rows_total"
	StageDurationSeconds = "ingest_stage_duration_seconds"
	HTTPRequestsTotal    = "ingest_http_requests_total"
	HTTPDurationSeconds  = "ingest_http_request_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. A nil b restores the no-op
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// RecordRun counts one finished ingestion run.
func RecordRun(mode, sink, status string) {
	current().IncCounter(RunsTotal, 1, Labels{"mode": mode, "sink": sink, "status": status})
}

// RecordRows adds n rows to the counter of one statistic. Non-positive
// values are dropped.
func RecordRows(statistic string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"statistic": statistic})
}

// RecordStage observes how long one ingestion stage took.
func RecordStage(stage string, err error, d time.Duration) {
	current().ObserveHistogram(StageDurationSeconds, d.Seconds(), Labels{"stage": stage, "status": status(err)})
}

// RecordHTTP counts one HTTP attempt. code is 0 when no response arrived.
func RecordHTTP(code int, d time.Duration) {
	s := "error"
	if code > 0 {
		s = strconv.Itoa(code)
	}
	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, Labels{"status": s})
	b.ObserveHistogram(HTTPDurationSeconds, d.Seconds(), Labels{"status": s})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
