package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"ingest/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

func quietBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:   "job1",
		submitter: fs,
		now:       func() time.Time { return time.Unix(1000, 0) },
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name, env, ddEnv, want string
	}{
		{"env wins", "prod", "staging", "env:prod"},
		{"dd env fallback", "", "staging", "env:staging"},
		{"whitespace ignored", "  ", "", "env:unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			t.Setenv("DD_ENV", tt.ddEnv)
			if got := resolveEnvTag(); got != tt.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewBackendDefaults(t *testing.T) {
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"service:ingest"},
		submitter: &fakeSubmitter{},
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:ingest") || !contains(b.baseTags, "service:ingest") {
		t.Fatalf("baseTags=%v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

func TestFlushSubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b := quietBackend(t, fs)

	b.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"mode": "AppendOnly", "sink": "sqlite", "status": "DONE"})
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"statistic": "ROWS_INSERTED"})
	b.ObserveHistogram(metrics.StageDurationSeconds, 0.5, metrics.Labels{"stage": "ingest", "status": "ok"})
	b.IncCounter(metrics.HTTPRequestsTotal, 2, metrics.Labels{"status": "503"})
	b.ObserveHistogram(metrics.HTTPDurationSeconds, 0.1, metrics.Labels{"status": "503"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if !b.buf.isEmpty() {
		t.Fatalf("buffers not reset after Flush")
	}

	var names []string
	for _, s := range fs.last().Series {
		names = append(names, s.Metric)
		if s.Metric == "ingest.runs.total" {
			for _, tag := range []string{"mode:AppendOnly", "sink:sqlite", "status:DONE", "job:job1"} {
				if !contains(s.Tags, tag) {
					t.Fatalf("runs series missing tag %q: %v", tag, s.Tags)
				}
			}
		}
	}
	sort.Strings(names)
	for _, w := range []string{
		"ingest.runs.total",
		"ingest.rows.total",
		"ingest.http.requests.total",
		"ingest.stage.duration_seconds.p50",
		"ingest.stage.duration_seconds.samples",
		"ingest.http.request_duration_seconds.max",
	} {
		if !contains(names, w) {
			t.Fatalf("payload missing %q; got=%v", w, names)
		}
	}
}

func TestFlushNoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b := quietBackend(t, fs)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("submissions=%d, want 0", fs.count())
	}
}

func TestFlushErrorStillResets(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("boom")}
	b := quietBackend(t, fs)
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"statistic": "ROWS_DELETED"})
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() err=nil, want error")
	}
	if !b.buf.isEmpty() {
		t.Fatalf("buffers not reset after failed Flush")
	}
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"statistic": "ROWS_INSERTED"})
	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("no background flush")
	}

	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"statistic": "ROWS_INSERTED"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if fs.count() < 2 {
		t.Fatalf("submissions=%d after Close, want >= 2", fs.count())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v", err)
	}
}

func TestIgnoredObservations(t *testing.T) {
	b := quietBackend(t, &fakeSubmitter{})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.RowsTotal, 0, metrics.Labels{"statistic": "ROWS_INSERTED"})
	b.IncCounter("unknown_total", 1, nil)
	b.ObserveHistogram(metrics.StageDurationSeconds, -1, metrics.Labels{"stage": "ingest"})
	if !b.buf.isEmpty() {
		t.Fatalf("buffers=%+v, want empty", b.buf)
	}

	b.IncCounter(metrics.HTTPRequestsTotal, 1, nil)
	if b.buf.httpCounts["unknown"] != 1 {
		t.Fatalf("missing status should map to unknown: %v", b.buf.httpCounts)
	}
}

func TestConcurrentAccess(t *testing.T) {
	b := quietBackend(t, &fakeSubmitter{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"statistic": "ROWS_INSERTED"})
				b.ObserveHistogram(metrics.StageDurationSeconds, 0.01, metrics.Labels{"stage": "merge", "status": "ok"})
			}
		}()
	}
	wg.Wait()
	if got := b.buf.rows["ROWS_INSERTED"]; got != 800 {
		t.Fatalf("rows=%v, want 800", got)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5}
	for p, want := range map[float64]float64{0: 1, 0.5: 3, 0.9: 5, 1: 5} {
		if got := percentileNearestRank(s, p); got != want {
			t.Fatalf("p%v=%v, want %v", p, got, want)
		}
	}
	if percentileNearestRank(nil, 0.5) != 0 {
		t.Fatalf("empty samples should yield 0")
	}
}

func TestSplitKeyPads(t *testing.T) {
	if got := splitKey(joinKey("a", "b"), 3); !reflect.DeepEqual(got, []string{"a", "b", "unknown"}) {
		t.Fatalf("splitKey=%v", got)
	}
}

func TestParseTagsCSV(t *testing.T) {
	if got := ParseTagsCSV(" env:prod, ,service:ingest "); !reflect.DeepEqual(got, []string{"env:prod", "service:ingest"}) {
		t.Fatalf("ParseTagsCSV=%v", got)
	}
	if ParseTagsCSV("") != nil {
		t.Fatalf("empty input should be nil")
	}
}

func TestWrapInitErr(t *testing.T) {
	if wrapInitErr(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	base := errors.New("x")
	if err := wrapInitErr(base); !errors.Is(err, base) {
		t.Fatalf("wrapInitErr lost cause: %v", err)
	}
}
