package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type call struct {
	name   string
	value  float64
	labels Labels
}

type recorder struct {
	mu       sync.Mutex
	counters []call
	hists    []call
	flushes  int
}

func (r *recorder) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, call{name, delta, l})
}

func (r *recorder) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists = append(r.hists, call{name, v, l})
}

func (r *recorder) Flush() error {
	r.flushes++
	return nil
}

func TestHelpersReachInstalledBackend(t *testing.T) {
	r := &recorder{}
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordRun("AppendOnly", "sqlite", "DONE")
	RecordRows("ROWS_INSERTED", 3)
	RecordRows("ROWS_DELETED", 0)
	RecordStage("ingest", errors.New("x"), 1500*time.Millisecond)
	RecordHTTP(503, time.Second)
	RecordHTTP(0, time.Second)
	assert.NoError(t, Flush())

	assert.Equal(t, []call{
		{RunsTotal, 1, Labels{"mode": "AppendOnly", "sink": "sqlite", "status": "DONE"}},
		{RowsTotal, 3, Labels{"statistic": "ROWS_INSERTED"}},
		{HTTPRequestsTotal, 1, Labels{"status": "503"}},
		{HTTPRequestsTotal, 1, Labels{"status": "error"}},
	}, r.counters)
	assert.Equal(t, call{StageDurationSeconds, 1.5, Labels{"stage": "ingest", "status": "error"}}, r.hists[0])
	assert.Len(t, r.hists, 3)
	assert.Equal(t, 1, r.flushes)
}

func TestNilBackendIsNop(t *testing.T) {
	SetBackend(nil)
	RecordRun("m", "s", "DONE")
	assert.NoError(t, Flush())
}
