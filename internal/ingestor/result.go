package ingestor

import (
	"time"

	"ingest/internal/ingestmode"
	"ingest/internal/logical"
)

// Status is the outcome of a run.
type Status string

const (
	Succeeded Status = "SUCCEEDED"
	Failed    Status = "FAILED"
)

// Result is what one Ingest call reports. It is built once per run.
type Result struct {
	Status     Status
	RunID      string
	Statistics map[ingestmode.StatisticName]int64

	// IngestionTimestamp is the batch start time, in UTC.
	IngestionTimestamp time.Time

	// BatchID is the last batch id recorded in the metadata table, nil when
	// the run stopped before recording one.
	BatchID *int64

	// Datasets reflect schema evolution and the maintained columns.
	Datasets logical.Datasets

	// SchemaEvolutionSQL lists the ALTER statements applied to main.
	SchemaEvolutionSQL []string

	// Samples holds the offending rows when the run failed a duplicate or
	// data error check.
	Samples []map[string]any

	// Message is the failure text, empty on success.
	Message string
}

// Stat returns one statistic, 0 when it was not collected.
func (r Result) Stat(name ingestmode.StatisticName) int64 { return r.Statistics[name] }
