package ingestor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"ingest/internal/ingestmode"
	"ingest/internal/logical"
	"ingest/internal/sink"
)

const (
	DefaultSampleRowCount = 20
	DefaultGuardTimeout   = 30 * time.Second
)

// Options are the per-run switches of an Ingestor. Start from
// DefaultOptions; the zero value turns statistics and staging cleanup off.
type Options struct {
	CleanupStagingData     bool
	CollectStatistics      bool
	EnableSchemaEvolution  bool
	CreateStagingDataset   bool
	EnableConcurrentSafety bool

	// SampleRowCount bounds the rows returned with a duplicate or data
	// error failure. 0 means DefaultSampleRowCount.
	SampleRowCount int

	CaseConversion sink.CaseConversion

	// IngestRunID defaults to a random UUID.
	IngestRunID string
	// ExecutionTimestamp is the batch start time. Defaults to now (UTC).
	ExecutionTimestamp time.Time
	// GuardTimeout bounds the wait for the per-table guard.
	GuardTimeout time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		CleanupStagingData: true,
		CollectStatistics:  true,
		SampleRowCount:     DefaultSampleRowCount,
		GuardTimeout:       DefaultGuardTimeout,
	}
}

func (o Options) withDefaults(now func() time.Time) Options {
	if o.SampleRowCount == 0 {
		o.SampleRowCount = DefaultSampleRowCount
	}
	if o.GuardTimeout == 0 {
		o.GuardTimeout = DefaultGuardTimeout
	}
	if o.IngestRunID == "" {
		o.IngestRunID = uuid.NewString()
	}
	if o.ExecutionTimestamp.IsZero() {
		o.ExecutionTimestamp = now()
	}
	o.ExecutionTimestamp = o.ExecutionTimestamp.UTC()
	return o
}

func (o Options) validate(ds logical.Datasets) error {
	if o.SampleRowCount < 0 {
		return fmt.Errorf("sample row count %d is negative", o.SampleRowCount)
	}
	if o.GuardTimeout < 0 {
		return fmt.Errorf("guard timeout %s is negative", o.GuardTimeout)
	}
	if _, ok := ds.Staging.(*logical.Selection); ok && o.CleanupStagingData {
		return fmt.Errorf("cleanup of staging data is not possible when staging is a selection")
	}
	return nil
}

func (o Options) planner(mode ingestmode.IngestMode, caps sink.Capabilities) ingestmode.Planner {
	return ingestmode.Planner{Mode: mode, Options: ingestmode.Options{
		CleanupStagingData:   o.CleanupStagingData,
		CollectStatistics:    o.CollectStatistics,
		CreateStagingDataset: o.CreateStagingDataset,
		SampleRowCount:       o.SampleRowCount,
		Capabilities:         caps,
	}}
}
