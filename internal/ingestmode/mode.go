// Package ingestmode describes how staging data is merged into a main table
// and turns that description into logical plans.
//
// An IngestMode is one of NontemporalSnapshot, AppendOnly, NontemporalDelta,
// UnitemporalDelta, UnitemporalSnapshot, BitemporalDelta, BitemporalSnapshot
// or BulkLoad. Every mode except BulkLoad carries a StagingPolicy that
// decides whether staging rows are deduplicated and versioned into a temp
// staging table before the merge.
package ingestmode

import "ingest/internal/logical"

// Deduplication is the policy for identical rows in staging.
type Deduplication int

const (
	AllowDuplicates Deduplication = iota
	FilterDuplicates
	FailOnDuplicates
)

func (d Deduplication) String() string {
	switch d {
	case AllowDuplicates:
		return "ALLOW_DUPLICATES"
	case FilterDuplicates:
		return "FILTER_DUPLICATES"
	case FailOnDuplicates:
		return "FAIL_ON_DUPLICATES"
	}
	return "UNKNOWN"
}

// VersioningKind selects among versions of the same primary key.
type VersioningKind int

const (
	NoVersioning VersioningKind = iota
	MaxVersion
	AllVersions
)

func (k VersioningKind) String() string {
	switch k {
	case NoVersioning:
		return "NO_VERSIONING"
	case MaxVersion:
		return "MAX_VERSION"
	case AllVersions:
		return "ALL_VERSIONS"
	}
	return "UNKNOWN"
}

// VersionResolver decides whether a staging row supersedes the main row
// with the same key.
type VersionResolver int

const (
	DigestBased VersionResolver = iota
	GreaterThanActiveVersion
	GreaterThanEqualToActiveVersion
)

// Versioning is the versioning strategy of a mode.
//
// PerformVersioning=false means staging is already versioned: MaxVersion
// then only affects the merge condition, and AllVersions expects staging to
// carry DataSplitField itself.
type Versioning struct {
	Kind              VersioningKind
	Field             string
	PerformVersioning bool
	Resolver          VersionResolver
	// DataSplitField names the AllVersions split column. Empty means
	// legend_persistence_data_split.
	DataSplitField string
}

// SplitField returns the data split column name, or "" outside AllVersions.
func (v Versioning) SplitField() string {
	if v.Kind != AllVersions {
		return ""
	}
	if v.DataSplitField == "" {
		return logical.DefaultDataSplit
	}
	return v.DataSplitField
}

// StagingPolicy is the deduplication and versioning applied to staging.
type StagingPolicy struct {
	Deduplication Deduplication
	Versioning    Versioning
}

// Policy returns p; modes embed StagingPolicy and inherit it.
func (p StagingPolicy) Policy() StagingPolicy { return p }

// NeedsTempStaging reports whether staging rows must be materialized into
// a temp staging table before the merge.
func (p StagingPolicy) NeedsTempStaging() bool {
	if p.Deduplication == FilterDuplicates || p.Deduplication == FailOnDuplicates {
		return true
	}
	return p.Versioning.Kind != NoVersioning && p.Versioning.PerformVersioning
}

// Auditing stamps every written row with the batch start time. An empty
// Field means no auditing.
type Auditing struct {
	Field string
}

// MilestoningKind selects the transaction dimension of temporal modes.
type MilestoningKind int

const (
	BatchID MilestoningKind = iota
	TransactionDateTime
	BatchIDAndDateTime
)

// TransactionMilestoning names the open/close columns of temporal modes.
// Empty names take the defaults batch_id_in, batch_id_out, batch_time_in
// and batch_time_out.
type TransactionMilestoning struct {
	Kind        MilestoningKind
	BatchIDIn   string
	BatchIDOut  string
	DateTimeIn  string
	DateTimeOut string
}

func (m TransactionMilestoning) usesBatchID() bool { return m.Kind != TransactionDateTime }
func (m TransactionMilestoning) usesDateTime() bool { return m.Kind != BatchID }

func (m TransactionMilestoning) withDefaults() TransactionMilestoning {
	if m.BatchIDIn == "" {
		m.BatchIDIn = "batch_id_in"
	}
	if m.BatchIDOut == "" {
		m.BatchIDOut = "batch_id_out"
	}
	if m.DateTimeIn == "" {
		m.DateTimeIn = "batch_time_in"
	}
	if m.DateTimeOut == "" {
		m.DateTimeOut = "batch_time_out"
	}
	return m
}

// fields returns the maintained column names in declaration order.
func (m TransactionMilestoning) fields() []string {
	m = m.withDefaults()
	var out []string
	if m.usesBatchID() {
		out = append(out, m.BatchIDIn, m.BatchIDOut)
	}
	if m.usesDateTime() {
		out = append(out, m.DateTimeIn, m.DateTimeOut)
	}
	return out
}

// ValidityMilestoning is the business-time dimension of bitemporal modes.
// SourceFrom (and SourceThru for snapshots) are staging columns; FromTarget
// and ThruTarget are the main columns they are written to.
type ValidityMilestoning struct {
	FromTarget string
	ThruTarget string
	SourceFrom string
	SourceThru string
}

func (v ValidityMilestoning) withDefaults() ValidityMilestoning {
	if v.FromTarget == "" {
		v.FromTarget = "validity_from_target"
	}
	if v.ThruTarget == "" {
		v.ThruTarget = "validity_through_target"
	}
	return v
}

// DeleteIndicator marks staging rows that delete their key. A row is a
// delete when Field holds one of Values.
type DeleteIndicator struct {
	Field  string
	Values []any
}

// IngestMode is the closed set of merge strategies.
type IngestMode interface {
	Name() string
	Policy() StagingPolicy
	mode()
}

// NontemporalSnapshot replaces the content of main with staging.
type NontemporalSnapshot struct {
	StagingPolicy
	Auditing Auditing
}

// AppendOnly inserts staging rows. With FilterExistingRecords, rows whose
// key and digest are already in main are skipped.
type AppendOnly struct {
	StagingPolicy
	Auditing              Auditing
	DigestField           string
	FilterExistingRecords bool
}

// NontemporalDelta updates changed rows by key and inserts new ones.
type NontemporalDelta struct {
	StagingPolicy
	Auditing        Auditing
	DigestField     string
	DeleteIndicator *DeleteIndicator
}

// UnitemporalDelta closes superseded open rows and opens new versions.
type UnitemporalDelta struct {
	StagingPolicy
	DigestField     string
	Milestoning     TransactionMilestoning
	DeleteIndicator *DeleteIndicator
}

// UnitemporalSnapshot closes open rows absent from staging and opens
// staging rows not already open. With PartitionFields, only partitions
// present in staging are closed.
type UnitemporalSnapshot struct {
	StagingPolicy
	DigestField     string
	Milestoning     TransactionMilestoning
	PartitionFields []string
}

// BitemporalDelta maintains processing and business time; staging gives
// the validity start only and the end is derived.
type BitemporalDelta struct {
	StagingPolicy
	DigestField string
	Milestoning TransactionMilestoning
	Validity    ValidityMilestoning
}

// BitemporalSnapshot is UnitemporalSnapshot with the validity range taken
// from staging as part of the row identity.
type BitemporalSnapshot struct {
	StagingPolicy
	DigestField string
	Milestoning TransactionMilestoning
	Validity    ValidityMilestoning
}

// BulkLoad copies staged files into main.
//
// DigestUDF and DigestField add a digest computed over every staged column.
// BatchIDField, when set, receives the batch id.
type BulkLoad struct {
	Auditing     Auditing
	DigestUDF    string
	DigestField  string
	BatchIDField string
}

func (NontemporalSnapshot) Name() string { return "NontemporalSnapshot" }
func (AppendOnly) Name() string          { return "AppendOnly" }
func (NontemporalDelta) Name() string    { return "NontemporalDelta" }
func (UnitemporalDelta) Name() string    { return "UnitemporalDelta" }
func (UnitemporalSnapshot) Name() string { return "UnitemporalSnapshot" }
func (BitemporalDelta) Name() string     { return "BitemporalDelta" }
func (BitemporalSnapshot) Name() string  { return "BitemporalSnapshot" }
func (BulkLoad) Name() string            { return "BulkLoad" }

// Policy of a bulk load is always AllowDuplicates without versioning.
func (BulkLoad) Policy() StagingPolicy { return StagingPolicy{} }

func (NontemporalSnapshot) mode() {}
func (AppendOnly) mode()          {}
func (NontemporalDelta) mode()    {}
func (UnitemporalDelta) mode()    {}
func (UnitemporalSnapshot) mode() {}
func (BitemporalDelta) mode()     {}
func (BitemporalSnapshot) mode()  {}
func (BulkLoad) mode()            {}

// ParseDeduplication accepts the names printed by Deduplication.String.
func ParseDeduplication(s string) (Deduplication, bool) {
	for _, d := range []Deduplication{AllowDuplicates, FilterDuplicates, FailOnDuplicates} {
		if d.String() == s {
			return d, true
		}
	}
	return AllowDuplicates, false
}

// ParseVersioningKind accepts the names printed by VersioningKind.String.
func ParseVersioningKind(s string) (VersioningKind, bool) {
	for _, k := range []VersioningKind{NoVersioning, MaxVersion, AllVersions} {
		if k.String() == s {
			return k, true
		}
	}
	return NoVersioning, false
}
