package config

import (
	"fmt"
	"strings"
	"time"

	"ingest/internal/ingestmode"
	"ingest/internal/ingestor"
	"ingest/internal/logical"
	"ingest/internal/sink"
)

// Ingestion is a configuration resolved into engine values.
type Ingestion struct {
	Job      string
	SinkName string
	DSN      string
	Project  string
	Mode     ingestmode.IngestMode
	Datasets logical.Datasets
	Options  ingestor.Options
}

// Build converts cfg. It reports the first problem only; Validate lists
// them all.
func Build(cfg *Config) (Ingestion, error) {
	mode, err := buildMode(cfg.Mode)
	if err != nil {
		return Ingestion{}, fmt.Errorf("mode: %w", err)
	}
	main, err := buildDefinition(cfg.Main)
	if err != nil {
		return Ingestion{}, fmt.Errorf("main: %w", err)
	}
	staging, err := buildStaging(cfg.Staging)
	if err != nil {
		return Ingestion{}, fmt.Errorf("staging: %w", err)
	}
	ds := logical.Datasets{Main: main, Staging: staging}
	if cfg.Metadata != nil {
		if ds.Metadata, err = buildDefinition(*cfg.Metadata); err != nil {
			return Ingestion{}, fmt.Errorf("metadata: %w", err)
		}
	}
	opts, err := buildOptions(cfg.Options)
	if err != nil {
		return Ingestion{}, fmt.Errorf("options: %w", err)
	}
	return Ingestion{
		Job:      cfg.Job,
		SinkName: strings.ToLower(cfg.Sink.Kind),
		DSN:      cfg.Sink.DSN,
		Project:  cfg.Sink.Project,
		Mode:     mode,
		Datasets: ds,
		Options:  opts,
	}, nil
}

func buildOptions(c Options) (ingestor.Options, error) {
	o := ingestor.DefaultOptions()
	if c.CleanupStagingData != nil {
		o.CleanupStagingData = *c.CleanupStagingData
	}
	if c.CollectStatistics != nil {
		o.CollectStatistics = *c.CollectStatistics
	}
	o.EnableSchemaEvolution = c.EnableSchemaEvolution
	o.CreateStagingDataset = c.CreateStagingDataset
	o.EnableConcurrentSafety = c.EnableConcurrentSafety
	o.IngestRunID = c.IngestRunID
	if c.SampleRowCount != nil {
		o.SampleRowCount = *c.SampleRowCount
	}
	cc, err := sink.ParseCaseConversion(c.CaseConversion)
	if err != nil {
		return o, err
	}
	o.CaseConversion = cc
	if c.GuardTimeout != "" {
		d, err := time.ParseDuration(c.GuardTimeout)
		if err != nil {
			return o, fmt.Errorf("guard_timeout: %w", err)
		}
		o.GuardTimeout = d
	}
	return o, nil
}

func buildStaging(d Dataset) (logical.Dataset, error) {
	if d.Files == nil {
		return buildDefinition(d)
	}
	schema, err := buildSchema(d)
	if err != nil {
		return nil, err
	}
	format := logical.FileFormat(strings.ToUpper(d.Files.Format))
	switch format {
	case "", logical.FormatCSV, logical.FormatJSON:
	default:
		return nil, fmt.Errorf("unknown file format %q", d.Files.Format)
	}
	return &logical.StagedFilesDataset{
		Alias: d.Alias,
		Properties: logical.StagedFilesProperties{
			Location:       d.Files.Location,
			Paths:          d.Files.Paths,
			Patterns:       d.Files.Patterns,
			Format:         format,
			Delimiter:      d.Files.Delimiter,
			SkipHeaderRows: d.Files.SkipHeaderRows,
		},
		Schema: schema,
	}, nil
}

func buildDefinition(d Dataset) (*logical.DatasetDefinition, error) {
	if d.Files != nil {
		return nil, fmt.Errorf("files are only allowed on staging")
	}
	schema, err := buildSchema(d)
	if err != nil {
		return nil, err
	}
	return &logical.DatasetDefinition{
		Database: d.Database,
		Group:    d.Group,
		Name:     d.Name,
		Alias:    d.Alias,
		Schema:   schema,
	}, nil
}

func buildSchema(d Dataset) (logical.SchemaDefinition, error) {
	s := logical.SchemaDefinition{
		PartitionKeys: d.PartitionKeys,
		ClusterKeys:   d.ClusterKeys,
		ShardKeys:     d.ShardKeys,
	}
	for _, f := range d.Fields {
		lf, err := buildField(f)
		if err != nil {
			return s, err
		}
		s.Fields = append(s.Fields, lf)
	}
	for _, idx := range d.Indexes {
		s.Indexes = append(s.Indexes, logical.Index{Name: idx.Name, Fields: idx.Fields, Unique: idx.Unique})
	}
	if d.ColumnStore != nil {
		s.ColumnStore = &logical.ColumnStore{Keys: *d.ColumnStore}
	}
	return s, s.Validate()
}

func buildField(f Field) (logical.Field, error) {
	dt, err := logical.ParseDataType(f.Type)
	if err != nil {
		return logical.Field{}, fmt.Errorf("field %q: %w", f.Name, err)
	}
	nullable := true
	if f.Nullable != nil {
		nullable = *f.Nullable
	}
	return logical.Field{
		Name:         f.Name,
		Type:         logical.FieldType{DataType: dt, Length: f.Length, Scale: f.Scale},
		Nullable:     nullable,
		PrimaryKey:   f.PrimaryKey,
		Unique:       f.Unique,
		Identity:     f.Identity,
		Default:      f.Default,
		Alias:        f.Alias,
		ColumnNumber: f.ColumnNumber,
	}, nil
}

var modeNames = []string{
	"NontemporalSnapshot", "AppendOnly", "NontemporalDelta",
	"UnitemporalDelta", "UnitemporalSnapshot",
	"BitemporalDelta", "BitemporalSnapshot", "BulkLoad",
}

func canonicalMode(kind string) (string, bool) {
	k := strings.ReplaceAll(strings.ReplaceAll(kind, "_", ""), "-", "")
	for _, n := range modeNames {
		if strings.EqualFold(n, k) {
			return n, true
		}
	}
	return "", false
}

func buildMode(m Mode) (ingestmode.IngestMode, error) {
	name, ok := canonicalMode(m.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", m.Kind)
	}
	policy, err := buildPolicy(m)
	if err != nil {
		return nil, err
	}
	audit := ingestmode.Auditing{Field: m.AuditField}
	var del *ingestmode.DeleteIndicator
	if m.DeleteIndicator != nil {
		del = &ingestmode.DeleteIndicator{Field: m.DeleteIndicator.Field, Values: m.DeleteIndicator.Values}
	}
	ms, err := buildMilestoning(m.Milestoning)
	if err != nil {
		return nil, err
	}
	var validity ingestmode.ValidityMilestoning
	if v := m.Validity; v != nil {
		validity = ingestmode.ValidityMilestoning{FromTarget: v.FromTarget, ThruTarget: v.ThruTarget, SourceFrom: v.SourceFrom, SourceThru: v.SourceThru}
	}

	switch name {
	case "NontemporalSnapshot":
		return ingestmode.NontemporalSnapshot{StagingPolicy: policy, Auditing: audit}, nil
	case "AppendOnly":
		return ingestmode.AppendOnly{StagingPolicy: policy, Auditing: audit, DigestField: m.DigestField, FilterExistingRecords: m.FilterExistingRecords}, nil
	case "NontemporalDelta":
		return ingestmode.NontemporalDelta{StagingPolicy: policy, Auditing: audit, DigestField: m.DigestField, DeleteIndicator: del}, nil
	case "UnitemporalDelta":
		return ingestmode.UnitemporalDelta{StagingPolicy: policy, DigestField: m.DigestField, Milestoning: ms, DeleteIndicator: del}, nil
	case "UnitemporalSnapshot":
		return ingestmode.UnitemporalSnapshot{StagingPolicy: policy, DigestField: m.DigestField, Milestoning: ms, PartitionFields: m.PartitionFields}, nil
	case "BitemporalDelta":
		return ingestmode.BitemporalDelta{StagingPolicy: policy, DigestField: m.DigestField, Milestoning: ms, Validity: validity}, nil
	case "BitemporalSnapshot":
		return ingestmode.BitemporalSnapshot{StagingPolicy: policy, DigestField: m.DigestField, Milestoning: ms, Validity: validity}, nil
	default:
		return ingestmode.BulkLoad{Auditing: audit, DigestUDF: m.DigestUDF, DigestField: m.DigestField, BatchIDField: m.BatchIDField}, nil
	}
}

func buildPolicy(m Mode) (ingestmode.StagingPolicy, error) {
	var p ingestmode.StagingPolicy
	if m.Deduplication != "" {
		d, ok := ingestmode.ParseDeduplication(strings.ToUpper(m.Deduplication))
		if !ok {
			return p, fmt.Errorf("unknown deduplication %q", m.Deduplication)
		}
		p.Deduplication = d
	}
	v := m.Versioning
	if v == nil {
		return p, nil
	}
	k, ok := ingestmode.ParseVersioningKind(strings.ToUpper(v.Kind))
	if !ok {
		return p, fmt.Errorf("unknown versioning %q", v.Kind)
	}
	r, err := parseResolver(v.Resolver)
	if err != nil {
		return p, err
	}
	perform := true
	if v.PerformVersioning != nil {
		perform = *v.PerformVersioning
	}
	p.Versioning = ingestmode.Versioning{
		Kind:              k,
		Field:             v.Field,
		PerformVersioning: perform,
		Resolver:          r,
		DataSplitField:    v.DataSplitField,
	}
	return p, nil
}

func parseResolver(s string) (ingestmode.VersionResolver, error) {
	switch strings.ToUpper(s) {
	case "", "DIGEST_BASED":
		return ingestmode.DigestBased, nil
	case "GREATER_THAN_ACTIVE_VERSION":
		return ingestmode.GreaterThanActiveVersion, nil
	case "GREATER_THAN_EQUAL_TO_ACTIVE_VERSION":
		return ingestmode.GreaterThanEqualToActiveVersion, nil
	}
	return 0, fmt.Errorf("unknown version resolver %q", s)
}

func buildMilestoning(m *Milestoning) (ingestmode.TransactionMilestoning, error) {
	if m == nil {
		return ingestmode.TransactionMilestoning{}, nil
	}
	out := ingestmode.TransactionMilestoning{
		BatchIDIn:   m.BatchIDIn,
		BatchIDOut:  m.BatchIDOut,
		DateTimeIn:  m.DateTimeIn,
		DateTimeOut: m.DateTimeOut,
	}
	switch strings.ToUpper(m.Kind) {
	case "", "BATCH_ID":
		out.Kind = ingestmode.BatchID
	case "DATE_TIME", "TRANSACTION_DATE_TIME":
		out.Kind = ingestmode.TransactionDateTime
	case "BATCH_ID_AND_DATE_TIME":
		out.Kind = ingestmode.BatchIDAndDateTime
	default:
		return out, fmt.Errorf("unknown milestoning %q", m.Kind)
	}
	return out, nil
}
