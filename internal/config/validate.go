package config

import (
	"fmt"
	"strings"
	"time"

	"ingest/internal/ingestmode"
	"ingest/internal/logical"
	"ingest/internal/sink"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path points into the document, e.g.
// "main.fields[2].type".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks cfg without touching a database. Sink kinds are checked
// against the sink registry, so callers must have registered the sinks
// they accept.
func Validate(cfg *Config) []Issue {
	v := &validator{}
	if cfg == nil {
		v.errorf("", "configuration is empty")
		return v.issues
	}

	switch {
	case strings.TrimSpace(cfg.Sink.Kind) == "":
		v.errorf("sink.kind", "is required")
	default:
		if _, err := sink.Get(strings.ToLower(cfg.Sink.Kind)); err != nil {
			v.errorf("sink.kind", "unknown sink %q (known: %s)", cfg.Sink.Kind, strings.Join(sink.Names(), ", "))
		}
	}
	if strings.TrimSpace(cfg.Sink.DSN) == "" && !strings.EqualFold(cfg.Sink.Kind, "bigquery") {
		v.warnf("sink.dsn", "is empty; set it or %s before running", EnvDSN)
	}

	if cfg.Main.Files != nil {
		v.errorf("main.files", "main must be a table")
	}
	if cfg.Main.Name == "" {
		v.errorf("main.name", "is required")
	}
	v.dataset("main", cfg.Main)

	if cfg.Staging.Files == nil && cfg.Staging.Name == "" {
		v.errorf("staging.name", "is required unless staging.files is set")
	}
	if cfg.Staging.Files != nil {
		v.files("staging.files", cfg.Staging.Files)
	}
	if len(cfg.Staging.Fields) == 0 {
		v.errorf("staging.fields", "at least one field is required")
	}
	v.dataset("staging", cfg.Staging)

	if cfg.Metadata != nil {
		if cfg.Metadata.Name == "" {
			v.errorf("metadata.name", "is required when metadata is set")
		}
		v.dataset("metadata", *cfg.Metadata)
	}

	v.mode(cfg)
	v.options(cfg)
	return v.issues
}

type validator struct {
	issues []Issue
}

func (v *validator) errorf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warnf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) dataset(path string, d Dataset) {
	seen := map[string]bool{}
	for i, f := range d.Fields {
		fp := fmt.Sprintf("%s.fields[%d]", path, i)
		switch {
		case strings.TrimSpace(f.Name) == "":
			v.errorf(fp+".name", "is required")
		case seen[f.Name]:
			v.errorf(fp+".name", "duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if _, err := logical.ParseDataType(f.Type); err != nil {
			v.errorf(fp+".type", "%v", err)
		}
		if f.Scale != nil && f.Length == nil {
			v.errorf(fp+".scale", "requires length")
		}
		if f.PrimaryKey && f.Nullable != nil && *f.Nullable {
			v.warnf(fp+".nullable", "primary key fields are never nullable")
		}
	}
	keys := func(what string, names []string) {
		for i, n := range names {
			if !seen[n] {
				v.errorf(fmt.Sprintf("%s.%s[%d]", path, what, i), "unknown field %q", n)
			}
		}
	}
	// main may legitimately declare no fields and be derived from staging
	if len(d.Fields) == 0 {
		return
	}
	keys("partition_keys", d.PartitionKeys)
	keys("cluster_keys", d.ClusterKeys)
	keys("shard_keys", d.ShardKeys)
	if d.ColumnStore != nil {
		keys("column_store", *d.ColumnStore)
	}
	for i, idx := range d.Indexes {
		if len(idx.Fields) == 0 {
			v.errorf(fmt.Sprintf("%s.indexes[%d].fields", path, i), "is empty")
		}
		keys(fmt.Sprintf("indexes[%d].fields", i), idx.Fields)
	}
}

func (v *validator) files(path string, f *Files) {
	if len(f.Paths) == 0 && len(f.Patterns) == 0 {
		v.errorf(path, "paths or patterns are required")
	}
	switch logical.FileFormat(strings.ToUpper(f.Format)) {
	case "", logical.FormatCSV, logical.FormatJSON:
	default:
		v.errorf(path+".format", "unknown file format %q", f.Format)
	}
	if f.SkipHeaderRows < 0 {
		v.errorf(path+".skip_header_rows", "must not be negative")
	}
	if len([]rune(f.Delimiter)) > 1 {
		v.errorf(path+".delimiter", "must be a single character")
	}
}

func (v *validator) mode(cfg *Config) {
	m := cfg.Mode
	name, ok := canonicalMode(m.Kind)
	if !ok {
		v.errorf("mode.kind", "unknown ingest mode %q (known: %s)", m.Kind, strings.Join(modeNames, ", "))
		return
	}
	bulk := name == "BulkLoad"
	if bulk != (cfg.Staging.Files != nil) {
		v.errorf("staging.files", "staged files go with BulkLoad and only with BulkLoad")
	}
	if m.Deduplication != "" {
		if _, ok := ingestmode.ParseDeduplication(strings.ToUpper(m.Deduplication)); !ok {
			v.errorf("mode.deduplication", "unknown deduplication %q", m.Deduplication)
		}
		if bulk {
			v.warnf("mode.deduplication", "ignored by BulkLoad")
		}
	}
	if m.Versioning != nil {
		if _, ok := ingestmode.ParseVersioningKind(strings.ToUpper(m.Versioning.Kind)); !ok {
			v.errorf("mode.versioning.kind", "unknown versioning %q", m.Versioning.Kind)
		}
		if _, err := parseResolver(m.Versioning.Resolver); err != nil {
			v.errorf("mode.versioning.resolver", "%v", err)
		}
	}
	if _, err := buildMilestoning(m.Milestoning); err != nil {
		v.errorf("mode.milestoning.kind", "%v", err)
	}
	if bulk && m.DigestField != "" && m.DigestUDF == "" {
		v.errorf("mode.digest_udf", "is required with digest_field for BulkLoad")
	}
	if m.DeleteIndicator != nil && len(m.DeleteIndicator.Values) == 0 {
		v.errorf("mode.delete_indicator.values", "at least one value is required")
	}
}

func (v *validator) options(cfg *Config) {
	o := cfg.Options
	if _, err := sink.ParseCaseConversion(o.CaseConversion); err != nil {
		v.errorf("options.case_conversion", "%v", err)
	}
	if o.GuardTimeout != "" {
		d, err := time.ParseDuration(o.GuardTimeout)
		switch {
		case err != nil:
			v.errorf("options.guard_timeout", "%v", err)
		case d < 0:
			v.errorf("options.guard_timeout", "must not be negative")
		case !o.EnableConcurrentSafety:
			v.warnf("options.guard_timeout", "has no effect without enable_concurrent_safety")
		}
	}
	if o.SampleRowCount != nil && *o.SampleRowCount < 0 {
		v.errorf("options.sample_row_count", "must not be negative")
	}
	if cfg.Staging.Files != nil && o.CleanupStagingData != nil && *o.CleanupStagingData {
		v.warnf("options.cleanup_staging_data", "staged files are never deleted")
	}
	if o.CreateStagingDataset && cfg.Staging.Files != nil {
		v.warnf("options.create_staging_dataset", "ignored for staged files")
	}
}
