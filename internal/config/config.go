// Package config decodes, validates and builds one ingestion configuration.
//
// A configuration names the sink, the main and staging datasets, the
// ingest mode and the run options. YAML is the native format; JSON
// documents decode too.
package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvDSN overrides Sink.DSN when set.
const EnvDSN = "INGEST_DSN"

// Config is the on-disk shape of one ingestion.
type Config struct {
	Job      string          `yaml:"job"`
	Sink     Sink            `yaml:"sink"`
	Main     Dataset         `yaml:"main"`
	Staging  Dataset         `yaml:"staging"`
	Metadata *Dataset        `yaml:"metadata,omitempty"`
	Mode     Mode            `yaml:"mode"`
	Options  Options         `yaml:"options"`
	Metrics  MetricsSettings `yaml:"metrics"`
}

// Sink selects the dialect and the connection.
type Sink struct {
	// Kind is a registered sink name (sqlite, postgres, mssql, ...).
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
	// Project is the BigQuery project; other sinks ignore it.
	Project string `yaml:"project,omitempty"`
}

// Dataset is a table, or staged files when Files is set.
type Dataset struct {
	Database      string   `yaml:"database,omitempty"`
	Group         string   `yaml:"group,omitempty"`
	Name          string   `yaml:"name,omitempty"`
	Alias         string   `yaml:"alias,omitempty"`
	Fields        []Field  `yaml:"fields,omitempty"`
	Indexes       []Index  `yaml:"indexes,omitempty"`
	PartitionKeys []string `yaml:"partition_keys,omitempty"`
	ClusterKeys   []string `yaml:"cluster_keys,omitempty"`
	ShardKeys     []string `yaml:"shard_keys,omitempty"`
	// ColumnStore marks a MemSQL column-store table; the list holds its
	// sort keys and may be empty.
	ColumnStore *[]string `yaml:"column_store,omitempty"`
	Files       *Files    `yaml:"files,omitempty"`
}

// Files describes staged files for BulkLoad.
type Files struct {
	Location       string   `yaml:"location,omitempty"`
	Paths          []string `yaml:"paths,omitempty"`
	Patterns       []string `yaml:"patterns,omitempty"`
	Format         string   `yaml:"format,omitempty"`
	Delimiter      string   `yaml:"delimiter,omitempty"`
	SkipHeaderRows int      `yaml:"skip_header_rows,omitempty"`
}

// Field is one column. Nullable defaults to true.
type Field struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	Length       *int   `yaml:"length,omitempty"`
	Scale        *int   `yaml:"scale,omitempty"`
	Nullable     *bool  `yaml:"nullable,omitempty"`
	PrimaryKey   bool   `yaml:"primary_key,omitempty"`
	Unique       bool   `yaml:"unique,omitempty"`
	Identity     bool   `yaml:"identity,omitempty"`
	Default      string `yaml:"default,omitempty"`
	Alias        string `yaml:"alias,omitempty"`
	ColumnNumber int    `yaml:"column_number,omitempty"`
}

type Index struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique,omitempty"`
}

// Mode is the union of every ingest mode's settings; Kind decides which
// ones apply.
type Mode struct {
	Kind                  string           `yaml:"kind"`
	DigestField           string           `yaml:"digest_field,omitempty"`
	Deduplication         string           `yaml:"deduplication,omitempty"`
	Versioning            *Versioning      `yaml:"versioning,omitempty"`
	AuditField            string           `yaml:"audit_field,omitempty"`
	FilterExistingRecords bool             `yaml:"filter_existing_records,omitempty"`
	DeleteIndicator       *DeleteIndicator `yaml:"delete_indicator,omitempty"`
	Milestoning           *Milestoning     `yaml:"milestoning,omitempty"`
	Validity              *Validity        `yaml:"validity,omitempty"`
	PartitionFields       []string         `yaml:"partition_fields,omitempty"`
	DigestUDF             string           `yaml:"digest_udf,omitempty"`
	BatchIDField          string           `yaml:"batch_id_field,omitempty"`
}

type Versioning struct {
	Kind              string `yaml:"kind"`
	Field             string `yaml:"field,omitempty"`
	PerformVersioning *bool  `yaml:"perform_versioning,omitempty"`
	Resolver          string `yaml:"resolver,omitempty"`
	DataSplitField    string `yaml:"data_split_field,omitempty"`
}

type DeleteIndicator struct {
	Field  string `yaml:"field"`
	Values []any  `yaml:"values"`
}

type Milestoning struct {
	Kind        string `yaml:"kind,omitempty"`
	BatchIDIn   string `yaml:"batch_id_in,omitempty"`
	BatchIDOut  string `yaml:"batch_id_out,omitempty"`
	DateTimeIn  string `yaml:"date_time_in,omitempty"`
	DateTimeOut string `yaml:"date_time_out,omitempty"`
}

type Validity struct {
	FromTarget string `yaml:"from_target,omitempty"`
	ThruTarget string `yaml:"thru_target,omitempty"`
	SourceFrom string `yaml:"source_from,omitempty"`
	SourceThru string `yaml:"source_thru,omitempty"`
}

// Options mirrors ingestor.Options. Unset booleans keep the ingestor
// defaults.
type Options struct {
	CleanupStagingData     *bool  `yaml:"cleanup_staging_data,omitempty"`
	CollectStatistics      *bool  `yaml:"collect_statistics,omitempty"`
	EnableSchemaEvolution  bool   `yaml:"enable_schema_evolution,omitempty"`
	CreateStagingDataset   bool   `yaml:"create_staging_dataset,omitempty"`
	EnableConcurrentSafety bool   `yaml:"enable_concurrent_safety,omitempty"`
	SampleRowCount         *int   `yaml:"sample_row_count,omitempty"`
	CaseConversion         string `yaml:"case_conversion,omitempty"`
	// GuardTimeout is a Go duration string such as "45s".
	GuardTimeout string `yaml:"guard_timeout,omitempty"`
	IngestRunID  string `yaml:"ingest_run_id,omitempty"`
}

// MetricsSettings picks the metrics backend. The METRICS_BACKEND and
// METRICS_TAGS environment variables take precedence.
type MetricsSettings struct {
	Backend string   `yaml:"backend,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`
}

// Fetcher retrieves remote configuration documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Load reads src, a file path or an http(s) URL, and decodes it. URLs
// need a non-nil fetcher. EnvDSN is applied after decoding.
func Load(ctx context.Context, src string, f Fetcher) (*Config, error) {
	var (
		data []byte
		err  error
	)
	if isURL(src) {
		if f == nil {
			return nil, fmt.Errorf("config: no fetcher for %s", src)
		}
		data, err = f.Fetch(ctx, src)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", src, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", src, err)
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// Parse decodes one document. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv applies environment overrides read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvDSN)); v != "" {
		c.Sink.DSN = v
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
