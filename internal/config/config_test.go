package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/ingestmode"
	"ingest/internal/logical"
	"ingest/internal/metadata"
	"ingest/internal/sink"
	_ "ingest/internal/sink/sqlite"
)

const sampleYAML = `
job: customers
sink:
  kind: sqlite
  dsn: file:customers.db
main:
  name: customers
staging:
  name: customers_staging
  fields:
    - {name: id, type: INT, primary_key: true}
    - {name: name, type: VARCHAR, length: 64}
    - {name: amount, type: DECIMAL, length: 10, scale: 2, nullable: false}
    - {name: digest, type: VARCHAR, length: 32}
mode:
  kind: append_only
  digest_field: digest
  deduplication: filter_duplicates
  versioning:
    kind: max_version
    field: id
options:
  collect_statistics: false
  enable_schema_evolution: true
  case_conversion: TO_UPPER
  guard_timeout: 45s
  enable_concurrent_safety: true
`

func TestParseAndBuild(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Empty(t, Validate(cfg))

	in, err := Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "customers", in.Job)
	assert.Equal(t, "sqlite", in.SinkName)
	assert.Equal(t, "file:customers.db", in.DSN)

	mode, ok := in.Mode.(ingestmode.AppendOnly)
	require.True(t, ok, "got %T", in.Mode)
	assert.Equal(t, "digest", mode.DigestField)
	assert.Equal(t, ingestmode.FilterDuplicates, mode.Deduplication)
	assert.Equal(t, ingestmode.MaxVersion, mode.Versioning.Kind)
	assert.True(t, mode.Versioning.PerformVersioning)

	staging, ok := in.Datasets.Staging.(*logical.DatasetDefinition)
	require.True(t, ok)
	require.Len(t, staging.Schema.Fields, 4)
	name, _ := staging.Schema.Field("name")
	assert.True(t, name.Nullable, "nullable defaults to true")
	assert.Equal(t, logical.TypeWithLength(logical.Varchar, 64), name.Type)
	amount, _ := staging.Schema.Field("amount")
	assert.False(t, amount.Nullable)
	assert.Equal(t, logical.TypeWithScale(logical.Decimal, 10, 2), amount.Type)
	assert.Equal(t, []string{"id"}, staging.Schema.PrimaryKeys())

	assert.True(t, in.Options.CleanupStagingData, "unset options keep defaults")
	assert.False(t, in.Options.CollectStatistics)
	assert.True(t, in.Options.EnableSchemaEvolution)
	assert.Equal(t, sink.CaseUpper, in.Options.CaseConversion)
	assert.Equal(t, 45*time.Second, in.Options.GuardTimeout)
}

func TestParseAcceptsJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"sink": {"kind": "sqlite", "dsn": ":memory:"}, "main": {"name": "m"}, "staging": {"name": "s", "fields": [{"name": "id", "type": "BIGINT"}]}, "mode": {"kind": "NontemporalSnapshot"}}`))
	require.NoError(t, err)
	in, err := Build(cfg)
	require.NoError(t, err)
	assert.IsType(t, ingestmode.NontemporalSnapshot{}, in.Mode)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("sink: {kind: sqlite}\nmian: {name: x}\n"))
	assert.Error(t, err)
}

func TestBuildStagedFiles(t *testing.T) {
	cfg, err := Parse([]byte(`
sink: {kind: sqlite, dsn: ":memory:"}
main: {name: loaded}
staging:
  files: {location: /data, patterns: ["*.csv"], format: csv, skip_header_rows: 1}
  fields:
    - {name: id, type: INT}
mode: {kind: BulkLoad, digest_udf: LAKEHOUSE_MD5, digest_field: digest, batch_id_field: batch_id}
options: {cleanup_staging_data: false}
`))
	require.NoError(t, err)
	assert.Empty(t, Validate(cfg))

	in, err := Build(cfg)
	require.NoError(t, err)
	files, ok := in.Datasets.Staging.(*logical.StagedFilesDataset)
	require.True(t, ok)
	assert.Equal(t, logical.FormatCSV, files.Properties.Format)
	assert.Equal(t, "/data", files.Properties.Location)
	assert.Equal(t, 1, files.Properties.SkipHeaderRows)
	assert.Equal(t, ingestmode.BulkLoad{DigestUDF: "LAKEHOUSE_MD5", DigestField: "digest", BatchIDField: "batch_id"}, in.Mode)
}

func TestValidateReportsEveryIssue(t *testing.T) {
	cfg, err := Parse([]byte(`
sink: {kind: oracle}
main: {name: ""}
staging:
  name: s
  fields:
    - {name: id, type: INTEGR}
    - {name: id, type: INT}
    - {name: amount, type: DECIMAL, scale: 2}
  partition_keys: [day]
mode:
  kind: Sideways
options: {case_conversion: sideways, guard_timeout: soon, sample_row_count: -1}
`))
	require.NoError(t, err)
	issues := Validate(cfg)
	require.True(t, HasErrors(issues))

	paths := map[string]Severity{}
	for _, iss := range issues {
		paths[iss.Path] = iss.Severity
	}
	for _, p := range []string{
		"sink.kind",
		"main.name",
		"staging.fields[0].type",
		"staging.fields[1].name",
		"staging.fields[2].scale",
		"staging.partition_keys[0]",
		"mode.kind",
		"options.case_conversion",
		"options.guard_timeout",
		"options.sample_row_count",
	} {
		assert.Equal(t, SeverityError, paths[p], "missing error at %s", p)
	}
	assert.Equal(t, SeverityWarning, paths["sink.dsn"])
}

func TestValidateModeAndFilesMismatch(t *testing.T) {
	cfg := &Config{
		Sink:    Sink{Kind: "sqlite", DSN: ":memory:"},
		Main:    Dataset{Name: "m"},
		Staging: Dataset{Name: "s", Fields: []Field{{Name: "id", Type: "INT"}}},
		Mode:    Mode{Kind: "BulkLoad"},
	}
	issues := Validate(cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "staging.files", issues[0].Path)

	_, err := Build(&Config{Mode: Mode{Kind: "AppendOnly", Deduplication: "maybe"}})
	assert.ErrorContains(t, err, "unknown deduplication")
}

func TestLoadFileAppliesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	t.Setenv(EnvDSN, "file:override.db")

	cfg, err := Load(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, "file:override.db", cfg.Sink.DSN)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadURLRetriesGatewayErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleYAML))
	}))
	defer srv.Close()

	f := metadata.New(metadata.Options{Backoff: time.Millisecond})
	cfg, err := Load(context.Background(), srv.URL+"/ingest.yaml", f)
	require.NoError(t, err)
	assert.Equal(t, "customers", cfg.Job)
	assert.Equal(t, 3, hits)

	_, err = Load(context.Background(), srv.URL, nil)
	assert.ErrorContains(t, err, "no fetcher")
}
