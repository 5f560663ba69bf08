package ingestor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/executor"
	"ingest/internal/guard"
	"ingest/internal/ingestmode"
	"ingest/internal/logical"
	"ingest/internal/sink"
	"ingest/internal/sink/sqlite"
)

var batchStart = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func openExec(t *testing.T) *executor.SQLExecutor {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	ex, err := executor.NewSQLExecutor(ctx, db, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ex.Close()
		_ = db.Close()
	})
	return ex
}

func mustExec(t *testing.T, ex executor.Executor, sqls ...string) {
	t.Helper()
	require.NoError(t, ex.ExecuteStatements(context.Background(), sqls))
}

func queryInt(t *testing.T, ex executor.Executor, q string) int64 {
	t.Helper()
	data, err := ex.ExecuteQuery(context.Background(), q)
	require.NoError(t, err)
	n, ok := data.FirstValue().(int64)
	require.True(t, ok, "%s returned %T", q, data.FirstValue())
	return n
}

func tableExists(t *testing.T, ex executor.Executor, name string) bool {
	t.Helper()
	return queryInt(t, ex, fmt.Sprintf("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = '%s'", name)) == 1
}

func stagingFields() []logical.Field {
	return []logical.Field{
		{Name: "id", Type: logical.TypeOf(logical.Int), PrimaryKey: true},
		{Name: "name", Type: logical.TypeWithLength(logical.Varchar, 64), Nullable: true},
		{Name: "digest", Type: logical.TypeWithLength(logical.Varchar, 64), Nullable: true},
	}
}

// loadStaging recreates the staging table without constraints so that
// duplicate keys can be staged, and fills it.
func loadStaging(t *testing.T, ex executor.Executor, rows ...string) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "staging" ("id" INT, "name" VARCHAR(64), "digest" VARCHAR(64))`,
		`DELETE FROM "staging"`,
	}
	for _, r := range rows {
		stmts = append(stmts, `INSERT INTO "staging" ("id", "name", "digest") VALUES `+r)
	}
	mustExec(t, ex, stmts...)
}

func datasets(mainName string) logical.Datasets {
	return logical.Datasets{
		Main:    &logical.DatasetDefinition{Name: mainName},
		Staging: &logical.DatasetDefinition{Name: "staging", Schema: logical.SchemaDefinition{Fields: stagingFields()}},
	}
}

func newIngestor(mode ingestmode.IngestMode, mutate ...func(*Options)) *Ingestor {
	opts := DefaultOptions()
	opts.ExecutionTimestamp = batchStart
	for _, m := range mutate {
		m(&opts)
	}
	return New(mode, sqlite.Sink(), opts, nil)
}

func TestAppendOnlyRoundTrip(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	ing := newIngestor(ingestmode.AppendOnly{DigestField: "digest"})

	loadStaging(t, ex, `(1, 'Ann', 'd1')`, `(2, 'Bob', 'd2')`, `(3, 'Cid', 'd3')`)
	res, err := ing.Ingest(ctx, ex, datasets("main"))
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Status)
	assert.Equal(t, int64(3), res.Stat(ingestmode.IncomingRecordCount))
	assert.Equal(t, int64(3), res.Stat(ingestmode.RowsInserted))
	require.NotNil(t, res.BatchID)
	assert.Equal(t, int64(1), *res.BatchID)
	assert.Equal(t, batchStart, res.IngestionTimestamp)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []string{"id", "name", "digest"}, res.Datasets.Main.Schema.FieldNames())

	assert.Equal(t, int64(3), queryInt(t, ex, `SELECT COUNT(*) FROM "main"`))
	assert.Equal(t, int64(0), queryInt(t, ex, `SELECT COUNT(*) FROM "staging"`), "staging is cleaned up")

	// the second run finds main, validates it and creates nothing twice
	loadStaging(t, ex, `(4, 'Dan', 'd4')`)
	res, err = ing.Ingest(ctx, ex, datasets("main"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Stat(ingestmode.RowsInserted))
	assert.Equal(t, int64(2), *res.BatchID)
	assert.Equal(t, int64(4), queryInt(t, ex, `SELECT COUNT(*) FROM "main"`))
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT MAX(table_batch_id) FROM "batch_metadata"`))
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT COUNT(*) FROM "batch_metadata" WHERE batch_status = 'DONE'`))
	assert.Zero(t, tempTables(t, ex), "allowing duplicates without versioning needs no temp staging")
}

func tempTables(t *testing.T, ex executor.Executor) int64 {
	t.Helper()
	return queryInt(t, ex, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE '%`+logical.TempStagingSuffix+`'`)
}

// accounts are keyed by (id, name); rows for the same key may differ in
// income.
func accountDatasets() logical.Datasets {
	return logical.Datasets{
		Main: &logical.DatasetDefinition{Name: "accounts"},
		Staging: &logical.DatasetDefinition{Name: "accounts_staging", Schema: logical.SchemaDefinition{Fields: []logical.Field{
			{Name: "id", Type: logical.TypeOf(logical.Int), PrimaryKey: true},
			{Name: "name", Type: logical.TypeWithLength(logical.Varchar, 64), PrimaryKey: true},
			{Name: "income", Type: logical.TypeOf(logical.BigInt), Nullable: true},
			{Name: "expiry_date", Type: logical.TypeOf(logical.Date), Nullable: true},
			{Name: "digest", Type: logical.TypeWithLength(logical.Varchar, 64), Nullable: true},
		}}},
	}
}

func loadAccounts(t *testing.T, ex executor.Executor, rows ...string) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "accounts_staging" ("id" INT, "name" VARCHAR(64), "income" BIGINT, "expiry_date" DATE, "digest" VARCHAR(64))`,
		`DELETE FROM "accounts_staging"`,
	}
	for _, r := range rows {
		stmts = append(stmts, `INSERT INTO "accounts_staging" VALUES `+r)
	}
	mustExec(t, ex, stmts...)
}

var sameKeyDifferentIncome = []string{
	`(1, 'Ann', 200, '2030-01-01', 'd1b')`,
	`(1, 'Ann', 100, '2030-01-01', 'd1a')`,
	`(2, 'Bob', 300, '2031-06-30', 'd2')`,
}

func TestSimpleAppendCopiesEveryRow(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	loadAccounts(t, ex, sameKeyDifferentIncome[1:]...)

	res, err := newIngestor(ingestmode.AppendOnly{DigestField: "digest"}).Ingest(ctx, ex, accountDatasets())
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Status)
	assert.Equal(t, int64(2), res.Stat(ingestmode.RowsInserted))
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT COUNT(*) FROM "accounts"`))
	assert.Zero(t, tempTables(t, ex))
}

func TestSnapshotFilterDuplicatesKeepsOneRowPerKey(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	mode := ingestmode.NontemporalSnapshot{StagingPolicy: ingestmode.StagingPolicy{Deduplication: ingestmode.FilterDuplicates}}
	loadAccounts(t, ex, sameKeyDifferentIncome...)

	res, err := newIngestor(mode).Ingest(ctx, ex, accountDatasets())
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Status)
	assert.Equal(t, int64(3), res.Stat(ingestmode.IncomingRecordCount))

	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT COUNT(*) FROM "accounts"`))
	assert.Equal(t, int64(1), queryInt(t, ex, `SELECT COUNT(*) FROM "accounts" WHERE id = 1 AND name = 'Ann'`))
	assert.Equal(t, int64(100), queryInt(t, ex, `SELECT income FROM "accounts" WHERE id = 1`), "the lowest row of the group is kept")
	assert.Zero(t, tempTables(t, ex), "temp staging is dropped after success")
}

func TestSnapshotFailOnDuplicatesSameKey(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	mode := ingestmode.NontemporalSnapshot{StagingPolicy: ingestmode.StagingPolicy{Deduplication: ingestmode.FailOnDuplicates}}
	loadAccounts(t, ex, sameKeyDifferentIncome...)

	res, err := newIngestor(mode).Ingest(ctx, ex, accountDatasets())
	require.Error(t, err)
	assert.Equal(t, Failed, res.Status)
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindDuplicateViolation, ie.Kind)

	temp := `"accounts_staging` + logical.TempStagingSuffix + `"`
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT COUNT(*) FROM `+temp))
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT "`+logical.CountColumn+`" FROM `+temp+` WHERE id = 1 AND name = 'Ann'`))
	assert.Equal(t, int64(1), queryInt(t, ex, `SELECT "`+logical.CountColumn+`" FROM `+temp+` WHERE id = 2`))
	assert.Equal(t, int64(0), queryInt(t, ex, `SELECT COUNT(*) FROM "accounts"`))

	require.Len(t, res.Samples, 1)
	assert.EqualValues(t, "Ann", res.Samples[0]["name"])
}

func TestFilterDuplicates(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	mode := ingestmode.AppendOnly{
		StagingPolicy: ingestmode.StagingPolicy{Deduplication: ingestmode.FilterDuplicates},
		DigestField:   "digest",
	}

	loadStaging(t, ex, `(1, 'Ann', 'd1')`, `(1, 'Ann', 'd1')`, `(2, 'Bob', 'd2')`)
	res, err := newIngestor(mode).Ingest(ctx, ex, datasets("main"))
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Status)
	assert.Equal(t, int64(3), res.Stat(ingestmode.IncomingRecordCount))
	assert.Equal(t, int64(2), res.Stat(ingestmode.RowsInserted))
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT COUNT(*) FROM "main"`))
	assert.False(t, tableExists(t, ex, "staging"+logical.TempStagingSuffix), "temp staging is dropped after success")
}

func TestFailOnDuplicatesLeavesMainUntouched(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	mode := ingestmode.AppendOnly{
		StagingPolicy: ingestmode.StagingPolicy{Deduplication: ingestmode.FailOnDuplicates},
		DigestField:   "digest",
	}

	loadStaging(t, ex, `(1, 'Ann', 'd1')`, `(1, 'Ann', 'd1')`, `(2, 'Bob', 'd2')`)
	res, err := newIngestor(mode).Ingest(ctx, ex, datasets("main"))
	require.Error(t, err)
	assert.Equal(t, Failed, res.Status)
	assert.NotEmpty(t, res.Message)

	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindDuplicateViolation, ie.Kind)
	assert.Equal(t, "dedup", ie.Op)
	assert.ErrorIs(t, err, ErrDuplicates)
	assert.ErrorIs(t, err, &Error{Kind: KindDuplicateViolation})

	assert.Equal(t, int64(0), queryInt(t, ex, `SELECT COUNT(*) FROM "main"`))
	assert.Equal(t, int64(0), queryInt(t, ex, `SELECT COUNT(*) FROM "batch_metadata"`))
	assert.True(t, tableExists(t, ex, "staging"+logical.TempStagingSuffix), "temp staging is kept for diagnosis")
	assert.Equal(t, int64(3), queryInt(t, ex, `SELECT COUNT(*) FROM "staging"`), "staging is not cleaned up")

	require.Len(t, res.Samples, 1)
	assert.EqualValues(t, 1, res.Samples[0]["id"])
	assert.EqualValues(t, 2, res.Samples[0][logical.CountColumn])
}

func TestNontemporalDeltaUpdatesAndInserts(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	ing := newIngestor(ingestmode.NontemporalDelta{DigestField: "digest"})

	loadStaging(t, ex, `(1, 'Ann', 'd1')`, `(2, 'Bob', 'd2')`)
	_, err := ing.Ingest(ctx, ex, datasets("main"))
	require.NoError(t, err)

	loadStaging(t, ex, `(1, 'Anna', 'd1b')`, `(2, 'Bob', 'd2')`, `(3, 'Cid', 'd3')`)
	res, err := ing.Ingest(ctx, ex, datasets("main"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Stat(ingestmode.RowsUpdated))
	assert.Equal(t, int64(1), res.Stat(ingestmode.RowsInserted))
	assert.Equal(t, int64(3), queryInt(t, ex, `SELECT COUNT(*) FROM "main"`))

	data, err := ex.ExecuteQuery(ctx, `SELECT name FROM "main" WHERE id = 1`)
	require.NoError(t, err)
	assert.Equal(t, "Anna", data.FirstValue())
}

func TestUnitemporalDeltaMilestonesChangedRows(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	ing := newIngestor(ingestmode.UnitemporalDelta{DigestField: "digest"})

	loadStaging(t, ex, `(1, 'Ann', 'd1')`, `(2, 'Bob', 'd2')`)
	res, err := ing.Ingest(ctx, ex, datasets("main"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Stat(ingestmode.RowsInserted))
	assert.Equal(t, int64(0), res.Stat(ingestmode.RowsUpdated))

	loadStaging(t, ex, `(1, 'Anna', 'd1b')`, `(3, 'Cid', 'd3')`)
	res, err = ing.Ingest(ctx, ex, datasets("main"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), *res.BatchID)
	assert.Equal(t, int64(1), res.Stat(ingestmode.RowsUpdated))
	assert.Equal(t, int64(1), res.Stat(ingestmode.RowsInserted))
	assert.Equal(t, int64(0), res.Stat(ingestmode.RowsTerminated))

	assert.Equal(t, int64(4), queryInt(t, ex, `SELECT COUNT(*) FROM "main"`))
	assert.Equal(t, int64(3), queryInt(t, ex, `SELECT COUNT(*) FROM "main" WHERE batch_id_out = 999999999`))
	assert.Equal(t, int64(1), queryInt(t, ex, `SELECT COUNT(*) FROM "main" WHERE id = 1 AND batch_id_out = 1`))
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT batch_id_in FROM "main" WHERE id = 1 AND batch_id_out = 999999999`))
}

func TestAllVersionsRunsOneBatchPerSplit(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	mode := ingestmode.AppendOnly{StagingPolicy: ingestmode.StagingPolicy{
		Versioning: ingestmode.Versioning{Kind: ingestmode.AllVersions, Field: "version", PerformVersioning: true},
	}}
	mustExec(t, ex,
		`CREATE TABLE "staging" ("id" INT, "version" INT, "name" VARCHAR(64))`,
		`INSERT INTO "staging" VALUES (1, 1, 'a'), (1, 2, 'b'), (2, 1, 'c')`,
	)
	ds := logical.Datasets{
		Main: &logical.DatasetDefinition{Name: "main"},
		Staging: &logical.DatasetDefinition{Name: "staging", Schema: logical.SchemaDefinition{Fields: []logical.Field{
			{Name: "id", Type: logical.TypeOf(logical.Int), PrimaryKey: true},
			{Name: "version", Type: logical.TypeOf(logical.Int), Nullable: true},
			{Name: "name", Type: logical.TypeWithLength(logical.Varchar, 64), Nullable: true},
		}}},
	}

	res, err := newIngestor(mode).Ingest(ctx, ex, ds)
	require.NoError(t, err)
	assert.Equal(t, int64(2), *res.BatchID, "one metadata row per split")
	assert.Equal(t, int64(3), res.Stat(ingestmode.RowsInserted))
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT COUNT(*) FROM "batch_metadata"`))
	assert.False(t, res.Datasets.Main.Schema.Has(logical.DefaultDataSplit))
}

func TestSchemaMismatchWithoutEvolution(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	mustExec(t, ex, `CREATE TABLE "main" ("id" INT NOT NULL PRIMARY KEY, "name" VARCHAR(64))`)
	loadStaging(t, ex, `(1, 'Ann', 'd1')`)

	res, err := newIngestor(ingestmode.AppendOnly{DigestField: "digest"}).Ingest(ctx, ex, datasets("main"))
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindSchemaMismatch, ie.Kind)
	assert.Equal(t, "digest", ie.Field)
	assert.Equal(t, Failed, res.Status)
	assert.False(t, tableExists(t, ex, "batch_metadata"), "no DDL runs after a mismatch")
}

func TestSchemaEvolutionAddsColumn(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	mustExec(t, ex, `CREATE TABLE "main" ("id" INT NOT NULL PRIMARY KEY, "name" VARCHAR(64))`)
	loadStaging(t, ex, `(1, 'Ann', 'd1')`)

	ing := newIngestor(ingestmode.AppendOnly{DigestField: "digest"}, func(o *Options) { o.EnableSchemaEvolution = true })
	res, err := ing.Ingest(ctx, ex, datasets("main"))
	require.NoError(t, err)
	require.Len(t, res.SchemaEvolutionSQL, 1)
	assert.Contains(t, res.SchemaEvolutionSQL[0], `ADD COLUMN "digest"`)
	assert.True(t, res.Datasets.Main.Schema.Has("digest"))
	assert.Equal(t, int64(1), queryInt(t, ex, `SELECT COUNT(*) FROM "main" WHERE digest = 'd1'`))
}

func TestConfigurationErrorsRunNoSQL(t *testing.T) {
	ctx := context.Background()
	noAdd := *sqlite.Sink()
	noAdd.Capabilities = sink.Caps()

	tests := []struct {
		name string
		ing  *Ingestor
		ds   logical.Datasets
		kind Kind
	}{
		{"nil mode", New(nil, sqlite.Sink(), DefaultOptions(), nil), datasets("main"), KindConfiguration},
		{"invalid mode", newIngestor(ingestmode.AppendOnly{DigestField: "missing"}), datasets("main"), KindConfiguration},
		{
			"cleanup of a selection",
			newIngestor(ingestmode.AppendOnly{}),
			logical.Datasets{Main: &logical.DatasetDefinition{Name: "main"}, Staging: &logical.Selection{
				Source: &logical.DatasetDefinition{Name: "staging", Schema: logical.SchemaDefinition{Fields: stagingFields()}},
			}},
			KindConfiguration,
		},
		{
			"evolution without add column",
			New(ingestmode.AppendOnly{}, &noAdd, Options{EnableSchemaEvolution: true}, nil),
			datasets("main"),
			KindUnsupportedCapability,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := openExec(t)
			res, err := tt.ing.Ingest(ctx, ex, tt.ds)
			var ie *Error
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.kind, ie.Kind)
			assert.Equal(t, Failed, res.Status)
			assert.False(t, tableExists(t, ex, "main"))
		})
	}
}

// failingExec fails any batch that contains a statement matching fail.
type failingExec struct {
	*executor.SQLExecutor
	fail string
}

func (f failingExec) ExecuteStatements(ctx context.Context, sqls []string) error {
	for _, s := range sqls {
		if strings.Contains(s, f.fail) {
			return errors.New("injected failure")
		}
	}
	return f.SQLExecutor.ExecuteStatements(ctx, sqls)
}

func TestMergeFailureRollsBackBatch(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	loadStaging(t, ex, `(1, 'Ann', 'd1')`, `(2, 'Bob', 'd2')`)

	ing := newIngestor(ingestmode.NontemporalDelta{DigestField: "digest"})
	res, err := ing.Ingest(ctx, failingExec{SQLExecutor: ex, fail: `INSERT INTO "batch_metadata"`}, datasets("main"))
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindExecution, ie.Kind)
	assert.Equal(t, "ingest", ie.Op)
	assert.Equal(t, Failed, res.Status)
	assert.Equal(t, int64(0), queryInt(t, ex, `SELECT COUNT(*) FROM "main"`), "merge statements are rolled back")
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT COUNT(*) FROM "staging"`))
}

func TestGuardTimeout(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	loadStaging(t, ex, `(1, 'Ann', 'd1')`)

	held, err := guard.For("guarded").Acquire(ctx, time.Second)
	require.NoError(t, err)
	defer held.Release()

	ing := newIngestor(ingestmode.AppendOnly{}, func(o *Options) {
		o.EnableConcurrentSafety = true
		o.GuardTimeout = 10 * time.Millisecond
	})
	_, err = ing.Ingest(ctx, ex, datasets("guarded"))
	assert.ErrorIs(t, err, guard.ErrAcquireTimeout)
	assert.False(t, tableExists(t, ex, "guarded"))

	held.Release()
	res, err := ing.Ingest(ctx, ex, datasets("guarded"))
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Status)
}

func TestBulkLoadFromCSV(t *testing.T) {
	ctx := context.Background()
	ex := openExec(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-1.csv"), []byte("id,name\n1,Ann\n2,Bob\n"), 0o600))

	ds := logical.Datasets{
		Main: &logical.DatasetDefinition{Name: "loaded"},
		Staging: &logical.StagedFilesDataset{
			Properties: logical.StagedFilesProperties{Location: dir, Patterns: []string{"*.csv"}, SkipHeaderRows: 1},
			Schema: logical.SchemaDefinition{Fields: []logical.Field{
				{Name: "id", Type: logical.TypeOf(logical.Int)},
				{Name: "name", Type: logical.TypeWithLength(logical.Varchar, 64), Nullable: true},
			}},
		},
	}
	mode := ingestmode.BulkLoad{DigestUDF: sqlite.DigestUDF, DigestField: "digest", BatchIDField: "batch_id"}
	res, err := newIngestor(mode).Ingest(ctx, ex, ds)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Stat(ingestmode.RowsInserted))
	assert.Equal(t, int64(1), res.Stat(ingestmode.FilesLoaded))
	assert.Equal(t, int64(0), res.Stat(ingestmode.RowsWithErrors))
	assert.Equal(t, int64(2), queryInt(t, ex, `SELECT COUNT(*) FROM "loaded" WHERE batch_id = 1 AND digest IS NOT NULL`))
	assert.Equal(t, int64(1), queryInt(t, ex, `SELECT COUNT(*) FROM "batch_metadata"`))
}

func TestRenderDoesNotTouchDatabase(t *testing.T) {
	ing := newIngestor(ingestmode.AppendOnly{
		StagingPolicy: ingestmode.StagingPolicy{Deduplication: ingestmode.FailOnDuplicates},
		DigestField:   "digest",
	})
	out, err := ing.Render(datasets("main"))
	require.NoError(t, err)
	assert.Len(t, out.PreActions, 3, "main, metadata and temp staging")
	assert.NotEmpty(t, out.DeduplicationAndVersioning)
	assert.Contains(t, out.ErrorChecks[ingestmode.MaxDuplicates], logical.CountColumn)
	require.Len(t, out.Ingest, 1)
	assert.True(t, strings.HasPrefix(out.Ingest[0], `INSERT INTO "main"`))
	assert.Len(t, out.PostCleanup, 1)
}
