package ansi

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
)

func mainDataset() *logical.DatasetDefinition {
	return &logical.DatasetDefinition{Name: "main", Alias: logical.MainAlias, Schema: logical.SchemaDefinition{Fields: []logical.Field{
		{Name: "id", Type: logical.TypeOf(logical.Int), PrimaryKey: true},
		{Name: "name", Type: logical.TypeWithLength(logical.Varchar, 64), Nullable: true},
		{Name: "amount", Type: logical.TypeWithScale(logical.Decimal, 10, 2), Nullable: true},
	}}}
}

func stagingDataset() *logical.DatasetDefinition {
	return mainDataset().WithName("staging").WithAlias(logical.StagingAlias)
}

func transform(t *testing.T, opts sink.TransformOptions, ops ...logical.Operation) []string {
	t.Helper()
	out, err := Sink().Transform(logical.NewPlan(ops...), opts)
	require.NoError(t, err)
	return out.SQL
}

func one(t *testing.T, op logical.Operation) string {
	t.Helper()
	sqls := transform(t, sink.TransformOptions{}, op)
	require.Len(t, sqls, 1)
	return sqls[0]
}

func TestCreateTable(t *testing.T) {
	got := one(t, &logical.Create{Dataset: mainDataset(), IfNotExists: true})
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "main"("id" INT NOT NULL,"name" VARCHAR(64),"amount" DECIMAL(10,2),PRIMARY KEY ("id"))`, got)
}

func TestCreateTableWithIndex(t *testing.T) {
	ds := mainDataset()
	ds.Schema.Indexes = []logical.Index{{Fields: []string{"name"}, Unique: true}}
	sqls := transform(t, sink.TransformOptions{}, &logical.Create{Dataset: ds})
	require.Len(t, sqls, 2)
	assert.Equal(t, `CREATE UNIQUE INDEX "main_name_idx" ON "main" ("name")`, sqls[1])
}

func TestInsertSelect(t *testing.T) {
	got := one(t, &logical.Insert{
		Target: mainDataset(),
		Fields: []*logical.FieldValue{logical.Col("", "id"), logical.Col("", "name")},
		Source: &logical.Selection{
			Source: stagingDataset(),
			Fields: []logical.Value{logical.Col("stage", "id"), logical.Col("stage", "name")},
		},
	})
	assert.Equal(t, `INSERT INTO "main" ("id", "name") (SELECT stage."id",stage."name" FROM "staging" as stage)`, got)
}

func TestUpdateJoinBecomesCorrelated(t *testing.T) {
	got := one(t, &logical.Update{
		Dataset: mainDataset(),
		Set: []logical.Pair{
			{Field: logical.Col("sink", "name"), Value: logical.Col("stage", "name")},
			{Field: logical.Col("sink", "batch"), Value: logical.Lit(5)},
		},
		From:          stagingDataset(),
		JoinCondition: logical.Equals(logical.Col("sink", "id"), logical.Col("stage", "id")),
	})
	want := `UPDATE "main" as sink SET sink."name" = (SELECT stage."name" FROM "staging" as stage WHERE sink."id" = stage."id"), sink."batch" = 5` +
		` WHERE EXISTS (SELECT * FROM "staging" as stage WHERE sink."id" = stage."id")`
	assert.Equal(t, want, got)
}

func TestCorrelatedUpdateLeavesInputAlone(t *testing.T) {
	in := &logical.Update{
		Dataset:       mainDataset(),
		Set:           []logical.Pair{{Field: logical.Col("sink", "name"), Value: logical.Col("stage", "name")}},
		From:          stagingDataset(),
		JoinCondition: logical.Equals(logical.Col("sink", "id"), logical.Col("stage", "id")),
	}
	out := CorrelatedUpdate(in)
	assert.Nil(t, out.From)
	assert.IsType(t, &logical.FieldValue{}, in.Set[0].Value)
	assert.IsType(t, &logical.SelectValue{}, out.Set[0].Value)
}

func TestBatchIDValue(t *testing.T) {
	got := one(t, &logical.Selection{Fields: []logical.Value{&logical.BatchIDValue{TableName: "main"}}})
	want := `SELECT (SELECT COALESCE(MAX(batch_metadata."table_batch_id"),0)+1 FROM "batch_metadata" as batch_metadata` +
		` WHERE UPPER(batch_metadata."table_name") = 'MAIN')`
	assert.Equal(t, want, got)
}

func TestBatchTimestamps(t *testing.T) {
	opts := sink.TransformOptions{BatchStartTime: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	sqls := transform(t, opts, &logical.Selection{Fields: []logical.Value{
		&logical.BatchStartTimestamp{Alias: "start"},
		&logical.BatchEndTimestamp{},
		&logical.InfiniteBatchID{},
	}})
	assert.Equal(t, `SELECT '2000-01-01 00:00:00.000000' as "start",CURRENT_TIMESTAMP,999999999`, sqls[0])
}

func TestAlterOperations(t *testing.T) {
	col := logical.Field{Name: "x", Type: logical.TypeWithLength(logical.Varchar, 10), Nullable: true}
	cases := []struct {
		op   logical.AlterOp
		want string
	}{
		{logical.AlterAdd, `ALTER TABLE "main" ADD COLUMN "x" VARCHAR(10)`},
		{logical.AlterDrop, `ALTER TABLE "main" DROP COLUMN "x"`},
		{logical.AlterChangeDatatype, `ALTER TABLE "main" ALTER COLUMN "x" SET DATA TYPE VARCHAR(10)`},
		{logical.AlterNullable, `ALTER TABLE "main" ALTER COLUMN "x" DROP NOT NULL`},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			assert.Equal(t, tc.want, one(t, &logical.Alter{Dataset: mainDataset(), Op: tc.op, Column: col}))
		})
	}

	got := one(t, &logical.Alter{Dataset: mainDataset(), Op: logical.AlterRename, Column: col, NewName: "y"})
	assert.Equal(t, `ALTER TABLE "main" RENAME COLUMN "x" TO "y"`, got)

	_, err := Sink().Transform(logical.NewPlan(&logical.Alter{Dataset: mainDataset(), Op: logical.AlterRename, Column: col}), sink.TransformOptions{})
	require.Error(t, err)
}

func TestDedupSelections(t *testing.T) {
	rank := &logical.WindowFunction{
		Function:    logical.Fn(logical.FnDenseRank),
		PartitionBy: []logical.Value{logical.Col("stage", "id")},
		OrderBy:     []logical.Ordering{{Value: logical.Col("stage", "version"), Desc: true}},
		Alias:       logical.RankColumn,
	}
	got := one(t, &logical.Selection{Source: stagingDataset(), Fields: []logical.Value{&logical.All{Qualifier: "stage"}, rank}})
	assert.Equal(t, `SELECT stage.*,DENSE_RANK() OVER (PARTITION BY stage."id" ORDER BY stage."version" DESC) as "legend_persistence_rank" FROM "staging" as stage`, got)

	got = one(t, &logical.Selection{
		Source:  stagingDataset(),
		Fields:  []logical.Value{logical.Col("stage", "id"), logical.Fn(logical.FnCount, &logical.All{}).As(logical.CountColumn)},
		GroupBy: []logical.Value{logical.Col("stage", "id")},
	})
	assert.Equal(t, `SELECT stage."id",COUNT(*) as "legend_persistence_count" FROM "staging" as stage GROUP BY stage."id"`, got)
}

func TestCaseConversion(t *testing.T) {
	sqls := transform(t, sink.TransformOptions{CaseConversion: sink.CaseUpper},
		&logical.Selection{Source: stagingDataset(), Fields: []logical.Value{logical.Col("stage", "id")}})
	assert.Equal(t, `SELECT STAGE."ID" FROM "STAGING" as STAGE`, sqls[0])
}

func TestDigestInterleaved(t *testing.T) {
	got := one(t, &logical.Selection{Source: stagingDataset(), Fields: []logical.Value{&logical.DigestUdf{
		UdfName:    "LAKEHOUSE_MD5",
		FieldNames: []string{"id", "name"},
		Values:     []logical.Value{logical.Col("stage", "id"), logical.Col("stage", "name")},
		Alias:      "digest",
	}}})
	assert.Equal(t, `SELECT LAKEHOUSE_MD5('id',stage."id",'name',stage."name") as "digest" FROM "staging" as stage`, got)
}

func TestDeleteWithPlaceholders(t *testing.T) {
	split := logical.Col("sink", "split")
	got := one(t, &logical.Delete{Dataset: mainDataset(), Where: logical.AllOf(
		logical.Compare(logical.Gte, split, &logical.Placeholder{Key: logical.DataSplitLowerBound}),
		logical.Compare(logical.Lte, split, &logical.Placeholder{Key: logical.DataSplitUpperBound}),
	)})
	assert.Equal(t, `DELETE FROM "main" as sink WHERE (sink."split" >= {DATA_SPLIT_LOWER_BOUND_PLACEHOLDER}) AND (sink."split" <= {DATA_SPLIT_UPPER_BOUND_PLACEHOLDER})`, got)
}

func TestConditions(t *testing.T) {
	cond := logical.AnyOf(
		&logical.In{Value: logical.Col("stage", "op"), Values: []logical.Value{logical.Lit("D"), logical.Lit("X")}},
		&logical.Not{Condition: &logical.IsNull{Value: logical.Col("stage", "name"), Negate: true}},
	)
	got := one(t, &logical.Selection{Source: stagingDataset(), Where: cond, Limit: 3})
	assert.Equal(t, `SELECT * FROM "staging" as stage WHERE (stage."op" IN ('D','X')) OR (NOT (stage."name" IS NOT NULL)) LIMIT 3`, got)
}

func TestCopyIsUnsupported(t *testing.T) {
	cp := &logical.Copy{
		Target: mainDataset(),
		Source: &logical.StagedFilesSelection{Source: &logical.StagedFilesDataset{Properties: logical.StagedFilesProperties{Paths: []string{"a.csv"}}}},
	}
	_, err := Sink().Transform(logical.NewPlan(cp), sink.TransformOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sink.ErrUnsupportedNode))
}

// truncateThenDrop expands a Truncate into the statement plus a Drop
// sibling to exercise queue splicing.
type truncateThenDrop struct{ *Visitors }

func (v truncateThenDrop) VisitTruncate(prev physical.Node, n *logical.Truncate, ctx *sink.Context) (sink.VisitorResult, error) {
	res, err := v.Visitors.VisitTruncate(prev, n, ctx)
	if err != nil {
		return res, err
	}
	res.Siblings = []logical.Operation{&logical.Drop{Dataset: n.Dataset, IfExists: true}}
	return res, nil
}

func TestSiblingsAreSplicedAfterTheirOperation(t *testing.T) {
	s := &sink.RelationalSink{Name: "splice", Quote: physical.DoubleQuote, Visitors: truncateThenDrop{New(DefaultDialect())}}
	out, err := s.Transform(logical.NewPlan(
		&logical.Truncate{Dataset: mainDataset()},
		&logical.Delete{Dataset: stagingDataset()},
	), sink.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`TRUNCATE TABLE "main"`,
		`DROP TABLE IF EXISTS "main"`,
		`DELETE FROM "staging" as stage`,
	}, out.SQL)
}

func TestTransformDoesNotMutatePlan(t *testing.T) {
	upd := &logical.Update{
		Dataset:       mainDataset(),
		Set:           []logical.Pair{{Field: logical.Col("sink", "name"), Value: logical.Col("stage", "name")}},
		From:          stagingDataset(),
		JoinCondition: logical.Equals(logical.Col("sink", "id"), logical.Col("stage", "id")),
	}
	plan := logical.NewPlan(upd)
	_, err := Sink().Transform(plan, sink.TransformOptions{})
	require.NoError(t, err)
	assert.NotNil(t, upd.From)
	assert.IsType(t, &logical.FieldValue{}, upd.Set[0].Value)
}

func TestRegistered(t *testing.T) {
	s, err := sink.Get("ANSI")
	require.NoError(t, err)
	assert.Same(t, Sink(), s)
	assert.True(t, s.CanImplicitlyConvert(logical.Int, logical.BigInt))
	assert.False(t, s.CanImplicitlyConvert(logical.BigInt, logical.Int))
	assert.True(t, s.CanExplicitlyConvert(logical.Int, logical.BigInt))
}
