package snowflake

import (
	"errors"
	"testing"

	"ingest/internal/logical"
	"ingest/internal/sink"
)

func dataset(name, alias string) *logical.DatasetDefinition {
	return &logical.DatasetDefinition{Name: name, Alias: alias, Schema: logical.SchemaDefinition{Fields: []logical.Field{
		{Name: "id", Type: logical.TypeOf(logical.Int), PrimaryKey: true},
		{Name: "name", Type: logical.TypeWithLength(logical.Varchar, 64), Nullable: true},
	}}}
}

func render(t *testing.T, ops ...logical.Operation) []string {
	t.Helper()
	out, err := Sink().Transform(logical.NewPlan(ops...), sink.TransformOptions{})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	return out.SQL
}

func TestCreateUpperCasesAndClusters(t *testing.T) {
	ds := dataset("main", "sink")
	ds.Schema.ClusterKeys = []string{"name"}
	got := render(t, &logical.Create{Dataset: ds, IfNotExists: true})
	want := `CREATE TABLE IF NOT EXISTS "MAIN"("ID" INT NOT NULL,"NAME" VARCHAR(64),PRIMARY KEY ("ID")) CLUSTER BY ("NAME")`
	if got[0] != want {
		t.Fatalf("create:\n got %s\nwant %s", got[0], want)
	}
}

func TestCopyInto(t *testing.T) {
	id := &logical.StagedFilesFieldValue{ColumnNumber: 1, Name: "id", Type: logical.TypeOf(logical.Int)}
	name := &logical.StagedFilesFieldValue{ColumnNumber: 2, Name: "name", Type: logical.TypeWithLength(logical.Varchar, 64)}
	cp := &logical.Copy{
		Target: dataset("main", "sink"),
		Source: &logical.StagedFilesSelection{
			Source: &logical.StagedFilesDataset{Properties: logical.StagedFilesProperties{
				Location:       "@my_stage",
				Paths:          []string{"a.csv", "b.csv"},
				SkipHeaderRows: 1,
			}},
			Fields: []logical.Value{id, name, &logical.DigestUdf{
				UdfName:    DigestUDF,
				FieldNames: []string{"id", "name"},
				Values:     []logical.Value{id, name},
			}},
		},
		Fields: []*logical.FieldValue{logical.Col("", "id"), logical.Col("", "name"), logical.Col("", "digest")},
	}
	got := render(t, cp)
	want := `COPY INTO "MAIN" ("ID", "NAME", "DIGEST") FROM (SELECT $1,$2,LAKEHOUSE_MD5(ARRAY_CONSTRUCT('id','name'),ARRAY_CONSTRUCT($1,$2)) FROM @my_stage) FILES = ('a.csv', 'b.csv') FILE_FORMAT = (TYPE = 'CSV', SKIP_HEADER = 1) ON_ERROR = 'ABORT_STATEMENT'`
	if got[0] != want {
		t.Fatalf("copy:\n got %s\nwant %s", got[0], want)
	}
}

func TestCopyPatterns(t *testing.T) {
	opts, err := copyOptions(logical.StagedFilesProperties{Patterns: []string{"/x/.*csv", "/y/.*csv"}, Format: logical.FormatJSON})
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	want := []string{`PATTERN = '(/x/.*csv)|(/y/.*csv)'`, `FILE_FORMAT = (TYPE = 'JSON')`, `ON_ERROR = 'ABORT_STATEMENT'`}
	for i := range want {
		if opts[i] != want[i] {
			t.Fatalf("option %d: got %s want %s", i, opts[i], want[i])
		}
	}
	if _, err := copyOptions(logical.StagedFilesProperties{}); err == nil {
		t.Fatalf("expected error without files")
	}
}

func TestCopyNeedsLocation(t *testing.T) {
	cp := &logical.Copy{
		Target: dataset("main", "sink"),
		Source: &logical.StagedFilesSelection{Source: &logical.StagedFilesDataset{Properties: logical.StagedFilesProperties{Paths: []string{"a.csv"}}}},
	}
	if _, err := Sink().Transform(logical.NewPlan(cp), sink.TransformOptions{}); err == nil {
		t.Fatalf("expected error without stage location")
	}
}

func TestUpdateFrom(t *testing.T) {
	upd := &logical.Update{
		Dataset:       dataset("main", "sink"),
		Set:           []logical.Pair{{Field: logical.Col("sink", "name"), Value: logical.Col("stage", "name")}},
		From:          dataset("staging", "stage"),
		JoinCondition: logical.Equals(logical.Col("sink", "id"), logical.Col("stage", "id")),
	}
	want := `UPDATE "MAIN" as SINK SET "NAME" = STAGE."NAME" FROM "STAGING" as STAGE WHERE SINK."ID" = STAGE."ID"`
	if got := render(t, upd); got[0] != want {
		t.Fatalf("update:\n got %s\nwant %s", got[0], want)
	}
}

func TestCapabilities(t *testing.T) {
	s := Sink()
	if s.Supports(sink.ExplicitDataTypeConversion) || s.Supports(sink.DataTypeScaleChange) {
		t.Fatalf("unexpected capabilities %s", s.Capabilities)
	}
	if !s.Supports(sink.TransformWhileCopy) {
		t.Fatalf("missing TRANSFORM_WHILE_COPY")
	}
	if s.CanExplicitlyConvert(logical.Int, logical.BigInt) {
		t.Fatalf("explicit conversion allowed without capability")
	}
	if !s.CanImplicitlyConvert(logical.Int, logical.Number) {
		t.Fatalf("INT should land in NUMBER")
	}
}

func TestStagedFieldNeedsPosition(t *testing.T) {
	cp := &logical.Copy{
		Target: dataset("main", "sink"),
		Source: &logical.StagedFilesSelection{
			Source: &logical.StagedFilesDataset{Properties: logical.StagedFilesProperties{Location: "@s", Paths: []string{"a.csv"}}},
			Fields: []logical.Value{&logical.StagedFilesFieldValue{Name: "id"}},
		},
	}
	_, err := Sink().Transform(logical.NewPlan(cp), sink.TransformOptions{})
	if err == nil || errors.Is(err, sink.ErrUnsupportedNode) {
		t.Fatalf("expected column number error, got %v", err)
	}
}
