package bigquery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/option"

	"ingest/internal/logical"
	"ingest/internal/sink"
)

func mainDataset(columnStore bool) *logical.DatasetDefinition {
	ds := &logical.DatasetDefinition{Group: "ds", Name: "main", Alias: "sink", Schema: logical.SchemaDefinition{Fields: []logical.Field{
		{Name: "id", Type: logical.TypeOf(logical.Int), PrimaryKey: true},
		{Name: "amount", Type: logical.TypeWithScale(logical.Decimal, 10, 2), Nullable: true},
	}}}
	if columnStore {
		ds.Schema.ColumnStore = &logical.ColumnStore{}
	}
	return ds
}

func transform(t *testing.T, opts sink.TransformOptions, ops ...logical.Operation) []string {
	t.Helper()
	out, err := Sink().Transform(logical.NewPlan(ops...), opts)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	return out.SQL
}

func TestColumnStoreTypeChangeIsRewritten(t *testing.T) {
	alter := &logical.Alter{
		Dataset: mainDataset(true),
		Op:      logical.AlterChangeDatatype,
		Column:  logical.Field{Name: "amount", Type: logical.TypeWithScale(logical.Decimal, 12, 2), Nullable: true},
	}
	got := transform(t, sink.TransformOptions{}, alter, &logical.Truncate{Dataset: mainDataset(true)})
	want := []string{
		"ALTER TABLE `ds`.`main` ADD COLUMN `amount_legend_persistence_temp` NUMERIC(12,2)",
		"UPDATE `ds`.`main` as sink SET `amount_legend_persistence_temp` = CAST(sink.`amount` AS NUMERIC(12,2)) WHERE 1 = 1",
		"ALTER TABLE `ds`.`main` DROP COLUMN `amount`",
		"ALTER TABLE `ds`.`main` RENAME COLUMN `amount_legend_persistence_temp` TO `amount`",
		"TRUNCATE TABLE `ds`.`main`",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("column swap (-want +got):\n%s", diff)
	}
}

func TestRowStoreTypeChangeIsSingleAlter(t *testing.T) {
	alter := &logical.Alter{
		Dataset: mainDataset(false),
		Op:      logical.AlterChangeDatatype,
		Column:  logical.Field{Name: "amount", Type: logical.TypeWithScale(logical.Decimal, 12, 2), Nullable: true},
	}
	got := transform(t, sink.TransformOptions{}, alter)
	want := []string{"ALTER TABLE `ds`.`main` ALTER COLUMN `amount` SET DATA TYPE NUMERIC(12,2)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("alter (-want +got):\n%s", diff)
	}
}

func TestColumnSwapDoesNotTouchInput(t *testing.T) {
	col := logical.Field{Name: "amount", Type: logical.TypeOf(logical.Double)}
	alter := &logical.Alter{Dataset: mainDataset(true), Op: logical.AlterChangeDatatype, Column: col}
	steps := ColumnSwap(alter)
	if len(steps) != 4 {
		t.Fatalf("got %d steps", len(steps))
	}
	if alter.Column.Name != "amount" || alter.Op != logical.AlterChangeDatatype {
		t.Fatalf("input mutated: %+v", alter)
	}
	kinds := []logical.NodeKind{steps[0].Kind(), steps[1].Kind(), steps[2].Kind(), steps[3].Kind()}
	want := []logical.NodeKind{logical.KindAlter, logical.KindUpdate, logical.KindAlter, logical.KindAlter}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("kinds (-want +got):\n%s", diff)
	}
}

func TestCreateWithPartitionAndCluster(t *testing.T) {
	ds := mainDataset(false)
	ds.Schema.PartitionKeys = []string{"id"}
	ds.Schema.ClusterKeys = []string{"amount"}
	got := transform(t, sink.TransformOptions{}, &logical.Create{Dataset: ds, IfNotExists: true})
	want := "CREATE TABLE IF NOT EXISTS `ds`.`main`(`id` INT64 NOT NULL,`amount` NUMERIC(10,2),PRIMARY KEY (`id`) NOT ENFORCED) PARTITION BY `id` CLUSTER BY `amount`"
	if got[0] != want {
		t.Fatalf("create:\n got %s\nwant %s", got[0], want)
	}
}

func TestUpdateFromAndBatchTime(t *testing.T) {
	staging := mainDataset(false).WithName("staging").WithAlias("stage")
	upd := &logical.Update{
		Dataset:       mainDataset(false),
		Set:           []logical.Pair{{Field: logical.Col("sink", "amount"), Value: &logical.BatchStartTimestamp{}}},
		From:          staging,
		JoinCondition: logical.Equals(logical.Col("sink", "id"), logical.Col("stage", "id")),
	}
	opts := sink.TransformOptions{BatchStartTime: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	got := transform(t, opts, upd)
	want := "UPDATE `ds`.`main` as sink SET `amount` = PARSE_DATETIME('%Y-%m-%d %H:%M:%E6S','2000-01-01 00:00:00.000000') FROM `ds`.`staging` as stage WHERE sink.`id` = stage.`id`"
	if got[0] != want {
		t.Fatalf("update:\n got %s\nwant %s", got[0], want)
	}
}

func TestCopyRendersLoadData(t *testing.T) {
	cp := &logical.Copy{
		Target: mainDataset(false),
		Source: &logical.StagedFilesSelection{Source: &logical.StagedFilesDataset{
			Properties: logical.StagedFilesProperties{Paths: []string{"gs://b/a.csv"}, SkipHeaderRows: 1},
		}},
	}
	got := transform(t, sink.TransformOptions{}, cp)
	want := "LOAD DATA INTO `ds`.`main` FROM FILES (format = 'CSV', uris = ['gs://b/a.csv'], skip_leading_rows = 1)"
	if got[0] != want {
		t.Fatalf("copy:\n got %s\nwant %s", got[0], want)
	}
}

func TestLoadSchema(t *testing.T) {
	s := Schema(mainDataset(false).Schema)
	if len(s) != 2 {
		t.Fatalf("got %d fields", len(s))
	}
	if s[0].Type != bq.IntegerFieldType || !s[0].Required {
		t.Fatalf("id: %+v", s[0])
	}
	if s[1].Type != bq.NumericFieldType || s[1].Required {
		t.Fatalf("amount: %+v", s[1])
	}
}

func TestTableExistsNeedsJobExecutor(t *testing.T) {
	if _, err := Sink().DoesTableExist(context.Background(), nil, logical.DatasetRef{Name: "x"}); err == nil {
		t.Fatalf("expected error for non-bigquery executor")
	}
}

func TestRejectedRows(t *testing.T) {
	bad := &bq.Error{Reason: "invalid", Location: "gs://b/part-1.csv", Message: "bad int"}
	note := &bq.Error{Reason: "stopped", Message: "summary"}
	tests := []struct {
		name   string
		errs   []*bq.Error
		maxBad int64
		want   int64
	}{
		{"no tolerance", []*bq.Error{bad, bad}, 0, 0},
		{"row errors only", []*bq.Error{bad, note, bad, nil}, 10, 2},
		{"capped by tolerance", []*bq.Error{bad, bad, bad}, 2, 2},
		{"clean load", nil, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rejectedRows(tt.errs, tt.maxBad); got != tt.want {
				t.Fatalf("rejectedRows() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExecuteQueryKeepsColumnsOfEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/queries") {
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"kind": "bigquery#queryResponse",
			"jobReference": {"projectId": "proj", "jobId": "job-1", "location": "US"},
			"jobComplete": true,
			"schema": {"fields": [{"name": "id", "type": "INTEGER"}, {"name": "name", "type": "STRING"}]},
			"totalRows": "0",
			"rows": []
		}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	ex, err := Open(ctx, "proj", nil, option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer ex.Close()

	data, err := ex.ExecuteQuery(ctx, "SELECT id, name FROM `ds`.`main` WHERE FALSE")
	if err != nil {
		t.Fatalf("ExecuteQuery() err=%v", err)
	}
	if diff := cmp.Diff([]string{"id", "name"}, data.Columns); diff != "" {
		t.Fatalf("columns (-want +got):\n%s", diff)
	}
	if len(data.Rows) != 0 {
		t.Fatalf("rows=%v, want none", data.Rows)
	}
}
