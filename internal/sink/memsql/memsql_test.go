package memsql

import (
	"testing"

	"ingest/internal/logical"
	"ingest/internal/sink"
)

func dataset(name, alias string) *logical.DatasetDefinition {
	return &logical.DatasetDefinition{Group: "db", Name: name, Alias: alias, Schema: logical.SchemaDefinition{Fields: []logical.Field{
		{Name: "id", Type: logical.TypeOf(logical.Int), PrimaryKey: true},
		{Name: "name", Type: logical.TypeWithLength(logical.Varchar, 64), Nullable: true},
	}}}
}

func renderAll(t *testing.T, ops ...logical.Operation) []string {
	t.Helper()
	out, err := Sink().Transform(logical.NewPlan(ops...), sink.TransformOptions{})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	return out.SQL
}

func TestCreateLayouts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*logical.SchemaDefinition)
		want   string
	}{
		{
			name:   "reference",
			mutate: func(*logical.SchemaDefinition) {},
			want:   "CREATE REFERENCE TABLE IF NOT EXISTS `db`.`main`(`id` INT NOT NULL,`name` VARCHAR(64),PRIMARY KEY (`id`))",
		},
		{
			name:   "sharded",
			mutate: func(s *logical.SchemaDefinition) { s.ShardKeys = []string{"id"} },
			want:   "CREATE TABLE IF NOT EXISTS `db`.`main`(`id` INT NOT NULL,`name` VARCHAR(64),PRIMARY KEY (`id`),SHARD KEY (`id`))",
		},
		{
			name: "columnstore",
			mutate: func(s *logical.SchemaDefinition) {
				s.ColumnStore = &logical.ColumnStore{Keys: []string{"id"}}
				s.Indexes = []logical.Index{{Name: "ix_name", Fields: []string{"name"}}}
			},
			want: "CREATE TABLE IF NOT EXISTS `db`.`main`(`id` INT NOT NULL,`name` VARCHAR(64),PRIMARY KEY (`id`),KEY (`id`) USING CLUSTERED COLUMNSTORE,KEY `ix_name` (`name`))",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := dataset("main", "sink")
			tt.mutate(&ds.Schema)
			got := renderAll(t, &logical.Create{Dataset: ds, IfNotExists: true})
			if len(got) != 1 || got[0] != tt.want {
				t.Fatalf("create:\n got %v\nwant %s", got, tt.want)
			}
		})
	}
}

func TestUpdateInnerJoin(t *testing.T) {
	upd := &logical.Update{
		Dataset:       dataset("main", "sink"),
		Set:           []logical.Pair{{Field: logical.Col("sink", "name"), Value: logical.Col("stage", "name")}},
		From:          dataset("staging", "stage"),
		JoinCondition: logical.Equals(logical.Col("sink", "id"), logical.Col("stage", "id")),
		Where:         logical.Compare(logical.NotEq, logical.Col("sink", "name"), logical.Col("stage", "name")),
	}
	want := "UPDATE `db`.`main` as sink INNER JOIN `db`.`staging` as stage ON sink.`id` = stage.`id` SET sink.`name` = stage.`name` WHERE sink.`name` <> stage.`name`"
	if got := renderAll(t, upd); got[0] != want {
		t.Fatalf("update:\n got %s\nwant %s", got[0], want)
	}
}

func TestAlterModifyAndChange(t *testing.T) {
	col := logical.Field{Name: "id", Type: logical.TypeOf(logical.BigInt), PrimaryKey: true}
	got := renderAll(t,
		&logical.Alter{Dataset: dataset("main", "sink"), Op: logical.AlterChangeDatatype, Column: col},
		&logical.Alter{Dataset: dataset("main", "sink"), Op: logical.AlterNullable, Column: logical.Field{Name: "name", Type: logical.TypeWithLength(logical.Varchar, 64)}},
		&logical.Alter{Dataset: dataset("main", "sink"), Op: logical.AlterRename, Column: col, NewName: "key"},
	)
	want := []string{
		"ALTER TABLE `db`.`main` MODIFY COLUMN `id` BIGINT NOT NULL",
		"ALTER TABLE `db`.`main` MODIFY COLUMN `name` VARCHAR(64) NULL",
		"ALTER TABLE `db`.`main` CHANGE `id` `key`",
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stmt %d:\n got %s\nwant %s", i, got[i], want[i])
		}
	}
}

func TestOpenParsesDSN(t *testing.T) {
	db, err := Open("user:pw@tcp(127.0.0.1:3306)/db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = db.Close()

	if _, err := Open("not a dsn"); err == nil {
		t.Fatalf("expected parse error")
	}
}
