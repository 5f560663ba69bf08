// Package memsql is the MemSQL / SingleStore sink: backtick quoting, shard
// and column-store keys in CREATE TABLE, native MODIFY COLUMN and
// UPDATE ... INNER JOIN.
package memsql

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
	"ingest/internal/sink/ansi"
)

// Name is the registry name of the MemSQL sink.
const Name = "memsql"

type visitors struct {
	*ansi.Visitors
}

func dialect() ansi.Dialect {
	d := ansi.DefaultDialect()
	d.CorrelatedUpdate = false
	d.UpdateStyle = physical.UpdateInnerJoin
	d.QualifiedSet = true
	d.IdentityKeyword = "AUTO_INCREMENT"
	d.BatchTimeLayout = "2006-01-02 15:04:05.000000"
	d.ChangeType = ansi.AlterSyntax{Action: "MODIFY COLUMN", Tail: "%s", KeepNotNull: true}
	d.Nullable = ansi.AlterSyntax{Action: "MODIFY COLUMN", Tail: "%s NULL"}
	d.Rename = ansi.AlterSyntax{}
	return d
}

// TypeName renders t with MySQL-family type names.
func TypeName(t logical.FieldType) string {
	switch t.DataType {
	case logical.Varchar, logical.String:
		if t.Length == nil {
			return "TEXT"
		}
		return logical.FieldType{DataType: logical.Varchar, Length: t.Length}.String()
	case logical.LongVarchar:
		return "LONGTEXT"
	case logical.Integer:
		return "INT"
	case logical.Number:
		return logical.FieldType{DataType: logical.Decimal, Length: t.Length, Scale: t.Scale}.String()
	case logical.Timestamp, logical.TimestampNTZ, logical.TimestampTZ, logical.TimestampLTZ:
		return "DATETIME(6)"
	case logical.Variant:
		return "JSON"
	case logical.Boolean:
		return "BOOLEAN"
	}
	return t.String()
}

// VisitCreate adds the MemSQL table layout: a reference table unless shard
// or column-store keys are declared, secondary indexes as inline keys.
func (v visitors) VisitCreate(prev physical.Node, n *logical.Create, ctx *sink.Context) (sink.VisitorResult, error) {
	ct, err := v.CreateTable(n, ctx)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	schema := n.Dataset.SchemaDef()
	if len(schema.ShardKeys) == 0 && !schema.IsColumnStore() {
		ct.Modifier = "REFERENCE"
	}
	if len(schema.ShardKeys) > 0 {
		ct.Constraints = append(ct.Constraints, &physical.KeyClause{Keyword: "SHARD KEY", Columns: schema.ShardKeys})
	}
	if schema.IsColumnStore() {
		ct.Constraints = append(ct.Constraints, &physical.KeyClause{
			Keyword: "KEY",
			Columns: schema.ColumnStore.Keys,
			Suffix:  "USING CLUSTERED COLUMNSTORE",
		})
	}
	for _, idx := range schema.Indexes {
		kw := "KEY"
		if idx.Unique {
			kw = "UNIQUE KEY"
		}
		ct.Constraints = append(ct.Constraints, &physical.KeyClause{
			Keyword: kw,
			Name:    ansi.IndexName(n.Dataset.Ref().Name, idx),
			Columns: idx.Fields,
		})
	}
	if err := prev.Push(ct); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: ct}, nil
}

// VisitAlter renders RENAME_COLUMN as CHANGE old new; other operations use
// the dialect's MODIFY COLUMN syntax.
func (v visitors) VisitAlter(prev physical.Node, n *logical.Alter, ctx *sink.Context) (sink.VisitorResult, error) {
	if n.Op != logical.AlterRename {
		return v.Visitors.VisitAlter(prev, n, ctx)
	}
	if n.NewName == "" {
		return sink.VisitorResult{}, fmt.Errorf("memsql: rename of %q without new name", n.Column.Name)
	}
	stmt := &physical.RawStatement{Parts: []physical.RawPart{
		{SQL: "ALTER TABLE "},
		{Ident: n.Dataset.Ref().Parts()},
		{SQL: " CHANGE "},
		{Ident: []string{n.Column.Name}},
		{SQL: " "},
		{Ident: []string{n.NewName}},
	}}
	if err := prev.Push(stmt); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: stmt}, nil
}

var instance = &sink.RelationalSink{
	Name: Name,
	Capabilities: sink.Caps(
		sink.Merge,
		sink.AddColumn,
		sink.ImplicitDataTypeConversion,
		sink.ExplicitDataTypeConversion,
		sink.DataTypeLengthChange,
		sink.DataTypeScaleChange,
	),
	Implicit: ansi.ImplicitConversions(),
	Explicit: ansi.ExplicitConversions(),
	Quote:    physical.Backtick,
	Visitors: visitors{ansi.New(dialect())},
	TypeName: TypeName,
}

// Sink returns the MemSQL sink.
func Sink() *sink.RelationalSink { return instance }

func init() { sink.Register(instance) }

// Open connects with the MySQL wire protocol MemSQL speaks. parseTime is
// forced on so DATETIME columns scan into time.Time.
func Open(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("memsql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("memsql: connector: %w", err)
	}
	return sql.OpenDB(conn), nil
}
