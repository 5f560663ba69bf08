// Package mssql is the SQL Server sink.
//
// It uses bracket quoting, an OBJECT_ID guard for idempotent creates,
// SELECT TOP n for limits and UPDATE alias ... FROM ... INNER JOIN for
// update joins. Column renames go through sp_rename.
package mssql

import (
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"ingest/internal/catalog"
	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
	"ingest/internal/sink/ansi"
)

// Name is the registry name of the SQL Server sink.
const Name = "mssql"

type visitors struct {
	*ansi.Visitors
}

func dialect() ansi.Dialect {
	d := ansi.DefaultDialect()
	d.CorrelatedUpdate = false
	d.UpdateStyle = physical.UpdateAliasFrom
	d.QualifiedSet = false
	d.CreateGuard = physical.GuardObjectID
	d.LimitStyle = physical.LimitTop
	d.DeleteAliasTarget = true
	d.IdentityKeyword = "IDENTITY(1,1)"
	d.AddColumn = ansi.AlterSyntax{Action: "ADD", Tail: "%s", KeepNotNull: true}
	d.ChangeType = ansi.AlterSyntax{Action: "ALTER COLUMN", Tail: "%s", KeepNotNull: true}
	d.Nullable = ansi.AlterSyntax{Action: "ALTER COLUMN", Tail: "%s NULL"}
	return d
}

// TypeName renders t with SQL Server type names. Strings are Unicode.
func TypeName(t logical.FieldType) string {
	switch t.DataType {
	case logical.Char:
		return logical.FieldType{DataType: "NCHAR", Length: t.Length}.String()
	case logical.Varchar, logical.String:
		if t.Length == nil {
			return "NVARCHAR(MAX)"
		}
		return logical.FieldType{DataType: "NVARCHAR", Length: t.Length}.String()
	case logical.Text, logical.LongText, logical.LongVarchar, logical.JSON, logical.Variant:
		return "NVARCHAR(MAX)"
	case logical.Integer:
		return "INT"
	case logical.Number, logical.Numeric:
		return logical.FieldType{DataType: logical.Decimal, Length: t.Length, Scale: t.Scale}.String()
	case logical.Double:
		return "FLOAT"
	case logical.Boolean:
		return "BIT"
	case logical.Datetime, logical.Timestamp, logical.TimestampNTZ:
		return "DATETIME2"
	case logical.TimestampTZ, logical.TimestampLTZ:
		return "DATETIMEOFFSET"
	case logical.Binary, logical.Varbinary:
		if t.Length == nil {
			return "VARBINARY(MAX)"
		}
		return logical.FieldType{DataType: logical.Varbinary, Length: t.Length}.String()
	}
	return t.String()
}

// ParseType reads information_schema types back. A length of -1 means MAX.
func ParseType(typeName string, length, scale *int) (logical.FieldType, error) {
	if length != nil && *length < 0 {
		length = nil
	}
	return catalog.DefaultTypeParser(typeName, length, scale)
}

// VisitCreate guards secondary indexes with sys.indexes since SQL Server
// has no CREATE INDEX IF NOT EXISTS.
func (v visitors) VisitCreate(prev physical.Node, n *logical.Create, ctx *sink.Context) (sink.VisitorResult, error) {
	ct, err := v.CreateTable(n, ctx)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	if err := prev.Push(ct); err != nil {
		return sink.VisitorResult{}, err
	}
	for _, idx := range n.Dataset.SchemaDef().Indexes {
		if err := prev.Push(createIndex(ct.Table.Parts, ansi.IndexName(n.Dataset.Ref().Name, idx), idx, n.IfNotExists)); err != nil {
			return sink.VisitorResult{}, err
		}
	}
	return sink.VisitorResult{Node: ct}, nil
}

func createIndex(table []string, name string, idx logical.Index, guard bool) *physical.RawStatement {
	var parts []physical.RawPart
	if guard {
		parts = append(parts, physical.RawPart{SQL: "IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N" + physical.QuoteString(name) + ") "})
	}
	kw := "CREATE INDEX "
	if idx.Unique {
		kw = "CREATE UNIQUE INDEX "
	}
	parts = append(parts,
		physical.RawPart{SQL: kw},
		physical.RawPart{Ident: []string{name}},
		physical.RawPart{SQL: " ON "},
		physical.RawPart{Ident: table},
		physical.RawPart{SQL: " ("},
	)
	for i, f := range idx.Fields {
		if i > 0 {
			parts = append(parts, physical.RawPart{SQL: ", "})
		}
		parts = append(parts, physical.RawPart{Ident: []string{f}})
	}
	parts = append(parts, physical.RawPart{SQL: ")"})
	return &physical.RawStatement{Parts: parts}
}

// VisitAlter renames columns with sp_rename; everything else is a plain
// ALTER TABLE.
func (v visitors) VisitAlter(prev physical.Node, n *logical.Alter, ctx *sink.Context) (sink.VisitorResult, error) {
	if n.Op != logical.AlterRename {
		return v.Visitors.VisitAlter(prev, n, ctx)
	}
	if n.Column.Name == "" || n.NewName == "" {
		return sink.VisitorResult{}, fmt.Errorf("mssql: rename needs old and new column names")
	}
	object := strings.Join(append(n.Dataset.Ref().Parts(), n.Column.Name), ".")
	stmt := &physical.RawStatement{Parts: []physical.RawPart{{
		SQL: "EXEC sp_rename " + physical.QuoteString(object) + ", " + physical.QuoteString(n.NewName) + ", 'COLUMN'",
	}}}
	if err := prev.Push(stmt); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: stmt}, nil
}

func explicitConversions() sink.TypeMap {
	m := ansi.ExplicitConversions()
	for _, it := range []logical.DataType{logical.Int, logical.Integer, logical.BigInt} {
		m[it] = append(m[it], logical.Decimal, logical.Numeric)
	}
	m[logical.Date] = append(m[logical.Date], logical.TimestampNTZ)
	return m
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
	Implicit:  ansi.ImplicitConversions(),
	Explicit:  explicitConversions(),
	Quote:     physical.Bracket,
	Visitors:  visitors{ansi.New(dialect())},
	TypeName:  TypeName,
	ParseType: ParseType,
}

// Sink returns the SQL Server sink.
func Sink() *sink.RelationalSink { return instance }

func init() { sink.Register(instance) }

// Open returns a *sql.DB for a sqlserver:// or ADO-style DSN. Pass it to
// executor.NewSQLExecutor.
func Open(dsn string) (*sql.DB, error) {
	conn, err := mssql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: parse dsn: %w", err)
	}
	return sql.OpenDB(conn), nil
}
