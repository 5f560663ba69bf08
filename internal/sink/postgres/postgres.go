// Package postgres is the Postgres sink: double-quoted identifiers,
// UPDATE ... FROM joins and ALTER COLUMN ... TYPE. Plans run through
// Executor, which pins one pgx pool connection.
package postgres

import (
	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
	"ingest/internal/sink/ansi"
)

// Name is the registry name of the Postgres sink.
const Name = "postgres"

func dialect() ansi.Dialect {
	d := ansi.DefaultDialect()
	d.CorrelatedUpdate = false
	d.UpdateStyle = physical.UpdateFrom
	d.QualifiedSet = false
	d.ChangeType = ansi.AlterSyntax{Action: "ALTER COLUMN", Tail: "TYPE %s"}
	return d
}

// TypeName renders t with Postgres type names.
func TypeName(t logical.FieldType) string {
	switch t.DataType {
	case logical.TinyInt:
		return "SMALLINT"
	case logical.Number:
		return logical.FieldType{DataType: logical.Numeric, Length: t.Length, Scale: t.Scale}.String()
	case logical.Double:
		return "DOUBLE PRECISION"
	case logical.String:
		return logical.FieldType{DataType: logical.Varchar, Length: t.Length}.String()
	case logical.LongVarchar, logical.LongText:
		return "TEXT"
	case logical.Datetime, logical.TimestampNTZ:
		return "TIMESTAMP"
	case logical.TimestampTZ, logical.TimestampLTZ:
		return "TIMESTAMPTZ"
	case logical.Binary, logical.Varbinary:
		return "BYTEA"
	case logical.JSON, logical.Variant:
		return "JSONB"
	}
	return t.String()
}

func explicitConversions() sink.TypeMap {
	m := ansi.ExplicitConversions()
	for _, it := range []logical.DataType{logical.Int, logical.Integer, logical.BigInt} {
		m[it] = append(m[it], logical.Numeric, logical.Decimal)
	}
	m[logical.Varchar] = append(m[logical.Varchar], logical.LongText)
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
	Implicit: ansi.ImplicitConversions(),
	Explicit: explicitConversions(),
	Quote:    physical.DoubleQuote,
	Visitors: ansi.New(dialect()),
	TypeName: TypeName,
}

// Sink returns the Postgres sink.
func Sink() *sink.RelationalSink { return instance }

func init() { sink.Register(instance) }
