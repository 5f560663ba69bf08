// Package ansi holds the ANSI SQL visitors every dialect builds on, and the
// ANSI sink itself.
//
// A dialect embeds *Visitors, adjusts the Dialect knobs and overrides only
// the Visit methods whose SQL shape differs. Children are always lowered
// through the active sink, so an override also applies inside nested
// expressions built here.
package ansi

import (
	"fmt"
	"strings"

	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
)

// Name is the registry name of the ANSI sink.
const Name = "ansi"

// AlterSyntax renders one ALTER TABLE column action.
type AlterSyntax struct {
	Action string
	// Tail follows the column name; a single %s is replaced by the
	// column's type name.
	Tail string
	// KeepNotNull appends NOT NULL when the column is not nullable.
	KeepNotNull bool
}

func (a AlterSyntax) tail(typeName string, f logical.Field) string {
	t := a.Tail
	if strings.Contains(t, "%s") {
		t = fmt.Sprintf(t, typeName)
	}
	if a.KeepNotNull && !f.IsNullable() {
		t = strings.TrimSpace(t + " NOT NULL")
	}
	return t
}

// Dialect is the set of syntax choices that differ between ANSI-like sinks.
type Dialect struct {
	UpdateStyle physical.UpdateStyle
	// CorrelatedUpdate rewrites an update join into correlated sub-selects
	// for engines without UPDATE ... FROM.
	CorrelatedUpdate bool
	QualifiedSet     bool

	CreateGuard       physical.CreateGuard
	IdentityKeyword   string
	LimitStyle        physical.LimitStyle
	DropCascade       bool
	DeleteAliasTarget bool
	InsertNoParens    bool

	// DigestArrays passes names and values to the digest UDF as two arrays
	// instead of interleaved arguments.
	DigestArrays          bool
	ArrayOpen, ArrayClose string

	BatchTimeLayout  string
	CurrentTimestamp string

	AddColumn  AlterSyntax
	DropColumn AlterSyntax
	ChangeType AlterSyntax
	Nullable   AlterSyntax
	Rename     AlterSyntax
}

// DefaultDialect is plain ANSI SQL.
func DefaultDialect() Dialect {
	return Dialect{
		CorrelatedUpdate: true,
		QualifiedSet:     true,
		CreateGuard:      physical.GuardIfNotExists,
		IdentityKeyword:  "GENERATED BY DEFAULT AS IDENTITY",
		ArrayOpen:        "ARRAY[",
		ArrayClose:       "]",
		BatchTimeLayout:  "2006-01-02 15:04:05.000000",
		CurrentTimestamp: "CURRENT_TIMESTAMP",
		AddColumn:        AlterSyntax{Action: "ADD COLUMN", Tail: "%s", KeepNotNull: true},
		DropColumn:       AlterSyntax{Action: "DROP COLUMN"},
		ChangeType:       AlterSyntax{Action: "ALTER COLUMN", Tail: "SET DATA TYPE %s"},
		Nullable:         AlterSyntax{Action: "ALTER COLUMN", Tail: "DROP NOT NULL"},
		Rename:           AlterSyntax{Action: "RENAME COLUMN"},
	}
}

// Visitors lowers every logical node kind to ANSI SQL.
type Visitors struct {
	Dialect Dialect
}

// New returns visitors for d.
func New(d Dialect) *Visitors { return &Visitors{Dialect: d} }

var _ sink.Visitors = (*Visitors)(nil)

// TypeName renders t in ANSI DDL.
func TypeName(t logical.FieldType) string {
	switch t.DataType {
	case logical.String:
		return logical.FieldType{DataType: logical.Varchar, Length: t.Length}.String()
	case logical.LongText, logical.LongVarchar:
		return "TEXT"
	case logical.TimestampNTZ:
		return "TIMESTAMP"
	case logical.TimestampTZ, logical.TimestampLTZ:
		return "TIMESTAMP WITH TIME ZONE"
	case logical.Variant:
		return "JSON"
	}
	return t.String()
}

// ImplicitConversions maps a target type to the source types it accepts
// without DDL. Each call returns a fresh map.
func ImplicitConversions() sink.TypeMap {
	ints := []logical.DataType{logical.TinyInt, logical.SmallInt, logical.Int, logical.Integer}
	allInts := append(append([]logical.DataType(nil), ints...), logical.BigInt)
	return sink.TypeMap{
		logical.BigInt:    ints,
		logical.Int:       {logical.TinyInt, logical.SmallInt, logical.Integer},
		logical.Integer:   {logical.TinyInt, logical.SmallInt, logical.Int},
		logical.SmallInt:  {logical.TinyInt},
		logical.Decimal:   append(append([]logical.DataType(nil), allInts...), logical.Numeric),
		logical.Numeric:   append(append([]logical.DataType(nil), allInts...), logical.Decimal),
		logical.Double:    append(append([]logical.DataType(nil), allInts...), logical.Real, logical.Float, logical.Decimal, logical.Numeric),
		logical.Float:     append(append([]logical.DataType(nil), allInts...), logical.Real, logical.Double, logical.Decimal, logical.Numeric),
		logical.Varchar:   {logical.Char, logical.String},
		logical.String:    {logical.Char, logical.Varchar},
		logical.Text:      {logical.Char, logical.Varchar, logical.String},
		logical.Timestamp: {logical.Date, logical.Datetime},
		logical.Datetime:  {logical.Date, logical.Timestamp},
	}
}

// ExplicitConversions maps a source type to the types an ALTER may change
// it to. Each call returns a fresh map.
func ExplicitConversions() sink.TypeMap {
	return sink.TypeMap{
		logical.TinyInt:  {logical.SmallInt, logical.Int, logical.Integer, logical.BigInt},
		logical.SmallInt: {logical.Int, logical.Integer, logical.BigInt},
		logical.Int:      {logical.BigInt},
		logical.Integer:  {logical.BigInt},
		logical.Real:     {logical.Float, logical.Double},
		logical.Float:    {logical.Double},
		logical.Char:     {logical.Varchar, logical.Text},
		logical.Varchar:  {logical.Text},
		logical.Date:     {logical.Datetime, logical.Timestamp},
	}
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
	Implicit: ImplicitConversions(),
	Explicit: ExplicitConversions(),
	Quote:    physical.DoubleQuote,
	Visitors: New(DefaultDialect()),
	TypeName: TypeName,
}

// Sink returns the ANSI sink.
func Sink() *sink.RelationalSink { return instance }

func init() { sink.Register(instance) }
