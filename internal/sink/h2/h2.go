// Package h2 is the H2 sink. It renders SQL only; H2 runs on the JVM and
// has no Go driver, so plans are produced for inspection and for engines
// that speak the same dialect.
package h2

import (
	"fmt"
	"strings"

	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
	"ingest/internal/sink/ansi"
)

// Name is the registry name of the H2 sink.
const Name = "h2"

// DigestUDF is the digest function H2 plans call.
const DigestUDF = "LAKEHOUSE_MD5"

type visitors struct {
	*ansi.Visitors
}

func dialect() ansi.Dialect {
	d := ansi.DefaultDialect()
	d.DigestArrays = true
	d.ChangeType = ansi.AlterSyntax{Action: "ALTER COLUMN", Tail: "%s"}
	d.Nullable = ansi.AlterSyntax{Action: "ALTER COLUMN", Tail: "SET NULL"}
	d.IdentityKeyword = "AUTO_INCREMENT"
	return d
}

// TypeName renders t with H2 type names.
func TypeName(t logical.FieldType) string {
	switch t.DataType {
	case logical.String, logical.Text, logical.LongText, logical.LongVarchar:
		return logical.FieldType{DataType: logical.Varchar, Length: t.Length}.String()
	case logical.Datetime, logical.TimestampNTZ:
		return "TIMESTAMP"
	case logical.TimestampTZ, logical.TimestampLTZ:
		return "TIMESTAMP WITH TIME ZONE"
	case logical.Variant:
		return "JSON"
	case logical.Number:
		return logical.FieldType{DataType: logical.Numeric, Length: t.Length, Scale: t.Scale}.String()
	}
	return t.String()
}

// VisitStagedFilesDataset reads one CSV file with CSVREAD. The column list
// comes from the staged schema so the file header is ignored.
func (v visitors) VisitStagedFilesDataset(prev physical.Node, n *logical.StagedFilesDataset, _ *sink.Context) (sink.VisitorResult, error) {
	if len(n.Properties.Paths) != 1 {
		return sink.VisitorResult{}, fmt.Errorf("h2: CSVREAD needs exactly one path, got %d", len(n.Properties.Paths))
	}
	if n.Properties.Format != "" && n.Properties.Format != logical.FormatCSV {
		return sink.VisitorResult{}, fmt.Errorf("h2: unsupported staged file format %s", n.Properties.Format)
	}
	cols := physical.QuoteString(strings.Join(n.Schema.FieldNames(), ","))
	options := "NULL"
	if n.Properties.Delimiter != "" {
		options = physical.QuoteString("fieldSeparator=" + n.Properties.Delimiter)
	}
	raw := &physical.RawTable{SQL: "CSVREAD(" + physical.QuoteString(n.Properties.Paths[0]) + "," + cols + "," + options + ")"}
	if err := prev.Push(raw); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: raw}, nil
}

// VisitStagedFilesFieldValue converts the text read by CSVREAD to the
// column's declared type.
func (v visitors) VisitStagedFilesFieldValue(prev physical.Node, n *logical.StagedFilesFieldValue, ctx *sink.Context) (sink.VisitorResult, error) {
	e := ansi.Aliased(&physical.Cast{Expr: &physical.Column{Name: n.Name}, Type: ctx.TypeName(n.Type)}, n.Alias)
	if err := prev.Push(e); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: e}, nil
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
		sink.TransformWhileCopy,
	),
	Implicit: ansi.ImplicitConversions(),
	Explicit: ansi.ExplicitConversions(),
	Quote:    physical.DoubleQuote,
	Visitors: visitors{ansi.New(dialect())},
	TypeName: TypeName,
}

// Sink returns the H2 sink.
func Sink() *sink.RelationalSink { return instance }

func init() { sink.Register(instance) }
