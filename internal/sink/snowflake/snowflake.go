// Package snowflake is the Snowflake sink. Identifiers are upper-cased by
// default and staged files load with COPY INTO, transforming columns on
// the way in.
//
// There is no Snowflake driver in this module; plans are rendered and run
// by whatever executor the caller wires to a Snowflake connection.
package snowflake

import (
	"fmt"
	"strconv"
	"strings"

	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
	"ingest/internal/sink/ansi"
)

// Name is the registry name of the Snowflake sink.
const Name = "snowflake"

// DigestUDF is the digest function Snowflake plans call.
const DigestUDF = "LAKEHOUSE_MD5"

type visitors struct {
	*ansi.Visitors
}

func dialect() ansi.Dialect {
	d := ansi.DefaultDialect()
	d.CorrelatedUpdate = false
	d.UpdateStyle = physical.UpdateFrom
	d.QualifiedSet = false
	d.IdentityKeyword = "AUTOINCREMENT"
	d.DigestArrays = true
	d.ArrayOpen, d.ArrayClose = "ARRAY_CONSTRUCT(", ")"
	return d
}

// TypeName renders t with Snowflake type names.
func TypeName(t logical.FieldType) string {
	switch t.DataType {
	case logical.String, logical.LongVarchar, logical.LongText:
		return logical.FieldType{DataType: logical.Varchar, Length: t.Length}.String()
	case logical.Datetime:
		return "TIMESTAMP_NTZ"
	case logical.JSON:
		return "VARIANT"
	case logical.Double:
		return "DOUBLE"
	}
	return t.String()
}

// VisitCreate adds CLUSTER BY for declared cluster keys. Snowflake has no
// secondary indexes, so declared indexes are not created.
func (v visitors) VisitCreate(prev physical.Node, n *logical.Create, ctx *sink.Context) (sink.VisitorResult, error) {
	ct, err := v.CreateTable(n, ctx)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	if keys := n.Dataset.SchemaDef().ClusterKeys; len(keys) > 0 {
		list := &physical.List{Open: "(", Close: ")"}
		for _, k := range keys {
			list.Items = append(list.Items, &physical.Column{Name: k})
		}
		ct.Trailers = append(ct.Trailers, &physical.ExprClause{Keyword: "CLUSTER BY", Exprs: []physical.Expr{list}})
	}
	if err := prev.Push(ct); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: ct}, nil
}

// VisitStagedFilesDataset reads from the stage location.
func (v visitors) VisitStagedFilesDataset(prev physical.Node, n *logical.StagedFilesDataset, _ *sink.Context) (sink.VisitorResult, error) {
	if n.Properties.Location == "" {
		return sink.VisitorResult{}, fmt.Errorf("snowflake: staged files without a stage location")
	}
	raw := &physical.RawTable{SQL: n.Properties.Location}
	if err := prev.Push(raw); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: raw}, nil
}

// VisitStagedFilesFieldValue addresses a file column by position.
func (v visitors) VisitStagedFilesFieldValue(prev physical.Node, n *logical.StagedFilesFieldValue, _ *sink.Context) (sink.VisitorResult, error) {
	if n.ColumnNumber <= 0 {
		return sink.VisitorResult{}, fmt.Errorf("snowflake: staged field %q has no column number", n.Name)
	}
	e := ansi.Aliased(&physical.Raw{SQL: "$" + strconv.Itoa(n.ColumnNumber)}, n.Alias)
	if err := prev.Push(e); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: e}, nil
}

// VisitCopy renders COPY INTO with the file list (or patterns) and file
// format of the staged dataset. Loading stops at the first bad record.
func (v visitors) VisitCopy(prev physical.Node, n *logical.Copy, ctx *sink.Context) (sink.VisitorResult, error) {
	if n.Source == nil || n.Source.Source == nil {
		return sink.VisitorResult{}, fmt.Errorf("snowflake: copy without staged files")
	}
	t, err := ctx.Table(n.Target)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	t.Alias = ""
	node, err := ctx.Lower(n.Source)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	src, ok := node.(*physical.Select)
	if !ok {
		return sink.VisitorResult{}, fmt.Errorf("snowflake: copy source lowered to %T", node)
	}
	src.Alias = ""
	opts, err := copyOptions(n.Source.Source.Properties)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	cols := make([]string, 0, len(n.Fields))
	for _, f := range n.Fields {
		cols = append(cols, f.Name)
	}
	stmt := &physical.CopyInto{Table: t, Columns: cols, Source: src, Options: opts}
	if err := prev.Push(stmt); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: stmt}, nil
}

func copyOptions(p logical.StagedFilesProperties) ([]string, error) {
	var opts []string
	switch {
	case len(p.Paths) > 0:
		files := make([]string, 0, len(p.Paths))
		for _, f := range p.Paths {
			files = append(files, physical.QuoteString(f))
		}
		opts = append(opts, "FILES = ("+strings.Join(files, ", ")+")")
	case len(p.Patterns) > 0:
		parts := make([]string, 0, len(p.Patterns))
		for _, pat := range p.Patterns {
			parts = append(parts, "("+pat+")")
		}
		opts = append(opts, "PATTERN = "+physical.QuoteString(strings.Join(parts, "|")))
	default:
		return nil, fmt.Errorf("snowflake: copy needs files or patterns")
	}

	format := []string{"TYPE = " + physical.QuoteString(string(orCSV(p.Format)))}
	if orCSV(p.Format) == logical.FormatCSV {
		if p.Delimiter != "" {
			format = append(format, "FIELD_DELIMITER = "+physical.QuoteString(p.Delimiter))
		}
		if p.SkipHeaderRows > 0 {
			format = append(format, "SKIP_HEADER = "+strconv.Itoa(p.SkipHeaderRows))
		}
	}
	opts = append(opts, "FILE_FORMAT = ("+strings.Join(format, ", ")+")", "ON_ERROR = 'ABORT_STATEMENT'")
	return opts, nil
}

func orCSV(f logical.FileFormat) logical.FileFormat {
	if f == "" {
		return logical.FormatCSV
	}
	return f
}

func implicitConversions() sink.TypeMap {
	m := ansi.ImplicitConversions()
	m[logical.Number] = append(append([]logical.DataType(nil), m[logical.Decimal]...), logical.Decimal)
	m[logical.TimestampNTZ] = []logical.DataType{logical.Date, logical.Datetime, logical.Timestamp}
	return m
}

var instance = &sink.RelationalSink{
	Name: Name,
	Capabilities: sink.Caps(
		sink.Merge,
		sink.AddColumn,
		sink.ImplicitDataTypeConversion,
		sink.DataTypeLengthChange,
		sink.TransformWhileCopy,
		sink.DryRun,
	),
	Implicit:    implicitConversions(),
	Explicit:    ansi.ExplicitConversions(),
	Quote:       physical.DoubleQuote,
	DefaultCase: sink.CaseUpper,
	Visitors:    visitors{ansi.New(dialect())},
	TypeName:    TypeName,
}

// Sink returns the Snowflake sink.
func Sink() *sink.RelationalSink { return instance }

func init() { sink.Register(instance) }
