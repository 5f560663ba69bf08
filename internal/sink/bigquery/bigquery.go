// Package bigquery is the BigQuery sink.
//
// Statements run as query jobs through JobExecutor and staged files load
// through load jobs (Loader). In-place type changes on column-store tables
// are rewritten into a four step column swap because the engine cannot
// alter such a column directly.
package bigquery

import (
	"fmt"
	"strings"

	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
	"ingest/internal/sink/ansi"
)

// Name is the registry name of the BigQuery sink.
const Name = "bigquery"

// DigestUDF is the digest function BigQuery plans call.
const DigestUDF = "LAKEHOUSE_MD5"

// batchTimeFormat is the PARSE_DATETIME format matching the dialect's
// BatchTimeLayout.
const batchTimeFormat = "%Y-%m-%d %H:%M:%E6S"

type visitors struct {
	*ansi.Visitors
}

func dialect() ansi.Dialect {
	d := ansi.DefaultDialect()
	d.CorrelatedUpdate = false
	d.UpdateStyle = physical.UpdateFrom
	d.QualifiedSet = false
	d.IdentityKeyword = ""
	d.DigestArrays = true
	d.ArrayOpen, d.ArrayClose = "[", "]"
	d.CurrentTimestamp = "CURRENT_DATETIME"
	return d
}

// TypeName renders t with BigQuery type names.
func TypeName(t logical.FieldType) string {
	switch t.DataType {
	case logical.Int, logical.Integer, logical.BigInt, logical.TinyInt, logical.SmallInt:
		return "INT64"
	case logical.Number, logical.Numeric, logical.Decimal:
		name := "NUMERIC"
		if t.Length != nil && (*t.Length > 38 || (t.Scale != nil && *t.Scale > 9)) {
			name = "BIGNUMERIC"
		}
		return logical.FieldType{DataType: logical.DataType(name), Length: t.Length, Scale: t.Scale}.String()
	case logical.Real, logical.Float, logical.Double:
		return "FLOAT64"
	case logical.Char, logical.Varchar, logical.LongVarchar, logical.LongText, logical.Text, logical.String:
		return logical.FieldType{DataType: "STRING", Length: t.Length}.String()
	case logical.Datetime, logical.TimestampNTZ:
		return "DATETIME"
	case logical.Timestamp, logical.TimestampTZ, logical.TimestampLTZ:
		return "TIMESTAMP"
	case logical.Boolean:
		return "BOOL"
	case logical.Binary, logical.Varbinary:
		return logical.FieldType{DataType: "BYTES", Length: t.Length}.String()
	case logical.JSON, logical.Variant:
		return "JSON"
	}
	return t.String()
}

// VisitBatchStartTimestamp parses the batch instant into a DATETIME so it
// compares with DATETIME columns without implicit casts.
func (v visitors) VisitBatchStartTimestamp(prev physical.Node, n *logical.BatchStartTimestamp, ctx *sink.Context) (sink.VisitorResult, error) {
	ts := ctx.Options.BatchStartTime.UTC().Format(v.Dialect.BatchTimeLayout)
	fn := &physical.Func{Name: "PARSE_DATETIME", Args: []physical.Expr{
		&physical.Literal{Value: batchTimeFormat},
		&physical.Literal{Value: ts},
	}}
	e := ansi.Aliased(fn, n.Alias)
	if err := prev.Push(e); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: e}, nil
}

// VisitCreate adds NOT ENFORCED to the primary key and the PARTITION BY /
// CLUSTER BY clauses. Secondary indexes do not exist in BigQuery and are
// skipped.
func (v visitors) VisitCreate(prev physical.Node, n *logical.Create, ctx *sink.Context) (sink.VisitorResult, error) {
	ct, err := v.CreateTable(n, ctx)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	for _, k := range ct.Constraints {
		if k.Keyword == "PRIMARY KEY" {
			k.Suffix = "NOT ENFORCED"
		}
	}
	schema := n.Dataset.SchemaDef()
	if len(schema.PartitionKeys) > 0 {
		ct.Trailers = append(ct.Trailers, &physical.ExprClause{Keyword: "PARTITION BY", Exprs: columns(schema.PartitionKeys)})
	}
	if len(schema.ClusterKeys) > 0 {
		ct.Trailers = append(ct.Trailers, &physical.ExprClause{Keyword: "CLUSTER BY", Exprs: columns(schema.ClusterKeys)})
	}
	if err := prev.Push(ct); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: ct}, nil
}

func columns(names []string) []physical.Expr {
	out := make([]physical.Expr, 0, len(names))
	for _, n := range names {
		out = append(out, &physical.Column{Name: n})
	}
	return out
}

// VisitAlter emits a single ALTER for ordinary tables. A CHANGE_DATATYPE
// on a column-store table becomes the first step of ColumnSwap, with the
// remaining steps returned as siblings.
func (v visitors) VisitAlter(prev physical.Node, n *logical.Alter, ctx *sink.Context) (sink.VisitorResult, error) {
	if n.Op != logical.AlterChangeDatatype || !n.Dataset.SchemaDef().IsColumnStore() {
		return v.Visitors.VisitAlter(prev, n, ctx)
	}
	steps := ColumnSwap(n)
	first, ok := steps[0].(*logical.Alter)
	if !ok {
		return sink.VisitorResult{}, fmt.Errorf("bigquery: column swap starts with %s", steps[0].Kind())
	}
	res, err := v.Visitors.VisitAlter(prev, first, ctx)
	if err != nil {
		return res, err
	}
	res.Siblings = steps[1:]
	return res, nil
}

// ColumnSwap expands an in-place type change into
// ADD temp column, UPDATE temp = CAST(old), DROP old, RENAME temp to old.
func ColumnSwap(n *logical.Alter) []logical.Operation {
	col := n.Column
	temp := col
	temp.Name = col.Name + logical.TempSuffix
	temp.Nullable = true
	temp.PrimaryKey = false
	temp.Unique = false
	temp.Default = ""

	q := n.Dataset.Ref().Alias
	return []logical.Operation{
		&logical.Alter{Dataset: n.Dataset, Op: logical.AlterAdd, Column: temp},
		&logical.Update{
			Dataset: n.Dataset,
			Set: []logical.Pair{{
				Field: logical.Col(q, temp.Name),
				Value: &logical.Cast{Value: logical.Col(q, col.Name), Type: col.Type},
			}},
			// UPDATE requires a WHERE clause.
			Where: logical.Equals(logical.Lit(1), logical.Lit(1)),
		},
		&logical.Alter{Dataset: n.Dataset, Op: logical.AlterDrop, Column: col},
		&logical.Alter{Dataset: n.Dataset, Op: logical.AlterRename, Column: temp, NewName: col.Name},
	}
}

// VisitCopy renders the LOAD DATA statement equivalent to the load job the
// Loader submits. It is what plan output shows for a Copy.
func (v visitors) VisitCopy(prev physical.Node, n *logical.Copy, _ *sink.Context) (sink.VisitorResult, error) {
	if n.Source == nil || n.Source.Source == nil {
		return sink.VisitorResult{}, fmt.Errorf("bigquery: copy without staged files")
	}
	props := n.Source.Source.Properties
	if len(props.Paths) == 0 {
		return sink.VisitorResult{}, fmt.Errorf("bigquery: copy without uris")
	}
	format := props.Format
	if format == "" {
		format = logical.FormatCSV
	}
	uris := make([]string, 0, len(props.Paths))
	for _, p := range props.Paths {
		uris = append(uris, physical.QuoteString(p))
	}
	opts := []string{"format = " + physical.QuoteString(string(format)), "uris = [" + strings.Join(uris, ",") + "]"}
	if format == logical.FormatCSV {
		if props.SkipHeaderRows > 0 {
			opts = append(opts, fmt.Sprintf("skip_leading_rows = %d", props.SkipHeaderRows))
		}
		if props.Delimiter != "" {
			opts = append(opts, "field_delimiter = "+physical.QuoteString(props.Delimiter))
		}
	}
	stmt := &physical.RawStatement{Parts: []physical.RawPart{
		{SQL: "LOAD DATA INTO "},
		{Ident: n.Target.Ref().Parts()},
		{SQL: " FROM FILES (" + strings.Join(opts, ", ") + ")"},
	}}
	if err := prev.Push(stmt); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: stmt}, nil
}

func explicitConversions() sink.TypeMap {
	m := ansi.ExplicitConversions()
	for _, it := range []logical.DataType{logical.Int, logical.Integer, logical.BigInt} {
		m[it] = append(m[it], logical.Numeric, logical.Decimal, logical.Double, logical.Float)
	}
	m[logical.Decimal] = append(m[logical.Decimal], logical.Double)
	m[logical.Numeric] = append(m[logical.Numeric], logical.Double)
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
		sink.DryRun,
	),
	Implicit:    ansi.ImplicitConversions(),
	Explicit:    explicitConversions(),
	Quote:       physical.Backtick,
	Visitors:    visitors{ansi.New(dialect())},
	TypeName:    TypeName,
	TableExists: tableExists,
	Reconstruct: reconstruct,
	BulkLoader:  Loader{},
}

// Sink returns the BigQuery sink.
func Sink() *sink.RelationalSink { return instance }

func init() { sink.Register(instance) }
