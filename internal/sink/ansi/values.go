package ansi

import (
	"fmt"
	"strings"

	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
)

// emit pushes node into prev and asks the transformer to lower children
// into it.
func emit(prev physical.Node, node physical.Node, children ...logical.Node) (sink.VisitorResult, error) {
	if err := prev.Push(node); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: node, Children: children}, nil
}

// Aliased wraps e in "as alias" when alias is set.
func Aliased(e physical.Expr, alias string) physical.Expr {
	if alias == "" {
		return e
	}
	return &physical.Aliased{Expr: e, Alias: alias}
}

func values(vs []logical.Value) []logical.Node {
	out := make([]logical.Node, 0, len(vs))
	for _, v := range vs {
		out = append(out, v)
	}
	return out
}

func (v *Visitors) VisitFieldValue(prev physical.Node, n *logical.FieldValue, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, Aliased(&physical.Column{Qualifier: n.Qualifier, Name: n.Name}, n.Alias))
}

func (v *Visitors) VisitLiteral(prev physical.Node, n *logical.Literal, _ *sink.Context) (sink.VisitorResult, error) {
	if _, err := physical.FormatLiteral(n.Value); err != nil {
		return sink.VisitorResult{}, err
	}
	return emit(prev, Aliased(&physical.Literal{Value: n.Value}, n.Alias))
}

func (v *Visitors) VisitDatetimeValue(prev physical.Node, n *logical.DatetimeValue, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, Aliased(&physical.Literal{Value: n.Value}, n.Alias))
}

// VisitBatchStartTimestamp renders the run's fixed start instant so every
// statement of one batch sees the same value.
func (v *Visitors) VisitBatchStartTimestamp(prev physical.Node, n *logical.BatchStartTimestamp, ctx *sink.Context) (sink.VisitorResult, error) {
	ts := ctx.Options.BatchStartTime.UTC().Format(v.Dialect.BatchTimeLayout)
	return emit(prev, Aliased(&physical.Literal{Value: ts}, n.Alias))
}

func (v *Visitors) VisitBatchEndTimestamp(prev physical.Node, n *logical.BatchEndTimestamp, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, Aliased(&physical.Func{Name: v.Dialect.CurrentTimestamp, NoParens: true}, n.Alias))
}

// VisitBatchIDValue reads the next batch id of the table from the metadata
// dataset. The sub-select is built as a logical node and lowered through
// the active sink.
func (v *Visitors) VisitBatchIDValue(prev physical.Node, n *logical.BatchIDValue, ctx *sink.Context) (sink.VisitorResult, error) {
	return sink.VisitorResult{}, ctx.LowerInto(prev, NextBatchIDSelect(ctx.Options.Metadata, n.TableName, n.Alias))
}

// NextBatchIDSelect is COALESCE(MAX(table_batch_id),0)+1 over the metadata
// rows of tableName (compared upper-cased).
func NextBatchIDSelect(md *logical.DatasetDefinition, tableName, alias string) *logical.SelectValue {
	if md == nil {
		md = logical.DefaultMetadataDataset()
	}
	q := md.Alias
	next := &logical.Arithmetic{
		Op:    logical.Plus,
		Left:  logical.Fn(logical.FnCoalesce, logical.Fn(logical.FnMax, logical.Col(q, "table_batch_id")), logical.Lit(0)),
		Right: logical.Lit(1),
	}
	return &logical.SelectValue{
		Alias: alias,
		Selection: &logical.Selection{
			Source: md,
			Fields: []logical.Value{next},
			Where:  logical.Equals(logical.Fn(logical.FnUpper, logical.Col(q, "table_name")), logical.Lit(strings.ToUpper(tableName))),
		},
	}
}

func (v *Visitors) VisitInfiniteBatchID(prev physical.Node, n *logical.InfiniteBatchID, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, Aliased(&physical.Literal{Value: logical.InfiniteBatchIDValue}, n.Alias))
}

func (v *Visitors) VisitDigestUdf(prev physical.Node, n *logical.DigestUdf, ctx *sink.Context) (sink.VisitorResult, error) {
	if n.UdfName == "" {
		return sink.VisitorResult{}, fmt.Errorf("digest udf without name")
	}
	if len(n.FieldNames) != len(n.Values) {
		return sink.VisitorResult{}, fmt.Errorf("digest udf %s: %d names for %d values", n.UdfName, len(n.FieldNames), len(n.Values))
	}
	vals, err := ctx.Exprs(n.Values)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	fn := &physical.Func{Name: n.UdfName}
	if v.Dialect.DigestArrays {
		names := &physical.List{Open: v.Dialect.ArrayOpen, Close: v.Dialect.ArrayClose}
		for _, name := range n.FieldNames {
			names.Items = append(names.Items, &physical.Literal{Value: name})
		}
		fn.Args = []physical.Expr{names, &physical.List{Open: v.Dialect.ArrayOpen, Close: v.Dialect.ArrayClose, Items: vals}}
	} else {
		for i, name := range n.FieldNames {
			fn.Args = append(fn.Args, &physical.Literal{Value: name}, vals[i])
		}
	}
	return emit(prev, Aliased(fn, n.Alias))
}

func (v *Visitors) VisitToArrayFunction(prev physical.Node, n *logical.ToArrayFunction, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, Aliased(&physical.List{Open: v.Dialect.ArrayOpen, Close: v.Dialect.ArrayClose}, n.Alias), values(n.Values)...)
}

// VisitStagedFilesFieldValue reads a staged column by name; engines that
// address file columns by position override it.
func (v *Visitors) VisitStagedFilesFieldValue(prev physical.Node, n *logical.StagedFilesFieldValue, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, Aliased(&physical.Column{Name: n.Name}, n.Alias))
}

func (v *Visitors) VisitFunction(prev physical.Node, n *logical.Function, _ *sink.Context) (sink.VisitorResult, error) {
	fn := &physical.Func{Name: string(n.Name)}
	switch n.Name {
	case logical.FnCountDistinct:
		fn.Name = string(logical.FnCount)
		fn.Distinct = true
	case logical.FnCurrentTimestamp:
		fn.Name = v.Dialect.CurrentTimestamp
		fn.NoParens = true
	}
	return emit(prev, Aliased(fn, n.Alias), values(n.Args)...)
}

func (v *Visitors) VisitWindowFunction(prev physical.Node, n *logical.WindowFunction, ctx *sink.Context) (sink.VisitorResult, error) {
	if n.Function == nil {
		return sink.VisitorResult{}, fmt.Errorf("window without function")
	}
	args, err := ctx.Exprs(n.Function.Args)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	part, err := ctx.Exprs(n.PartitionBy)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	w := &physical.Window{Func: &physical.Func{Name: string(n.Function.Name), Args: args}, PartitionBy: part}
	for _, o := range n.OrderBy {
		e, err := ctx.Expr(o.Value)
		if err != nil {
			return sink.VisitorResult{}, err
		}
		w.OrderBy = append(w.OrderBy, physical.OrderItem{Expr: e, Desc: o.Desc})
	}
	return emit(prev, Aliased(w, n.Alias))
}

func (v *Visitors) VisitCast(prev physical.Node, n *logical.Cast, ctx *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, Aliased(&physical.Cast{Type: ctx.TypeName(n.Type)}, n.Alias), n.Value)
}

func (v *Visitors) VisitAll(prev physical.Node, n *logical.All, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.Star{Qualifier: n.Qualifier})
}

func (v *Visitors) VisitSelectValue(prev physical.Node, n *logical.SelectValue, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, Aliased(&physical.Subquery{}, n.Alias), n.Selection)
}

func (v *Visitors) VisitArithmetic(prev physical.Node, n *logical.Arithmetic, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, Aliased(&physical.Arithmetic{Op: string(n.Op)}, n.Alias), n.Left, n.Right)
}

// VisitPlaceholder renders the bare {KEY} token; the executor substitutes
// it before running the statement.
func (v *Visitors) VisitPlaceholder(prev physical.Node, n *logical.Placeholder, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.Raw{SQL: n.Token()})
}

// ---- conditions ----

func (v *Visitors) VisitComparison(prev physical.Node, n *logical.Comparison, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.Compare{Op: string(n.Op)}, n.Left, n.Right)
}

func conditions(cs []logical.Condition) []logical.Node {
	out := make([]logical.Node, 0, len(cs))
	for _, c := range cs {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (v *Visitors) VisitAnd(prev physical.Node, n *logical.And, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.Logical{Op: "AND"}, conditions(n.Conditions)...)
}

func (v *Visitors) VisitOr(prev physical.Node, n *logical.Or, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.Logical{Op: "OR"}, conditions(n.Conditions)...)
}

func (v *Visitors) VisitNot(prev physical.Node, n *logical.Not, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.Not{}, n.Condition)
}

func (v *Visitors) VisitExists(prev physical.Node, n *logical.Exists, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.Exists{}, n.Selection)
}

func (v *Visitors) VisitIn(prev physical.Node, n *logical.In, _ *sink.Context) (sink.VisitorResult, error) {
	children := []logical.Node{n.Value}
	if n.Selection != nil {
		children = append(children, n.Selection)
	} else {
		children = append(children, values(n.Values)...)
	}
	return emit(prev, &physical.In{}, children...)
}

func (v *Visitors) VisitIsNull(prev physical.Node, n *logical.IsNull, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.IsNull{Negate: n.Negate}, n.Value)
}
