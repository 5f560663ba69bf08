package sink

import (
	"fmt"
	"time"

	"ingest/internal/logical"
	"ingest/internal/physical"
)

// TransformOptions are the per-run inputs of lowering.
type TransformOptions struct {
	// BatchStartTime is rendered for every BatchStartTimestamp of the run.
	BatchStartTime time.Time

	// CaseConversion overrides the sink's default identifier case.
	CaseConversion CaseConversion

	// Metadata is the batch metadata dataset BatchIDValue reads from.
	Metadata *logical.DatasetDefinition
}

// Context is handed to every visitor call of one transformation.
type Context struct {
	Sink    *RelationalSink
	Options TransformOptions

	lower func(prev physical.Node, n logical.Node) error
}

// Lower lowers n on its own and returns the physical node it produced.
func (c *Context) Lower(n logical.Node) (physical.Node, error) {
	var slot physical.Slot
	if err := c.lower(&slot, n); err != nil {
		return nil, err
	}
	if slot.Node == nil {
		return nil, fmt.Errorf("sink: %T lowered to nothing", n)
	}
	return slot.Node, nil
}

// LowerInto lowers n with prev as its parent.
func (c *Context) LowerInto(prev physical.Node, n logical.Node) error {
	return c.lower(prev, n)
}

// Expr lowers a value.
func (c *Context) Expr(v logical.Value) (physical.Expr, error) {
	n, err := c.Lower(v)
	if err != nil {
		return nil, err
	}
	e, ok := n.(physical.Expr)
	if !ok {
		return nil, fmt.Errorf("sink: %T lowered to %T, want an expression", v, n)
	}
	return e, nil
}

// Exprs lowers each value in order.
func (c *Context) Exprs(vs []logical.Value) ([]physical.Expr, error) {
	out := make([]physical.Expr, 0, len(vs))
	for _, v := range vs {
		e, err := c.Expr(v)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Cond lowers a condition; a nil condition lowers to nil.
func (c *Context) Cond(v logical.Condition) (physical.Cond, error) {
	if v == nil {
		return nil, nil
	}
	n, err := c.Lower(v)
	if err != nil {
		return nil, err
	}
	pc, ok := n.(physical.Cond)
	if !ok {
		return nil, fmt.Errorf("sink: %T lowered to %T, want a condition", v, n)
	}
	return pc, nil
}

// Source lowers a dataset used as a query source.
func (c *Context) Source(d logical.Dataset) (physical.TableLike, error) {
	n, err := c.Lower(d)
	if err != nil {
		return nil, err
	}
	t, ok := n.(physical.TableLike)
	if !ok {
		return nil, fmt.Errorf("sink: %T lowered to %T, want a table", d, n)
	}
	return t, nil
}

// Table lowers a dataset that must be a plain table (DDL and DML targets).
func (c *Context) Table(d logical.Dataset) (*physical.Table, error) {
	n, err := c.Lower(d)
	if err != nil {
		return nil, err
	}
	t, ok := n.(*physical.Table)
	if !ok {
		return nil, fmt.Errorf("sink: %T is not a table target", d)
	}
	return t, nil
}

// Select lowers a selection.
func (c *Context) Select(s *logical.Selection) (*physical.Select, error) {
	n, err := c.Lower(s)
	if err != nil {
		return nil, err
	}
	sel, ok := n.(*physical.Select)
	if !ok {
		return nil, fmt.Errorf("sink: selection lowered to %T", n)
	}
	return sel, nil
}

// TypeName renders t in the sink's DDL dialect.
func (c *Context) TypeName(t logical.FieldType) string {
	if c.Sink != nil && c.Sink.TypeName != nil {
		return c.Sink.TypeName(t)
	}
	return t.String()
}

// SQLPlan is the lowered form of a logical plan.
type SQLPlan struct {
	Statements []physical.Statement
	SQL        []string
}

// IsEmpty reports whether the plan has no statements.
func (p SQLPlan) IsEmpty() bool { return len(p.SQL) == 0 }

// Transform lowers plan into SQL.
//
// Each operation is dispatched to the sink's visitors with a fresh root as
// parent. Children returned by a visitor are lowered depth-first into the
// node it created; siblings returned for an operation are queued right
// after it. The logical plan is never modified.
func (s *RelationalSink) Transform(plan logical.Plan, opts TransformOptions) (SQLPlan, error) {
	if s.Visitors == nil {
		return SQLPlan{}, fmt.Errorf("sink %s: no visitors", s.Name)
	}
	ctx := &Context{Sink: s, Options: opts}
	ctx.lower = func(prev physical.Node, n logical.Node) error {
		res, err := Dispatch(s.Visitors, prev, n, ctx)
		if err != nil {
			return err
		}
		if len(res.Siblings) > 0 {
			return fmt.Errorf("sink %s: %s returned siblings outside an operation", s.Name, n.Kind())
		}
		return lowerChildren(ctx, res)
	}

	queue := append([]logical.Operation(nil), plan.Ops...)
	var out SQLPlan
	for i := 0; i < len(queue); i++ {
		root := &physical.Root{}
		res, err := Dispatch(s.Visitors, root, queue[i], ctx)
		if err != nil {
			return SQLPlan{}, fmt.Errorf("sink %s: lower %s: %w", s.Name, queue[i].Kind(), err)
		}
		if err := lowerChildren(ctx, res); err != nil {
			return SQLPlan{}, fmt.Errorf("sink %s: lower %s: %w", s.Name, queue[i].Kind(), err)
		}
		if len(res.Siblings) > 0 {
			rest := append([]logical.Operation(nil), queue[i+1:]...)
			queue = append(append(queue[:i+1], res.Siblings...), rest...)
		}
		out.Statements = append(out.Statements, root.Statements...)
	}

	fold := s.fold(opts.CaseConversion)
	out.SQL = make([]string, 0, len(out.Statements))
	for _, st := range out.Statements {
		sql, err := physical.Render(st, s.Quote, fold)
		if err != nil {
			return SQLPlan{}, fmt.Errorf("sink %s: render: %w", s.Name, err)
		}
		out.SQL = append(out.SQL, sql)
	}
	return out, nil
}

func lowerChildren(ctx *Context, res VisitorResult) error {
	if len(res.Children) == 0 {
		return nil
	}
	if res.Node == nil {
		return fmt.Errorf("sink: children without a parent node")
	}
	for _, child := range res.Children {
		if err := ctx.lower(res.Node, child); err != nil {
			return err
		}
	}
	return nil
}
