package physical

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Table is a table reference. Alias is rendered only where the statement
// allows one (FROM, UPDATE, DELETE).
type Table struct {
	Parts []string
	Alias string
}

func (*Table) tableLike() {}

func (t *Table) Push(child Node) error { return unexpectedChild("Table", child) }

// Render writes "name as alias" (or just the name without an alias).
func (t *Table) Render(w *Writer) error {
	if err := t.RenderName(w); err != nil {
		return err
	}
	if t.Alias != "" {
		w.WriteString(" as ")
		w.Alias(t.Alias)
	}
	return nil
}

// RenderName writes the qualified name only.
func (t *Table) RenderName(w *Writer) error {
	if len(t.Parts) == 0 {
		return fmt.Errorf("physical: table without name")
	}
	w.Qualified(t.Parts)
	return nil
}

// RawTable is a dialect-specific table expression (table functions,
// staged file references).
type RawTable struct {
	SQL   string
	Alias string
}

func (*RawTable) tableLike()              {}
func (r *RawTable) Push(child Node) error { return unexpectedChild("RawTable", child) }

func (r *RawTable) Render(w *Writer) error {
	w.WriteString(r.SQL)
	if r.Alias != "" {
		w.WriteString(" as ")
		w.Alias(r.Alias)
	}
	return nil
}

// Column is a possibly qualified column reference. The qualifier is a table
// alias and stays unquoted.
type Column struct {
	Qualifier string
	Name      string
}

func (*Column) expr()                   {}
func (c *Column) Push(child Node) error { return unexpectedChild("Column", child) }

func (c *Column) Render(w *Writer) error {
	if c.Qualifier != "" {
		w.Alias(c.Qualifier)
		w.WriteString(".")
	}
	w.Ident(c.Name)
	return nil
}

// Aliased renders "expr as alias". Pushes go to the wrapped expression.
type Aliased struct {
	Expr  Expr
	Alias string
}

func (*Aliased) expr() {}

func (a *Aliased) Push(child Node) error { return a.Expr.Push(child) }

func (a *Aliased) Render(w *Writer) error {
	if err := a.Expr.Render(w); err != nil {
		return err
	}
	w.WriteString(" as ")
	w.Ident(a.Alias)
	return nil
}

// Literal is a constant.
type Literal struct {
	Value any
}

func (*Literal) expr()                   {}
func (l *Literal) Push(child Node) error { return unexpectedChild("Literal", child) }

func (l *Literal) Render(w *Writer) error {
	s, err := FormatLiteral(l.Value)
	if err != nil {
		return err
	}
	w.WriteString(s)
	return nil
}

// FormatLiteral renders a Go value as a SQL literal.
func FormatLiteral(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return QuoteString(t), nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case time.Time:
		return QuoteString(t.UTC().Format(TimestampLayout)), nil
	}
	return "", fmt.Errorf("physical: unsupported literal type %T", v)
}

// TimestampLayout is the text form of timestamp literals.
const TimestampLayout = "2006-01-02 15:04:05"

// QuoteString quotes s as a SQL string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Raw is verbatim SQL text.
type Raw struct {
	SQL string
}

func (*Raw) expr()                   {}
func (r *Raw) Push(child Node) error { return unexpectedChild("Raw", child) }

func (r *Raw) Render(w *Writer) error {
	w.WriteString(r.SQL)
	return nil
}

// Func is NAME(args...). Distinct renders NAME(DISTINCT args).
type Func struct {
	Name     string
	Args     []Expr
	Distinct bool
	// NoParens renders a bare keyword such as CURRENT_TIMESTAMP.
	NoParens bool
}

func (*Func) expr() {}

func (f *Func) Push(child Node) error {
	e, ok := child.(Expr)
	if !ok {
		return unexpectedChild("Func", child)
	}
	f.Args = append(f.Args, e)
	return nil
}

func (f *Func) Render(w *Writer) error {
	w.WriteString(f.Name)
	if f.NoParens && len(f.Args) == 0 {
		return nil
	}
	w.WriteString("(")
	if f.Distinct {
		w.WriteString("DISTINCT ")
	}
	if err := renderList(w, f.Args, ","); err != nil {
		return err
	}
	w.WriteString(")")
	return nil
}

// List renders Open + items + Close, e.g. ARRAY[a,b] or [a,b].
type List struct {
	Open, Close string
	Items       []Expr
}

func (*List) expr() {}

func (l *List) Push(child Node) error {
	e, ok := child.(Expr)
	if !ok {
		return unexpectedChild("List", child)
	}
	l.Items = append(l.Items, e)
	return nil
}

func (l *List) Render(w *Writer) error {
	w.WriteString(l.Open)
	if err := renderList(w, l.Items, ","); err != nil {
		return err
	}
	w.WriteString(l.Close)
	return nil
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// Window is FUNC() OVER (PARTITION BY ... ORDER BY ...).
type Window struct {
	Func        *Func
	PartitionBy []Expr
	OrderBy     []OrderItem
}

func (*Window) expr()                   {}
func (x *Window) Push(child Node) error { return unexpectedChild("Window", child) }

func (x *Window) Render(w *Writer) error {
	if err := x.Func.Render(w); err != nil {
		return err
	}
	w.WriteString(" OVER (")
	if len(x.PartitionBy) > 0 {
		w.WriteString("PARTITION BY ")
		if err := renderList(w, x.PartitionBy, ","); err != nil {
			return err
		}
	}
	if len(x.OrderBy) > 0 {
		if len(x.PartitionBy) > 0 {
			w.WriteString(" ")
		}
		w.WriteString("ORDER BY ")
		for i, o := range x.OrderBy {
			if i > 0 {
				w.WriteString(",")
			}
			if err := o.Expr.Render(w); err != nil {
				return err
			}
			if o.Desc {
				w.WriteString(" DESC")
			} else {
				w.WriteString(" ASC")
			}
		}
	}
	w.WriteString(")")
	return nil
}

// Arithmetic is left op right. Push fills Left then Right.
type Arithmetic struct {
	Op          string
	Left, Right Expr
}

func (*Arithmetic) expr() {}

func (a *Arithmetic) Push(child Node) error {
	e, ok := child.(Expr)
	if !ok {
		return unexpectedChild("Arithmetic", child)
	}
	switch {
	case a.Left == nil:
		a.Left = e
	case a.Right == nil:
		a.Right = e
	default:
		return fmt.Errorf("physical: arithmetic already has both operands")
	}
	return nil
}

func (a *Arithmetic) Render(w *Writer) error {
	if a.Left == nil || a.Right == nil {
		return fmt.Errorf("physical: arithmetic missing operand")
	}
	if err := a.Left.Render(w); err != nil {
		return err
	}
	w.WriteString(a.Op)
	return a.Right.Render(w)
}

// Cast is CAST(expr AS type).
type Cast struct {
	Expr Expr
	Type string
}

func (*Cast) expr() {}

func (c *Cast) Push(child Node) error {
	e, ok := child.(Expr)
	if !ok || c.Expr != nil {
		return unexpectedChild("Cast", child)
	}
	c.Expr = e
	return nil
}

func (c *Cast) Render(w *Writer) error {
	if c.Expr == nil {
		return fmt.Errorf("physical: cast without operand")
	}
	w.WriteString("CAST(")
	if err := c.Expr.Render(w); err != nil {
		return err
	}
	w.WriteString(" AS ")
	w.WriteString(c.Type)
	w.WriteString(")")
	return nil
}

// Star is * or alias.*.
type Star struct {
	Qualifier string
}

func (*Star) expr()                   {}
func (s *Star) Push(child Node) error { return unexpectedChild("Star", child) }

func (s *Star) Render(w *Writer) error {
	if s.Qualifier != "" {
		w.Alias(s.Qualifier)
		w.WriteString(".")
	}
	w.WriteString("*")
	return nil
}

// Subquery is a parenthesised select used as a value.
type Subquery struct {
	Select *Select
}

func (*Subquery) expr() {}

func (s *Subquery) Push(child Node) error {
	sel, ok := child.(*Select)
	if !ok || s.Select != nil {
		return unexpectedChild("Subquery", child)
	}
	s.Select = sel
	return nil
}

func (s *Subquery) Render(w *Writer) error {
	if s.Select == nil {
		return fmt.Errorf("physical: empty subquery")
	}
	w.WriteString("(")
	if err := s.Select.Render(w); err != nil {
		return err
	}
	w.WriteString(")")
	return nil
}
