package physical

import "fmt"

// Compare is left op right. Push fills Left then Right.
type Compare struct {
	Op          string
	Left, Right Expr
}

func (*Compare) cond() {}

func (c *Compare) Push(child Node) error {
	e, ok := child.(Expr)
	if !ok {
		return unexpectedChild("Compare", child)
	}
	switch {
	case c.Left == nil:
		c.Left = e
	case c.Right == nil:
		c.Right = e
	default:
		return fmt.Errorf("physical: comparison already has both operands")
	}
	return nil
}

func (c *Compare) Render(w *Writer) error {
	if c.Left == nil || c.Right == nil {
		return fmt.Errorf("physical: comparison missing operand")
	}
	if err := c.Left.Render(w); err != nil {
		return err
	}
	w.WriteString(" " + c.Op + " ")
	return c.Right.Render(w)
}

// Logical joins conditions with AND or OR, each one parenthesised.
type Logical struct {
	Op    string
	Conds []Cond
}

func (*Logical) cond() {}

func (l *Logical) Push(child Node) error {
	c, ok := child.(Cond)
	if !ok {
		return unexpectedChild("Logical", child)
	}
	l.Conds = append(l.Conds, c)
	return nil
}

func (l *Logical) Render(w *Writer) error {
	if len(l.Conds) == 0 {
		return fmt.Errorf("physical: empty %s", l.Op)
	}
	if len(l.Conds) == 1 {
		return l.Conds[0].Render(w)
	}
	for i, c := range l.Conds {
		if i > 0 {
			w.WriteString(" " + l.Op + " ")
		}
		w.WriteString("(")
		if err := c.Render(w); err != nil {
			return err
		}
		w.WriteString(")")
	}
	return nil
}

// Not is NOT (cond).
type Not struct {
	Cond Cond
}

func (*Not) cond() {}

func (n *Not) Push(child Node) error {
	c, ok := child.(Cond)
	if !ok || n.Cond != nil {
		return unexpectedChild("Not", child)
	}
	n.Cond = c
	return nil
}

func (n *Not) Render(w *Writer) error {
	if n.Cond == nil {
		return fmt.Errorf("physical: NOT without operand")
	}
	w.WriteString("NOT (")
	if err := n.Cond.Render(w); err != nil {
		return err
	}
	w.WriteString(")")
	return nil
}

// Exists is EXISTS (select).
type Exists struct {
	Select *Select
}

func (*Exists) cond() {}

func (e *Exists) Push(child Node) error {
	s, ok := child.(*Select)
	if !ok || e.Select != nil {
		return unexpectedChild("Exists", child)
	}
	e.Select = s
	return nil
}

func (e *Exists) Render(w *Writer) error {
	if e.Select == nil {
		return fmt.Errorf("physical: EXISTS without select")
	}
	w.WriteString("EXISTS (")
	if err := e.Select.Render(w); err != nil {
		return err
	}
	w.WriteString(")")
	return nil
}

// In is expr IN (items) or expr IN (select). The first pushed Expr is the
// tested value; later Exprs are list items and a *Select is the source.
type In struct {
	Expr   Expr
	Items  []Expr
	Select *Select
}

func (*In) cond() {}

func (in *In) Push(child Node) error {
	switch c := child.(type) {
	case *Select:
		if in.Select != nil {
			return unexpectedChild("In", child)
		}
		in.Select = c
	case Expr:
		if in.Expr == nil {
			in.Expr = c
		} else {
			in.Items = append(in.Items, c)
		}
	default:
		return unexpectedChild("In", child)
	}
	return nil
}

func (in *In) Render(w *Writer) error {
	if in.Expr == nil {
		return fmt.Errorf("physical: IN without operand")
	}
	if err := in.Expr.Render(w); err != nil {
		return err
	}
	w.WriteString(" IN (")
	if in.Select != nil {
		if err := in.Select.Render(w); err != nil {
			return err
		}
	} else {
		if len(in.Items) == 0 {
			return fmt.Errorf("physical: IN with empty list")
		}
		if err := renderList(w, in.Items, ","); err != nil {
			return err
		}
	}
	w.WriteString(")")
	return nil
}

// IsNull is expr IS [NOT] NULL.
type IsNull struct {
	Expr   Expr
	Negate bool
}

func (*IsNull) cond() {}

func (n *IsNull) Push(child Node) error {
	e, ok := child.(Expr)
	if !ok || n.Expr != nil {
		return unexpectedChild("IsNull", child)
	}
	n.Expr = e
	return nil
}

func (n *IsNull) Render(w *Writer) error {
	if n.Expr == nil {
		return fmt.Errorf("physical: IS NULL without operand")
	}
	if err := n.Expr.Render(w); err != nil {
		return err
	}
	if n.Negate {
		w.WriteString(" IS NOT NULL")
	} else {
		w.WriteString(" IS NULL")
	}
	return nil
}
