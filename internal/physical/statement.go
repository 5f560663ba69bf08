package physical

import (
	"fmt"
	"strconv"
	"strings"
)

// LimitStyle selects how a row limit is expressed.
type LimitStyle int

const (
	LimitClause LimitStyle = iota // ... LIMIT n
	LimitTop                      // SELECT TOP n ...
)

// Select is a query. As a TableLike it renders as "(SELECT ...) as alias".
type Select struct {
	Distinct   bool
	Items      []Expr
	From       []TableLike
	Where      Cond
	GroupBy    []Expr
	Alias      string
	Limit      int
	LimitStyle LimitStyle
}

func (*Select) statement() {}
func (*Select) tableLike() {}

// Push accepts a source (TableLike), a WHERE condition (Cond) or a select
// item (Expr). A second condition is AND-ed with the first.
func (s *Select) Push(child Node) error {
	switch c := child.(type) {
	case TableLike:
		s.From = append(s.From, c)
	case Cond:
		if s.Where == nil {
			s.Where = c
		} else {
			s.Where = &Logical{Op: "AND", Conds: []Cond{s.Where, c}}
		}
	case Expr:
		s.Items = append(s.Items, c)
	default:
		return unexpectedChild("Select", child)
	}
	return nil
}

func (s *Select) Render(w *Writer) error {
	w.WriteString("SELECT ")
	if s.Distinct {
		w.WriteString("DISTINCT ")
	}
	if s.Limit > 0 && s.LimitStyle == LimitTop {
		w.WriteString("TOP " + strconv.Itoa(s.Limit) + " ")
	}
	if len(s.Items) == 0 {
		w.WriteString("*")
	} else if err := renderList(w, s.Items, ","); err != nil {
		return err
	}
	if len(s.From) > 0 {
		w.WriteString(" FROM ")
		for i, f := range s.From {
			if i > 0 {
				w.WriteString(", ")
			}
			if err := renderSource(w, f); err != nil {
				return err
			}
		}
	}
	if s.Where != nil {
		w.WriteString(" WHERE ")
		if err := s.Where.Render(w); err != nil {
			return err
		}
	}
	if len(s.GroupBy) > 0 {
		w.WriteString(" GROUP BY ")
		if err := renderList(w, s.GroupBy, ", "); err != nil {
			return err
		}
	}
	if s.Limit > 0 && s.LimitStyle == LimitClause {
		w.WriteString(" LIMIT " + strconv.Itoa(s.Limit))
	}
	return nil
}

func renderSource(w *Writer, t TableLike) error {
	sub, ok := t.(*Select)
	if !ok {
		return t.Render(w)
	}
	w.WriteString("(")
	if err := sub.Render(w); err != nil {
		return err
	}
	w.WriteString(")")
	if sub.Alias != "" {
		w.WriteString(" as ")
		w.Alias(sub.Alias)
	}
	return nil
}

// Insert is INSERT INTO table (cols) (select).
type Insert struct {
	Table   *Table
	Columns []string
	Source  *Select
	// NoParens drops the parentheses around the source select.
	NoParens bool
}

func (*Insert) statement() {}

func (i *Insert) Push(child Node) error {
	switch c := child.(type) {
	case *Select:
		if i.Source != nil {
			return unexpectedChild("Insert", child)
		}
		i.Source = c
	case *Table:
		if i.Table != nil {
			return unexpectedChild("Insert", child)
		}
		i.Table = c
	default:
		return unexpectedChild("Insert", child)
	}
	return nil
}

func (i *Insert) Render(w *Writer) error {
	if i.Table == nil || i.Source == nil {
		return fmt.Errorf("physical: incomplete INSERT")
	}
	w.WriteString("INSERT INTO ")
	if err := i.Table.RenderName(w); err != nil {
		return err
	}
	if len(i.Columns) > 0 {
		w.WriteString(" (")
		w.IdentList(i.Columns)
		w.WriteString(")")
	}
	if i.NoParens {
		w.WriteString(" ")
		return i.Source.Render(w)
	}
	w.WriteString(" (")
	if err := i.Source.Render(w); err != nil {
		return err
	}
	w.WriteString(")")
	return nil
}

// UpdateStyle selects the join syntax of an UPDATE with a FROM source.
type UpdateStyle int

const (
	// UpdateFrom: UPDATE t as a SET ... FROM s as b WHERE (join) AND (where)
	UpdateFrom UpdateStyle = iota
	// UpdateInnerJoin: UPDATE t as a INNER JOIN s as b ON join SET ... WHERE where
	UpdateInnerJoin
	// UpdateAliasFrom: UPDATE a SET ... FROM t as a [INNER JOIN s as b ON join] WHERE where
	UpdateAliasFrom
)

// Assignment is one SET entry.
type Assignment struct {
	Column *Column
	Value  Expr
}

// Update is an UPDATE statement.
type Update struct {
	Table        *Table
	Set          []Assignment
	From         TableLike
	JoinOn       Cond
	Where        Cond
	Style        UpdateStyle
	QualifiedSet bool
}

func (*Update) statement() {}

func (u *Update) Push(child Node) error { return unexpectedChild("Update", child) }

func (u *Update) Render(w *Writer) error {
	if u.Table == nil || len(u.Set) == 0 {
		return fmt.Errorf("physical: incomplete UPDATE")
	}
	w.WriteString("UPDATE ")
	switch u.Style {
	case UpdateAliasFrom:
		if u.Table.Alias == "" {
			if err := u.Table.RenderName(w); err != nil {
				return err
			}
		} else {
			w.Alias(u.Table.Alias)
		}
	default:
		if err := u.Table.Render(w); err != nil {
			return err
		}
	}

	if u.Style == UpdateInnerJoin && u.From != nil {
		w.WriteString(" INNER JOIN ")
		if err := renderSource(w, u.From); err != nil {
			return err
		}
		if err := renderOn(w, u.JoinOn); err != nil {
			return err
		}
	}

	w.WriteString(" SET ")
	for i, a := range u.Set {
		if i > 0 {
			w.WriteString(", ")
		}
		col := *a.Column
		if !u.QualifiedSet {
			col.Qualifier = ""
		}
		if err := col.Render(w); err != nil {
			return err
		}
		w.WriteString(" = ")
		if err := a.Value.Render(w); err != nil {
			return err
		}
	}

	where := u.Where
	switch u.Style {
	case UpdateFrom:
		if u.From != nil {
			w.WriteString(" FROM ")
			if err := renderSource(w, u.From); err != nil {
				return err
			}
			where = andConds(u.JoinOn, u.Where)
		}
	case UpdateAliasFrom:
		if u.Table.Alias != "" || u.From != nil {
			w.WriteString(" FROM ")
			if err := u.Table.Render(w); err != nil {
				return err
			}
			if u.From != nil {
				w.WriteString(" INNER JOIN ")
				if err := renderSource(w, u.From); err != nil {
					return err
				}
				if err := renderOn(w, u.JoinOn); err != nil {
					return err
				}
			}
		}
	}

	if where != nil {
		w.WriteString(" WHERE ")
		return where.Render(w)
	}
	return nil
}

func renderOn(w *Writer, on Cond) error {
	if on == nil {
		return fmt.Errorf("physical: join without condition")
	}
	w.WriteString(" ON ")
	return on.Render(w)
}

func andConds(a, b Cond) Cond {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return &Logical{Op: "AND", Conds: []Cond{a, b}}
}

// Delete is DELETE FROM table [WHERE cond]. AliasTarget renders the
// "DELETE alias FROM table as alias" form.
type Delete struct {
	Table       *Table
	Where       Cond
	AliasTarget bool
}

func (*Delete) statement() {}

func (d *Delete) Push(child Node) error {
	switch c := child.(type) {
	case *Table:
		if d.Table != nil {
			return unexpectedChild("Delete", child)
		}
		d.Table = c
	case Cond:
		if d.Where != nil {
			return unexpectedChild("Delete", child)
		}
		d.Where = c
	default:
		return unexpectedChild("Delete", child)
	}
	return nil
}

func (d *Delete) Render(w *Writer) error {
	if d.Table == nil {
		return fmt.Errorf("physical: DELETE without table")
	}
	w.WriteString("DELETE ")
	if d.AliasTarget && d.Table.Alias != "" {
		w.Alias(d.Table.Alias)
		w.WriteString(" ")
	}
	w.WriteString("FROM ")
	if err := d.Table.Render(w); err != nil {
		return err
	}
	if d.Where != nil {
		w.WriteString(" WHERE ")
		return d.Where.Render(w)
	}
	return nil
}

// ColumnDef is one column of CREATE TABLE or ALTER TABLE ADD.
type ColumnDef struct {
	Name     string
	Type     string
	NotNull  bool
	Unique   bool
	Identity string
	Default  string
}

func (c *ColumnDef) Push(child Node) error { return unexpectedChild("ColumnDef", child) }

func (c *ColumnDef) Render(w *Writer) error {
	if c.Name == "" || c.Type == "" {
		return fmt.Errorf("physical: column name/type must be set")
	}
	w.Ident(c.Name)
	w.WriteString(" ")
	w.WriteString(c.Type)
	if c.Identity != "" {
		w.WriteString(" " + c.Identity)
	}
	if c.Default != "" {
		w.WriteString(" DEFAULT " + c.Default)
	}
	if c.NotNull {
		w.WriteString(" NOT NULL")
	}
	if c.Unique {
		w.WriteString(" UNIQUE")
	}
	return nil
}

// KeyClause renders Keyword [name] (cols) [Suffix], e.g. PRIMARY KEY ("id")
// or KEY ("id") USING CLUSTERED COLUMNSTORE.
type KeyClause struct {
	Keyword string
	Name    string
	Columns []string
	Suffix  string
}

func (k *KeyClause) Push(child Node) error { return unexpectedChild("KeyClause", child) }

func (k *KeyClause) Render(w *Writer) error {
	w.WriteString(k.Keyword)
	if k.Name != "" {
		w.WriteString(" ")
		w.Ident(k.Name)
	}
	w.WriteString(" (")
	w.IdentList(k.Columns)
	w.WriteString(")")
	if k.Suffix != "" {
		w.WriteString(" " + k.Suffix)
	}
	return nil
}

// ExprClause renders Keyword expr,expr (PARTITION BY, CLUSTER BY).
type ExprClause struct {
	Keyword string
	Exprs   []Expr
}

func (c *ExprClause) Push(child Node) error {
	e, ok := child.(Expr)
	if !ok {
		return unexpectedChild("ExprClause", child)
	}
	c.Exprs = append(c.Exprs, e)
	return nil
}

func (c *ExprClause) Render(w *Writer) error {
	w.WriteString(c.Keyword + " ")
	return renderList(w, c.Exprs, ",")
}

// CreateGuard selects how "create only if missing" is expressed.
type CreateGuard int

const (
	GuardNone        CreateGuard = iota
	GuardIfNotExists             // CREATE TABLE IF NOT EXISTS
	GuardObjectID                // IF OBJECT_ID(N'..', N'U') IS NULL BEGIN ... END;
)

// CreateTable is CREATE TABLE.
type CreateTable struct {
	Table       *Table
	Modifier    string
	Guard       CreateGuard
	Columns     []*ColumnDef
	Constraints []*KeyClause
	Trailers    []*ExprClause
}

func (*CreateTable) statement() {}

func (c *CreateTable) Push(child Node) error {
	switch t := child.(type) {
	case *Table:
		if c.Table != nil {
			return unexpectedChild("CreateTable", child)
		}
		c.Table = t
	case *ColumnDef:
		c.Columns = append(c.Columns, t)
	case *KeyClause:
		c.Constraints = append(c.Constraints, t)
	case *ExprClause:
		c.Trailers = append(c.Trailers, t)
	default:
		return unexpectedChild("CreateTable", child)
	}
	return nil
}

func (c *CreateTable) Render(w *Writer) error {
	if c.Table == nil || len(c.Columns) == 0 {
		return fmt.Errorf("physical: CREATE TABLE needs a table and columns")
	}
	if c.Guard == GuardObjectID {
		name := NewWriter(w.Quote, w.Fold)
		if err := c.Table.RenderName(name); err != nil {
			return err
		}
		w.WriteString("IF OBJECT_ID(N" + QuoteString(name.String()) + ", N'U') IS NULL BEGIN ")
	}
	w.WriteString("CREATE ")
	if c.Modifier != "" {
		w.WriteString(c.Modifier + " ")
	}
	w.WriteString("TABLE ")
	if c.Guard == GuardIfNotExists {
		w.WriteString("IF NOT EXISTS ")
	}
	if err := c.Table.RenderName(w); err != nil {
		return err
	}
	w.WriteString("(")
	if err := renderList(w, c.Columns, ","); err != nil {
		return err
	}
	for _, k := range c.Constraints {
		w.WriteString(",")
		if err := k.Render(w); err != nil {
			return err
		}
	}
	w.WriteString(")")
	for _, t := range c.Trailers {
		w.WriteString(" ")
		if err := t.Render(w); err != nil {
			return err
		}
	}
	if c.Guard == GuardObjectID {
		w.WriteString("; END;")
	}
	return nil
}

// CreateIndex is CREATE [UNIQUE] INDEX.
type CreateIndex struct {
	Name        string
	Table       *Table
	Columns     []string
	Unique      bool
	IfNotExists bool
}

func (*CreateIndex) statement() {}

func (c *CreateIndex) Push(child Node) error { return unexpectedChild("CreateIndex", child) }

func (c *CreateIndex) Render(w *Writer) error {
	w.WriteString("CREATE ")
	if c.Unique {
		w.WriteString("UNIQUE ")
	}
	w.WriteString("INDEX ")
	if c.IfNotExists {
		w.WriteString("IF NOT EXISTS ")
	}
	w.Ident(c.Name)
	w.WriteString(" ON ")
	if err := c.Table.RenderName(w); err != nil {
		return err
	}
	w.WriteString(" (")
	w.IdentList(c.Columns)
	w.WriteString(")")
	return nil
}

// AlterTable is ALTER TABLE t <Action> "col"[ <Tail>][ TO "new"].
type AlterTable struct {
	Table   *Table
	Action  string
	Column  string
	Tail    string
	NewName string
}

func (*AlterTable) statement() {}

func (a *AlterTable) Push(child Node) error { return unexpectedChild("AlterTable", child) }

func (a *AlterTable) Render(w *Writer) error {
	if a.Table == nil || a.Action == "" || a.Column == "" {
		return fmt.Errorf("physical: incomplete ALTER TABLE")
	}
	w.WriteString("ALTER TABLE ")
	if err := a.Table.RenderName(w); err != nil {
		return err
	}
	w.WriteString(" " + a.Action + " ")
	w.Ident(a.Column)
	if a.Tail != "" {
		w.WriteString(" " + a.Tail)
	}
	if a.NewName != "" {
		w.WriteString(" TO ")
		w.Ident(a.NewName)
	}
	return nil
}

// DropTable is DROP TABLE [IF EXISTS] t [CASCADE].
type DropTable struct {
	Table    *Table
	IfExists bool
	Cascade  bool
}

func (*DropTable) statement() {}

func (d *DropTable) Push(child Node) error { return unexpectedChild("DropTable", child) }

func (d *DropTable) Render(w *Writer) error {
	w.WriteString("DROP TABLE ")
	if d.IfExists {
		w.WriteString("IF EXISTS ")
	}
	if err := d.Table.RenderName(w); err != nil {
		return err
	}
	if d.Cascade {
		w.WriteString(" CASCADE")
	}
	return nil
}

// TruncateTable is TRUNCATE TABLE t.
type TruncateTable struct {
	Table *Table
}

func (*TruncateTable) statement() {}

func (t *TruncateTable) Push(child Node) error { return unexpectedChild("TruncateTable", child) }

func (t *TruncateTable) Render(w *Writer) error {
	w.WriteString("TRUNCATE TABLE ")
	return t.Table.RenderName(w)
}

// CopyInto is COPY INTO t (cols) FROM (select) options, the bulk load
// form of engines that transform while copying.
type CopyInto struct {
	Table   *Table
	Columns []string
	Source  *Select
	Options []string
}

func (*CopyInto) statement() {}

func (c *CopyInto) Push(child Node) error {
	sel, ok := child.(*Select)
	if !ok || c.Source != nil {
		return unexpectedChild("CopyInto", child)
	}
	c.Source = sel
	return nil
}

func (c *CopyInto) Render(w *Writer) error {
	if c.Table == nil || c.Source == nil {
		return fmt.Errorf("physical: incomplete COPY INTO")
	}
	w.WriteString("COPY INTO ")
	if err := c.Table.RenderName(w); err != nil {
		return err
	}
	if len(c.Columns) > 0 {
		w.WriteString(" (")
		w.IdentList(c.Columns)
		w.WriteString(")")
	}
	w.WriteString(" FROM (")
	if err := c.Source.Render(w); err != nil {
		return err
	}
	w.WriteString(")")
	for _, o := range c.Options {
		w.WriteString(" " + o)
	}
	return nil
}

// RawStatement is dialect-built statement text (COPY INTO, LOAD DATA).
// Parts are concatenated; Idents entries are quoted with the writer.
type RawStatement struct {
	Parts []RawPart
}

// RawPart is either literal SQL or an identifier path to quote.
type RawPart struct {
	SQL   string
	Ident []string
}

func (*RawStatement) statement() {}

func (r *RawStatement) Push(child Node) error { return unexpectedChild("RawStatement", child) }

func (r *RawStatement) Render(w *Writer) error {
	for _, p := range r.Parts {
		if len(p.Ident) > 0 {
			w.Qualified(p.Ident)
			continue
		}
		w.WriteString(p.SQL)
	}
	return nil
}

// JoinSQL joins rendered statements for display.
func JoinSQL(stmts []string) string {
	return strings.Join(stmts, ";\n")
}
