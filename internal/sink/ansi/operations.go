package ansi

import (
	"fmt"
	"strings"

	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
)

// ---- datasets ----

func (v *Visitors) VisitDatasetDefinition(prev physical.Node, n *logical.DatasetDefinition, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.Table{Parts: n.Ref().Parts(), Alias: n.Alias})
}

func (v *Visitors) VisitDatasetReference(prev physical.Node, n *logical.DatasetReference, _ *sink.Context) (sink.VisitorResult, error) {
	return emit(prev, &physical.Table{Parts: n.Ref().Parts(), Alias: n.Alias})
}

// VisitStagedFilesDataset has no ANSI form: reading files is engine
// specific.
func (v *Visitors) VisitStagedFilesDataset(_ physical.Node, n *logical.StagedFilesDataset, _ *sink.Context) (sink.VisitorResult, error) {
	return sink.VisitorResult{}, fmt.Errorf("%w: %s", sink.ErrUnsupportedNode, n.Kind())
}

func (v *Visitors) VisitStagedFilesSelection(prev physical.Node, n *logical.StagedFilesSelection, _ *sink.Context) (sink.VisitorResult, error) {
	if n.Source == nil {
		return sink.VisitorResult{}, fmt.Errorf("staged files selection without source")
	}
	children := append([]logical.Node{n.Source}, values(n.Fields)...)
	return emit(prev, &physical.Select{Alias: n.Alias}, children...)
}

func (v *Visitors) VisitSelection(prev physical.Node, n *logical.Selection, ctx *sink.Context) (sink.VisitorResult, error) {
	sel := &physical.Select{
		Distinct:   n.Distinct,
		Alias:      n.Alias,
		Limit:      n.Limit,
		LimitStyle: v.Dialect.LimitStyle,
	}
	if len(n.GroupBy) > 0 {
		gb, err := ctx.Exprs(n.GroupBy)
		if err != nil {
			return sink.VisitorResult{}, err
		}
		sel.GroupBy = gb
	}
	var children []logical.Node
	if n.Source != nil {
		children = append(children, n.Source)
	}
	children = append(children, values(n.Fields)...)
	if n.Where != nil {
		children = append(children, n.Where)
	}
	return emit(prev, sel, children...)
}

// ---- operations ----

// ColumnDef renders one field as a column definition.
func (v *Visitors) ColumnDef(f logical.Field, ctx *sink.Context) *physical.ColumnDef {
	c := &physical.ColumnDef{
		Name:    f.Name,
		Type:    ctx.TypeName(f.Type),
		NotNull: !f.IsNullable(),
		Unique:  f.Unique && !f.PrimaryKey,
		Default: f.Default,
	}
	if f.Identity {
		c.Identity = v.Dialect.IdentityKeyword
	}
	return c
}

// CreateTable builds the CREATE TABLE statement of n without pushing it.
// Dialects call it and add their own clauses.
func (v *Visitors) CreateTable(n *logical.Create, ctx *sink.Context) (*physical.CreateTable, error) {
	t, err := ctx.Table(n.Dataset)
	if err != nil {
		return nil, err
	}
	t.Alias = ""
	schema := n.Dataset.SchemaDef()
	if len(schema.Fields) == 0 {
		return nil, fmt.Errorf("create %s: dataset has no fields", n.Dataset.Ref())
	}
	ct := &physical.CreateTable{Table: t}
	if n.IfNotExists {
		ct.Guard = v.Dialect.CreateGuard
	}
	for _, f := range schema.Fields {
		ct.Columns = append(ct.Columns, v.ColumnDef(f, ctx))
	}
	if pks := schema.PrimaryKeys(); len(pks) > 0 {
		ct.Constraints = append(ct.Constraints, &physical.KeyClause{Keyword: "PRIMARY KEY", Columns: pks})
	}
	return ct, nil
}

// IndexName is the name used for an index declared without one.
func IndexName(table string, idx logical.Index) string {
	if idx.Name != "" {
		return idx.Name
	}
	return table + "_" + strings.Join(idx.Fields, "_") + "_idx"
}

func (v *Visitors) VisitCreate(prev physical.Node, n *logical.Create, ctx *sink.Context) (sink.VisitorResult, error) {
	ct, err := v.CreateTable(n, ctx)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	res, err := emit(prev, ct)
	if err != nil {
		return res, err
	}
	for _, idx := range n.Dataset.SchemaDef().Indexes {
		ci := &physical.CreateIndex{
			Name:        IndexName(n.Dataset.Ref().Name, idx),
			Table:       ct.Table,
			Columns:     idx.Fields,
			Unique:      idx.Unique,
			IfNotExists: n.IfNotExists,
		}
		if err := prev.Push(ci); err != nil {
			return sink.VisitorResult{}, err
		}
	}
	return res, nil
}

func (v *Visitors) VisitDrop(prev physical.Node, n *logical.Drop, ctx *sink.Context) (sink.VisitorResult, error) {
	t, err := ctx.Table(n.Dataset)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	return emit(prev, &physical.DropTable{Table: t, IfExists: n.IfExists, Cascade: v.Dialect.DropCascade})
}

func (v *Visitors) VisitTruncate(prev physical.Node, n *logical.Truncate, ctx *sink.Context) (sink.VisitorResult, error) {
	t, err := ctx.Table(n.Dataset)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	return emit(prev, &physical.TruncateTable{Table: t})
}

// AlterTable builds the ALTER TABLE statement of n without pushing it.
func (v *Visitors) AlterTable(n *logical.Alter, ctx *sink.Context) (*physical.AlterTable, error) {
	t, err := ctx.Table(n.Dataset)
	if err != nil {
		return nil, err
	}
	if n.Column.Name == "" {
		return nil, fmt.Errorf("alter %s: column name missing", n.Dataset.Ref())
	}
	var syn AlterSyntax
	switch n.Op {
	case logical.AlterAdd:
		syn = v.Dialect.AddColumn
	case logical.AlterDrop:
		syn = v.Dialect.DropColumn
	case logical.AlterChangeDatatype:
		syn = v.Dialect.ChangeType
	case logical.AlterNullable:
		syn = v.Dialect.Nullable
	case logical.AlterRename:
		if n.NewName == "" {
			return nil, fmt.Errorf("alter %s: rename of %q without new name", n.Dataset.Ref(), n.Column.Name)
		}
		syn = v.Dialect.Rename
	default:
		return nil, fmt.Errorf("alter %s: unknown operation %q", n.Dataset.Ref(), n.Op)
	}
	if syn.Action == "" {
		return nil, fmt.Errorf("%w: alter %s", sink.ErrUnsupportedCapability, n.Op)
	}
	at := &physical.AlterTable{
		Table:  t,
		Action: syn.Action,
		Column: n.Column.Name,
		Tail:   syn.tail(ctx.TypeName(n.Column.Type), n.Column),
	}
	if n.Op == logical.AlterRename {
		at.NewName = n.NewName
	}
	return at, nil
}

func (v *Visitors) VisitAlter(prev physical.Node, n *logical.Alter, ctx *sink.Context) (sink.VisitorResult, error) {
	at, err := v.AlterTable(n, ctx)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	return emit(prev, at)
}

func (v *Visitors) VisitDelete(prev physical.Node, n *logical.Delete, ctx *sink.Context) (sink.VisitorResult, error) {
	t, err := ctx.Table(n.Dataset)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	where, err := ctx.Cond(n.Where)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	return emit(prev, &physical.Delete{Table: t, Where: where, AliasTarget: v.Dialect.DeleteAliasTarget})
}

func (v *Visitors) VisitUpdate(prev physical.Node, n *logical.Update, ctx *sink.Context) (sink.VisitorResult, error) {
	if n.From != nil && v.Dialect.CorrelatedUpdate {
		n = CorrelatedUpdate(n)
	}
	if len(n.Set) == 0 {
		return sink.VisitorResult{}, fmt.Errorf("update %s: nothing to set", n.Dataset.Ref())
	}
	t, err := ctx.Table(n.Dataset)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	u := &physical.Update{Table: t, Style: v.Dialect.UpdateStyle, QualifiedSet: v.Dialect.QualifiedSet}
	for _, p := range n.Set {
		val, err := ctx.Expr(p.Value)
		if err != nil {
			return sink.VisitorResult{}, err
		}
		u.Set = append(u.Set, physical.Assignment{
			Column: &physical.Column{Qualifier: p.Field.Qualifier, Name: p.Field.Name},
			Value:  val,
		})
	}
	if n.From != nil {
		if u.From, err = ctx.Source(n.From); err != nil {
			return sink.VisitorResult{}, err
		}
		if u.JoinOn, err = ctx.Cond(n.JoinCondition); err != nil {
			return sink.VisitorResult{}, err
		}
	}
	if u.Where, err = ctx.Cond(n.Where); err != nil {
		return sink.VisitorResult{}, err
	}
	return emit(prev, u)
}

// CorrelatedUpdate rewrites an update join for engines without
// UPDATE ... FROM. Each value that reads the joined dataset becomes a
// correlated sub-select, and rows without a join partner are excluded
// with EXISTS. The input is not modified.
func CorrelatedUpdate(n *logical.Update) *logical.Update {
	alias := n.From.Ref().Alias
	out := &logical.Update{Dataset: n.Dataset}
	for _, p := range n.Set {
		val := p.Value
		if ReferencesAlias(val, alias) {
			val = &logical.SelectValue{Selection: &logical.Selection{
				Source: n.From,
				Fields: []logical.Value{val},
				Where:  n.JoinCondition,
			}}
		}
		out.Set = append(out.Set, logical.Pair{Field: p.Field, Value: val})
	}
	exists := &logical.Exists{Selection: &logical.Selection{Source: n.From, Where: n.JoinCondition}}
	out.Where = logical.AllOf(exists, n.Where)
	return out
}

// ReferencesAlias reports whether v reads a column qualified by alias. An
// empty alias matches unqualified columns.
func ReferencesAlias(v logical.Value, alias string) bool {
	switch t := v.(type) {
	case *logical.FieldValue:
		return t.Qualifier == alias
	case *logical.Function:
		return t != nil && anyReferences(t.Args, alias)
	case *logical.WindowFunction:
		if t.Function != nil && anyReferences(t.Function.Args, alias) {
			return true
		}
		return anyReferences(t.PartitionBy, alias)
	case *logical.Cast:
		return ReferencesAlias(t.Value, alias)
	case *logical.Arithmetic:
		return ReferencesAlias(t.Left, alias) || ReferencesAlias(t.Right, alias)
	case *logical.DigestUdf:
		return anyReferences(t.Values, alias)
	case *logical.ToArrayFunction:
		return anyReferences(t.Values, alias)
	case *logical.All:
		return t.Qualifier == alias
	case *logical.SelectValue:
		return true
	}
	return false
}

func anyReferences(vs []logical.Value, alias string) bool {
	for _, v := range vs {
		if ReferencesAlias(v, alias) {
			return true
		}
	}
	return false
}

func (v *Visitors) VisitInsert(prev physical.Node, n *logical.Insert, ctx *sink.Context) (sink.VisitorResult, error) {
	t, err := ctx.Table(n.Target)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	t.Alias = ""
	src, err := ctx.Select(n.Source)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	return emit(prev, &physical.Insert{Table: t, Columns: fieldNames(n.Fields), Source: src, NoParens: v.Dialect.InsertNoParens})
}

// VisitCopy loads staged files with INSERT ... SELECT over the dialect's
// staged-file table expression.
func (v *Visitors) VisitCopy(prev physical.Node, n *logical.Copy, ctx *sink.Context) (sink.VisitorResult, error) {
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
		return sink.VisitorResult{}, fmt.Errorf("copy source lowered to %T", node)
	}
	src.Alias = ""
	return emit(prev, &physical.Insert{Table: t, Columns: fieldNames(n.Fields), Source: src, NoParens: v.Dialect.InsertNoParens})
}

func fieldNames(fs []*logical.FieldValue) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}
